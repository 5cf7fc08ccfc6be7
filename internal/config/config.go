// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package config loads the recorder configuration from a KEY=VALUE file
// (grip_config.txt) with environment variable overrides, using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultPath is the configuration file used when none is given.
const DefaultPath = "grip_config.txt"

// Config holds all application configuration values.
// A single value is built at startup and passed by reference to every component.
type Config struct {
	// Motor (serial REPL)
	MotorSerialPort   string        `mapstructure:"MOTOR_SERIAL_PORT"`
	MotorBaudRate     int           `mapstructure:"MOTOR_BAUD_RATE"`
	MotorBootDelay    time.Duration `mapstructure:"MOTOR_BOOT_DELAY"`
	MotorReadyTimeout time.Duration `mapstructure:"MOTOR_READY_TIMEOUT"`
	MotorSettle       time.Duration `mapstructure:"MOTOR_SETTLE"`
	MotorPrompt       string        `mapstructure:"MOTOR_PROMPT"`

	// Force sensor (BLE notifications)
	SensorBLEAddress       string        `mapstructure:"SENSOR_BLE_ADDRESS"`
	SensorServiceUUID      string        `mapstructure:"SENSOR_SERVICE_UUID"`
	SensorNotifyCharUUID   string        `mapstructure:"SENSOR_NOTIFY_CHAR_UUID"`
	SensorDiscoveryTimeout time.Duration `mapstructure:"SENSOR_DISCOVERY_TIMEOUT"`
	SensorConnectTimeout   time.Duration `mapstructure:"SENSOR_CONNECT_TIMEOUT"`
	SensorQueueSize        int           `mapstructure:"SENSOR_QUEUE_SIZE"`

	// Run timing
	ArmTimeout     time.Duration `mapstructure:"ARM_TIMEOUT"`
	CommandTimeout time.Duration `mapstructure:"COMMAND_TIMEOUT"`
	MotionMinFloor time.Duration `mapstructure:"MOTION_MIN_FLOOR"`
	MotionMargin   time.Duration `mapstructure:"MOTION_MARGIN"`
	MaxSpeedMPS    float64       `mapstructure:"MAX_SPEED_MPS"`

	// Outlier filter
	FilterWindowSize int     `mapstructure:"FILTER_WINDOW_SIZE"`
	FilterNSigmas    float64 `mapstructure:"FILTER_N_SIGMAS"`

	// Storage
	ReadingsDir string `mapstructure:"READINGS_DIR"`
	CatalogPath string `mapstructure:"CATALOG_PATH"` // empty disables the run index

	// MQTT (optional, empty broker disables publishing)
	MQTTBroker           string `mapstructure:"MQTT_BROKER"`
	MQTTClientIDRecorder string `mapstructure:"MQTT_CLIENT_ID_RECORDER"`
	MQTTClientIDConsole  string `mapstructure:"MQTT_CLIENT_ID_CONSOLE"`
	TopicStatus          string `mapstructure:"TOPIC_STATUS"`
	TopicResult          string `mapstructure:"TOPIC_RESULT"`

	// Web Server
	WebServerPort int `mapstructure:"WEB_SERVER_PORT"`

	// Simulate swaps the BLE link and the serial port for in-process mocks.
	Simulate bool `mapstructure:"SIMULATE"`
}

var defaults = map[string]any{
	"MOTOR_SERIAL_PORT":   "",
	"MOTOR_BAUD_RATE":     115200,
	"MOTOR_BOOT_DELAY":    "2s",
	"MOTOR_READY_TIMEOUT": "2s",
	"MOTOR_SETTLE":        "100ms",
	"MOTOR_PROMPT":        ">>>",

	"SENSOR_BLE_ADDRESS":       "",
	"SENSOR_SERVICE_UUID":      "6E400001-B5A3-F393-E0A9-E50E24DCCA9E",
	"SENSOR_NOTIFY_CHAR_UUID":  "6E400003-B5A3-F393-E0A9-E50E24DCCA9E",
	"SENSOR_DISCOVERY_TIMEOUT": "10s",
	"SENSOR_CONNECT_TIMEOUT":   "22s",
	"SENSOR_QUEUE_SIZE":        4096,

	"ARM_TIMEOUT":      "2s",
	"COMMAND_TIMEOUT":  "5s",
	"MOTION_MIN_FLOOR": "10s",
	"MOTION_MARGIN":    "1s",
	"MAX_SPEED_MPS":    1.0,

	"FILTER_WINDOW_SIZE": 5,
	"FILTER_N_SIGMAS":    3.0,

	"READINGS_DIR": "readings",
	"CATALOG_PATH": "readings/catalog.db",

	"MQTT_BROKER":             "",
	"MQTT_CLIENT_ID_RECORDER": "grip-recorder",
	"MQTT_CLIENT_ID_CONSOLE":  "grip-console-subscriber",
	"TOPIC_STATUS":            "grip/status",
	"TOPIC_RESULT":            "grip/result",

	"WEB_SERVER_PORT": 8080,

	"SIMULATE": false,
}

// Load reads the configuration file and returns a validated Config.
// A missing file is not an error as long as the environment supplies the
// required keys.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	for _, key := range v.AllKeys() {
		if _, known := defaults[strings.ToUpper(key)]; !known {
			return nil, fmt.Errorf("unknown config key: %q", strings.ToUpper(key))
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in defaults in simulation mode, ignoring the
// environment. Useful for tests and dry runs.
func Default() *Config {
	v := newViper()
	v.Set("SIMULATE", true)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		panic(fmt.Sprintf("config: built-in defaults do not decode: %v", err))
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// validate checks that all required fields are set and ranges make sense.
func (c *Config) validate() error {
	if c.MotorSerialPort == "" && !c.Simulate {
		return fmt.Errorf("MOTOR_SERIAL_PORT is required")
	}
	if c.SensorBLEAddress == "" && !c.Simulate {
		return fmt.Errorf("SENSOR_BLE_ADDRESS is required")
	}
	if c.SensorNotifyCharUUID == "" {
		return fmt.Errorf("SENSOR_NOTIFY_CHAR_UUID is required")
	}
	if c.MotorBaudRate <= 0 {
		return fmt.Errorf("MOTOR_BAUD_RATE must be positive, got %d", c.MotorBaudRate)
	}
	if c.SensorQueueSize <= 0 {
		return fmt.Errorf("SENSOR_QUEUE_SIZE must be positive, got %d", c.SensorQueueSize)
	}
	for key, d := range map[string]time.Duration{
		"MOTOR_READY_TIMEOUT":      c.MotorReadyTimeout,
		"SENSOR_DISCOVERY_TIMEOUT": c.SensorDiscoveryTimeout,
		"SENSOR_CONNECT_TIMEOUT":   c.SensorConnectTimeout,
		"ARM_TIMEOUT":              c.ArmTimeout,
		"COMMAND_TIMEOUT":          c.CommandTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration, got %s", key, d)
		}
	}
	if c.MotionMinFloor < 0 || c.MotionMargin < 0 {
		return fmt.Errorf("MOTION_MIN_FLOOR and MOTION_MARGIN must not be negative")
	}
	if c.MaxSpeedMPS <= 0 || c.MaxSpeedMPS > 1.0 {
		return fmt.Errorf("MAX_SPEED_MPS must be in (0, 1.0], got %g", c.MaxSpeedMPS)
	}
	if c.FilterWindowSize <= 0 || c.FilterWindowSize%2 == 0 {
		return fmt.Errorf("FILTER_WINDOW_SIZE must be an odd positive integer, got %d", c.FilterWindowSize)
	}
	if c.FilterNSigmas <= 0 {
		return fmt.Errorf("FILTER_N_SIGMAS must be positive, got %g", c.FilterNSigmas)
	}
	if c.ReadingsDir == "" {
		return fmt.Errorf("READINGS_DIR is required")
	}
	if c.WebServerPort <= 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", c.WebServerPort)
	}
	return nil
}

// MQTTEnabled reports whether a broker is configured.
func (c *Config) MQTTEnabled() bool {
	return c != nil && c.MQTTBroker != ""
}

// WebAddr returns the listen address for the web server.
func (c *Config) WebAddr() string {
	return fmt.Sprintf(":%d", c.WebServerPort)
}

// Pairs returns every setting as KEY=VALUE, sorted by key.
func (c *Config) Pairs() []string {
	rv := reflect.ValueOf(c).Elem()
	rt := rv.Type()
	pairs := make([]string, 0, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		key := rt.Field(i).Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		pairs = append(pairs, fmt.Sprintf("%s=%v", key, rv.Field(i).Interface()))
	}
	sort.Strings(pairs)
	return pairs
}
