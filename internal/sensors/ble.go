// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/relabs-tech/grip_recorder/internal/config"
)

// ErrDeviceNotFound is returned when the scan does not see the configured
// address before the discovery timeout.
var ErrDeviceNotFound = errors.New("sensor: device not found")

// bleLink subscribes to the force sensor's UART TX characteristic.
type bleLink struct {
	address          string
	service          bluetooth.UUID
	hasService       bool
	char             bluetooth.UUID
	discoveryTimeout time.Duration
	connectTimeout   time.Duration

	adapter    *bluetooth.Adapter
	notifier   func(func([]byte)) error
	disconnect func() error
}

// NewLink returns the link selected by cfg: the BLE link, or the mock
// link when cfg.Simulate is set.
func NewLink(cfg *config.Config) (Link, error) {
	if cfg.Simulate {
		return NewMockLink(), nil
	}
	return newBLELink(cfg)
}

func newBLELink(cfg *config.Config) (*bleLink, error) {
	char, err := bluetooth.ParseUUID(cfg.SensorNotifyCharUUID)
	if err != nil {
		return nil, fmt.Errorf("sensor: SENSOR_NOTIFY_CHAR_UUID %q: %w", cfg.SensorNotifyCharUUID, err)
	}
	l := &bleLink{
		address:          cfg.SensorBLEAddress,
		char:             char,
		discoveryTimeout: cfg.SensorDiscoveryTimeout,
		connectTimeout:   cfg.SensorConnectTimeout,
		adapter:          bluetooth.DefaultAdapter,
	}
	if cfg.SensorServiceUUID != "" {
		svc, err := bluetooth.ParseUUID(cfg.SensorServiceUUID)
		if err != nil {
			return nil, fmt.Errorf("sensor: SENSOR_SERVICE_UUID %q: %w", cfg.SensorServiceUUID, err)
		}
		l.service = svc
		l.hasService = true
	}
	return l, nil
}

func (l *bleLink) Connect(ctx context.Context, onNotify func([]byte)) error {
	if l.disconnect != nil {
		// stale client from a previous session
		_ = l.Disconnect()
	}
	if err := l.adapter.Enable(); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}

	log.Printf("sensor: scanning for %s (timeout %s)", l.address, l.discoveryTimeout)
	addr, err := l.scan(ctx)
	if err != nil {
		return err
	}

	type peer struct {
		discover   func([]bluetooth.UUID) ([]bluetooth.DeviceService, error)
		disconnect func() error
		err        error
	}
	done := make(chan peer, 1)
	go func() {
		device, err := l.adapter.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			done <- peer{err: err}
			return
		}
		done <- peer{discover: device.DiscoverServices, disconnect: device.Disconnect}
	}()
	// a connection that completes after we gave up is dropped right away
	abandon := func() {
		go func() {
			if p := <-done; p.err == nil {
				_ = p.disconnect()
			}
		}()
	}

	timer := time.NewTimer(l.connectTimeout)
	defer timer.Stop()
	var device peer
	select {
	case device = <-done:
		if device.err != nil {
			return fmt.Errorf("connect %s: %w", l.address, device.err)
		}
	case <-timer.C:
		abandon()
		return fmt.Errorf("connect %s: timed out after %s", l.address, l.connectTimeout)
	case <-ctx.Done():
		abandon()
		return ctx.Err()
	}

	var filter []bluetooth.UUID
	if l.hasService {
		filter = []bluetooth.UUID{l.service}
	}
	services, err := device.discover(filter)
	if err != nil || len(services) == 0 {
		_ = device.disconnect()
		return fmt.Errorf("discover services: %v", errOrEmpty(err))
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{l.char})
	if err != nil || len(chars) == 0 {
		_ = device.disconnect()
		return fmt.Errorf("discover characteristic %s: %v", l.char, errOrEmpty(err))
	}
	char := chars[0]
	if err := char.EnableNotifications(onNotify); err != nil {
		_ = device.disconnect()
		return fmt.Errorf("start notify: %w", err)
	}

	l.notifier = char.EnableNotifications
	l.disconnect = device.disconnect
	return nil
}

func (l *bleLink) scan(ctx context.Context) (bluetooth.Address, error) {
	found := make(chan bluetooth.Address, 1)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- l.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if strings.EqualFold(r.Address.String(), l.address) {
				select {
				case found <- r.Address:
				default:
				}
				_ = a.StopScan()
			}
		})
	}()

	timer := time.NewTimer(l.discoveryTimeout)
	defer timer.Stop()
	select {
	case addr := <-found:
		return addr, nil
	case err := <-scanErr:
		select {
		case addr := <-found:
			return addr, nil
		default:
		}
		if err != nil {
			return bluetooth.Address{}, fmt.Errorf("scan: %w", err)
		}
		return bluetooth.Address{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, l.address)
	case <-timer.C:
		_ = l.adapter.StopScan()
		return bluetooth.Address{}, fmt.Errorf("%w: %s within %s", ErrDeviceNotFound, l.address, l.discoveryTimeout)
	case <-ctx.Done():
		_ = l.adapter.StopScan()
		return bluetooth.Address{}, ctx.Err()
	}
}

func (l *bleLink) Disconnect() error {
	if l.disconnect == nil {
		return nil
	}
	if l.notifier != nil {
		if err := l.notifier(nil); err != nil {
			log.Printf("sensor: stop notify: %v", err)
		}
	}
	err := l.disconnect()
	l.notifier = nil
	l.disconnect = nil
	return err
}

func errOrEmpty(err error) error {
	if err != nil {
		return err
	}
	return errors.New("not found")
}
