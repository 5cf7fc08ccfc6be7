// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Command recorder performs one grip/friction measurement from the command
// line and manages the run index.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/grip_recorder/internal/app"
	"github.com/relabs-tech/grip_recorder/internal/catalog"
	"github.com/relabs-tech/grip_recorder/internal/config"
	"github.com/relabs-tech/grip_recorder/internal/motion"
	"github.com/relabs-tech/grip_recorder/internal/recording"
)

var (
	configPath string
	simulate   bool

	runDistance  float64
	runSpeed     float64
	runDirection string

	runsLimit int
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "recorder",
		Short:        "Grip/friction recording rig",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "KEY=VALUE config file")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "use the simulated motor and sensor")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newRunsCmd())
	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newConfigCmd())
	return rootCmd
}

func loadConfig() (*config.Config, error) {
	if simulate {
		// SIMULATE relaxes the required transport keys, so it must be set
		// before validation runs
		os.Setenv("SIMULATE", "true")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Arm the sensor, move the sled and save the readings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := motion.ParseDirection(runDirection)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			p := recording.Params{DistanceCM: runDistance, SpeedMPS: runSpeed, Direction: dir}
			_, err = app.RunRecorder(ctx, cfg, p, cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().Float64Var(&runDistance, "distance", 0, "travel distance in cm (required)")
	cmd.Flags().Float64Var(&runSpeed, "speed", 0, "speed in m/s, (0, MAX_SPEED_MPS] (required)")
	cmd.Flags().StringVar(&runDirection, "direction", "forward", "forward|reverse (or 1|0)")
	_ = cmd.MarkFlagRequired("distance")
	_ = cmd.MarkFlagRequired("speed")
	return cmd
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs from the catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-36s  %-19s  %8s  %6s  %-7s  %7s  %-8s  %s\n",
				"SESSION", "START", "DIST_CM", "M/S", "DIR", "SAMPLES", "STATE", "FILE")
			return app.ListRuns(context.Background(), cfg, runsLimit, func(e catalog.Entry) {
				state := e.State
				if e.Aborted {
					state += "*"
				}
				fmt.Fprintf(out, "%-36s  %-19s  %8.1f  %6.2f  %-7s  %7d  %-8s  %s\n",
					e.SessionID, e.Start.Local().Format(time.DateTime), e.DistanceCM, e.SpeedMPS,
					e.Direction, e.Samples, state, e.File)
			})
		},
	}
	cmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to show (0 for all)")
	return cmd
}

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Print raw force sensor notifications until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			return app.RunMonitor(ctx, cfg, cmd.OutOrStdout())
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for _, kv := range cfg.Pairs() {
				fmt.Fprintln(cmd.OutOrStdout(), kv)
			}
			return nil
		},
	}
}
