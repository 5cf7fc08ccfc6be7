// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/relabs-tech/grip_recorder/internal/config"
	"github.com/relabs-tech/grip_recorder/internal/force"
	"github.com/relabs-tech/grip_recorder/internal/sensors"
)

// RunMonitor connects only the force sensor and prints every notification
// until ctx ends. Handy for checking the BLE link before a run.
func RunMonitor(ctx context.Context, cfg *config.Config, out io.Writer) error {
	link, err := sensors.NewLink(cfg)
	if err != nil {
		return err
	}

	lines := make(chan force.Sample, cfg.SensorQueueSize)
	err = link.Connect(ctx, func(payload []byte) {
		smp := force.Sample{HostTime: time.Now(), Value: force.Decode(payload)}
		select {
		case lines <- smp:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("sensor: connect: %w", err)
	}
	defer link.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return nil
		case smp := <-lines:
			fmt.Fprintf(out, "%.6f  %-8s %s\n", smp.Seconds(), smp.Value.Kind, smp.Value.Text)
		}
	}
}
