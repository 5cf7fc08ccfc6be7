// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/relabs-tech/grip_recorder/internal/config"
	"github.com/relabs-tech/grip_recorder/internal/recording"
)

// RunRecorder connects the rig, performs one run and prints its result.
// The error is non-nil when connecting fails or the run fails.
func RunRecorder(ctx context.Context, cfg *config.Config, p recording.Params, out io.Writer) (*recording.Result, error) {
	// reject bad parameters before touching any hardware
	if err := p.Validate(cfg.MaxSpeedMPS); err != nil {
		return nil, err
	}

	rig, err := OpenRig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer rig.Close()

	var observers []recording.Observer
	if cfg.MQTTEnabled() {
		client, err := ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDRecorder)
		if err != nil {
			log.Printf("recorder: MQTT unavailable, continuing without it: %v", err)
		} else {
			defer client.Disconnect(250)
			observers = append(observers, NewMQTTReporter(client, cfg))
		}
	}

	orch := rig.Orchestrator(cfg, observers...)
	defer orch.Close()

	res, err := orch.Run(ctx, p)
	PrintResult(out, res)
	return res, err
}

// PrintResult writes a short human-readable summary of res.
func PrintResult(w io.Writer, res *recording.Result) {
	if res == nil {
		return
	}
	fmt.Fprintln(w, formatResult(res))
	if res.Persisted {
		fmt.Fprintf(w, "  csv:      %s\n", res.Artifact.Path)
		if res.Artifact.MetaPath != "" {
			fmt.Fprintf(w, "  metadata: %s\n", res.Artifact.MetaPath)
		}
	}
}
