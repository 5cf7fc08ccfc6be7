// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/relabs-tech/grip_recorder/internal/catalog"
	"github.com/relabs-tech/grip_recorder/internal/config"
	"github.com/relabs-tech/grip_recorder/internal/motion"
	"github.com/relabs-tech/grip_recorder/internal/readings"
	"github.com/relabs-tech/grip_recorder/internal/recording"
	"github.com/relabs-tech/grip_recorder/internal/sensors"
)

// Rig is the connected hardware plus everything a run writes to.
type Rig struct {
	Motor   *motion.Controller
	Sensor  *sensors.ForceSensor
	Writer  *readings.Writer
	Catalog *catalog.Store // nil when CATALOG_PATH is empty
}

// OpenRig connects the motor and the force sensor. Either connect failing
// is reported as an error after both have been tried, so the operator sees
// every cause in one go.
func OpenRig(ctx context.Context, cfg *config.Config) (*Rig, error) {
	var open motion.PortOpener
	if cfg.Simulate {
		log.Println("rig: SIMULATE=true, using the simulated motor and sensor")
		open = motion.NewSimPort().Opener()
	}
	link, err := sensors.NewLink(cfg)
	if err != nil {
		return nil, err
	}

	rig := &Rig{
		Motor:  motion.NewController(motion.OptionsFromConfig(cfg), open),
		Sensor: sensors.NewForceSensor(link, cfg.SensorQueueSize),
		Writer: readings.NewWriter(cfg.ReadingsDir),
	}

	var errs []error
	if err := rig.Motor.Connect(ctx); err != nil {
		log.Printf("rig: motor connection failed: %v", err)
		errs = append(errs, err)
	}
	if err := rig.Sensor.Connect(ctx); err != nil {
		log.Printf("rig: sensor connection failed: %v", err)
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		rig.Close()
		return nil, errors.Join(errs...)
	}

	if cfg.CatalogPath != "" {
		store, err := catalog.Open(cfg.CatalogPath)
		if err != nil {
			// runs are still saved as CSV
			log.Printf("rig: catalog %s unavailable: %v", cfg.CatalogPath, err)
		} else {
			rig.Catalog = store
		}
	}
	return rig, nil
}

// Orchestrator builds the run sequencer around the rig.
func (r *Rig) Orchestrator(cfg *config.Config, observers ...recording.Observer) *recording.Orchestrator {
	var index recording.Indexer
	if r.Catalog != nil {
		index = r.Catalog
	}
	return recording.New(recording.OptionsFromConfig(cfg), r.Motor, r.Sensor, r.Writer, index, observers...)
}

// Close disconnects both transports and closes the catalog.
func (r *Rig) Close() {
	if r.Sensor != nil {
		r.Sensor.Close()
	}
	if r.Motor != nil {
		if err := r.Motor.Close(); err != nil {
			log.Printf("rig: motor close: %v", err)
		}
	}
	if r.Catalog != nil {
		if err := r.Catalog.Close(); err != nil {
			log.Printf("rig: catalog close: %v", err)
		}
	}
}

// ListRuns prints the most recent catalog entries.
func ListRuns(ctx context.Context, cfg *config.Config, limit int, print func(catalog.Entry)) error {
	if cfg.CatalogPath == "" {
		return fmt.Errorf("CATALOG_PATH is empty, no run index configured")
	}
	store, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(ctx, limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		print(e)
	}
	return nil
}
