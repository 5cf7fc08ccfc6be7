// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/grip_recorder/internal/app"
	"github.com/relabs-tech/grip_recorder/internal/config"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "KEY=VALUE config file")
	flag.Parse()

	log.Println("starting grip recorder web server")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Simulate {
		log.Println("Note: SIMULATE=true, using the simulated motor and force sensor")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunWeb(ctx, cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
