package main

import (
	"log"

	"github.com/relabs-tech/grip_recorder/internal/app"
	"github.com/relabs-tech/grip_recorder/internal/config"
)

func main() {
	log.Println("starting grip recorder console (MQTT subscriber)")

	// Load configuration
	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunConsoleMQTT(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
