package main

import (
	"flag"
	"log"
	"os"

	"EdgeLab/internal/di"
	"EdgeLab/pkg/config"
)

// Bootstrap failures are reported through the stdlib logger; the structured
// logger only exists once the DI graph is built.
func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("env=%s feed=%s archive=%s", cfg.Environment, cfg.Feed.Mode, cfg.Archive.Backend)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
