package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"sensorfusion/internal/config"
	"sensorfusion/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to YAML config (defaults when empty)")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
	}

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("sensorfusion starting source=%s algorithm=%s rate=%vHz", cfg.Source.Kind, cfg.Fusion.Algorithm, cfg.Fusion.SampleRateHz)
	if err := run(ctx, cfg, logs); err != nil {
		log.Fatalf("sensorfusion: %v", err)
	}
	log.Printf("sensorfusion stopping")
}
