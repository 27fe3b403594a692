package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashgraph/guardian-sub018/internal/config"
	"github.com/hashgraph/guardian-sub018/internal/service"
)

func main() {
	var ingestService *service.IngestService
	var err error

	if len(os.Args) >= 2 {
		ingestService, err = service.NewIngestServiceFromFile(os.Args[1])
	} else {
		var cfg *config.Config
		cfg, err = config.LoadConfigFromEnv()
		if err == nil {
			ingestService, err = service.NewIngestServiceWithConfig(cfg)
		}
	}
	if err != nil {
		log.Fatalf("❌ Failed to create ingest service: %v", err)
	}

	ctx := context.Background()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("🛑 Received signal %v, initiating graceful shutdown...", sig)
		ingestService.Stop()
	}()

	if err := ingestService.Start(ctx); err != nil && err != context.Canceled {
		log.Fatalf("❌ Service failed: %v", err)
	}
}
