package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/medbridge-hq/medbridge-verifier/pkg/config"
	"github.com/medbridge-hq/medbridge-verifier/pkg/service"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create the verifier service
	svc, err := service.NewService(cfg)
	if err != nil {
		log.Fatalf("Failed to create verifier service: %v", err)
	}

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		log.Println("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	// Start the service
	log.Println("Starting the verifier service...")
	svc.Start(ctx)
}
