package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"apigate/internal/engine/webhooks"
	"apigate/internal/pkg/logger"
	"apigate/internal/platform/config"
	"apigate/internal/platform/database"
	"apigate/internal/platform/repositories"
	"apigate/internal/workers"
)

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.Logging)

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	webhookRepo := repositories.NewWebhookRepository(db)
	deliveryRepo := repositories.NewWebhookDeliveryRepository(db)
	dispatcher := webhooks.NewDispatcher(webhookRepo, deliveryRepo, cfg.Webhooks)

	worker := workers.NewDeliveryWorker(deliveryRepo, dispatcher, cfg.Webhooks)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Println("Starting webhook delivery worker...")
	worker.Run(ctx)
	log.Println("Delivery worker stopped")
}
