package main

import (
	"fmt"
	"log"
	"net/http"

	"apigate/internal/api"
	"apigate/internal/api/handlers"
	"apigate/internal/api/middleware"
	"apigate/internal/engine/keys"
	"apigate/internal/engine/quota"
	"apigate/internal/engine/ratelimit"
	"apigate/internal/engine/requestlog"
	"apigate/internal/engine/webhooks"
	"apigate/internal/pkg/logger"
	"apigate/internal/platform/auth"
	"apigate/internal/platform/config"
	"apigate/internal/platform/database"
	"apigate/internal/platform/repositories"
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

	// Repositories
	keyRepo := repositories.NewAPIKeyRepository(db)
	quotaRepo := repositories.NewOrgQuotaRepository(db)
	logRepo := repositories.NewRequestLogRepository(db)
	webhookRepo := repositories.NewWebhookRepository(db)
	deliveryRepo := repositories.NewWebhookDeliveryRepository(db)

	// Services
	tokenSvc := auth.NewTokenService(cfg.JWT)
	keySvc := keys.NewService(keyRepo, keys.Limits{
		PerMinute: cfg.RateLimit.PerMinute,
		PerHour:   cfg.RateLimit.PerHour,
		PerDay:    cfg.RateLimit.PerDay,
	})
	limiter := ratelimit.NewLimiter(cfg.RateLimit)
	defer limiter.Close()
	tracker := quota.NewTracker(quotaRepo, cfg.Quota)
	recorder := requestlog.NewRecorder(logRepo)
	registry := webhooks.NewRegistry(webhookRepo, deliveryRepo)
	dispatcher := webhooks.NewDispatcher(webhookRepo, deliveryRepo, cfg.Webhooks)

	// Handlers
	apiKeyHandler := handlers.NewAPIKeyHandler(keySvc, tracker)
	webhookHandler := handlers.NewWebhookHandler(registry, dispatcher)
	usageHandler := handlers.NewUsageHandler(recorder, tracker)
	eventHandler := handlers.NewEventHandler(dispatcher)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenSvc)
	apiKeyMiddleware := middleware.NewAPIKeyMiddleware(keySvc, limiter, tracker, recorder)

	// Router
	router := api.NewRouter(&api.Dependencies{
		APIKeyHandler:    apiKeyHandler,
		WebhookHandler:   webhookHandler,
		UsageHandler:     usageHandler,
		EventHandler:     eventHandler,
		AuthMiddleware:   authMiddleware,
		APIKeyMiddleware: apiKeyMiddleware,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Printf("Server starting on %s", addr)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
