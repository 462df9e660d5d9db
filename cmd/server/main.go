package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/config"
	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/handler"
	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/inventory"
	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/middleware"
	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/repository"
	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/service"
	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/store"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if !cfg.IsProduction() {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Versioned store: Postgres-backed when DATABASE_URL is set, otherwise
	// in-memory (single node, development only).
	var docStore store.VersionedStore
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = store.NewPool(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("failed to connect to store", zap.Error(err))
		}
		defer pool.Close()

		pg := store.NewPostgresStore(pool, logger)
		if err := pg.Bootstrap(context.Background()); err != nil {
			logger.Fatal("failed to bootstrap documents table", zap.Error(err))
		}
		docStore = pg
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		docStore = store.NewMemoryStore()
	}

	// Repositories
	listingRepo := repository.NewListingRepository(docStore, logger, cfg.MaxListingsPerSeller)
	ledger := repository.NewCreditLedger(docStore, logger)
	notifStore := repository.NewNotificationStore(docStore, logger, cfg.NotificationCap)
	tradeLog := repository.NewTradeLog(docStore, logger)

	// Collaborators
	inventoryClient := inventory.NewHTTPClient(cfg.InventoryURL)
	hub := service.NewWSHub(logger)

	// Coordinator
	marketSvc := service.NewMarketService(
		listingRepo, ledger, notifStore, tradeLog,
		inventoryClient, hub, logger, cfg.TradeFeeBps)

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
		BodyLimit:    1 * 1024 * 1024, // 1MB
	})

	app.Use(recover.New())
	app.Use(middleware.Logger())
	app.Use(middleware.CORS())

	// Health
	healthH := handler.NewHealthHandler(pool)
	app.Get("/health", healthH.Health)
	app.Get("/ready", healthH.Ready)

	// API v1
	v1 := app.Group("/api/v1")
	market := v1.Group("/market")

	marketH := handler.NewMarketHandler(marketSvc, logger)
	market.Get("/listings", marketH.Listings)
	market.Post("/listings", middleware.RateLimit(30, time.Minute), marketH.Create)
	market.Post("/listings/:id/buy", middleware.RateLimit(60, time.Minute), marketH.Buy)
	market.Delete("/listings/:id", marketH.Cancel)
	market.Get("/credits/:player_id", marketH.Credits)
	market.Get("/notifications/:player_id", marketH.Notifications)
	market.Post("/notifications/:player_id/mark-read", marketH.MarkRead)
	market.Get("/history/:player_id", marketH.History)

	// Market event feed
	wsH := handler.NewWSHandler(hub)
	app.Get("/ws/market", wsH.Upgrade)

	go hub.Run()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("marketplace backend running",
		zap.String("port", cfg.Port), zap.String("env", cfg.Env))

	<-quit
	logger.Info("shutting down")
	_ = app.ShutdownWithTimeout(5 * time.Second)
	hub.Shutdown()
	logger.Info("server stopped")
}
