package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sales-sync/config"
	"sales-sync/internal/analytics"
	"sales-sync/internal/api"
	"sales-sync/internal/broker"
	"sales-sync/internal/connector"
	"sales-sync/internal/cost"
	"sales-sync/internal/normalize"
	"sales-sync/internal/scheduler"
	"sales-sync/internal/service"
	"sales-sync/internal/store"
	"sales-sync/internal/util"
	"sales-sync/internal/worker"

	"github.com/gin-gonic/gin"
)

const costCacheTTL = 24 * time.Hour

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting sales sync service")

	tp, err := util.InitTracer("sales-sync", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	costCache, err := cost.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, costCacheTTL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer costCache.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSync)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	sentos := connector.NewSentosConnector(
		cfg.Sentos.APIURL, cfg.Sentos.APIKey, cfg.Sentos.APISecret,
		cfg.Sentos.PageSize, cfg.Sync.MaxFetchRetries, cfg.Sync.FetchTimeoutSeconds)
	trendyol := connector.NewTrendyolConnector(
		cfg.Trendyol.APIURL, cfg.Trendyol.SupplierID, cfg.Trendyol.APIKey, cfg.Trendyol.APISecret,
		cfg.Trendyol.PageSize, cfg.Sync.MaxFetchRetries, cfg.Sync.FetchTimeoutSeconds)
	connectors := []connector.Connector{sentos, trendyol}

	resolver := cost.NewResolver(costCache, db)
	owners := make([]normalize.MarketplaceOwner, len(connectors))
	for i, c := range connectors {
		owners[i] = c
	}
	normalizer := normalize.New(resolver, owners)

	syncService := service.NewSyncService(
		connectors, normalizer, db, eventPublisher, resolver,
		cfg.Sync.BatchSize, time.Duration(cfg.Sync.FetchTimeoutSeconds)*time.Second)

	syncScheduler := scheduler.New(syncService, db, cfg.Sync)

	ctx := context.Background()
	if state, err := db.GetSyncState(ctx); err != nil {
		log.Printf("Failed to load sync state: %v", err)
	} else {
		syncScheduler.Restore(ctx, state.LastFullSyncAt, state.LastLiveSyncAt)
	}

	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()
	go syncScheduler.Start(schedulerCtx)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	productConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicProducts, cfg.Kafka.ConsumerGroup)
	cacheWorker := worker.NewCacheRefreshWorker(productConsumer, db, costCache)
	go func() {
		if err := cacheWorker.Start(workerCtx); err != nil {
			log.Printf("Cache refresh worker error: %v", err)
		}
	}()

	analyticsService := analytics.New(db, cfg.Commission.Rates)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(syncScheduler, analyticsService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	syncScheduler.Stop()
	schedulerCancel()
	workerCancel()
	cacheWorker.Stop()

	log.Println("Server exited")
}
