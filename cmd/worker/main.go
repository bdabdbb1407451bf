package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"inboxpilot/internal/ai"
	"inboxpilot/internal/config"
	"inboxpilot/internal/handler"
	"inboxpilot/internal/httpserver"
	"inboxpilot/internal/mailer"
	"inboxpilot/internal/mqhandler"
	"inboxpilot/internal/push"
	"inboxpilot/internal/repository"
	"inboxpilot/internal/service/analysis"
	"inboxpilot/internal/service/automation"
	"inboxpilot/internal/service/notify"
	"inboxpilot/internal/service/opqueue"
	"inboxpilot/internal/service/scheduler"
	"inboxpilot/pkg/db"
	"inboxpilot/pkg/logger"
	"inboxpilot/pkg/mq"
	"inboxpilot/pkg/otel"
	redisclient "inboxpilot/pkg/redis"
	"inboxpilot/pkg/util"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting inboxpilot worker...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("mq_url", cfg.MQ.URL),
		zap.String("ai_base_url", cfg.AI.BaseURL),
	)

	// OpenTelemetry
	otelShutdown, err := otel.Init(otel.Config{
		ServiceName:    "inboxpilot-worker",
		ServiceVersion: analysis.Version,
		Endpoint:       cfg.Otel.Endpoint,
		Enabled:        cfg.Otel.Enabled,
	}, log)
	if err != nil {
		log.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer otelShutdown()

	// DB
	log.Info("Initializing database connection...")
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()
	log.Info("Database connection established successfully")

	// Redis
	rdb := redisclient.NewClient(cfg.Redis)
	defer rdb.Close()

	// MQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Repositories
	messageRepo := repository.NewMessageRepository(dbConn)
	analysisRepo := repository.NewAnalysisRepository(dbConn)
	policyRepo := repository.NewPolicyRepository(dbConn)
	operationRepo := repository.NewOperationRepository(dbConn)
	userRepo := repository.NewUserRepository(dbConn)

	// Collaborator clients
	aiClient := ai.NewClient(cfg.AI, log)
	mailActions := mailer.NewActions(cfg.Mailer)
	pushGateway := push.NewGateway(cfg.Push)

	// Redis-backed helpers
	deduper := util.NewDeduper(rdb, 10*time.Minute, log)
	retryCounter := util.NewRetryCounter(rdb, 1*time.Hour)
	replyCounter := util.NewReplyCounter(rdb)

	// Core pipeline services
	eventPublisher := analysis.NewEventPublisher(publisher, 256, log)
	orchestrator := analysis.NewOrchestrator(messageRepo, analysisRepo, aiClient, eventPublisher, log)
	executor := automation.NewExecutor(mailActions, messageRepo, replyCounter, policyRepo, log)
	batcher := notify.NewBatcher(
		pushGateway,
		policyRepo,
		time.Duration(cfg.Pipeline.BatchWindowMinutes)*time.Minute,
		cfg.Pipeline.MinBatchSize,
		log,
	)
	queue := opqueue.NewQueue(operationRepo, messageRepo, mailActions, log)
	cron := scheduler.NewCron(
		userRepo,
		policyRepo,
		messageRepo,
		orchestrator,
		executor,
		batcher,
		queue,
		cfg.Pipeline.Workers,
		log,
	)

	// message.synced consumer: analyze fresh messages without waiting for the sweep
	consumer, err := mq.NewConsumer(cfg.MQ.URL, "inboxpilot.message.synced", mq.RouteMessageSynced, log)
	if err != nil {
		log.Fatal("Failed to init MQ consumer", zap.Error(err))
	}
	defer consumer.Close()

	syncedHandler := mqhandler.NewMessageSyncedHandler(
		messageRepo,
		analysisRepo,
		policyRepo,
		orchestrator,
		executor,
		batcher,
		publisher,
		retryCounter,
		deduper,
		log,
	)
	consumer.SetHandler(syncedHandler.Handle)

	go func() {
		if err := consumer.StartConsuming(); err != nil {
			log.Fatal("Consumer failed", zap.Error(err))
		}
	}()

	// Scheduler - runs every tick interval
	tickInterval := time.Duration(cfg.Pipeline.TickIntervalSeconds) * time.Second
	log.Info("Starting pipeline scheduler...",
		zap.Duration("tick_interval", tickInterval),
		zap.Int("workers", cfg.Pipeline.Workers),
	)
	cronCtx, cronCancel := context.WithCancel(context.Background())
	defer cronCancel()

	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()

		// Run immediately on startup
		cron.Tick(cronCtx)

		for {
			select {
			case <-cronCtx.Done():
				log.Info("Pipeline scheduler stopped")
				return
			case <-ticker.C:
				cron.Tick(cronCtx)
			}
		}
	}()

	// HTTP Server
	log.Info("Initializing HTTP server...", zap.String("port", cfg.Server.Port))
	queueHandler := handler.NewQueueHandler(queue, log)
	pipelineHandler := handler.NewPipelineHandler(cron, log)
	router := httpserver.NewRouter(queueHandler, pipelineHandler, cfg.JWT.Secret, log, dbConn, consumer)
	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("inboxpilot worker is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down inboxpilot worker gracefully...")

	// Stop the scheduler first so no new work starts
	cronCancel()

	log.Info("Shutting down HTTP server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	// Flush what's still in memory before the process goes away
	batcher.DrainAll()
	eventPublisher.Close()

	consumer.Close()
	publisher.Close()
	dbConn.Close()

	log.Info("inboxpilot worker shutdown complete")
}
