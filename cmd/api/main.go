package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/recurring-service/internal/cache"
	"github.com/Dan9191/recurring-service/internal/config"
	"github.com/Dan9191/recurring-service/internal/database"
	"github.com/Dan9191/recurring-service/internal/handler"
	"github.com/Dan9191/recurring-service/internal/middleware"
	"github.com/Dan9191/recurring-service/internal/notification"
	"github.com/Dan9191/recurring-service/internal/repository"
	"github.com/Dan9191/recurring-service/internal/scheduler"
	"github.com/Dan9191/recurring-service/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	anchor, err := service.ParseRescheduleAnchor(cfg.RescheduleAnchor)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Initialize layers
	repo := repository.NewRepository(db)
	// No cache backend is wired yet: invalidation only logs the resolved keys.
	invalidator := cache.NewKeyInvalidator(nil, logger)
	rules := service.NewRuleService(repo, invalidator, logger, cfg.Location, anchor)

	dispatcher := notification.NewDispatcher(notification.NewPushClient(cfg, logger), logger)
	var reporter service.RunReporter
	if cfg.MailEnabled() {
		reporter = notification.NewReportMailer(cfg, logger)
	}
	batch := service.NewBatchProcessor(repo, dispatcher, reporter, invalidator, logger, cfg.Location, cfg.LeaseTTL)

	h := handler.NewHandler(rules, batch, logger, cfg.Location)

	// Setup router
	r := mux.NewRouter()
	r.Use(middleware.Recovery(logger), middleware.Logger(logger))
	h.Routes(r, middleware.AuthMiddleware(cfg), middleware.CronSecret(cfg.CronSecret))

	// In-process schedule
	var sched *scheduler.Scheduler
	if cfg.CronSchedule != "" {
		sched, err = scheduler.New(cfg.CronSchedule, cfg.Location, cfg.BatchTimeout, batch, logger)
		if err != nil {
			logger.Fatalf("Failed to create scheduler: %v", err)
		}
		sched.Start()
	}

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.BatchTimeout,
	}
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
}
