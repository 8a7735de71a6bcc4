package main

import (
	"context"
	"flag"
	"os"

	"github.com/Dan9191/recurring-service/internal/cache"
	"github.com/Dan9191/recurring-service/internal/config"
	"github.com/Dan9191/recurring-service/internal/database"
	"github.com/Dan9191/recurring-service/internal/integrations/legacy"
	"github.com/Dan9191/recurring-service/internal/repository"
	"github.com/Dan9191/recurring-service/internal/service"
	"github.com/sirupsen/logrus"
)

func main() {
	file := flag.String("file", "", "legacy XML export to import")
	userID := flag.Int64("user", 0, "id of the user the rules belong to")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if *file == "" || *userID <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	anchor, err := service.ParseRescheduleAnchor(cfg.RescheduleAnchor)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	db, err := database.Open(ctx, cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	f, err := os.Open(*file)
	if err != nil {
		logger.Fatalf("Failed to open export: %v", err)
	}
	defer f.Close()

	rules := service.NewRuleService(repository.NewRepository(db), cache.NewKeyInvalidator(nil, logger), logger, cfg.Location, anchor)
	res, err := legacy.NewImporter(rules, cfg.Location, logger).Import(ctx, *userID, f)
	if err != nil {
		logger.Fatalf("Import failed: %v", err)
	}
	for _, e := range res.Errors {
		logger.Warn(e)
	}
	if res.Failed > 0 {
		os.Exit(1)
	}
}
