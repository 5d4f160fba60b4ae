package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-sourcing/internal/app"
	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/db"
)

func main() {
	_ = godotenv.Load()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := db.Migrate(cfg.PGDSN); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("migrations applied")
}
