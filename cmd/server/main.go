package main

import (
	"context"

	"aidispatch/internal/app"
	"aidispatch/internal/config"
	logpkg "aidispatch/internal/log"
	"aidispatch/internal/server"

	"github.com/joho/godotenv"
)

func main() {
	dotenvErr := godotenv.Load()

	logger := logpkg.CreateLogger()
	defer func() { _ = logger.Close() }()

	if dotenvErr != nil {
		logger.Warn("No .env file found, using system environment variables")
	}
	logger.Info("Logger initialized")

	cfg, cat, err := config.Load(logger)
	if err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}

	a, err := app.New(context.Background(), cfg, cat, logger, app.Options{})
	if err != nil {
		logger.Fatal("Failed to initialize dispatcher: %v", err)
	}
	a.StartPersistence(context.Background())

	srv, err := server.NewServer(cfg.Server, a)
	if err != nil {
		_ = a.Close()
		logger.Fatal("Failed to create server: %v", err)
	}
	defer func() { _ = srv.Close() }()

	logger.Info("Starting server on port %s with %d providers", cfg.Server.Port, len(cat.Providers()))
	if err := srv.Run(); err != nil {
		logger.Fatal("Server error: %v", err)
	}
}
