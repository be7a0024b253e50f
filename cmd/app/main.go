package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"inventory-service/internal/adapters/cli"
	"inventory-service/internal/app"
	"inventory-service/internal/config"
	"inventory-service/internal/db"
	"inventory-service/internal/logger"
)

func main() {
	// Missing .env is fine, variables may come from the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New(cfg.App.Env, cfg.App.LogLevel)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DB.ConnectionString())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	svc := app.New(pool, log, cfg.Inv.NearExpiryDays)
	cli.Run(ctx, svc, os.Args[1:])
}
