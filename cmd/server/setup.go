package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/oatsaysai/general-store-in-discord/internal/config"
	"github.com/oatsaysai/general-store-in-discord/internal/db"
)

// loadConfig reads the configuration and applies its logging section
func loadConfig(opts *rootOptions) (*config.Config, error) {
	if err := config.Initialize(opts.configFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := config.SetupLogging(cfg.Log); err != nil {
		return nil, err
	}
	log.WithField("config", opts.configFile).Debug("Configuration loaded")
	return cfg, nil
}

// openDatabase connects and brings the schema up to date
func openDatabase(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := db.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "migrate database")
	}
	return pool, nil
}
