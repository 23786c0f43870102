package db

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Connect creates the PostgreSQL connection pool from the PostgreSQL.*
// configuration
func Connect(ctx context.Context) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable search_path=%s",
		viper.GetString("PostgreSQL.Host"),
		viper.GetString("PostgreSQL.Port"),
		viper.GetString("PostgreSQL.User"),
		viper.GetString("PostgreSQL.Password"),
		viper.GetString("PostgreSQL.DBName"),
		viper.GetString("PostgreSQL.Schema"),
	)

	connectConf, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse PostgreSQL config")
	}

	connectConf.MaxConns = int32(viper.GetInt("PostgreSQL.PoolMaxConns"))
	connectConf.HealthCheckPeriod = 15 * time.Second
	connectConf.ConnConfig.ConnectTimeout = 5 * time.Second

	// Set timezone to PGX runtime
	if s := os.Getenv("TZ"); s != "" {
		connectConf.ConnConfig.RuntimeParams["timezone"] = s
	}

	pool, err := pgxpool.NewWithConfig(ctx, connectConf)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create PostgreSQL connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "unable to reach PostgreSQL")
	}

	log.WithField("host", viper.GetString("PostgreSQL.Host")).Info("Connected to PostgreSQL successfully")
	return pool, nil
}

var migrations = []struct {
	name string
	sql  string
}{
	{"settings", `
    CREATE TABLE IF NOT EXISTS settings (
        scope TEXT NOT NULL,
        key TEXT NOT NULL,
        value BYTEA NOT NULL,
        updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (scope, key)
    );`},
	{"actors", `
    CREATE TABLE IF NOT EXISTS actors (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL DEFAULT '',
        owner_id TEXT NOT NULL DEFAULT '', -- Discord user id, empty for NPCs
        is_party BOOLEAN NOT NULL DEFAULT FALSE,
        coins JSONB, -- NULL when the actor carries no purse
        created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
    );
    CREATE INDEX IF NOT EXISTS idx_actors_owner_id ON actors(owner_id);`},
	{"actor_items", `
    CREATE TABLE IF NOT EXISTS actor_items (
        actor_id TEXT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
        pack_id TEXT NOT NULL,
        item_id TEXT NOT NULL,
        name TEXT NOT NULL,
        img TEXT NOT NULL DEFAULT '',
        price BIGINT NOT NULL DEFAULT 0,
        quantity INT NOT NULL CHECK (quantity > 0),
        updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (actor_id, pack_id, item_id)
    );`},
	{"catalog_items", `
    CREATE TABLE IF NOT EXISTS catalog_items (
        pack_id TEXT NOT NULL,
        item_id TEXT NOT NULL,
        name TEXT NOT NULL,
        img TEXT NOT NULL DEFAULT '',
        price BIGINT NOT NULL DEFAULT 0, -- copper
        level INT NOT NULL DEFAULT 0,
        rarity TEXT NOT NULL DEFAULT 'common',
        traits TEXT[] NOT NULL DEFAULT '{}',
        legacy BOOLEAN NOT NULL DEFAULT FALSE,
        PRIMARY KEY (pack_id, item_id)
    );
    CREATE INDEX IF NOT EXISTS idx_catalog_items_level ON catalog_items(level);`},
	{"settlements", `
    CREATE TABLE IF NOT EXISTS settlements (
        id UUID PRIMARY KEY,
        status TEXT NOT NULL,
        total BIGINT NOT NULL,
        pool_actor_id TEXT NOT NULL DEFAULT '',
        pool_used BIGINT NOT NULL DEFAULT 0,
        body JSONB NOT NULL,
        created_at TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_settlements_created_at ON settlements(created_at);`},
}

// Migrate sets up the database schema
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	log.Info("Starting database migration...")
	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return errors.Wrapf(err, "failed to migrate %s table", m.name)
		}
	}
	log.Info("Database migration completed")
	return nil
}
