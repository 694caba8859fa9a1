package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS developer_records (
	id BIGINT NOT NULL,
	subject_id TEXT PRIMARY KEY,
	email TEXT NOT NULL,
	developer_id TEXT UNIQUE,
	company_name TEXT,
	user_type TEXT,
	website TEXT,
	bio TEXT,
	profile_picture TEXT,
	disabled BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS developer_records_email_idx ON developer_records (lower(email))`,
}

// EnsureSchema creates the developer record table on startup if missing.
func EnsureSchema(lc fx.Lifecycle, pool *pgxpool.Pool, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureSchema(ctx, pool, logger)
		},
	})
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	if logger != nil {
		logger.Info("developer record schema ensured")
	}
	return nil
}
