package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type migration struct {
	version string
	sql     string
}

var migrations = []migration{
	{
		version: "0001_groups",
		sql: `
			CREATE TABLE IF NOT EXISTS groups (
				id BIGSERIAL PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS characters (
				id BIGSERIAL PRIMARY KEY,
				group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				secret TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (group_id, name)
			);
		`,
	},
	{
		version: "0002_messages",
		sql: `
			CREATE TABLE IF NOT EXISTS messages (
				id BIGSERIAL PRIMARY KEY,
				group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
				sender TEXT NOT NULL,
				text TEXT NOT NULL DEFAULT '',
				file_url TEXT,
				file_name TEXT,
				file_kind TEXT,
				reply_sender TEXT,
				reply_text TEXT,
				created_at TIMESTAMPTZ NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_messages_group_order
				ON messages (group_id, created_at, id);
		`,
	},
}

func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = $1", m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.version, err)
		}
		if _, err := pool.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}
	}

	return nil
}
