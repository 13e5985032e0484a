package db

import (
	"database/sql"
)

// MigrateUp creates the schema. Statements are idempotent so the worker can
// run them at every startup.
func MigrateUp(pool *sql.DB) error {
	if _, err := pool.Exec(`
CREATE TABLE IF NOT EXISTS guilds (
    id     TEXT PRIMARY KEY,
    name   TEXT NOT NULL DEFAULT '',
    prefix TEXT NOT NULL DEFAULT ''
)`); err != nil {
		return err
	}

	if _, err := pool.Exec(`
CREATE TABLE IF NOT EXISTS feed_sources (
    id               TEXT PRIMARY KEY,
    guild_id         TEXT NOT NULL REFERENCES guilds(id) ON DELETE CASCADE,
    url              TEXT NOT NULL,
    channel_id       TEXT NOT NULL,
    title            TEXT NOT NULL DEFAULT '',
    schedule_name    TEXT NOT NULL DEFAULT '',
    disabled         BOOLEAN NOT NULL DEFAULT FALSE,
    cookies          TEXT NOT NULL DEFAULT '',
    seen_article_ids JSONB NOT NULL DEFAULT '[]',
    added_at         TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return err
	}

	if _, err := pool.Exec(`
CREATE TABLE IF NOT EXISTS vip_entitlements (
    subject_id           TEXT PRIMARY KEY,
    name                 TEXT NOT NULL DEFAULT '',
    servers              JSONB NOT NULL DEFAULT '[]',
    permanent            BOOLEAN NOT NULL DEFAULT FALSE,
    max_feeds            INTEGER NOT NULL DEFAULT 0,
    max_servers          INTEGER NOT NULL DEFAULT 0,
    allow_webhooks       BOOLEAN NOT NULL DEFAULT FALSE,
    allow_cookies        BOOLEAN NOT NULL DEFAULT FALSE,
    expires_at           TIMESTAMPTZ,
    grace_until          TIMESTAMPTZ,
    refresh_rate_seconds BIGINT NOT NULL DEFAULT 0
)`); err != nil {
		return err
	}

	if _, err := pool.Exec(`
CREATE TABLE IF NOT EXISTS blacklist (
    kind       TEXT NOT NULL CHECK (kind IN ('guild', 'user')),
    subject_id TEXT NOT NULL,
    PRIMARY KEY (kind, subject_id)
)`); err != nil {
		return err
	}

	if _, err := pool.Exec(`
CREATE TABLE IF NOT EXISTS failed_links (
    url                  TEXT PRIMARY KEY,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    first_failed_at      TIMESTAMPTZ,
    alert_sent           BOOLEAN NOT NULL DEFAULT FALSE,
    status               TEXT NOT NULL DEFAULT 'OK'
)`); err != nil {
		return err
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_feed_sources_guild_id ON feed_sources(guild_id)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_sources_url ON feed_sources(url)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_sources_disabled ON feed_sources(disabled) WHERE NOT disabled`,
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(idx); err != nil {
			return err
		}
	}
	return nil
}
