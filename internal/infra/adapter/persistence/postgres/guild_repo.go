// Package postgres implements the repository interfaces over PostgreSQL
// through database/sql with the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
	"github.com/synzen/Discord.RSS/internal/repository"
)

type GuildRepo struct{ db *sql.DB }

func NewGuildRepo(db *sql.DB) repository.GuildRepository {
	return &GuildRepo{db: db}
}

const sourceColumns = `id, guild_id, url, channel_id, title, schedule_name, disabled, cookies, seen_article_ids, added_at`

// scanFeedSource reads one feed_sources row including the seen-set JSON.
func scanFeedSource(rows *sql.Rows) (*entity.FeedSource, error) {
	var source entity.FeedSource
	var seenJSON []byte
	if err := rows.Scan(
		&source.ID, &source.GuildID, &source.URL, &source.ChannelID, &source.Title,
		&source.ScheduleName, &source.Disabled, &source.Cookies, &seenJSON, &source.AddedAt,
	); err != nil {
		return nil, err
	}
	if len(seenJSON) > 0 {
		if err := json.Unmarshal(seenJSON, &source.SeenArticleIDs); err != nil {
			return nil, fmt.Errorf("unmarshal seen_article_ids: %w", err)
		}
	}
	return &source, nil
}

func (repo *GuildRepo) Get(ctx context.Context, guildID string) (*entity.GuildConfig, error) {
	const query = `
SELECT id, name, prefix
FROM guilds
WHERE id = $1
LIMIT 1`
	var guild entity.GuildConfig
	err := repo.db.QueryRowContext(ctx, query, guildID).Scan(&guild.ID, &guild.Name, &guild.Prefix)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("guild %s: %w", guildID, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	guild.Sources = make(map[string]*entity.FeedSource)
	const sourcesQuery = `
SELECT ` + sourceColumns + `
FROM feed_sources
WHERE guild_id = $1
ORDER BY added_at ASC`
	rows, err := repo.db.QueryContext(ctx, sourcesQuery, guildID)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		source, err := scanFeedSource(rows)
		if err != nil {
			return nil, fmt.Errorf("Get: %w", err)
		}
		guild.Sources[source.ID] = source
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &guild, nil
}

func (repo *GuildRepo) List(ctx context.Context) ([]*entity.GuildConfig, error) {
	const query = `
SELECT id, name, prefix
FROM guilds
ORDER BY id ASC`
	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*entity.GuildConfig)
	guilds := make([]*entity.GuildConfig, 0, 50)
	for rows.Next() {
		var guild entity.GuildConfig
		if err := rows.Scan(&guild.ID, &guild.Name, &guild.Prefix); err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		guild.Sources = make(map[string]*entity.FeedSource)
		byID[guild.ID] = &guild
		guilds = append(guilds, &guild)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}

	const sourcesQuery = `
SELECT ` + sourceColumns + `
FROM feed_sources
ORDER BY added_at ASC`
	srcRows, err := repo.db.QueryContext(ctx, sourcesQuery)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = srcRows.Close() }()

	for srcRows.Next() {
		source, err := scanFeedSource(srcRows)
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		if guild, ok := byID[source.GuildID]; ok {
			guild.Sources[source.ID] = source
		}
	}
	if err := srcRows.Err(); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return guilds, nil
}

func (repo *GuildRepo) Update(ctx context.Context, guild *entity.GuildConfig) error {
	if err := guild.Validate(); err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsertGuild = `
INSERT INTO guilds (id, name, prefix)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, prefix = EXCLUDED.prefix`
	if _, err := tx.ExecContext(ctx, upsertGuild, guild.ID, guild.Name, guild.Prefix); err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	// The source set is replaced wholesale so removals propagate.
	if _, err := tx.ExecContext(ctx, `DELETE FROM feed_sources WHERE guild_id = $1`, guild.ID); err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	for _, source := range guild.Sources {
		if err := upsertSourceTx(ctx, tx, source); err != nil {
			return fmt.Errorf("Update: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	return nil
}

func (repo *GuildRepo) Remove(ctx context.Context, guildID string) error {
	if _, err := repo.db.ExecContext(ctx, `DELETE FROM guilds WHERE id = $1`, guildID); err != nil {
		return fmt.Errorf("Remove: %w", err)
	}
	return nil
}

func (repo *GuildRepo) UpdateSource(ctx context.Context, guildID string, source *entity.FeedSource) error {
	if source.GuildID == "" {
		source.GuildID = guildID
	}
	if err := source.Validate(); err != nil {
		return fmt.Errorf("UpdateSource: %w", err)
	}

	seenJSON, err := json.Marshal(source.SeenArticleIDs)
	if err != nil {
		return fmt.Errorf("UpdateSource: marshal seen_article_ids: %w", err)
	}

	const query = `
INSERT INTO feed_sources (` + sourceColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    url = EXCLUDED.url,
    channel_id = EXCLUDED.channel_id,
    title = EXCLUDED.title,
    schedule_name = EXCLUDED.schedule_name,
    disabled = EXCLUDED.disabled,
    cookies = EXCLUDED.cookies,
    seen_article_ids = EXCLUDED.seen_article_ids`
	if _, err := repo.db.ExecContext(ctx, query,
		source.ID, guildID, source.URL, source.ChannelID, source.Title,
		source.ScheduleName, source.Disabled, source.Cookies, seenJSON, source.AddedAt,
	); err != nil {
		return fmt.Errorf("UpdateSource: %w", err)
	}
	return nil
}

func upsertSourceTx(ctx context.Context, tx *sql.Tx, source *entity.FeedSource) error {
	seenJSON, err := json.Marshal(source.SeenArticleIDs)
	if err != nil {
		return fmt.Errorf("marshal seen_article_ids: %w", err)
	}

	const query = `
INSERT INTO feed_sources (` + sourceColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    url = EXCLUDED.url,
    channel_id = EXCLUDED.channel_id,
    title = EXCLUDED.title,
    schedule_name = EXCLUDED.schedule_name,
    disabled = EXCLUDED.disabled,
    cookies = EXCLUDED.cookies,
    seen_article_ids = EXCLUDED.seen_article_ids`
	_, err = tx.ExecContext(ctx, query,
		source.ID, source.GuildID, source.URL, source.ChannelID, source.Title,
		source.ScheduleName, source.Disabled, source.Cookies, seenJSON, source.AddedAt,
	)
	return err
}
