package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
	"github.com/synzen/Discord.RSS/internal/repository"
)

type VipRepo struct{ db *sql.DB }

func NewVipRepo(db *sql.DB) repository.VipRepository {
	return &VipRepo{db: db}
}

func (repo *VipRepo) Snapshot(ctx context.Context) ([]*entity.VipEntitlement, error) {
	const query = `
SELECT subject_id, name, servers, permanent, max_feeds, max_servers,
       allow_webhooks, allow_cookies, expires_at, grace_until, refresh_rate_seconds
FROM vip_entitlements
ORDER BY subject_id ASC`
	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("Snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]*entity.VipEntitlement, 0, 50)
	for rows.Next() {
		var rec entity.VipEntitlement
		var serversJSON []byte
		var expiresAt, graceUntil sql.NullTime
		var refreshSeconds int64
		if err := rows.Scan(
			&rec.SubjectID, &rec.Name, &serversJSON, &rec.Permanent, &rec.MaxFeeds,
			&rec.MaxServers, &rec.AllowWebhooks, &rec.AllowCookies,
			&expiresAt, &graceUntil, &refreshSeconds,
		); err != nil {
			return nil, fmt.Errorf("Snapshot: %w", err)
		}
		if len(serversJSON) > 0 {
			if err := json.Unmarshal(serversJSON, &rec.Servers); err != nil {
				return nil, fmt.Errorf("Snapshot: unmarshal servers: %w", err)
			}
		}
		if expiresAt.Valid {
			rec.ExpiresAt = expiresAt.Time
		}
		if graceUntil.Valid {
			rec.GraceUntil = graceUntil.Time
		}
		rec.RefreshRateOverride = time.Duration(refreshSeconds) * time.Second
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Snapshot: %w", err)
	}
	return records, nil
}

func (repo *VipRepo) Blacklist(ctx context.Context) (*entity.Blacklist, error) {
	const query = `
SELECT kind, subject_id
FROM blacklist
ORDER BY subject_id ASC`
	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("Blacklist: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var blacklist entity.Blacklist
	for rows.Next() {
		var kind, subjectID string
		if err := rows.Scan(&kind, &subjectID); err != nil {
			return nil, fmt.Errorf("Blacklist: %w", err)
		}
		switch kind {
		case "guild":
			blacklist.Guilds = append(blacklist.Guilds, subjectID)
		case "user":
			blacklist.Users = append(blacklist.Users, subjectID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Blacklist: %w", err)
	}
	return &blacklist, nil
}
