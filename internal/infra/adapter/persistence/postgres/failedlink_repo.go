package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
	"github.com/synzen/Discord.RSS/internal/repository"
)

type FailedLinkRepo struct{ db *sql.DB }

func NewFailedLinkRepo(db *sql.DB) repository.FailedLinkRepository {
	return &FailedLinkRepo{db: db}
}

func (repo *FailedLinkRepo) List(ctx context.Context) ([]*entity.FailedLinkRecord, error) {
	const query = `
SELECT url, consecutive_failures, first_failed_at, alert_sent, status
FROM failed_links
ORDER BY url ASC`
	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]*entity.FailedLinkRecord, 0, 50)
	for rows.Next() {
		var rec entity.FailedLinkRecord
		var firstFailedAt sql.NullTime
		var status string
		if err := rows.Scan(&rec.URL, &rec.ConsecutiveFailures, &firstFailedAt, &rec.AlertSent, &status); err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		if firstFailedAt.Valid {
			rec.FirstFailedAt = firstFailedAt.Time
		}
		rec.Status = entity.LinkStatus(status)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return records, nil
}

func (repo *FailedLinkRepo) Upsert(ctx context.Context, record *entity.FailedLinkRecord) error {
	var firstFailedAt sql.NullTime
	if !record.FirstFailedAt.IsZero() {
		firstFailedAt = sql.NullTime{Time: record.FirstFailedAt, Valid: true}
	}

	const query = `
INSERT INTO failed_links (url, consecutive_failures, first_failed_at, alert_sent, status)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (url) DO UPDATE SET
    consecutive_failures = EXCLUDED.consecutive_failures,
    first_failed_at = EXCLUDED.first_failed_at,
    alert_sent = EXCLUDED.alert_sent,
    status = EXCLUDED.status`
	if _, err := repo.db.ExecContext(ctx, query,
		record.URL, record.ConsecutiveFailures, firstFailedAt, record.AlertSent, string(record.Status),
	); err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

func (repo *FailedLinkRepo) Reset(ctx context.Context, url string) error {
	if _, err := repo.db.ExecContext(ctx, `DELETE FROM failed_links WHERE url = $1`, url); err != nil {
		return fmt.Errorf("Reset: %w", err)
	}
	return nil
}
