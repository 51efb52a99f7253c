// Package postgres implements the engine's store interfaces against
// PostgreSQL with raw database/sql. The send ledger's
// (campaign_id, contact_id) uniqueness constraint lives in the schema
// (migrations/001_init.sql); nothing here assumes it implicitly.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cosmic-community/ssf-mailer-sub002/internal/domain"
	"github.com/cosmic-community/ssf-mailer-sub002/internal/engine"
)

// CampaignRepo implements engine.CampaignStore.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign store.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignCols = `
	id, name, subject, html_body, from_name, from_email, status,
	contact_ids, list_ids, target_tags,
	send_date, COALESCE(send_timezone,''),
	rate_limit_hit_at, COALESCE(retry_after_seconds,0),
	progress_sent, progress_failed, progress_total, progress_percent, last_batch_at,
	stats_sent, stats_failed, stats_bounced, stats_total,
	sent_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...interface{}) error }) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var (
		sendDate, hitAt, lastBatch, sentAt sql.NullTime
		retryAfterSec                      int
	)
	err := row.Scan(
		&c.ID, &c.Name, &c.Subject, &c.HTMLBody, &c.FromName, &c.FromEmail, &c.Status,
		pq.Array(&c.Targeting.ContactIDs), pq.Array(&c.Targeting.ListIDs), pq.Array(&c.Targeting.Tags),
		&sendDate, &c.SendTimezone,
		&hitAt, &retryAfterSec,
		&c.Progress.Sent, &c.Progress.Failed, &c.Progress.Total, &c.Progress.Percentage, &lastBatch,
		&c.Stats.Sent, &c.Stats.Failed, &c.Stats.Bounced, &c.Stats.Total,
		&sentAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sendDate.Valid {
		t := sendDate.Time.UTC()
		c.SendDate = &t
	}
	if hitAt.Valid {
		t := hitAt.Time.UTC()
		c.RateLimitHitAt = &t
	}
	c.RetryAfter = time.Duration(retryAfterSec) * time.Second
	if lastBatch.Valid {
		t := lastBatch.Time.UTC()
		c.Progress.LastBatchAt = &t
	}
	if sentAt.Valid {
		t := sentAt.Time.UTC()
		c.SentAt = &t
	}
	return c, nil
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+campaignCols+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) ListSending(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+campaignCols+` FROM campaigns WHERE status = $1 ORDER BY created_at`,
		domain.CampaignSending)
	if err != nil {
		return nil, fmt.Errorf("list sending campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) UpdateProgress(ctx context.Context, id string, p domain.Progress) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET progress_sent = $1, progress_failed = $2, progress_total = $3,
		    progress_percent = $4, last_batch_at = $5, updated_at = NOW()
		WHERE id = $6
	`, p.Sent, p.Failed, p.Total, p.Percentage, p.LastBatchAt, id)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return requireRow(res)
}

func (r *CampaignRepo) SetRateLimit(ctx context.Context, id string, hitAt time.Time, retryAfter time.Duration) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET rate_limit_hit_at = $1, retry_after_seconds = $2, updated_at = NOW()
		WHERE id = $3
	`, hitAt, int(retryAfter/time.Second), id)
	if err != nil {
		return fmt.Errorf("set rate limit: %w", err)
	}
	return requireRow(res)
}

func (r *CampaignRepo) ClearRateLimit(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET rate_limit_hit_at = NULL, retry_after_seconds = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("clear rate limit: %w", err)
	}
	return requireRow(res)
}

// Finalize is guarded on status so only a sending campaign can complete;
// a concurrent cancel wins over a late completion.
func (r *CampaignRepo) Finalize(ctx context.Context, id string, stats domain.Stats, sentAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $1, stats_sent = $2, stats_failed = $3, stats_bounced = $4,
		    stats_total = $5, sent_at = $6, progress_percent = 100, updated_at = NOW()
		WHERE id = $7 AND status = $8
	`, domain.CampaignSent, stats.Sent, stats.Failed, stats.Bounced, stats.Total,
		sentAt, id, domain.CampaignSending)
	if err != nil {
		return fmt.Errorf("finalize campaign: %w", err)
	}
	return requireRow(res)
}

func (r *CampaignRepo) Cancel(ctx context.Context, id string, stats domain.Stats) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $1, stats_sent = $2, stats_failed = $3, stats_bounced = $4,
		    stats_total = $5, updated_at = NOW()
		WHERE id = $6 AND status NOT IN ($7, $8)
	`, domain.CampaignCancelled, stats.Sent, stats.Failed, stats.Bounced, stats.Total,
		id, domain.CampaignSent, domain.CampaignCancelled)
	if err != nil {
		return fmt.Errorf("cancel campaign: %w", err)
	}
	return requireRow(res)
}

// Sync implements engine.TrackingSyncer: re-derive the campaign's stats
// columns from the ledger. Idempotent; safe to re-run any time after
// completion.
func (r *CampaignRepo) Sync(ctx context.Context, campaignID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET
			stats_sent    = agg.sent,
			stats_failed  = agg.failed,
			stats_bounced = agg.bounced,
			updated_at    = NOW()
		FROM (
			SELECT
				COUNT(*) FILTER (WHERE status = 'sent')    AS sent,
				COUNT(*) FILTER (WHERE status = 'failed')  AS failed,
				COUNT(*) FILTER (WHERE status = 'bounced') AS bounced
			FROM campaign_sends WHERE campaign_id = $1
		) agg
		WHERE campaigns.id = $1
	`, campaignID)
	if err != nil {
		return fmt.Errorf("sync campaign stats: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, _ := res.RowsAffected()
	if n == 0 {
		return engine.ErrNotFound
	}
	return nil
}
