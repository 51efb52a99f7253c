package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/cosmic-community/ssf-mailer-sub002/internal/domain"
	"github.com/cosmic-community/ssf-mailer-sub002/internal/engine"
)

// uniqueViolation is the Postgres error code raised when an insert hits a
// unique constraint.
const uniqueViolation = "23505"

// LedgerRepo implements engine.Ledger over the campaign_sends table. The
// UNIQUE (campaign_id, contact_id) constraint in the schema is what makes
// Reserve an atomic claim.
type LedgerRepo struct{ db *sql.DB }

// NewLedgerRepo creates a Postgres-backed send ledger.
func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

func (r *LedgerRepo) FilterUnsent(ctx context.Context, campaignID string, contactIDs []string) ([]string, error) {
	if len(contactIDs) == 0 {
		return nil, nil
	}

	// Indexed lookup on the unique pair, never a full scan.
	rows, err := r.db.QueryContext(ctx, `
		SELECT contact_id FROM campaign_sends
		WHERE campaign_id = $1 AND contact_id = ANY($2)
	`, campaignID, pq.Array(contactIDs))
	if err != nil {
		return nil, fmt.Errorf("filter unsent: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan contact id: %w", err)
		}
		existing[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var unsent []string
	for _, id := range contactIDs {
		if !existing[id] {
			unsent = append(unsent, id)
		}
	}
	return unsent, nil
}

// Reserve claims contacts with one multi-row insert. ON CONFLICT DO NOTHING
// drops pairs another run already holds; RETURNING yields exactly the rows
// this call created, which are the claims this invocation owns.
func (r *LedgerRepo) Reserve(ctx context.Context, campaignID string, contacts []domain.Contact) ([]domain.SendRecord, error) {
	if len(contacts) == 0 {
		return nil, nil
	}

	var (
		placeholders []string
		args         []interface{}
	)
	for i, c := range contacts {
		base := i * 4
		placeholders = append(placeholders,
			fmt.Sprintf("($%d, $%d, $%d, $%d, 'pending', NOW())", base+1, base+2, base+3, base+4))
		args = append(args, uuid.New().String(), campaignID, c.ID, c.Email)
	}

	q := `
		INSERT INTO campaign_sends (id, campaign_id, contact_id, email, status, reserved_at)
		VALUES ` + strings.Join(placeholders, ", ") + `
		ON CONFLICT (campaign_id, contact_id) DO NOTHING
		RETURNING id, contact_id, email, reserved_at`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}
	defer rows.Close()

	var claimed []domain.SendRecord
	for rows.Next() {
		rec := domain.SendRecord{CampaignID: campaignID, Status: domain.SendPending}
		if err := rows.Scan(&rec.ID, &rec.ContactID, &rec.Email, &rec.ReservedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		claimed = append(claimed, rec)
	}
	return claimed, rows.Err()
}

// ReclaimStale re-claims pending rows left behind by a rate-limit abort or
// a crashed run. The reserved_at bump inside the UPDATE is itself the
// claim: an overlapping run no longer sees the row as stale. SKIP LOCKED
// keeps two reclaims from queueing on the same rows.
func (r *LedgerRepo) ReclaimStale(ctx context.Context, campaignID string, olderThan time.Duration, limit int) ([]domain.SendRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		UPDATE campaign_sends
		SET reserved_at = NOW(), retry_count = retry_count + 1
		WHERE id IN (
			SELECT id FROM campaign_sends
			WHERE campaign_id = $1 AND status = 'pending'
			  AND reserved_at < NOW() - make_interval(secs => $2)
			ORDER BY reserved_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, contact_id, email, reserved_at, retry_count
	`, campaignID, olderThan.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("reclaim stale: %w", err)
	}
	defer rows.Close()

	var reclaimed []domain.SendRecord
	for rows.Next() {
		rec := domain.SendRecord{CampaignID: campaignID, Status: domain.SendPending}
		if err := rows.Scan(&rec.ID, &rec.ContactID, &rec.Email, &rec.ReservedAt, &rec.RetryCount); err != nil {
			return nil, fmt.Errorf("scan reclaim: %w", err)
		}
		reclaimed = append(reclaimed, rec)
	}
	return reclaimed, rows.Err()
}

// Insert creates a ledger row directly in its given state, for backfill
// paths that record an outcome without a prior reservation.
func (r *LedgerRepo) Insert(ctx context.Context, rec *domain.SendRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_sends
			(id, campaign_id, contact_id, email, status, reserved_at, sent_at, message_id, error_message, retry_count)
		VALUES ($1, $2, $3, $4, $5, NOW(), $6, $7, $8, $9)
	`, rec.ID, rec.CampaignID, rec.ContactID, rec.Email, rec.Status,
		rec.SentAt, nullable(rec.MessageID), nullable(rec.ErrorMsg), rec.RetryCount)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return engine.ErrDuplicateEntry
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (r *LedgerRepo) MarkSent(ctx context.Context, id, messageID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_sends
		SET status = 'sent', sent_at = NOW(), message_id = $1, error_message = NULL
		WHERE id = $2
	`, messageID, id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return requireRow(res)
}

func (r *LedgerRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_sends
		SET status = 'failed', error_message = $1
		WHERE id = $2
	`, errMsg, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireRow(res)
}

func (r *LedgerRepo) Stats(ctx context.Context, campaignID string) (domain.SendStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM campaign_sends
		WHERE campaign_id = $1
		GROUP BY status
	`, campaignID)
	if err != nil {
		return domain.SendStats{}, fmt.Errorf("ledger stats: %w", err)
	}
	defer rows.Close()

	var stats domain.SendStats
	for rows.Next() {
		var (
			status domain.SendStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return domain.SendStats{}, fmt.Errorf("scan stats: %w", err)
		}
		switch status {
		case domain.SendPending:
			stats.Pending = n
		case domain.SendSent:
			stats.Sent = n
		case domain.SendFailed:
			stats.Failed = n
		case domain.SendBounced:
			stats.Bounced = n
		}
	}
	return stats, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
