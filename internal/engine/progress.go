package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cosmic-community/ssf-mailer-sub002/internal/domain"
)

// Tracker aggregates ledger counts into campaign progress and decides
// completion. Counts are always re-read from the ledger; nothing here
// trusts in-memory tallies, because a prior or overlapping run may also
// have made progress.
type Tracker struct {
	ledger    Ledger
	campaigns CampaignStore
	now       func() time.Time
}

// NewTracker creates a tracker.
func NewTracker(ledger Ledger, campaigns CampaignStore) *Tracker {
	return &Tracker{ledger: ledger, campaigns: campaigns, now: func() time.Time { return time.Now().UTC() }}
}

// Refresh re-reads ledger stats and overwrites the campaign's progress
// fields. total is the resolved recipient count for this run.
func (t *Tracker) Refresh(ctx context.Context, campaignID string, total int) (domain.SendStats, error) {
	stats, err := t.ledger.Stats(ctx, campaignID)
	if err != nil {
		return domain.SendStats{}, fmt.Errorf("ledger stats: %w", err)
	}

	now := t.now()
	p := domain.Progress{
		Sent:        stats.Sent,
		Failed:      stats.Failed + stats.Bounced,
		Total:       total,
		Percentage:  domain.Percent(stats.Handled(), total),
		LastBatchAt: &now,
	}
	if err := t.campaigns.UpdateProgress(ctx, campaignID, p); err != nil {
		return stats, fmt.Errorf("update progress: %w", err)
	}
	return stats, nil
}

// FinalizeIfComplete checks the completion condition against fresh ledger
// stats and, when met, atomically moves the campaign to sent with its
// final stats. Returns whether the campaign completed.
func (t *Tracker) FinalizeIfComplete(ctx context.Context, campaignID string, total int) (bool, error) {
	stats, err := t.ledger.Stats(ctx, campaignID)
	if err != nil {
		return false, fmt.Errorf("ledger stats: %w", err)
	}
	if !stats.Complete(total) {
		return false, nil
	}

	final := domain.Stats{
		Sent:    stats.Sent,
		Failed:  stats.Failed,
		Bounced: stats.Bounced,
		Total:   total,
	}
	if err := t.campaigns.Finalize(ctx, campaignID, final, t.now()); err != nil {
		return false, fmt.Errorf("finalize campaign: %w", err)
	}
	return true, nil
}
