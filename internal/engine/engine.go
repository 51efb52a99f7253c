// Package engine is the campaign batch-sending and delivery-reservation
// engine: the periodic process that drains a sending campaign's recipient
// list in rate-limited batches, guarantees at-most-one send per recipient
// even under overlapping runs, and recovers from provider throttling.
//
// Concurrency model: there is no lock, lease, or leader election anywhere.
// The send ledger's unique (campaign, contact) constraint is the only
// synchronization primitive; overlapping runs reserve disjoint recipient
// subsets and both make forward progress.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cosmic-community/ssf-mailer-sub002/internal/domain"
)

var (
	// ErrNotFound indicates the campaign does not exist or was concurrently
	// moved out of a processable state.
	ErrNotFound = errors.New("campaign not found")
	// ErrDuplicateEntry indicates a send ledger insert hit the
	// (campaign, contact) uniqueness constraint: the recipient is already
	// claimed.
	ErrDuplicateEntry = errors.New("send ledger entry already exists")
)

// Page is a fixed-size window into a store query.
type Page struct {
	Limit  int
	Offset int
}

// CampaignStore is the engine's view of campaign persistence.
type CampaignStore interface {
	// ListSending returns all campaigns in the sending state.
	ListSending(ctx context.Context) ([]domain.Campaign, error)
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	// UpdateProgress overwrites the campaign's progress fields wholesale.
	UpdateProgress(ctx context.Context, id string, p domain.Progress) error
	// SetRateLimit records a provider throttle hit and its cooldown.
	SetRateLimit(ctx context.Context, id string, hitAt time.Time, retryAfter time.Duration) error
	// ClearRateLimit removes an elapsed cooldown.
	ClearRateLimit(ctx context.Context, id string) error
	// Finalize atomically moves a sending campaign to sent with its final
	// stats and completion time.
	Finalize(ctx context.Context, id string, stats domain.Stats, sentAt time.Time) error
	// Cancel forces a campaign to cancelled with the given (typically
	// zeroed) stats. Used at the per-campaign error boundary.
	Cancel(ctx context.Context, id string, stats domain.Stats) error
}

// ContactStore is the engine's read-only view of contacts. All queries
// return Active contacts only, ordered stably so pagination is exhaustive.
type ContactStore interface {
	ByIDs(ctx context.Context, ids []string) ([]domain.Contact, error)
	ByList(ctx context.Context, listID string, page Page) ([]domain.Contact, error)
	ByTags(ctx context.Context, tags []string, page Page) ([]domain.Contact, error)
}

// Ledger is the durable per-(campaign, contact) send record store. The
// storage layer enforces uniqueness of the pair; Reserve and Insert are the
// only ways rows come into existence.
type Ledger interface {
	// FilterUnsent returns the subset of candidate contact IDs with no
	// ledger entry for the campaign in any state.
	FilterUnsent(ctx context.Context, campaignID string, contactIDs []string) ([]string, error)
	// Reserve inserts pending rows for the given contacts, skipping any
	// pair that already exists. Returns only the rows actually created by
	// this call.
	Reserve(ctx context.Context, campaignID string, contacts []domain.Contact) ([]domain.SendRecord, error)
	// ReclaimStale atomically re-claims pending rows whose reservation
	// predates olderThan, bumping retry_count. Rows freshly reserved by an
	// overlapping run are left alone.
	ReclaimStale(ctx context.Context, campaignID string, olderThan time.Duration, limit int) ([]domain.SendRecord, error)
	// Insert creates a fresh row in a final state (backfill path). Returns
	// ErrDuplicateEntry if the pair is already recorded.
	Insert(ctx context.Context, rec *domain.SendRecord) error
	MarkSent(ctx context.Context, id, messageID string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	// Stats returns live aggregate counts from ledger rows.
	Stats(ctx context.Context, campaignID string) (domain.SendStats, error)
}

// TrackingSyncer refreshes a campaign's delivery stats from authoritative
// data after completion. Failures are logged, never fatal.
type TrackingSyncer interface {
	Sync(ctx context.Context, campaignID string) error
}
