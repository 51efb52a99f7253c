package engine

import (
	"context"
	"fmt"

	"github.com/cosmic-community/ssf-mailer-sub002/internal/domain"
)

// Reserver converts unsent candidates into uniquely-claimed pending ledger
// rows. A candidate whose (campaign, contact) pair already has a row was
// claimed by another run and is skipped without error; zero claims means
// "no work this round", never a failure.
type Reserver struct {
	ledger Ledger
}

// NewReserver creates a reserver over the given ledger.
func NewReserver(ledger Ledger) *Reserver {
	return &Reserver{ledger: ledger}
}

// Claim filters candidates down to those with no ledger entry, then
// reserves up to limit of them. The returned records are the rows this
// invocation alone owns; partial success under concurrent runs is normal.
func (r *Reserver) Claim(ctx context.Context, campaignID string, candidates []domain.Contact, limit int) ([]domain.SendRecord, error) {
	if len(candidates) == 0 || limit <= 0 {
		return nil, nil
	}

	ids := make([]string, len(candidates))
	byID := make(map[string]domain.Contact, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
		byID[c.ID] = c
	}

	unsent, err := r.ledger.FilterUnsent(ctx, campaignID, ids)
	if err != nil {
		return nil, fmt.Errorf("filter unsent: %w", err)
	}
	if len(unsent) == 0 {
		return nil, nil
	}
	if len(unsent) > limit {
		unsent = unsent[:limit]
	}

	batch := make([]domain.Contact, 0, len(unsent))
	for _, id := range unsent {
		if c, ok := byID[id]; ok {
			batch = append(batch, c)
		}
	}

	// The insert itself is the claim. Pairs created by a concurrent run
	// between the filter and here simply come back absent from the result.
	records, err := r.ledger.Reserve(ctx, campaignID, batch)
	if err != nil {
		return nil, fmt.Errorf("reserve batch: %w", err)
	}
	return records, nil
}
