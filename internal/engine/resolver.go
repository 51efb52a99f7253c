package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/cosmic-community/ssf-mailer-sub002/internal/domain"
)

// Resolver expands a campaign's targeting rule into a deduplicated set of
// active recipients. Merge order is explicit contact IDs, then list
// members, then tag holders; the first occurrence of a contact ID wins.
type Resolver struct {
	contacts ContactStore

	// Safety caps. PerListCap bounds each list, TotalCap bounds the whole
	// resolution, PageSize is the store fetch window.
	PerListCap int
	TotalCap   int
	PageSize   int
}

// NewResolver creates a resolver over the given contact store.
func NewResolver(contacts ContactStore, perListCap, totalCap, pageSize int) *Resolver {
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Resolver{contacts: contacts, PerListCap: perListCap, TotalCap: totalCap, PageSize: pageSize}
}

// Resolve returns the campaign's recipients. A failed list fetch is logged
// and that list skipped; resolution only fails outright when the explicit
// contact lookup or tag query fails, since those cover the whole rule at
// once.
func (r *Resolver) Resolve(ctx context.Context, c *domain.Campaign) ([]domain.Contact, error) {
	seen := make(map[string]bool)
	var out []domain.Contact

	add := func(contacts []domain.Contact) bool {
		for _, contact := range contacts {
			if r.TotalCap > 0 && len(out) >= r.TotalCap {
				return false
			}
			if contact.Status != domain.ContactActive || seen[contact.ID] {
				continue
			}
			seen[contact.ID] = true
			out = append(out, contact)
		}
		return true
	}

	// Explicit contact IDs, fetched in page-size chunks.
	ids := c.Targeting.ContactIDs
	for start := 0; start < len(ids); start += r.PageSize {
		end := start + r.PageSize
		if end > len(ids) {
			end = len(ids)
		}
		contacts, err := r.contacts.ByIDs(ctx, ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("resolve contact ids: %w", err)
		}
		if !add(contacts) {
			return out, nil
		}
	}

	// List members, paged per list, each list capped independently.
	for _, listID := range c.Targeting.ListIDs {
		if err := r.resolveList(ctx, listID, add); err != nil {
			log.Printf("[Resolver] Skipping list %s for campaign %s: %v", listID, c.ID, err)
			continue
		}
		if r.TotalCap > 0 && len(out) >= r.TotalCap {
			return out, nil
		}
	}

	// Contacts holding any target tag.
	if len(c.Targeting.Tags) > 0 {
		for offset := 0; ; offset += r.PageSize {
			contacts, err := r.contacts.ByTags(ctx, c.Targeting.Tags, Page{Limit: r.PageSize, Offset: offset})
			if err != nil {
				return nil, fmt.Errorf("resolve tags: %w", err)
			}
			if !add(contacts) || len(contacts) < r.PageSize {
				break
			}
		}
	}

	return out, nil
}

func (r *Resolver) resolveList(ctx context.Context, listID string, add func([]domain.Contact) bool) error {
	fetched := 0
	for offset := 0; ; offset += r.PageSize {
		limit := r.PageSize
		if r.PerListCap > 0 && fetched+limit > r.PerListCap {
			limit = r.PerListCap - fetched
		}
		if limit <= 0 {
			return nil
		}
		contacts, err := r.contacts.ByList(ctx, listID, Page{Limit: limit, Offset: offset})
		if err != nil {
			return err
		}
		fetched += len(contacts)
		if !add(contacts) || len(contacts) < limit {
			return nil
		}
	}
}
