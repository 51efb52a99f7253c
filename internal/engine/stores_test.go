package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cosmic-community/ssf-mailer-sub002/internal/domain"
)

// In-memory store implementations mirroring the Postgres semantics the
// engine depends on, including the unique (campaign, contact) claim.

type memCampaigns struct {
	mu    sync.Mutex
	items map[string]*domain.Campaign
}

func newMemCampaigns(cs ...*domain.Campaign) *memCampaigns {
	m := &memCampaigns{items: make(map[string]*domain.Campaign)}
	for _, c := range cs {
		cp := *c
		m.items[c.ID] = &cp
	}
	return m
}

func (m *memCampaigns) get(id string) *domain.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id]
}

func (m *memCampaigns) ListSending(ctx context.Context) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	var ids []string
	for id := range m.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if m.items[id].Status == domain.CampaignSending {
			out = append(out, *m.items[id])
		}
	}
	return out, nil
}

func (m *memCampaigns) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCampaigns) UpdateProgress(ctx context.Context, id string, p domain.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	c.Progress = p
	return nil
}

func (m *memCampaigns) SetRateLimit(ctx context.Context, id string, hitAt time.Time, retryAfter time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	c.RateLimitHitAt = &hitAt
	c.RetryAfter = retryAfter
	return nil
}

func (m *memCampaigns) ClearRateLimit(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	c.RateLimitHitAt = nil
	c.RetryAfter = 0
	return nil
}

func (m *memCampaigns) Finalize(ctx context.Context, id string, stats domain.Stats, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok || c.Status != domain.CampaignSending {
		return ErrNotFound
	}
	c.Status = domain.CampaignSent
	c.Stats = stats
	c.SentAt = &sentAt
	return nil
}

func (m *memCampaigns) Cancel(ctx context.Context, id string, stats domain.Stats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = domain.CampaignCancelled
	c.Stats = stats
	return nil
}

type memContacts struct {
	contacts  []domain.Contact
	failLists map[string]bool
	failTags  bool
}

func (m *memContacts) ByIDs(ctx context.Context, ids []string) ([]domain.Contact, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.Contact
	for _, c := range m.contacts {
		if want[c.ID] && c.Status == domain.ContactActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memContacts) ByList(ctx context.Context, listID string, page Page) ([]domain.Contact, error) {
	if m.failLists[listID] {
		return nil, fmt.Errorf("list %s unavailable", listID)
	}
	var members []domain.Contact
	for _, c := range m.contacts {
		if c.Status != domain.ContactActive {
			continue
		}
		for _, id := range c.ListIDs {
			if id == listID {
				members = append(members, c)
				break
			}
		}
	}
	return slicePage(members, page), nil
}

func (m *memContacts) ByTags(ctx context.Context, tags []string, page Page) ([]domain.Contact, error) {
	if m.failTags {
		return nil, fmt.Errorf("tag query unavailable")
	}
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}
	var out []domain.Contact
	for _, c := range m.contacts {
		if c.Status != domain.ContactActive {
			continue
		}
		for _, t := range c.Tags {
			if want[t] {
				out = append(out, c)
				break
			}
		}
	}
	return slicePage(out, page), nil
}

func slicePage(cs []domain.Contact, page Page) []domain.Contact {
	if page.Offset >= len(cs) {
		return nil
	}
	end := page.Offset + page.Limit
	if page.Limit <= 0 || end > len(cs) {
		end = len(cs)
	}
	return cs[page.Offset:end]
}

type memLedger struct {
	mu   sync.Mutex
	rows map[string]*domain.SendRecord // id -> record
	// pairs enforces the unique (campaign, contact) constraint.
	pairs map[string]string // campaignID+"/"+contactID -> row id
	now   func() time.Time
}

func newMemLedger() *memLedger {
	return &memLedger{
		rows:  make(map[string]*domain.SendRecord),
		pairs: make(map[string]string),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func pairKey(campaignID, contactID string) string { return campaignID + "/" + contactID }

func (m *memLedger) FilterUnsent(ctx context.Context, campaignID string, contactIDs []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, id := range contactIDs {
		if _, exists := m.pairs[pairKey(campaignID, id)]; !exists {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memLedger) Reserve(ctx context.Context, campaignID string, contacts []domain.Contact) ([]domain.SendRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var claimed []domain.SendRecord
	for _, c := range contacts {
		key := pairKey(campaignID, c.ID)
		if _, exists := m.pairs[key]; exists {
			continue
		}
		rec := &domain.SendRecord{
			ID:         uuid.New().String(),
			CampaignID: campaignID,
			ContactID:  c.ID,
			Email:      c.Email,
			Status:     domain.SendPending,
			ReservedAt: m.now(),
		}
		m.rows[rec.ID] = rec
		m.pairs[key] = rec.ID
		claimed = append(claimed, *rec)
	}
	return claimed, nil
}

func (m *memLedger) ReclaimStale(ctx context.Context, campaignID string, olderThan time.Duration, limit int) ([]domain.SendRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-olderThan)
	var stale []*domain.SendRecord
	for _, rec := range m.rows {
		if rec.CampaignID == campaignID && rec.Status == domain.SendPending && rec.ReservedAt.Before(cutoff) {
			stale = append(stale, rec)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ReservedAt.Before(stale[j].ReservedAt) })
	if len(stale) > limit {
		stale = stale[:limit]
	}
	var out []domain.SendRecord
	for _, rec := range stale {
		rec.ReservedAt = m.now()
		rec.RetryCount++
		out = append(out, *rec)
	}
	return out, nil
}

func (m *memLedger) Insert(ctx context.Context, rec *domain.SendRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(rec.CampaignID, rec.ContactID)
	if _, exists := m.pairs[key]; exists {
		return ErrDuplicateEntry
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	cp := *rec
	m.rows[cp.ID] = &cp
	m.pairs[key] = cp.ID
	return nil
}

func (m *memLedger) MarkSent(ctx context.Context, id, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	rec.Status = domain.SendSent
	rec.SentAt = &now
	rec.MessageID = messageID
	return nil
}

func (m *memLedger) MarkFailed(ctx context.Context, id, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = domain.SendFailed
	rec.ErrorMsg = errMsg
	return nil
}

func (m *memLedger) Stats(ctx context.Context, campaignID string) (domain.SendStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats domain.SendStats
	for _, rec := range m.rows {
		if rec.CampaignID != campaignID {
			continue
		}
		switch rec.Status {
		case domain.SendPending:
			stats.Pending++
		case domain.SendSent:
			stats.Sent++
		case domain.SendFailed:
			stats.Failed++
		case domain.SendBounced:
			stats.Bounced++
		}
	}
	return stats, nil
}

func (m *memLedger) statusOf(campaignID, contactID string) domain.SendStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.pairs[pairKey(campaignID, contactID)]
	if !ok {
		return ""
	}
	return m.rows[id].Status
}
