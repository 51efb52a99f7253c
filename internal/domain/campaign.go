package domain

import "time"

// CampaignStatus is the campaign lifecycle state.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
	CampaignCancelled CampaignStatus = "cancelled"
)

// IsTerminal reports whether the campaign can no longer be processed.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignSent || s == CampaignCancelled
}

// TargetingRule selects a campaign's recipients: the union of explicit
// contact IDs, members of the listed lists, and contacts holding any of the
// tags. Dedup happens at resolution time, keyed by contact ID.
type TargetingRule struct {
	ContactIDs []string
	ListIDs    []string
	Tags       []string
}

// Empty reports whether the rule selects nothing.
func (t TargetingRule) Empty() bool {
	return len(t.ContactIDs) == 0 && len(t.ListIDs) == 0 && len(t.Tags) == 0
}

// Progress is the campaign's persisted sending progress. It is overwritten
// wholesale from fresh ledger aggregates after every batch, never patched
// incrementally.
type Progress struct {
	Sent        int        `json:"sent"`
	Failed      int        `json:"failed"`
	Total       int        `json:"total"`
	Percentage  int        `json:"percentage"`
	LastBatchAt *time.Time `json:"last_batch_at,omitempty"`
}

// Percent computes a 0-100 progress figure, rounded to nearest.
func Percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	p := (done*100 + total/2) / total
	if p > 100 {
		p = 100
	}
	return p
}

// Stats are the campaign's final delivery stats, written once at completion.
type Stats struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Bounced int `json:"bounced"`
	Total   int `json:"total"`
}

// Campaign is the sending engine's view of a campaign. Subject and HTMLBody
// are the content snapshot captured at send start, so template edits after
// that point do not alter an in-flight send.
type Campaign struct {
	ID        string
	Name      string
	Subject   string
	HTMLBody  string
	FromName  string
	FromEmail string
	Status    CampaignStatus
	Targeting TargetingRule

	// Scheduled start as a UTC instant. SendTimezone captures the timezone
	// the schedule was authored in, for display only. No offset arithmetic
	// happens on these fields.
	SendDate     *time.Time
	SendTimezone string

	// Rate-limit cooldown. Both set together when the transport throttles,
	// both cleared together once the cooldown elapses.
	RateLimitHitAt *time.Time
	RetryAfter     time.Duration

	Progress Progress
	Stats    Stats
	SentAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScheduleElapsed reports whether the campaign's scheduled start, if any,
// has passed.
func (c *Campaign) ScheduleElapsed(now time.Time) bool {
	return c.SendDate == nil || !c.SendDate.After(now)
}

// CooldownActive reports whether a rate-limit cooldown is still in effect.
func (c *Campaign) CooldownActive(now time.Time) bool {
	if c.RateLimitHitAt == nil {
		return false
	}
	return now.Before(c.RateLimitHitAt.Add(c.RetryAfter))
}
