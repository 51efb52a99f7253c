package domain

import "time"

// SendStatus is the per-recipient delivery state in the send ledger.
type SendStatus string

const (
	SendPending SendStatus = "pending"
	SendSent    SendStatus = "sent"
	SendFailed  SendStatus = "failed"
	SendBounced SendStatus = "bounced"
)

// SendRecord is one send ledger entry: the durable record that a
// (campaign, contact) pair has been claimed for delivery. The pair is
// unique in storage, which is what makes reservation atomic. Records are
// never deleted while the campaign is active.
type SendRecord struct {
	ID         string
	CampaignID string
	ContactID  string
	Email      string
	Status     SendStatus
	ReservedAt time.Time
	SentAt     *time.Time
	MessageID  string
	ErrorMsg   string
	RetryCount int
}

// SendStats are live aggregate counts over a campaign's ledger rows. Always
// computed from the ledger, never from cached campaign fields.
type SendStats struct {
	Pending int
	Sent    int
	Failed  int
	Bounced int
}

// Handled is the count of entries that reached a final per-attempt state.
func (s SendStats) Handled() int {
	return s.Sent + s.Failed + s.Bounced
}

// Complete reports whether a campaign with the given resolved recipient
// total is finished: nothing pending and every recipient accounted for.
func (s SendStats) Complete(total int) bool {
	return s.Pending == 0 && s.Handled() >= total
}
