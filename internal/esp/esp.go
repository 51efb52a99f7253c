// Package esp wraps the outbound email provider behind a one-call contract:
// send one message, get a message ID or an error. Provider throttling is
// surfaced as a distinct error type carrying the cooldown to apply, so the
// engine can pause a campaign instead of failing its recipients.
package esp

import (
	"context"
	"fmt"
	"time"
)

// Message is a single personalized outbound email.
type Message struct {
	To        string
	ToName    string
	FromEmail string
	FromName  string
	ReplyTo   string
	Subject   string
	HTMLBody  string
	TextBody  string

	// Tagging for provider-side event attribution.
	CampaignID string
	ContactID  string
}

// SendResult is the provider's acknowledgement of an accepted message.
type SendResult struct {
	MessageID string
	SentAt    time.Time
}

// Sender delivers a single email. Implementations return *RateLimitError
// when the provider throttles; any other error is a per-recipient failure.
type Sender interface {
	Send(ctx context.Context, msg *Message) (*SendResult, error)
}

// RateLimitError reports provider throttling. RetryAfter is how long the
// caller should back off before attempting the affected campaign again.
type RateLimitError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider rate limit (retry after %s): %v", e.RetryAfter, e.Cause)
}

func (e *RateLimitError) Unwrap() error { return e.Cause }
