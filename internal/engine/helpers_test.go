package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cosmic-community/ssf-mailer-sub002/internal/domain"
	"github.com/cosmic-community/ssf-mailer-sub002/internal/esp"
	"github.com/cosmic-community/ssf-mailer-sub002/internal/mailing"
)

// fakeSender scripts transport behavior per call.
type fakeSender struct {
	mu    sync.Mutex
	calls int
	sent  []string // recipient emails in send order

	failEmails map[string]error // per-recipient failure by email
	// rateLimitOnCall triggers a RateLimitError on the nth call (1-based).
	rateLimitOnCall int
	retryAfter      time.Duration
}

func (f *fakeSender) Send(ctx context.Context, msg *esp.Message) (*esp.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.rateLimitOnCall > 0 && f.calls == f.rateLimitOnCall {
		return nil, &esp.RateLimitError{RetryAfter: f.retryAfter, Cause: fmt.Errorf("rate exceeded")}
	}
	if err, ok := f.failEmails[msg.To]; ok {
		return nil, err
	}
	f.sent = append(f.sent, msg.To)
	return &esp.SendResult{MessageID: fmt.Sprintf("msg-%d", f.calls), SentAt: time.Now().UTC()}, nil
}

func (f *fakeSender) sentEmails() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func activeContact(id, email string, lists ...string) domain.Contact {
	return domain.Contact{ID: id, Email: email, FirstName: "C" + id, Status: domain.ContactActive, ListIDs: lists}
}

func sendingCampaign(id string, rule domain.TargetingRule) *domain.Campaign {
	return &domain.Campaign{
		ID:        id,
		Name:      "campaign " + id,
		Subject:   "Hello {{ first_name }}",
		HTMLBody:  "<html><body><p>Hi {{ first_name }}</p></body></html>",
		FromName:  "Tester",
		FromEmail: "news@example.com",
		Status:    domain.CampaignSending,
		Targeting: rule,
	}
}

type fixture struct {
	campaigns  *memCampaigns
	contacts   *memContacts
	ledger     *memLedger
	sender     *fakeSender
	dispatcher *Dispatcher
	tracker    *Tracker
	runner     *Runner
}

func newFixture(campaigns *memCampaigns, contacts *memContacts, sender *fakeSender, cfg DispatchConfig) *fixture {
	ledger := newMemLedger()
	resolver := NewResolver(contacts, 1000, 10000, 100)
	reserver := NewReserver(ledger)
	tracker := NewTracker(ledger, campaigns)
	renderer := mailing.NewRenderer(mailing.NewTemplateEngine(), "https://mail.example.com")

	d := NewDispatcher(resolver, reserver, tracker, ledger, campaigns, renderer, sender, cfg)
	d.sleep = func(time.Duration) {} // keep tests fast
	return &fixture{
		campaigns:  campaigns,
		contacts:   contacts,
		ledger:     ledger,
		sender:     sender,
		dispatcher: d,
		tracker:    tracker,
		runner:     NewRunner(campaigns, d, tracker, nil),
	}
}
