package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cosmic-community/ssf-mailer-sub002/internal/domain"
)

// Three active contacts plus one unsubscribed on the same list, batch cap
// two: the first run sends two and reports 67% progress, the second run
// sends the last one and completes the campaign.
func TestTwoRunCompletion(t *testing.T) {
	contacts := &memContacts{contacts: []domain.Contact{
		activeContact("c1", "one@example.com", "l1"),
		activeContact("c2", "two@example.com", "l1"),
		activeContact("c3", "three@example.com", "l1"),
		{ID: "c4", Email: "out@example.com", Status: domain.ContactUnsubscribed, ListIDs: []string{"l1"}},
	}}
	c := sendingCampaign("camp1", domain.TargetingRule{ListIDs: []string{"l1"}})
	campaigns := newMemCampaigns(c)
	sender := &fakeSender{}
	f := newFixture(campaigns, contacts, sender, DispatchConfig{
		BatchSize:           2,
		MaxBatches:          1,
		StaleReservationAge: time.Hour,
	})

	// First run.
	res, err := f.dispatcher.ProcessCampaign(context.Background(), c)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if res.Resolved != 3 {
		t.Fatalf("resolved = %d, want 3 (unsubscribed excluded)", res.Resolved)
	}
	if res.Sent != 2 || res.Completed {
		t.Fatalf("first run sent=%d completed=%v, want 2 and not completed", res.Sent, res.Completed)
	}
	got := campaigns.get("camp1")
	if got.Progress.Sent != 2 || got.Progress.Total != 3 || got.Progress.Percentage != 67 {
		t.Fatalf("progress after run 1 = %+v, want {sent:2 total:3 pct:67}", got.Progress)
	}

	// Second run finishes the tail.
	res, err = f.dispatcher.ProcessCampaign(context.Background(), c)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Sent != 1 || !res.Completed {
		t.Fatalf("second run sent=%d completed=%v, want 1 and completed", res.Sent, res.Completed)
	}

	done, err := f.tracker.FinalizeIfComplete(context.Background(), "camp1", res.Resolved)
	if err != nil || !done {
		t.Fatalf("finalize = %v, %v; want completion", done, err)
	}
	got = campaigns.get("camp1")
	if got.Status != domain.CampaignSent || got.Stats.Sent != 3 {
		t.Fatalf("campaign = status %s stats %+v, want sent with stats.sent=3", got.Status, got.Stats)
	}
	if len(sender.sentEmails()) != 3 {
		t.Fatalf("transport saw %d sends, want 3", len(sender.sentEmails()))
	}
}

// Rate limit on recipient #2 of a five-recipient batch: #1 is sent, #2
// stays pending, #3-#5 are never attempted, and the cooldown is persisted.
func TestRateLimitAbortsCampaign(t *testing.T) {
	var cs []domain.Contact
	for _, id := range []string{"c1", "c2", "c3", "c4", "c5"} {
		cs = append(cs, activeContact(id, id+"@example.com", "l1"))
	}
	contacts := &memContacts{contacts: cs}
	c := sendingCampaign("camp1", domain.TargetingRule{ListIDs: []string{"l1"}})
	campaigns := newMemCampaigns(c)
	sender := &fakeSender{rateLimitOnCall: 2, retryAfter: 4 * time.Minute}
	f := newFixture(campaigns, contacts, sender, DispatchConfig{
		BatchSize:  5,
		MaxBatches: 3,
	})

	res, err := f.dispatcher.ProcessCampaign(context.Background(), c)
	if err != nil {
		t.Fatalf("ProcessCampaign: %v", err)
	}
	if !res.RateLimited {
		t.Fatal("expected rate-limited result")
	}
	if res.Sent != 1 || res.Attempted != 2 {
		t.Fatalf("sent=%d attempted=%d, want 1 sent and 2 attempted", res.Sent, res.Attempted)
	}
	if got := f.ledger.statusOf("camp1", "c1"); got != domain.SendSent {
		t.Fatalf("recipient #1 status = %q, want sent", got)
	}
	if got := f.ledger.statusOf("camp1", "c2"); got != domain.SendPending {
		t.Fatalf("recipient #2 status = %q, want pending for a later retry", got)
	}

	saved := campaigns.get("camp1")
	if saved.RateLimitHitAt == nil || saved.RetryAfter != 4*time.Minute {
		t.Fatalf("cooldown not persisted: hitAt=%v retryAfter=%v", saved.RateLimitHitAt, saved.RetryAfter)
	}

	// The scheduler skips the campaign while the cooldown holds.
	f.runner.now = func() time.Time { return saved.RateLimitHitAt.Add(time.Minute) }
	run, err := f.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Processed != 0 {
		t.Fatalf("cooldown window processed %d sends, want 0", run.Processed)
	}
	if run.Campaigns[0].Skipped == "" {
		t.Fatal("expected a skip reason during cooldown")
	}
	if sender.calls != 2 {
		t.Fatalf("transport called %d times, want 2 (no sends during cooldown)", sender.calls)
	}
}

// Running the pipeline twice with no new recipients is a no-op the second
// time.
func TestIdempotentResume(t *testing.T) {
	contacts := &memContacts{contacts: []domain.Contact{
		activeContact("c1", "a@example.com", "l1"),
		activeContact("c2", "b@example.com", "l1"),
	}}
	c := sendingCampaign("camp1", domain.TargetingRule{ListIDs: []string{"l1"}})
	campaigns := newMemCampaigns(c)
	sender := &fakeSender{}
	f := newFixture(campaigns, contacts, sender, DispatchConfig{
		BatchSize:  10,
		MaxBatches: 3,
	})

	if _, err := f.dispatcher.ProcessCampaign(context.Background(), c); err != nil {
		t.Fatalf("first run: %v", err)
	}
	statsBefore, _ := f.ledger.Stats(context.Background(), "camp1")

	res, err := f.dispatcher.ProcessCampaign(context.Background(), c)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Attempted != 0 {
		t.Fatalf("second run attempted %d sends, want 0", res.Attempted)
	}
	statsAfter, _ := f.ledger.Stats(context.Background(), "camp1")
	if statsBefore != statsAfter {
		t.Fatalf("stats changed on resume: %+v -> %+v", statsBefore, statsAfter)
	}
	if len(sender.sentEmails()) != 2 {
		t.Fatalf("transport saw %d sends total, want 2", len(sender.sentEmails()))
	}
}

// A per-recipient failure is recorded and isolated; the batch continues.
func TestPerRecipientFailureContinues(t *testing.T) {
	contacts := &memContacts{contacts: []domain.Contact{
		activeContact("c1", "good@example.com", "l1"),
		activeContact("c2", "bad@example.com", "l1"),
		activeContact("c3", "also@example.com", "l1"),
	}}
	c := sendingCampaign("camp1", domain.TargetingRule{ListIDs: []string{"l1"}})
	campaigns := newMemCampaigns(c)
	sender := &fakeSender{failEmails: map[string]error{
		"bad@example.com": errors.New("550 mailbox unavailable"),
	}}
	f := newFixture(campaigns, contacts, sender, DispatchConfig{
		BatchSize:  10,
		MaxBatches: 2,
	})

	res, err := f.dispatcher.ProcessCampaign(context.Background(), c)
	if err != nil {
		t.Fatalf("ProcessCampaign: %v", err)
	}
	if res.Sent != 2 || res.Failed != 1 {
		t.Fatalf("sent=%d failed=%d, want 2/1", res.Sent, res.Failed)
	}
	if !res.Completed {
		t.Fatal("failed recipients still count toward completion")
	}
	if got := f.ledger.statusOf("camp1", "c2"); got != domain.SendFailed {
		t.Fatalf("failed recipient status = %q, want failed", got)
	}
}

// Stale pending rows left behind by an abort are re-claimed and retried.
func TestStaleReservationReclaim(t *testing.T) {
	contacts := &memContacts{contacts: []domain.Contact{
		activeContact("c1", "a@example.com", "l1"),
	}}
	c := sendingCampaign("camp1", domain.TargetingRule{ListIDs: []string{"l1"}})
	campaigns := newMemCampaigns(c)
	sender := &fakeSender{}
	f := newFixture(campaigns, contacts, sender, DispatchConfig{
		BatchSize:           5,
		MaxBatches:          2,
		StaleReservationAge: 10 * time.Minute,
	})

	// Seed a pending row reserved half an hour ago, as an aborted run
	// would leave it.
	old := time.Now().UTC().Add(-30 * time.Minute)
	f.ledger.now = func() time.Time { return old }
	if _, err := f.ledger.Reserve(context.Background(), "camp1",
		[]domain.Contact{activeContact("c1", "a@example.com")}); err != nil {
		t.Fatal(err)
	}
	f.ledger.now = func() time.Time { return time.Now().UTC() }

	res, err := f.dispatcher.ProcessCampaign(context.Background(), c)
	if err != nil {
		t.Fatalf("ProcessCampaign: %v", err)
	}
	if res.Sent != 1 || !res.Completed {
		t.Fatalf("sent=%d completed=%v, want the stale row retried to completion", res.Sent, res.Completed)
	}
	if got := f.ledger.statusOf("camp1", "c1"); got != domain.SendSent {
		t.Fatalf("status = %q, want sent", got)
	}
}

// The pacing floor is honored between transport calls.
func TestPacingFloorSleeps(t *testing.T) {
	contacts := &memContacts{contacts: []domain.Contact{
		activeContact("c1", "a@example.com", "l1"),
		activeContact("c2", "b@example.com", "l1"),
	}}
	c := sendingCampaign("camp1", domain.TargetingRule{ListIDs: []string{"l1"}})
	campaigns := newMemCampaigns(c)
	sender := &fakeSender{}
	f := newFixture(campaigns, contacts, sender, DispatchConfig{
		PacingFloor: 125 * time.Millisecond,
		BatchSize:   10,
		MaxBatches:  1,
	})

	var slept []time.Duration
	f.dispatcher.sleep = func(d time.Duration) { slept = append(slept, d) }
	fixed := time.Now().UTC()
	f.dispatcher.now = func() time.Time { return fixed } // sends appear instantaneous

	if _, err := f.dispatcher.ProcessCampaign(context.Background(), c); err != nil {
		t.Fatalf("ProcessCampaign: %v", err)
	}
	if len(slept) != 2 {
		t.Fatalf("expected a pacing sleep per send, got %d", len(slept))
	}
	for _, d := range slept {
		if d != 125*time.Millisecond {
			t.Fatalf("pacing sleep = %s, want 125ms", d)
		}
	}
}
