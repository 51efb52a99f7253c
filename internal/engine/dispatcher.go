package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cosmic-community/ssf-mailer-sub002/internal/domain"
	"github.com/cosmic-community/ssf-mailer-sub002/internal/esp"
	"github.com/cosmic-community/ssf-mailer-sub002/internal/mailing"
	"github.com/cosmic-community/ssf-mailer-sub002/internal/pkg/logger"
)

// DispatchConfig bounds one dispatcher invocation.
type DispatchConfig struct {
	// PacingFloor is the minimum delay between transport calls.
	PacingFloor time.Duration
	// BatchSize is the reservation chunk per batch.
	BatchSize int
	// MaxBatches caps batches per invocation so a run stays within the
	// host's execution window.
	MaxBatches int
	// InterBatchDelay is an extra pause between batches, separate from
	// per-send pacing, to go easy on store connections.
	InterBatchDelay time.Duration
	// StaleReservationAge is how old a pending row must be before this run
	// may re-claim it.
	StaleReservationAge time.Duration
}

// DispatchResult summarizes what one invocation did to one campaign.
type DispatchResult struct {
	Resolved    int
	Attempted   int
	Sent        int
	Failed      int
	RateLimited bool
	Completed   bool
}

// Dispatcher walks reserved batches for a campaign: personalize, send at a
// bounded rate, record each outcome, and refresh campaign progress from the
// ledger after every batch. A classified provider rate limit aborts the
// campaign's processing immediately, leaving every unattempted recipient
// reserved or unclaimed for a later run.
type Dispatcher struct {
	resolver  *Resolver
	reserver  *Reserver
	tracker   *Tracker
	ledger    Ledger
	campaigns CampaignStore
	renderer  *mailing.Renderer
	sender    esp.Sender
	cfg       DispatchConfig

	// Injectable for tests.
	sleep func(time.Duration)
	now   func() time.Time
}

// NewDispatcher wires a dispatcher from its collaborators.
func NewDispatcher(resolver *Resolver, reserver *Reserver, tracker *Tracker, ledger Ledger,
	campaigns CampaignStore, renderer *mailing.Renderer, sender esp.Sender, cfg DispatchConfig) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = 10
	}
	return &Dispatcher{
		resolver:  resolver,
		reserver:  reserver,
		tracker:   tracker,
		ledger:    ledger,
		campaigns: campaigns,
		renderer:  renderer,
		sender:    sender,
		cfg:       cfg,
		sleep:     time.Sleep,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ProcessCampaign performs one bounded chunk of work for a sending
// campaign.
func (d *Dispatcher) ProcessCampaign(ctx context.Context, c *domain.Campaign) (*DispatchResult, error) {
	resolved, err := d.resolver.Resolve(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	byID := make(map[string]domain.Contact, len(resolved))
	for _, contact := range resolved {
		byID[contact.ID] = contact
	}

	result := &DispatchResult{Resolved: len(resolved)}
	log.Printf("[Dispatcher] Campaign %s: %d resolved recipients", c.ID, len(resolved))

	for batch := 0; batch < d.cfg.MaxBatches; batch++ {
		records, err := d.assembleBatch(ctx, c.ID, resolved)
		if err != nil {
			return result, err
		}
		if len(records) == 0 {
			break
		}

		rateLimited, err := d.sendBatch(ctx, c, records, byID, result)
		if err != nil {
			return result, err
		}

		stats, err := d.tracker.Refresh(ctx, c.ID, len(resolved))
		if err != nil {
			return result, err
		}

		if rateLimited {
			result.RateLimited = true
			return result, nil
		}
		if stats.Complete(len(resolved)) {
			result.Completed = true
			return result, nil
		}
		if batch < d.cfg.MaxBatches-1 && d.cfg.InterBatchDelay > 0 {
			d.sleep(d.cfg.InterBatchDelay)
		}
	}

	// The final batch may have completed the tail of the campaign, and a
	// campaign with nothing left to claim may already be done.
	stats, err := d.ledger.Stats(ctx, c.ID)
	if err != nil {
		return result, fmt.Errorf("ledger stats: %w", err)
	}
	result.Completed = stats.Complete(len(resolved))
	return result, nil
}

// assembleBatch gathers work for one batch: stale pending rows first
// (rate-limit leftovers and crashed runs), then fresh reservations up to
// the batch size.
func (d *Dispatcher) assembleBatch(ctx context.Context, campaignID string, resolved []domain.Contact) ([]domain.SendRecord, error) {
	var records []domain.SendRecord

	if d.cfg.StaleReservationAge > 0 {
		reclaimed, err := d.ledger.ReclaimStale(ctx, campaignID, d.cfg.StaleReservationAge, d.cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("reclaim stale: %w", err)
		}
		if len(reclaimed) > 0 {
			log.Printf("[Dispatcher] Campaign %s: re-claimed %d stale reservations", campaignID, len(reclaimed))
		}
		records = reclaimed
	}

	if remaining := d.cfg.BatchSize - len(records); remaining > 0 {
		claimed, err := d.reserver.Claim(ctx, campaignID, resolved, remaining)
		if err != nil {
			return nil, err
		}
		records = append(records, claimed...)
	}
	return records, nil
}

// sendBatch attempts delivery for each reserved record. Returns true when a
// provider rate limit aborted the batch.
func (d *Dispatcher) sendBatch(ctx context.Context, c *domain.Campaign, records []domain.SendRecord,
	byID map[string]domain.Contact, result *DispatchResult) (bool, error) {

	for _, rec := range records {
		start := d.now()

		contact, ok := byID[rec.ContactID]
		if !ok {
			// Re-claimed row for a contact outside the current resolution
			// (targeting changed mid-flight). Send with what the ledger
			// kept.
			contact = domain.Contact{ID: rec.ContactID, Email: rec.Email, Status: domain.ContactActive}
		}

		subject, body := d.renderer.Personalize(c, &contact)
		msg := &esp.Message{
			To:         rec.Email,
			ToName:     contact.FullName(),
			FromEmail:  c.FromEmail,
			FromName:   c.FromName,
			Subject:    subject,
			HTMLBody:   body,
			CampaignID: c.ID,
			ContactID:  rec.ContactID,
		}

		result.Attempted++
		sendRes, sendErr := d.sender.Send(ctx, msg)

		var rle *esp.RateLimitError
		if errors.As(sendErr, &rle) {
			// Abort the whole campaign. The in-flight record stays pending
			// and becomes reclaimable once stale; unattempted records are
			// untouched.
			logger.Warn("provider rate limit, pausing campaign",
				"campaign_id", c.ID, "recipient", rec.Email, "retry_after", rle.RetryAfter.String())
			if err := d.campaigns.SetRateLimit(ctx, c.ID, d.now(), rle.RetryAfter); err != nil {
				return true, fmt.Errorf("persist rate limit: %w", err)
			}
			return true, nil
		}

		if sendErr != nil {
			result.Failed++
			logger.Error("send failed", "campaign_id", c.ID, "recipient", rec.Email, "error", sendErr.Error())
			if err := d.ledger.MarkFailed(ctx, rec.ID, sendErr.Error()); err != nil {
				return false, fmt.Errorf("mark failed: %w", err)
			}
		} else {
			result.Sent++
			if err := d.ledger.MarkSent(ctx, rec.ID, sendRes.MessageID); err != nil {
				return false, fmt.Errorf("mark sent: %w", err)
			}
		}

		if remaining := d.cfg.PacingFloor - d.now().Sub(start); remaining > 0 {
			d.sleep(remaining)
		}
	}
	return false, nil
}
