package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cosmic-community/ssf-mailer-sub002/internal/domain"
)

// CampaignOutcome is the per-campaign summary of one scheduler run.
type CampaignOutcome struct {
	CampaignID  string `json:"campaign_id"`
	Name        string `json:"name"`
	Skipped     string `json:"skipped,omitempty"`
	Attempted   int    `json:"attempted"`
	Sent        int    `json:"sent"`
	Failed      int    `json:"failed"`
	RateLimited bool   `json:"rate_limited,omitempty"`
	Completed   bool   `json:"completed,omitempty"`
	Cancelled   bool   `json:"cancelled,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RunResult summarizes one scheduler invocation across all campaigns.
type RunResult struct {
	Processed int
	Campaigns []CampaignOutcome
}

// Runner is the scheduler driver: the periodic entry point that walks every
// sending campaign, honors schedules and rate-limit cooldowns, dispatches
// one bounded chunk each, and finalizes completions. One campaign's failure
// never aborts the run; the failing campaign is cancelled and the loop
// moves on.
type Runner struct {
	campaigns  CampaignStore
	dispatcher *Dispatcher
	tracker    *Tracker
	tracking   TrackingSyncer // optional
	now        func() time.Time
}

// NewRunner wires a scheduler driver. tracking may be nil.
func NewRunner(campaigns CampaignStore, dispatcher *Dispatcher, tracker *Tracker, tracking TrackingSyncer) *Runner {
	return &Runner{
		campaigns:  campaigns,
		dispatcher: dispatcher,
		tracker:    tracker,
		tracking:   tracking,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one scheduler invocation. It only returns an error for
// process-level failures (the campaign list itself unavailable); anything
// below that is absorbed into per-campaign outcomes.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	sending, err := r.campaigns.ListSending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sending campaigns: %w", err)
	}

	result := &RunResult{}
	log.Printf("[Scheduler] Run started: %d campaign(s) in sending state", len(sending))

	for i := range sending {
		outcome := r.processOne(ctx, &sending[i])
		result.Processed += outcome.Attempted
		result.Campaigns = append(result.Campaigns, outcome)
	}

	log.Printf("[Scheduler] Run finished: %d send(s) attempted across %d campaign(s)",
		result.Processed, len(sending))
	return result, nil
}

// processOne handles a single campaign behind an error boundary: any error
// or panic cancels that campaign with zeroed stats and is reported in the
// outcome, never propagated.
func (r *Runner) processOne(ctx context.Context, c *domain.Campaign) (outcome CampaignOutcome) {
	outcome = CampaignOutcome{CampaignID: c.ID, Name: c.Name}

	defer func() {
		if rec := recover(); rec != nil {
			r.cancel(ctx, c.ID, &outcome, fmt.Sprintf("panic: %v", rec))
		}
	}()

	now := r.now()

	if !c.ScheduleElapsed(now) {
		outcome.Skipped = "scheduled in the future"
		return outcome
	}

	if c.CooldownActive(now) {
		until := c.RateLimitHitAt.Add(c.RetryAfter)
		outcome.Skipped = "rate-limit cooldown until " + until.Format(time.RFC3339)
		log.Printf("[Scheduler] Campaign %s in cooldown until %s, skipping", c.ID, until.Format(time.RFC3339))
		return outcome
	}
	if c.RateLimitHitAt != nil {
		if err := r.campaigns.ClearRateLimit(ctx, c.ID); err != nil {
			r.cancel(ctx, c.ID, &outcome, fmt.Sprintf("clear cooldown: %v", err))
			return outcome
		}
		c.RateLimitHitAt = nil
		c.RetryAfter = 0
	}

	res, err := r.dispatcher.ProcessCampaign(ctx, c)
	if res != nil {
		outcome.Attempted = res.Attempted
		outcome.Sent = res.Sent
		outcome.Failed = res.Failed
		outcome.RateLimited = res.RateLimited
	}
	if err != nil {
		r.cancel(ctx, c.ID, &outcome, err.Error())
		return outcome
	}

	if res.Completed {
		done, err := r.tracker.FinalizeIfComplete(ctx, c.ID, res.Resolved)
		if err != nil {
			r.cancel(ctx, c.ID, &outcome, err.Error())
			return outcome
		}
		outcome.Completed = done
		if done {
			log.Printf("[Scheduler] Campaign %s completed (%d sent, %d failed)", c.ID, res.Sent, res.Failed)
			// Best effort. A stats-sync hiccup must not undo a successful
			// completion.
			if r.tracking != nil {
				if err := r.tracking.Sync(ctx, c.ID); err != nil {
					log.Printf("[Scheduler] Tracking sync failed for campaign %s: %v", c.ID, err)
				}
			}
		}
	}
	return outcome
}

func (r *Runner) cancel(ctx context.Context, campaignID string, outcome *CampaignOutcome, reason string) {
	log.Printf("[Scheduler] Campaign %s failed, cancelling: %s", campaignID, reason)
	outcome.Error = reason
	outcome.Cancelled = true
	if err := r.campaigns.Cancel(ctx, campaignID, domain.Stats{}); err != nil {
		log.Printf("[Scheduler] Could not cancel campaign %s: %v", campaignID, err)
	}
}
