package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cosmic-community/ssf-mailer-sub002/internal/domain"
	"github.com/cosmic-community/ssf-mailer-sub002/internal/engine"
	"github.com/cosmic-community/ssf-mailer-sub002/internal/pkg/httputil"
)

// SchedulerRunner executes one scheduler invocation.
type SchedulerRunner interface {
	Run(ctx context.Context) (*engine.RunResult, error)
}

// CampaignReader reads a single campaign for progress polling.
type CampaignReader interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
}

// TriggerResponse is the cron endpoint's success envelope.
type TriggerResponse struct {
	Success   bool                     `json:"success"`
	Message   string                   `json:"message"`
	Processed int                      `json:"processed"`
	Campaigns []engine.CampaignOutcome `json:"campaigns,omitempty"`
}

// handleSendCampaigns runs the scheduler once. Per-campaign failures are
// reported inside the response; only a process-level failure produces an
// error status.
func (s *Server) handleSendCampaigns(w http.ResponseWriter, r *http.Request) {
	result, err := s.runner.Run(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, TriggerResponse{
		Success:   true,
		Message:   fmt.Sprintf("processed %d campaign(s)", len(result.Campaigns)),
		Processed: result.Processed,
		Campaigns: result.Campaigns,
	})
}

type progressResponse struct {
	CampaignID string                `json:"campaign_id"`
	Status     domain.CampaignStatus `json:"status"`
	Progress   domain.Progress       `json:"progress"`
	Stats      domain.Stats          `json:"stats"`
	SentAt     interface{}           `json:"sent_at,omitempty"`
}

// handleCampaignProgress is the polling surface for UIs: the campaign's
// persisted status and progress fields, which the engine keeps as the sole
// source of truth.
func (s *Server) handleCampaignProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")
	c, err := s.campaigns.Get(r.Context(), id)
	if errors.Is(err, engine.ErrNotFound) {
		httputil.NotFound(w, "campaign not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	resp := progressResponse{
		CampaignID: c.ID,
		Status:     c.Status,
		Progress:   c.Progress,
		Stats:      c.Stats,
	}
	if c.SentAt != nil {
		resp.SentAt = c.SentAt
	}
	httputil.OK(w, resp)
}
