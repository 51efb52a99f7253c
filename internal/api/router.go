// Package api exposes the engine's trigger surface: the cron endpoint that
// kicks off one scheduler run, plus health and progress reads for polling
// clients.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	runner     SchedulerRunner
	campaigns  CampaignReader
	cronSecret string
}

// NewServer creates the API server.
func NewServer(runner SchedulerRunner, campaigns CampaignReader, cronSecret string) *Server {
	return &Server{runner: runner, campaigns: campaigns, cronSecret: cronSecret}
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.With(s.requireCronSecret).Post("/cron/send-campaigns", s.handleSendCampaigns)
		r.Get("/campaigns/{campaignID}/progress", s.handleCampaignProgress)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
