// Package app wires the sending engine from configuration. Shared by the
// server and worker binaries so both run the identical pipeline.
package app

import (
	"database/sql"
	"fmt"

	"github.com/cosmic-community/ssf-mailer-sub002/internal/config"
	"github.com/cosmic-community/ssf-mailer-sub002/internal/engine"
	"github.com/cosmic-community/ssf-mailer-sub002/internal/esp"
	"github.com/cosmic-community/ssf-mailer-sub002/internal/mailing"
	"github.com/cosmic-community/ssf-mailer-sub002/internal/repository/postgres"
)

// Engine bundles the wired scheduler and the campaign store the API reads
// from.
type Engine struct {
	Runner    *engine.Runner
	Campaigns *postgres.CampaignRepo
}

// OpenDB opens and pings the Postgres pool with the configured limits.
func OpenDB(cfg *config.Config) (*sql.DB, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database url is required (set DATABASE_URL)")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime())
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// BuildEngine constructs the full sending pipeline over an open database.
func BuildEngine(db *sql.DB, cfg *config.Config) (*Engine, error) {
	campaigns := postgres.NewCampaignRepo(db)
	contacts := postgres.NewContactRepo(db)
	ledger := postgres.NewLedgerRepo(db)

	sender, err := esp.NewSESSender(cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region,
		cfg.Sending.DefaultRetryAfter())
	if err != nil {
		return nil, fmt.Errorf("init ses sender: %w", err)
	}

	renderer := mailing.NewRenderer(mailing.NewTemplateEngine(), cfg.App.BaseURL)

	resolver := engine.NewResolver(contacts,
		cfg.Sending.MaxContactsPerList, cfg.Sending.MaxTotalRecipients, cfg.Sending.PageSize)
	reserver := engine.NewReserver(ledger)
	tracker := engine.NewTracker(ledger, campaigns)

	dispatcher := engine.NewDispatcher(resolver, reserver, tracker, ledger, campaigns, renderer, sender,
		engine.DispatchConfig{
			PacingFloor:         cfg.Sending.PacingFloor(),
			BatchSize:           cfg.Sending.BatchSize,
			MaxBatches:          cfg.Sending.MaxBatchesPerRun,
			InterBatchDelay:     cfg.Sending.InterBatchDelay(),
			StaleReservationAge: cfg.Sending.StaleReservationAge(),
		})

	return &Engine{
		Runner:    engine.NewRunner(campaigns, dispatcher, tracker, campaigns),
		Campaigns: campaigns,
	}, nil
}
