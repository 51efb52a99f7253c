// The worker binary runs the scheduler on a fixed interval for deployments
// without an external cron. Each tick is one bounded invocation; overlap
// protection comes from the ledger's unique constraint, not from this
// process being a singleton.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/cosmic-community/ssf-mailer-sub002/internal/app"
	"github.com/cosmic-community/ssf-mailer-sub002/internal/config"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	interval := 2 * time.Minute
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			interval = time.Duration(n) * time.Second
		}
	}

	db, err := app.OpenDB(cfg)
	if err != nil {
		log.Fatalf("Database: %v", err)
	}
	defer db.Close()
	log.Println("[Worker] Connected to database")

	eng, err := app.BuildEngine(db, cfg)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("[Worker] Shutdown signal received")
		cancel()
	}()

	log.Printf("[Worker] Starting, interval %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runOnce(ctx, eng)
	for {
		select {
		case <-ctx.Done():
			log.Println("[Worker] Stopped")
			return
		case <-ticker.C:
			runOnce(ctx, eng)
		}
	}
}

func runOnce(ctx context.Context, eng *app.Engine) {
	result, err := eng.Runner.Run(ctx)
	if err != nil {
		log.Printf("[Worker] Run failed: %v", err)
		return
	}
	if len(result.Campaigns) > 0 {
		log.Printf("[Worker] Run complete: %d send(s) across %d campaign(s)",
			result.Processed, len(result.Campaigns))
	}
}
