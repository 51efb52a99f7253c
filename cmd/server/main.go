package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/cosmic-community/ssf-mailer-sub002/internal/api"
	"github.com/cosmic-community/ssf-mailer-sub002/internal/app"
	"github.com/cosmic-community/ssf-mailer-sub002/internal/config"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := app.OpenDB(cfg)
	if err != nil {
		log.Fatalf("Database: %v", err)
	}
	defer db.Close()
	log.Println("[Server] Connected to database")

	eng, err := app.BuildEngine(db, cfg)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	server := api.NewServer(eng.Runner, eng.Campaigns, cfg.Server.CronSecret)
	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     server.Routes(),
		ReadTimeout: 30 * time.Second,
		// A trigger request runs a full scheduler invocation inline, so the
		// write timeout must outlast the router's 10 minute request timeout.
		WriteTimeout: 11 * time.Minute,
	}

	go func() {
		log.Printf("[Server] Listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[Server] Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("[Server] Shutdown error: %v", err)
	}
}
