package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/subsync/internal/billing/database"
	"github.com/dukerupert/subsync/internal/billing/server"
	billingstripe "github.com/dukerupert/subsync/internal/billing/stripe"
	"github.com/dukerupert/subsync/internal/config"
	"github.com/dukerupert/subsync/internal/email"
	"github.com/dukerupert/subsync/internal/logging"
)

func main() {
	configPath := flag.String("config", os.Getenv("SUBSYNC_CONFIG"), "path to YAML config file")
	envFile := flag.String("env-file", ".env", "path to .env file")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	stripeClient := billingstripe.NewClient(billingstripe.Config{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		APIURL:        cfg.Stripe.APIURL,
	}, logger.With("component", "stripe"))
	if cfg.Stripe.WebhookSecret == "" {
		slog.Warn("STRIPE_WEBHOOK_SECRET not set, webhooks will be rejected")
	}
	if cfg.Stripe.SecretKey == "" {
		slog.Warn("STRIPE_SECRET_KEY not set, provider lookups will fail")
	}
	if cfg.AdminTokenHash == "" {
		slog.Warn("SUBSYNC_ADMIN_TOKEN_HASH not set, admin routes are locked")
	}

	srvCfg := server.Config{
		AdminTokenHash: cfg.AdminTokenHash,
		DebugEndpoints: cfg.DebugEndpoints,
		StreamOrigins:  []string{hostOf(cfg.BaseURL)},
	}
	emailClient := email.NewClient(cfg.Postmark.Token, cfg.Postmark.FromEmail, cfg.BaseURL)
	if emailClient.Configured() {
		srvCfg.Notifier = emailClient
	}

	srv := server.New(db, stripeClient, srvCfg, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background maintenance goroutine
	maintCtx, maintCancel := context.WithCancel(context.Background())
	defer maintCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := srv.RateLimiter().Cleanup(); n > 0 {
					slog.Debug("expired rate limit windows", "count", n)
				}
				if cfg.EventRetention <= 0 {
					continue
				}
				cutoff := time.Now().Add(-cfg.EventRetention)
				if n, err := srv.EventStore().DeleteBefore(maintCtx, cutoff); err != nil {
					slog.Error("prune webhook events", "error", err)
				} else if n > 0 {
					slog.Info("pruned webhook events", "count", n)
				}
			case <-maintCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("subsync starting", "addr", ":"+cfg.Port, "debug_endpoints", cfg.DebugEndpoints)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	maintCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
