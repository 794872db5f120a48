package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/subsync/internal/billing/handler"
	"github.com/dukerupert/subsync/internal/billing/reconcile"
	"github.com/dukerupert/subsync/internal/billing/store"
	billingstripe "github.com/dukerupert/subsync/internal/billing/stripe"
	sharedmw "github.com/dukerupert/subsync/internal/middleware"
	"github.com/dukerupert/subsync/internal/websocket"
)

const adminRequestsPerMinute = 60

type Server struct {
	db              *sql.DB
	subscriberStore *store.SubscriberStore
	eventStore      *store.WebhookEventStore
	reconciler      *reconcile.Reconciler
	hub             *websocket.Hub
	webhookH        *handler.WebhookHandler
	subscriberH     *handler.SubscriberHandler
	repairH         *handler.RepairHandler
	debugH          *handler.DebugHandler
	rateLimiter     *sharedmw.Limiter
	cfg             Config
	logger          *slog.Logger
}

type Config struct {
	// AdminTokenHash is the bcrypt hash of the admin bearer token. Empty
	// locks the admin routes.
	AdminTokenHash string
	DebugEndpoints bool
	// Notifier receives payment-failed notices; nil disables them.
	Notifier reconcile.Notifier
	// StreamOrigins are the browser origins allowed on the debug stream.
	StreamOrigins []string
}

func New(db *sql.DB, sc *billingstripe.Client, cfg Config, logger *slog.Logger) *Server {
	subscriberStore := store.NewSubscriberStore(db)
	eventStore := store.NewWebhookEventStore(db)
	hub := websocket.NewHub(logger.With("component", "stream"))

	opts := []reconcile.Option{
		reconcile.WithListener(func(res reconcile.Result) {
			hub.Broadcast(websocket.NewMessage("subscriber", res.Outcome, res.SubscriberID, res))
		}),
	}
	if cfg.Notifier != nil {
		opts = append(opts, reconcile.WithNotifier(cfg.Notifier))
	}
	rec := reconcile.New(subscriberStore, sc, logger.With("component", "reconcile"), opts...)

	return &Server{
		db:              db,
		subscriberStore: subscriberStore,
		eventStore:      eventStore,
		reconciler:      rec,
		hub:             hub,
		webhookH:        handler.NewWebhookHandler(sc, rec, eventStore, logger.With("component", "webhook")),
		subscriberH:     handler.NewSubscriberHandler(subscriberStore, logger.With("component", "subscriber")),
		repairH:         handler.NewRepairHandler(rec, logger.With("component", "repair")),
		debugH:          handler.NewDebugHandler(subscriberStore, eventStore, logger.With("component", "debug")),
		rateLimiter:     sharedmw.NewLimiter(adminRequestsPerMinute, time.Minute),
		cfg:             cfg,
		logger:          logger,
	}
}

// EventStore returns the webhook event store for retention cleanup.
func (s *Server) EventStore() *store.WebhookEventStore {
	return s.eventStore
}

// RateLimiter returns the admin rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *sharedmw.Limiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)

	// Stripe webhook (public, signature checked by the handler)
	mux.HandleFunc("POST /webhooks/stripe", s.webhookH.HandleStripeWebhook)

	admin := s.adminOnly
	mux.Handle("POST /api/subscribers", admin(http.HandlerFunc(s.subscriberH.Create)))
	mux.Handle("GET /api/subscribers/{id}", admin(http.HandlerFunc(s.subscriberH.Get)))
	mux.Handle("POST /api/subscribers/sync", admin(http.HandlerFunc(s.repairH.Sync)))
	mux.Handle("POST /api/subscribers/link", admin(http.HandlerFunc(s.repairH.Link)))

	if s.cfg.DebugEndpoints {
		mux.Handle("GET /debug/mapping", admin(http.HandlerFunc(s.debugH.Mapping)))
		mux.Handle("POST /debug/simulate", admin(http.HandlerFunc(s.debugH.Simulate)))
		mux.Handle("GET /debug/events", admin(http.HandlerFunc(s.debugH.Events)))
		mux.Handle("GET /debug/stream", admin(websocket.HandleWebSocket(s.hub, s.logger.With("component", "stream"), s.cfg.StreamOrigins...)))
	}

	return sharedmw.RequestLogger(s.logger.With("component", "http"))(mux)
}

// adminOnly applies the per-route, per-IP rate limit and bearer token check.
func (s *Server) adminOnly(h http.Handler) http.Handler {
	return s.rateLimiter.Middleware(sharedmw.RequireToken(s.cfg.AdminTokenHash)(h))
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
