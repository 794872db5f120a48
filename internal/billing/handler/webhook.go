package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/subsync/internal/billing/model"
	"github.com/dukerupert/subsync/internal/billing/reconcile"
	"github.com/dukerupert/subsync/internal/billing/store"
	billingstripe "github.com/dukerupert/subsync/internal/billing/stripe"
)

const (
	maxWebhookBody = 1 << 20
	providerStripe = "stripe"
)

type WebhookHandler struct {
	stripeClient *billingstripe.Client
	reconciler   *reconcile.Reconciler
	eventStore   *store.WebhookEventStore
	now          func() time.Time
	logger       *slog.Logger
}

func NewWebhookHandler(
	sc *billingstripe.Client,
	rec *reconcile.Reconciler,
	es *store.WebhookEventStore,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		stripeClient: sc,
		reconciler:   rec,
		eventStore:   es,
		now:          time.Now,
		logger:       logger,
	}
}

type webhookResponse struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
	Ignored   bool `json:"ignored,omitempty"`
}

// HandleStripeWebhook verifies and reconciles one Stripe event. A 2xx is only
// returned once the event has been applied, deliberately ignored, or could not
// be matched to a subscriber; everything else makes Stripe redeliver.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	event, err := h.stripeClient.ConstructEvent(body, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, billingstripe.ErrWebhookSecretMissing) {
		h.logger.Error("webhook secret not configured")
		writeError(w, http.StatusInternalServerError, "webhook not configured")
		return
	}
	if err != nil {
		h.logger.Warn("webhook signature rejected", "error", err, "remote", r.RemoteAddr)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	ctx := r.Context()
	logger := h.logger.With("event_id", event.ID, "event_type", event.Type)

	rec, dup, err := h.eventStore.Begin(ctx, providerStripe, event.ID, string(event.Type), h.now())
	if err != nil {
		logger.Error("record webhook event", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if dup {
		logger.Info("duplicate webhook event")
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, Duplicate: true})
		return
	}

	ev, err := billingstripe.DecodeEvent(event)
	if errors.Is(err, reconcile.ErrUnhandledEvent) {
		logger.Debug("unhandled event type")
		h.finish(r, rec, "", model.OutcomeIgnored, nil)
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, Ignored: true})
		return
	}
	if err != nil {
		logger.Warn("decode webhook event", "error", err)
		h.finish(r, rec, "", model.OutcomeFailed, err)
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	res, err := h.reconciler.Apply(ctx, ev)
	if err != nil {
		status := statusFor(err)
		logger.Error("reconcile webhook event", "error", err, "status", status)
		h.finish(r, rec, res.SubscriberID, model.OutcomeFailed, err)
		writeError(w, status, http.StatusText(status))
		return
	}

	h.finish(r, rec, res.SubscriberID, res.Outcome, nil)
	writeJSON(w, http.StatusOK, webhookResponse{
		Received: true,
		Ignored:  res.Outcome == model.OutcomeIgnored,
	})
}

func (h *WebhookHandler) finish(r *http.Request, rec *model.WebhookEvent, subscriberID, outcome string, procErr error) {
	if err := h.eventStore.Finish(r.Context(), rec.ID, subscriberID, outcome, procErr, h.now()); err != nil {
		h.logger.Error("finish webhook event", "event_id", rec.ProviderEventID, "error", err)
	}
}
