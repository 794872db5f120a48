package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/subsync/internal/billing/model"
	"github.com/dukerupert/subsync/internal/billing/reconcile"
)

// RepairHandler exposes the manual sync and link operations for support staff.
type RepairHandler struct {
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
}

func NewRepairHandler(rec *reconcile.Reconciler, logger *slog.Logger) *RepairHandler {
	return &RepairHandler{reconciler: rec, logger: logger}
}

type syncRequest struct {
	SubscriberID string `json:"subscriber_id" validate:"required"`
	Scope        string `json:"scope" validate:"omitempty,oneof=active all"`
}

type linkRequest struct {
	SubscriberID string `json:"subscriber_id" validate:"required"`
	CustomerID   string `json:"customer_id" validate:"required,startswith=cus_"`
}

// subscriptionSummary is the repair endpoints' view of a subscriber.
type subscriptionSummary struct {
	SubscriberID       string       `json:"subscriber_id"`
	CustomerID         *string      `json:"provider_customer_id"`
	SubscriptionID     *string      `json:"subscription_id"`
	SubscriptionStatus model.Status `json:"subscription_status"`
	PeriodEnd          *time.Time   `json:"subscription_period_end"`
	IsSubscribed       bool         `json:"is_subscribed"`
	SubscriptionActive bool         `json:"subscription_active"`
}

func summarize(s *model.Subscriber) subscriptionSummary {
	return subscriptionSummary{
		SubscriberID:       s.ID,
		CustomerID:         s.ProviderCustomerID,
		SubscriptionID:     s.SubscriptionID,
		SubscriptionStatus: s.SubscriptionStatus,
		PeriodEnd:          s.SubscriptionPeriodEnd,
		IsSubscribed:       s.IsSubscribed,
		SubscriptionActive: s.SubscriptionActive,
	}
}

func (h *RepairHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sub, err := h.reconciler.Sync(r.Context(), req.SubscriberID, reconcile.Scope(req.Scope))
	if err != nil {
		h.fail(w, "sync subscriber", req.SubscriberID, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(sub))
}

func (h *RepairHandler) Link(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sub, err := h.reconciler.Link(r.Context(), req.SubscriberID, req.CustomerID)
	if err != nil {
		h.fail(w, "link customer", req.SubscriberID, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(sub))
}

func (h *RepairHandler) fail(w http.ResponseWriter, op, subscriberID string, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.logger.Error(op, "subscriber_id", subscriberID, "error", err)
		writeError(w, status, http.StatusText(status))
		return
	}
	h.logger.Warn(op, "subscriber_id", subscriberID, "error", err)
	writeError(w, status, err.Error())
}
