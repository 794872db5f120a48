package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/subsync/internal/billing/model"
	"github.com/dukerupert/subsync/internal/billing/reconcile"
	"github.com/dukerupert/subsync/internal/billing/store"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// DebugHandler serves read-only views of the reconciliation mapping.
type DebugHandler struct {
	subscriberStore *store.SubscriberStore
	eventStore      *store.WebhookEventStore
	now             func() time.Time
	logger          *slog.Logger
}

func NewDebugHandler(ss *store.SubscriberStore, es *store.WebhookEventStore, logger *slog.Logger) *DebugHandler {
	return &DebugHandler{subscriberStore: ss, eventStore: es, now: time.Now, logger: logger}
}

func (h *DebugHandler) Mapping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, reconcile.Table(h.now()))
}

type simulateRequest struct {
	SubscriberID   string       `json:"subscriber_id"`
	Trigger        string       `json:"trigger" validate:"required"`
	Status         model.Status `json:"status"`
	SubscriptionID string       `json:"subscription_id"`
	CustomerID     string       `json:"customer_id"`
	PeriodEnd      *time.Time   `json:"period_end"`
}

type simulateResponse struct {
	Trigger reconcile.Trigger `json:"trigger"`
	Before  model.Subscriber  `json:"before"`
	After   model.Subscriber  `json:"after"`
}

// Simulate runs a trigger against a hypothetical provider snapshot and shows
// the record before and after. Nothing is written.
func (h *DebugHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	now := h.now()
	snap := reconcile.Snapshot{
		ID:         req.SubscriptionID,
		CustomerID: req.CustomerID,
		Status:     req.Status,
		PeriodEnd:  req.PeriodEnd,
	}
	patch, err := reconcile.Plan(reconcile.Trigger(req.Trigger), snap, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var before model.Subscriber
	if req.SubscriberID != "" {
		sub, err := h.subscriberStore.GetByID(r.Context(), req.SubscriberID)
		if err != nil {
			h.logger.Error("load subscriber for simulation", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load subscriber")
			return
		}
		if sub == nil {
			writeError(w, http.StatusNotFound, "subscriber not found")
			return
		}
		before = *sub
	}

	writeJSON(w, http.StatusOK, simulateResponse{
		Trigger: reconcile.Trigger(req.Trigger),
		Before:  before,
		After:   before.WithPatch(patch, now),
	})
}

func (h *DebugHandler) Events(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := h.eventStore.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("list webhook events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []model.WebhookEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
