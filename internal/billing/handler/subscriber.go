package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/subsync/internal/billing/store"
)

type SubscriberHandler struct {
	subscriberStore *store.SubscriberStore
	now             func() time.Time
	logger          *slog.Logger
}

func NewSubscriberHandler(ss *store.SubscriberStore, logger *slog.Logger) *SubscriberHandler {
	return &SubscriberHandler{subscriberStore: ss, now: time.Now, logger: logger}
}

type createSubscriberRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *SubscriberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSubscriberRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sub, err := h.subscriberStore.Create(r.Context(), req.Email, h.now())
	if err != nil {
		h.logger.Error("create subscriber", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create subscriber")
		return
	}
	h.logger.Info("subscriber created", "subscriber_id", sub.ID)
	writeJSON(w, http.StatusCreated, sub)
}

func (h *SubscriberHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriberStore.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.logger.Error("get subscriber", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load subscriber")
		return
	}
	if sub == nil {
		writeError(w, http.StatusNotFound, "subscriber not found")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
