package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/subsync/internal/billing/model"
	"github.com/dukerupert/subsync/internal/billing/reconcile"
)

func TestDebugMapping(t *testing.T) {
	e := setupTestEnv(t, testWebhookSecret)

	rec := httptest.NewRecorder()
	e.debug.Mapping(rec, httptest.NewRequest("GET", "/debug/mapping", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rows := decodeJSON[[]reconcile.MappingRow](t, rec)
	assert.Len(t, rows, len(reconcile.Triggers))
	assert.Equal(t, reconcile.TriggerCheckoutCompleted, rows[0].Trigger)
}

func TestDebugSimulateDoesNotWrite(t *testing.T) {
	e := setupTestEnv(t, testWebhookSecret)
	sub := e.linkedSubscriber(t, "cus_1")
	end := testNow.Add(24 * time.Hour)

	rec := httptest.NewRecorder()
	e.debug.Simulate(rec, jsonRequest(t, "POST", "/debug/simulate", map[string]any{
		"subscriber_id":   sub.ID,
		"trigger":         "subscription.updated",
		"status":          "active",
		"subscription_id": "sub_1",
		"period_end":      end,
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decodeJSON[simulateResponse](t, rec)
	assert.Equal(t, model.StatusNone, got.Before.SubscriptionStatus)
	assert.Equal(t, model.StatusActive, got.After.SubscriptionStatus)
	assert.True(t, got.After.IsSubscribed)
	assert.True(t, got.After.SubscriptionActive)

	assert.Equal(t, model.StatusNone, e.reload(t, sub.ID).SubscriptionStatus)
}

func TestDebugSimulateErrors(t *testing.T) {
	e := setupTestEnv(t, testWebhookSecret)

	rec := httptest.NewRecorder()
	e.debug.Simulate(rec, jsonRequest(t, "POST", "/debug/simulate", map[string]any{"trigger": "refund.issued"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	e.debug.Simulate(rec, jsonRequest(t, "POST", "/debug/simulate", map[string]any{"trigger": "repair.none", "subscriber_id": "missing"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugEvents(t *testing.T) {
	e := setupTestEnv(t, testWebhookSecret)
	for _, id := range []string{"evt_a", "evt_b", "evt_c"} {
		_, _, err := e.events.Begin(t.Context(), "stripe", id, "invoice.paid", testNow)
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	e.debug.Events(rec, httptest.NewRequest("GET", "/debug/events?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeJSON[[]model.WebhookEvent](t, rec), 2)

	rec = httptest.NewRecorder()
	e.debug.Events(rec, httptest.NewRequest("GET", "/debug/events?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDebugEventsEmpty(t *testing.T) {
	e := setupTestEnv(t, testWebhookSecret)

	rec := httptest.NewRecorder()
	e.debug.Events(rec, httptest.NewRequest("GET", "/debug/events", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}
