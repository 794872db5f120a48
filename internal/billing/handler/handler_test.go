package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/subsync/internal/billing/database"
	"github.com/dukerupert/subsync/internal/billing/model"
	"github.com/dukerupert/subsync/internal/billing/reconcile"
	"github.com/dukerupert/subsync/internal/billing/store"
	billingstripe "github.com/dukerupert/subsync/internal/billing/stripe"
)

const testWebhookSecret = "whsec_handler_test"

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type fakeProvider struct {
	subscriptions map[string]reconcile.Snapshot
	latest        map[reconcile.Scope]*reconcile.Snapshot
	customers     map[string]bool
	err           error
}

func (p *fakeProvider) Subscription(ctx context.Context, id string) (reconcile.Snapshot, error) {
	if p.err != nil {
		return reconcile.Snapshot{}, p.err
	}
	snap, ok := p.subscriptions[id]
	if !ok {
		return reconcile.Snapshot{}, errors.New("no such subscription")
	}
	return snap, nil
}

func (p *fakeProvider) LatestSubscription(ctx context.Context, customerID string, scope reconcile.Scope) (*reconcile.Snapshot, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.latest[scope], nil
}

func (p *fakeProvider) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	return p.customers[customerID], nil
}

type testEnv struct {
	db          *sql.DB
	subscribers *store.SubscriberStore
	events      *store.WebhookEventStore
	provider    *fakeProvider
	webhook     *WebhookHandler
	repair      *RepairHandler
	subscriber  *SubscriberHandler
	debug       *DebugHandler
}

func setupTestEnv(t *testing.T, webhookSecret string) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ss := store.NewSubscriberStore(db)
	es := store.NewWebhookEventStore(db)
	p := &fakeProvider{
		subscriptions: map[string]reconcile.Snapshot{},
		latest:        map[reconcile.Scope]*reconcile.Snapshot{},
		customers:     map[string]bool{},
	}
	rec := reconcile.New(ss, p, logger, reconcile.WithClock(func() time.Time { return testNow }))
	sc := billingstripe.NewClient(billingstripe.Config{WebhookSecret: webhookSecret}, logger)

	debugH := NewDebugHandler(ss, es, logger)
	debugH.now = func() time.Time { return testNow }

	return &testEnv{
		db:          db,
		subscribers: ss,
		events:      es,
		provider:    p,
		webhook:     NewWebhookHandler(sc, rec, es, logger),
		repair:      NewRepairHandler(rec, logger),
		subscriber:  NewSubscriberHandler(ss, logger),
		debug:       debugH,
	}
}

func (e *testEnv) linkedSubscriber(t *testing.T, customerID string) *model.Subscriber {
	t.Helper()
	ctx := context.Background()
	sub, err := e.subscribers.Create(ctx, "alice@example.com", testNow.Add(-time.Hour))
	require.NoError(t, err)
	sub, err = e.subscribers.LinkCustomer(ctx, sub.ID, customerID, testNow.Add(-time.Hour))
	require.NoError(t, err)
	return sub
}

func (e *testEnv) reload(t *testing.T, id string) *model.Subscriber {
	t.Helper()
	sub, err := e.subscribers.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, sub)
	return sub
}

func signPayload(payload []byte) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	}).Header
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
