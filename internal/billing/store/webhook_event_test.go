package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/subsync/internal/billing/database"
	"github.com/dukerupert/subsync/internal/billing/model"
)

func setupWebhookEventTestDB(t *testing.T) *WebhookEventStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWebhookEventStore(db)
}

func TestWebhookEventBeginNew(t *testing.T) {
	s := setupWebhookEventTestDB(t)

	e, dup, err := s.Begin(context.Background(), "stripe", "evt_1", "invoice.paid", testNow)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if dup {
		t.Error("first delivery reported as duplicate")
	}
	if e.ProviderEventID != "evt_1" || e.EventType != "invoice.paid" {
		t.Errorf("event = %+v", e)
	}
	if e.ProcessedAt != nil {
		t.Error("expected unprocessed event")
	}
}

func TestWebhookEventDuplicateAfterSuccess(t *testing.T) {
	s := setupWebhookEventTestDB(t)
	ctx := context.Background()

	e, _, _ := s.Begin(ctx, "stripe", "evt_1", "invoice.paid", testNow)
	if err := s.Finish(ctx, e.ID, "sub-1", model.OutcomeApplied, nil, testNow); err != nil {
		t.Fatalf("finish: %v", err)
	}

	again, dup, err := s.Begin(ctx, "stripe", "evt_1", "invoice.paid", testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("begin again: %v", err)
	}
	if !dup {
		t.Error("expected redelivery to be a duplicate")
	}
	if again.ID != e.ID {
		t.Errorf("id = %d, want %d", again.ID, e.ID)
	}
	if again.SubscriberID == nil || *again.SubscriberID != "sub-1" {
		t.Errorf("subscriber id = %v, want sub-1", again.SubscriberID)
	}
}

func TestWebhookEventRetryAfterFailure(t *testing.T) {
	s := setupWebhookEventTestDB(t)
	ctx := context.Background()

	e, _, _ := s.Begin(ctx, "stripe", "evt_1", "invoice.paid", testNow)
	s.Finish(ctx, e.ID, "", model.OutcomeFailed, errors.New("store unavailable"), testNow)

	again, dup, err := s.Begin(ctx, "stripe", "evt_1", "invoice.paid", testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("begin again: %v", err)
	}
	if dup {
		t.Error("failed delivery should be processed again")
	}
	if again.ProcessingError != "store unavailable" {
		t.Errorf("processing error = %q", again.ProcessingError)
	}
}

func TestWebhookEventRecentAndDeleteBefore(t *testing.T) {
	s := setupWebhookEventTestDB(t)
	ctx := context.Background()

	s.Begin(ctx, "stripe", "evt_old", "invoice.paid", testNow.Add(-40*24*time.Hour))
	s.Begin(ctx, "stripe", "evt_new", "invoice.paid", testNow)

	events, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].ProviderEventID != "evt_new" {
		t.Errorf("first = %q, want newest evt_new", events[0].ProviderEventID)
	}

	n, err := s.DeleteBefore(ctx, testNow.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	events, _ = s.Recent(ctx, 10)
	if len(events) != 1 || events[0].ProviderEventID != "evt_new" {
		t.Errorf("remaining = %+v, want only evt_new", events)
	}
}
