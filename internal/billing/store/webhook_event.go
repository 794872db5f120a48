package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/subsync/internal/billing/model"
)

type WebhookEventStore struct {
	db *sql.DB
}

func NewWebhookEventStore(db *sql.DB) *WebhookEventStore {
	return &WebhookEventStore{db: db}
}

func scanWebhookEvent(scanner interface{ Scan(...any) error }) (*model.WebhookEvent, error) {
	var e model.WebhookEvent
	var subscriberID sql.NullString
	var processedAt sql.NullTime
	err := scanner.Scan(
		&e.ID, &e.Provider, &e.ProviderEventID, &e.EventType, &subscriberID,
		&e.Outcome, &e.ProcessingError, &processedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if subscriberID.Valid {
		e.SubscriberID = &subscriberID.String
	}
	if processedAt.Valid {
		t := processedAt.Time.UTC()
		e.ProcessedAt = &t
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

const webhookEventCols = `id, provider, provider_event_id, event_type, subscriber_id, outcome, processing_error, processed_at, created_at`

// Begin records a delivery of the given provider event. It returns the stored
// row and whether an earlier delivery of the same event already finished
// without error. Earlier failed attempts are not duplicates.
func (s *WebhookEventStore) Begin(ctx context.Context, provider, eventID, eventType string, now time.Time) (*model.WebhookEvent, bool, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (provider, provider_event_id, event_type, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		provider, eventID, eventType, now.UTC(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert webhook event: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+webhookEventCols+` FROM webhook_events WHERE provider = ? AND provider_event_id = ?`,
		provider, eventID,
	)
	e, err := scanWebhookEvent(row)
	if err != nil {
		return nil, false, fmt.Errorf("get webhook event: %w", err)
	}
	return e, e.Done(), nil
}

// Finish marks a delivery as processed with its outcome. A non-nil procErr is
// stored so the next delivery of the event is processed again.
func (s *WebhookEventStore) Finish(ctx context.Context, id int64, subscriberID, outcome string, procErr error, now time.Time) error {
	var msg string
	if procErr != nil {
		msg = procErr.Error()
	}
	var sid sql.NullString
	if subscriberID != "" {
		sid = sql.NullString{String: subscriberID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_events SET subscriber_id = ?, outcome = ?, processing_error = ?, processed_at = ? WHERE id = ?`,
		sid, outcome, msg, now.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("finish webhook event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *WebhookEventStore) Recent(ctx context.Context, limit int) ([]model.WebhookEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+webhookEventCols+` FROM webhook_events ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	var events []model.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// DeleteBefore removes events created before cutoff and returns how many were removed.
func (s *WebhookEventStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old webhook events: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
