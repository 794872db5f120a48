package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/subsync/internal/billing/model"
)

// ErrNotFound is returned by writes that target a subscriber that does not exist.
var ErrNotFound = errors.New("subscriber not found")

type SubscriberStore struct {
	db *sql.DB
}

func NewSubscriberStore(db *sql.DB) *SubscriberStore {
	return &SubscriberStore{db: db}
}

func scanSubscriber(scanner interface{ Scan(...any) error }) (*model.Subscriber, error) {
	var s model.Subscriber
	var customerID, subscriptionID sql.NullString
	var periodEnd sql.NullTime
	var status string
	var isSubscribed, subscriptionActive int
	err := scanner.Scan(
		&s.ID, &s.Email, &customerID, &subscriptionID, &status, &periodEnd,
		&isSubscribed, &subscriptionActive, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if customerID.Valid {
		s.ProviderCustomerID = &customerID.String
	}
	if subscriptionID.Valid {
		s.SubscriptionID = &subscriptionID.String
	}
	if periodEnd.Valid {
		t := periodEnd.Time.UTC()
		s.SubscriptionPeriodEnd = &t
	}
	s.SubscriptionStatus = model.Status(status)
	s.IsSubscribed = isSubscribed != 0
	s.SubscriptionActive = subscriptionActive != 0
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

const subscriberCols = `id, email, provider_customer_id, subscription_id, subscription_status, subscription_period_end, is_subscribed, subscription_active, created_at, updated_at`

// Create inserts a subscriber with no subscription and a fresh UUID.
func (s *SubscriberStore) Create(ctx context.Context, email string, now time.Time) (*model.Subscriber, error) {
	id := uuid.NewString()
	now = now.UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers (id, email, subscription_status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, email, string(model.StatusNone), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert subscriber: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *SubscriberStore) GetByID(ctx context.Context, id string) (*model.Subscriber, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriberCols+` FROM subscribers WHERE id = ?`, id)
	sub, err := scanSubscriber(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return sub, nil
}

// GetByCustomerID returns the subscriber bound to a provider customer. When
// more than one record carries the same customer id, the most recently
// updated one wins.
func (s *SubscriberStore) GetByCustomerID(ctx context.Context, customerID string) (*model.Subscriber, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriberCols+` FROM subscribers WHERE provider_customer_id = ?
		 ORDER BY updated_at DESC, created_at DESC, id ASC LIMIT 1`,
		customerID,
	)
	sub, err := scanSubscriber(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber by customer id: %w", err)
	}
	return sub, nil
}

// Apply reads the subscriber, applies p at now and writes the result in one
// transaction. This is the only write path for subscription fields.
func (s *SubscriberStore) Apply(ctx context.Context, id string, p model.SubscriptionPatch, now time.Time) (*model.Subscriber, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin apply: %w", err)
	}
	defer tx.Rollback()

	cur, err := scanSubscriber(tx.QueryRowContext(ctx, `SELECT `+subscriberCols+` FROM subscribers WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("apply %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read subscriber: %w", err)
	}

	next := cur.WithPatch(p, now)

	var periodEnd sql.NullTime
	if next.SubscriptionPeriodEnd != nil {
		periodEnd = sql.NullTime{Time: *next.SubscriptionPeriodEnd, Valid: true}
	}
	entitled := 0
	if next.IsSubscribed {
		entitled = 1
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE subscribers SET
			provider_customer_id = ?, subscription_id = ?, subscription_status = ?,
			subscription_period_end = ?, is_subscribed = ?, subscription_active = ?, updated_at = ?
		 WHERE id = ?`,
		nullString(next.ProviderCustomerID), nullString(next.SubscriptionID), string(next.SubscriptionStatus),
		periodEnd, entitled, entitled, next.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update subscriber: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit apply: %w", err)
	}
	return &next, nil
}

// LinkCustomer binds a provider customer id to the subscriber.
func (s *SubscriberStore) LinkCustomer(ctx context.Context, id, customerID string, now time.Time) (*model.Subscriber, error) {
	return s.Apply(ctx, id, model.SubscriptionPatch{CustomerID: customerID, KeepPeriodEnd: true}, now)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
