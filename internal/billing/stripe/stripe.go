package stripe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/subsync/internal/billing/model"
	"github.com/dukerupert/subsync/internal/billing/reconcile"
)

var (
	ErrWebhookSecretMissing = errors.New("stripe webhook secret not configured")
	ErrSecretKeyMissing     = errors.New("stripe secret key not configured")
	ErrInvalidSignature     = errors.New("invalid stripe signature")
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	// APIURL overrides the Stripe API base URL, e.g. for stripe-mock.
	APIURL string
}

// Client wraps a Stripe API client and the webhook secret. It implements
// reconcile.Provider.
type Client struct {
	cfg    Config
	api    *client.API
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	backendCfg := &stripe.BackendConfig{
		LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, stripe.NewBackendsWithConfig(backendCfg))
	return &Client{cfg: cfg, api: api, logger: logger}
}

// ConstructEvent verifies the Stripe-Signature header against the exact raw
// payload and returns the parsed event.
func (c *Client) ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	if c.cfg.WebhookSecret == "" {
		return stripe.Event{}, ErrWebhookSecretMissing
	}
	if sigHeader == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing Stripe-Signature header", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return event, nil
}

func (c *Client) Subscription(ctx context.Context, id string) (reconcile.Snapshot, error) {
	if err := c.requireKey(); err != nil {
		return reconcile.Snapshot{}, err
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return reconcile.Snapshot{}, fmt.Errorf("get subscription: %w", err)
	}
	return snapshotFromStripe(sub), nil
}

// LatestSubscription returns the customer's most recently created
// subscription. ScopeActive only considers active subscriptions; ScopeAll
// includes every status, canceled ones too.
func (c *Client) LatestSubscription(ctx context.Context, customerID string, scope reconcile.Scope) (*reconcile.Snapshot, error) {
	if err := c.requireKey(); err != nil {
		return nil, err
	}
	status := string(stripe.SubscriptionStatusActive)
	if scope == reconcile.ScopeAll {
		status = "all"
	}
	params := &stripe.SubscriptionListParams{
		ListParams: stripe.ListParams{
			Limit: stripe.Int64(20),
		},
		Customer: stripe.String(customerID),
		Status:   stripe.String(status),
	}
	params.Context = ctx

	var latest *stripe.Subscription
	iter := c.api.Subscriptions.List(params)
	for iter.Next() {
		sub := iter.Subscription()
		if latest == nil || sub.Created > latest.Created {
			latest = sub
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	if latest == nil {
		c.logger.Debug("no subscription in scope", "customer_id", customerID, "scope", scope)
		return nil, nil
	}
	snap := snapshotFromStripe(latest)
	return &snap, nil
}

// CustomerExists reports whether the customer exists and has not been deleted.
func (c *Client) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	if err := c.requireKey(); err != nil {
		return false, err
	}
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cust, err := c.api.Customers.Get(customerID, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Code == stripe.ErrorCodeResourceMissing {
			return false, nil
		}
		return false, fmt.Errorf("get customer: %w", err)
	}
	return !cust.Deleted, nil
}

func (c *Client) requireKey() error {
	if c.cfg.SecretKey == "" {
		return ErrSecretKeyMissing
	}
	return nil
}

func snapshotFromStripe(sub *stripe.Subscription) reconcile.Snapshot {
	snap := reconcile.Snapshot{
		ID:        sub.ID,
		Status:    model.Status(sub.Status),
		PeriodEnd: periodEnd(sub),
		Metadata:  sub.Metadata,
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	return snap
}

// periodEnd is the latest current_period_end across the subscription's items.
func periodEnd(sub *stripe.Subscription) *time.Time {
	if sub.Items == nil {
		return nil
	}
	var end int64
	for _, item := range sub.Items.Data {
		if item != nil && item.CurrentPeriodEnd > end {
			end = item.CurrentPeriodEnd
		}
	}
	if end == 0 {
		return nil
	}
	t := time.Unix(end, 0).UTC()
	return &t
}
