package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/subsync/internal/billing/model"
	"github.com/dukerupert/subsync/internal/billing/store"
)

// Store is the subscriber persistence the reconciler writes through.
type Store interface {
	GetByID(ctx context.Context, id string) (*model.Subscriber, error)
	GetByCustomerID(ctx context.Context, customerID string) (*model.Subscriber, error)
	Apply(ctx context.Context, id string, p model.SubscriptionPatch, now time.Time) (*model.Subscriber, error)
	LinkCustomer(ctx context.Context, id, customerID string, now time.Time) (*model.Subscriber, error)
}

// Scope selects which provider subscriptions a repair considers.
type Scope string

const (
	ScopeActive Scope = "active"
	ScopeAll    Scope = "all"
)

// Provider is the subset of the payment provider API used for reconciliation.
type Provider interface {
	Subscription(ctx context.Context, id string) (Snapshot, error)
	// LatestSubscription returns the customer's most recent subscription in
	// scope, or nil when there is none.
	LatestSubscription(ctx context.Context, customerID string, scope Scope) (*Snapshot, error)
	CustomerExists(ctx context.Context, customerID string) (bool, error)
}

// Notifier tells a customer their payment failed.
type Notifier interface {
	PaymentFailed(ctx context.Context, toEmail string) error
}

// Result reports what a reconciliation did.
type Result struct {
	Kind         Kind              `json:"kind,omitempty"`
	Trigger      Trigger           `json:"trigger,omitempty"`
	Outcome      string            `json:"outcome"`
	SubscriberID string            `json:"subscriber_id,omitempty"`
	Subscriber   *model.Subscriber `json:"subscriber,omitempty"`
}

type Option func(*Reconciler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithNotifier sends payment-failed notices through n.
func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

// WithListener registers fn to receive every applied or unresolved result.
func WithListener(fn func(Result)) Option {
	return func(r *Reconciler) { r.listener = fn }
}

type Reconciler struct {
	store    Store
	provider Provider
	resolver *Resolver
	notifier Notifier
	listener func(Result)
	now      func() time.Time
	logger   *slog.Logger
}

func New(s Store, p Provider, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    s,
		provider: p,
		resolver: NewResolver(s),
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply reconciles the subscriber record for one provider event. Unresolvable
// subscribers and events without a subscription are reported in the Result,
// not as errors. Errors wrap ErrProvider, ErrPersistence or ErrUnhandledEvent.
func (r *Reconciler) Apply(ctx context.Context, ev Event) (Result, error) {
	if ev == nil {
		return Result{}, fmt.Errorf("%w: nil event", ErrUnhandledEvent)
	}
	res := Result{Kind: ev.Kind()}

	switch e := ev.(type) {
	case CheckoutCompleted:
		res.Trigger = TriggerCheckoutCompleted
		if e.SubscriptionID == "" {
			return r.ignored(res, "checkout session has no subscription"), nil
		}
		id, err := r.resolver.Resolve(ctx, e.CustomerID, e.SubscriberID)
		if errors.Is(err, ErrNoMatchingUser) {
			return r.unresolved(res, e.CustomerID), nil
		}
		if err != nil {
			return res, err
		}
		snap, err := r.fetch(ctx, e.SubscriptionID)
		if err != nil {
			return res, err
		}
		if e.CustomerID != "" {
			snap.CustomerID = e.CustomerID
		}
		return r.write(ctx, res, id, snap)

	case SubscriptionCreated:
		res.Trigger = TriggerSubscriptionCreated
		return r.applySnapshot(ctx, res, e.Subscription)

	case SubscriptionUpdated:
		res.Trigger = TriggerSubscriptionUpdated
		return r.applySnapshot(ctx, res, e.Subscription)

	case SubscriptionDeleted:
		res.Trigger = TriggerSubscriptionDeleted
		return r.applySnapshot(ctx, res, e.Subscription)

	case InvoicePaymentSucceeded:
		res.Trigger = TriggerInvoicePaid
		if e.SubscriptionID == "" {
			return r.ignored(res, "invoice has no subscription"), nil
		}
		id, err := r.resolver.Resolve(ctx, e.CustomerID, e.SubscriberID)
		if errors.Is(err, ErrNoMatchingUser) {
			return r.unresolved(res, e.CustomerID), nil
		}
		if err != nil {
			return res, err
		}
		snap, err := r.fetch(ctx, e.SubscriptionID)
		if err != nil {
			return res, err
		}
		return r.write(ctx, res, id, snap)

	case InvoicePaymentFailed:
		res.Trigger = TriggerInvoicePaymentFailed
		if e.SubscriptionID == "" {
			return r.ignored(res, "invoice has no subscription"), nil
		}
		id, err := r.resolver.Resolve(ctx, e.CustomerID, e.SubscriberID)
		if errors.Is(err, ErrNoMatchingUser) {
			return r.unresolved(res, e.CustomerID), nil
		}
		if err != nil {
			return res, err
		}
		res, err = r.write(ctx, res, id, Snapshot{ID: e.SubscriptionID, CustomerID: e.CustomerID})
		if err == nil && res.Outcome == model.OutcomeApplied {
			r.notifyPaymentFailed(ctx, e)
		}
		return res, err

	default:
		return res, fmt.Errorf("%w: %T", ErrUnhandledEvent, ev)
	}
}

func (r *Reconciler) applySnapshot(ctx context.Context, res Result, snap Snapshot) (Result, error) {
	id, err := r.resolver.Resolve(ctx, snap.CustomerID, snap.SubscriberID())
	if errors.Is(err, ErrNoMatchingUser) {
		return r.unresolved(res, snap.CustomerID), nil
	}
	if err != nil {
		return res, err
	}
	return r.write(ctx, res, id, snap)
}

func (r *Reconciler) fetch(ctx context.Context, subscriptionID string) (Snapshot, error) {
	snap, err := r.provider.Subscription(ctx, subscriptionID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: get subscription %s: %w", ErrProvider, subscriptionID, err)
	}
	return snap, nil
}

// write plans res.Trigger against snap and applies it to subscriber id.
func (r *Reconciler) write(ctx context.Context, res Result, id string, snap Snapshot) (Result, error) {
	now := r.now()
	patch, err := Plan(res.Trigger, snap, now)
	if err != nil {
		return res, err
	}

	sub, err := r.store.Apply(ctx, id, patch, now)
	if errors.Is(err, store.ErrNotFound) {
		return r.unresolved(res, snap.CustomerID), nil
	}
	if err != nil {
		return res, fmt.Errorf("%w: apply %s to %s: %w", ErrPersistence, res.Trigger, id, err)
	}

	res.Outcome = model.OutcomeApplied
	res.SubscriberID = sub.ID
	res.Subscriber = sub
	r.logger.Info("subscriber reconciled",
		"trigger", res.Trigger,
		"subscriber_id", sub.ID,
		"status", sub.SubscriptionStatus,
		"entitled", sub.IsSubscribed,
	)
	r.publish(res)
	return res, nil
}

func (r *Reconciler) ignored(res Result, reason string) Result {
	res.Outcome = model.OutcomeIgnored
	r.logger.Debug("event ignored", "kind", res.Kind, "reason", reason)
	return res
}

func (r *Reconciler) unresolved(res Result, customerID string) Result {
	res.Outcome = model.OutcomeNoMatchingUser
	r.logger.Warn("no matching subscriber", "kind", res.Kind, "customer_id", customerID)
	r.publish(res)
	return res
}

func (r *Reconciler) publish(res Result) {
	if r.listener != nil {
		r.listener(res)
	}
}

func (r *Reconciler) notifyPaymentFailed(ctx context.Context, e InvoicePaymentFailed) {
	if r.notifier == nil || e.CustomerEmail == "" {
		return
	}
	if err := r.notifier.PaymentFailed(ctx, e.CustomerEmail); err != nil {
		r.logger.Error("send payment failed notice", "invoice_id", e.InvoiceID, "error", err)
	}
}
