package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukerupert/subsync/internal/billing/model"
	"github.com/dukerupert/subsync/internal/billing/store"
)

// Sync re-derives a subscriber's subscription fields from the provider's
// current state. With ScopeActive only active subscriptions count; with
// ScopeAll the most recent subscription of any status is used.
func (r *Reconciler) Sync(ctx context.Context, subscriberID string, scope Scope) (*model.Subscriber, error) {
	if scope == "" {
		scope = ScopeActive
	}
	sub, err := r.load(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	if sub.ProviderCustomerID == nil || *sub.ProviderCustomerID == "" {
		return nil, fmt.Errorf("sync %s: %w", subscriberID, ErrNoCustomer)
	}
	customerID := *sub.ProviderCustomerID

	latest, err := r.provider.LatestSubscription(ctx, customerID, scope)
	if err != nil {
		return nil, fmt.Errorf("%w: list subscriptions for %s: %w", ErrProvider, customerID, err)
	}

	res := Result{}
	var snap Snapshot
	switch {
	case latest == nil:
		res.Trigger = TriggerRepairNone
	case scope == ScopeAll && latest.Status != model.StatusActive:
		res.Trigger = TriggerSubscriptionUpdated
		snap = *latest
	default:
		res.Trigger = TriggerRepairActive
		snap = *latest
	}
	if snap.CustomerID == "" {
		snap.CustomerID = customerID
	}

	res, err = r.write(ctx, res, subscriberID, snap)
	if err != nil {
		return nil, err
	}
	if res.Subscriber == nil {
		return nil, fmt.Errorf("sync %s: %w", subscriberID, ErrSubscriberNotFound)
	}
	return res.Subscriber, nil
}

// Link binds a provider customer to the subscriber after confirming it exists
// at the provider, then reconciles if the customer has an active subscription.
// The binding is committed before the subscription lookup; when that lookup
// fails the error wraps ErrProvider and the customer stays linked, so a later
// Sync completes the repair.
func (r *Reconciler) Link(ctx context.Context, subscriberID, customerID string) (*model.Subscriber, error) {
	if _, err := r.load(ctx, subscriberID); err != nil {
		return nil, err
	}

	exists, err := r.provider.CustomerExists(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("%w: get customer %s: %w", ErrProvider, customerID, err)
	}
	if !exists {
		return nil, fmt.Errorf("link %s: %w", customerID, ErrCustomerNotFound)
	}

	linked, err := r.store.LinkCustomer(ctx, subscriberID, customerID, r.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("link %s: %w", subscriberID, ErrSubscriberNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: link customer: %w", ErrPersistence, err)
	}
	r.logger.Info("customer linked", "subscriber_id", subscriberID, "customer_id", customerID)

	latest, err := r.provider.LatestSubscription(ctx, customerID, ScopeActive)
	if err != nil {
		return nil, fmt.Errorf("%w: customer %s linked, list subscriptions: %w", ErrProvider, customerID, err)
	}
	if latest == nil {
		return linked, nil
	}

	res, err := r.write(ctx, Result{Trigger: TriggerRepairActive}, subscriberID, *latest)
	if err != nil {
		return nil, err
	}
	if res.Subscriber == nil {
		return nil, fmt.Errorf("link %s: %w", subscriberID, ErrSubscriberNotFound)
	}
	return res.Subscriber, nil
}

func (r *Reconciler) load(ctx context.Context, subscriberID string) (*model.Subscriber, error) {
	sub, err := r.store.GetByID(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("%w: get subscriber %s: %w", ErrPersistence, subscriberID, err)
	}
	if sub == nil {
		return nil, fmt.Errorf("load %s: %w", subscriberID, ErrSubscriberNotFound)
	}
	return sub, nil
}
