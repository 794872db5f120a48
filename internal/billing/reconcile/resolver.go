package reconcile

import (
	"context"
	"fmt"

	"github.com/dukerupert/subsync/internal/billing/model"
)

// CustomerLookup finds the subscriber bound to a provider customer.
type CustomerLookup interface {
	GetByCustomerID(ctx context.Context, customerID string) (*model.Subscriber, error)
}

// Resolver maps provider identifiers to a local subscriber id.
type Resolver struct {
	lookup CustomerLookup
}

func NewResolver(lookup CustomerLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve returns the subscriber id for an event. An explicit subscriberID
// from event metadata is trusted as-is; otherwise the customer binding is
// looked up. It returns ErrNoMatchingUser when neither resolves.
func (r *Resolver) Resolve(ctx context.Context, customerID, subscriberID string) (string, error) {
	if subscriberID != "" {
		return subscriberID, nil
	}
	if customerID == "" {
		return "", ErrNoMatchingUser
	}

	sub, err := r.lookup.GetByCustomerID(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("%w: resolve customer %s: %w", ErrPersistence, customerID, err)
	}
	if sub == nil {
		return "", ErrNoMatchingUser
	}
	return sub.ID, nil
}
