package stripe

import (
	"encoding/json"
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/subsync/internal/billing/reconcile"
)

// DecodeEvent converts a verified Stripe event into a reconcile.Event.
// Event types the reconciler does not consume return reconcile.ErrUnhandledEvent.
func DecodeEvent(event stripe.Event) (reconcile.Event, error) {
	if event.Data == nil {
		return nil, fmt.Errorf("decode %s: event has no data", event.Type)
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("unmarshal checkout session: %w", err)
		}
		ev := reconcile.CheckoutCompleted{
			SessionID:    sess.ID,
			SubscriberID: sess.ClientReferenceID,
		}
		if ev.SubscriberID == "" {
			ev.SubscriberID = sess.Metadata[reconcile.MetadataSubscriberID]
		}
		if sess.Customer != nil {
			ev.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			ev.SubscriptionID = sess.Subscription.ID
		}
		return ev, nil

	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("unmarshal subscription: %w", err)
		}
		snap := snapshotFromStripe(&sub)
		switch event.Type {
		case stripe.EventTypeCustomerSubscriptionCreated:
			return reconcile.SubscriptionCreated{Subscription: snap}, nil
		case stripe.EventTypeCustomerSubscriptionUpdated:
			return reconcile.SubscriptionUpdated{Subscription: snap}, nil
		default:
			return reconcile.SubscriptionDeleted{Subscription: snap}, nil
		}

	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentSucceeded:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("unmarshal invoice: %w", err)
		}
		f := invoiceFieldsOf(inv)
		return reconcile.InvoicePaymentSucceeded{
			InvoiceID:      f.invoiceID,
			CustomerID:     f.customerID,
			CustomerEmail:  f.email,
			SubscriptionID: f.subscriptionID,
			SubscriberID:   f.subscriberID,
		}, nil

	case stripe.EventTypeInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("unmarshal invoice: %w", err)
		}
		f := invoiceFieldsOf(inv)
		return reconcile.InvoicePaymentFailed{
			InvoiceID:      f.invoiceID,
			CustomerID:     f.customerID,
			CustomerEmail:  f.email,
			SubscriptionID: f.subscriptionID,
			SubscriberID:   f.subscriberID,
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", reconcile.ErrUnhandledEvent, event.Type)
}

type invoiceFields struct {
	invoiceID      string
	customerID     string
	email          string
	subscriptionID string
	subscriberID   string
}

func invoiceFieldsOf(inv stripe.Invoice) invoiceFields {
	f := invoiceFields{invoiceID: inv.ID, email: inv.CustomerEmail}
	if inv.Customer != nil {
		f.customerID = inv.Customer.ID
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		details := inv.Parent.SubscriptionDetails
		if details.Subscription != nil {
			f.subscriptionID = details.Subscription.ID
		}
		f.subscriberID = details.Metadata[reconcile.MetadataSubscriberID]
	}
	return f
}
