package reconcile

import (
	"time"

	"github.com/dukerupert/subsync/internal/billing/model"
)

// MetadataSubscriberID is the metadata key carrying the local subscriber id on
// checkout sessions and subscriptions created by the portal.
const MetadataSubscriberID = "subscriber_id"

// Snapshot is the provider's view of one subscription at a point in time.
type Snapshot struct {
	ID         string
	CustomerID string
	Status     model.Status
	PeriodEnd  *time.Time
	Metadata   map[string]string
}

// SubscriberID returns the local subscriber id carried in the snapshot's metadata.
func (s Snapshot) SubscriberID() string {
	return s.Metadata[MetadataSubscriberID]
}

// Kind names an event variant.
type Kind string

const (
	KindCheckoutCompleted       Kind = "checkout_completed"
	KindSubscriptionCreated     Kind = "subscription_created"
	KindSubscriptionUpdated     Kind = "subscription_updated"
	KindSubscriptionDeleted     Kind = "subscription_deleted"
	KindInvoicePaymentSucceeded Kind = "invoice_payment_succeeded"
	KindInvoicePaymentFailed    Kind = "invoice_payment_failed"
)

// AllKinds lists every event variant Apply must handle.
var AllKinds = []Kind{
	KindCheckoutCompleted,
	KindSubscriptionCreated,
	KindSubscriptionUpdated,
	KindSubscriptionDeleted,
	KindInvoicePaymentSucceeded,
	KindInvoicePaymentFailed,
}

// Event is a provider notification decoded into one of the variants below.
// The set is closed: only types in this package implement it.
type Event interface {
	Kind() Kind
	isEvent()
}

type CheckoutCompleted struct {
	SessionID      string
	CustomerID     string
	SubscriptionID string
	// SubscriberID is the client reference or metadata id set at checkout.
	SubscriberID string
}

type SubscriptionCreated struct{ Subscription Snapshot }

type SubscriptionUpdated struct{ Subscription Snapshot }

type SubscriptionDeleted struct{ Subscription Snapshot }

type InvoicePaymentSucceeded struct {
	InvoiceID      string
	CustomerID     string
	CustomerEmail  string
	SubscriptionID string
	SubscriberID   string
}

type InvoicePaymentFailed struct {
	InvoiceID      string
	CustomerID     string
	CustomerEmail  string
	SubscriptionID string
	SubscriberID   string
}

func (CheckoutCompleted) Kind() Kind       { return KindCheckoutCompleted }
func (SubscriptionCreated) Kind() Kind     { return KindSubscriptionCreated }
func (SubscriptionUpdated) Kind() Kind     { return KindSubscriptionUpdated }
func (SubscriptionDeleted) Kind() Kind     { return KindSubscriptionDeleted }
func (InvoicePaymentSucceeded) Kind() Kind { return KindInvoicePaymentSucceeded }
func (InvoicePaymentFailed) Kind() Kind    { return KindInvoicePaymentFailed }

func (CheckoutCompleted) isEvent()       {}
func (SubscriptionCreated) isEvent()     {}
func (SubscriptionUpdated) isEvent()     {}
func (SubscriptionDeleted) isEvent()     {}
func (InvoicePaymentSucceeded) isEvent() {}
func (InvoicePaymentFailed) isEvent()    {}
