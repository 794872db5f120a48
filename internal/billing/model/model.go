package model

import "time"

// Status is the local subscription status. Provider status strings that have
// no local constant (trialing, incomplete, unpaid) are stored as-is.
type Status string

const (
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
	StatusInactive Status = "inactive"
	StatusNone     Status = "none"
)

type Subscriber struct {
	ID                    string     `json:"id"`
	Email                 string     `json:"email"`
	ProviderCustomerID    *string    `json:"provider_customer_id"`
	SubscriptionID        *string    `json:"subscription_id"`
	SubscriptionStatus    Status     `json:"subscription_status"`
	SubscriptionPeriodEnd *time.Time `json:"subscription_period_end"`
	IsSubscribed          bool       `json:"is_subscribed"`
	SubscriptionActive    bool       `json:"subscription_active"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// SubscriptionPatch describes a change to a subscriber's subscription fields.
// Empty CustomerID, SubscriptionID and Status leave the current value alone.
// BindCustomerID sets the customer id only when none is bound yet. PeriodEnd
// replaces the stored period end unless KeepPeriodEnd is set; a nil PeriodEnd
// without KeepPeriodEnd clears it.
type SubscriptionPatch struct {
	CustomerID     string
	BindCustomerID string
	SubscriptionID string
	Status         Status
	PeriodEnd      *time.Time
	KeepPeriodEnd  bool
}

// Entitled reports whether a subscriber with the given status and period end
// is paid up at now. Both subscriber flags are always set from this.
func Entitled(status Status, periodEnd *time.Time, now time.Time) bool {
	return status == StatusActive && periodEnd != nil && periodEnd.After(now)
}

// WithPatch returns a copy of s with p applied at now. The entitlement flags
// and UpdatedAt are recomputed on every call.
func (s Subscriber) WithPatch(p SubscriptionPatch, now time.Time) Subscriber {
	next := s
	if p.CustomerID != "" {
		id := p.CustomerID
		next.ProviderCustomerID = &id
	} else if p.BindCustomerID != "" && (next.ProviderCustomerID == nil || *next.ProviderCustomerID == "") {
		id := p.BindCustomerID
		next.ProviderCustomerID = &id
	}
	if p.SubscriptionID != "" {
		id := p.SubscriptionID
		next.SubscriptionID = &id
	}
	if p.Status != "" {
		next.SubscriptionStatus = p.Status
	}
	if !p.KeepPeriodEnd {
		if p.PeriodEnd != nil {
			t := p.PeriodEnd.UTC()
			next.SubscriptionPeriodEnd = &t
		} else {
			next.SubscriptionPeriodEnd = nil
		}
	}
	entitled := Entitled(next.SubscriptionStatus, next.SubscriptionPeriodEnd, now)
	next.IsSubscribed = entitled
	next.SubscriptionActive = entitled
	next.UpdatedAt = now.UTC()
	return next
}

// Webhook event outcomes recorded in the event log.
const (
	OutcomeApplied        = "applied"
	OutcomeNoMatchingUser = "no_matching_user"
	OutcomeIgnored        = "ignored"
	OutcomeFailed         = "failed"
)

type WebhookEvent struct {
	ID              int64      `json:"id"`
	Provider        string     `json:"provider"`
	ProviderEventID string     `json:"provider_event_id"`
	EventType       string     `json:"event_type"`
	SubscriberID    *string    `json:"subscriber_id,omitempty"`
	Outcome         string     `json:"outcome"`
	ProcessingError string     `json:"processing_error,omitempty"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Done reports whether the event finished processing without error.
func (e *WebhookEvent) Done() bool {
	return e.ProcessedAt != nil && e.ProcessingError == ""
}
