package reconcile

import "errors"

var (
	// ErrNoMatchingUser means no local subscriber could be resolved for an
	// event. Redelivery cannot fix it, so callers log and acknowledge.
	ErrNoMatchingUser = errors.New("no matching subscriber")

	// ErrUnhandledEvent is returned for provider events outside the Event union.
	ErrUnhandledEvent = errors.New("unhandled event")

	// ErrProvider wraps failures talking to the payment provider.
	ErrProvider = errors.New("provider error")

	// ErrPersistence wraps failures reading or writing the subscriber store.
	ErrPersistence = errors.New("persistence error")

	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrNoCustomer         = errors.New("subscriber has no provider customer id")
	ErrCustomerNotFound   = errors.New("provider customer not found")
)
