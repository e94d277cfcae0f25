package typing

import (
	"context"
	"errors"
)

// ErrRejected marks a store failure the store refused outright
// (permission, validation) as opposed to a transient one.
var ErrRejected = errors.New("typing: rejected by store")

// Store is the only thing that touches the remote key-value store. Each
// owner writes exactly one key; readers subscribe to their peer's key.
type Store interface {
	// Publish upserts state under owner, or deletes the record if state is
	// nil.
	Publish(ctx context.Context, owner string, state *TypingState) error

	// Subscribe delivers the current snapshot of peer right away and then
	// one full snapshot per change, in the store's order for that key.
	Subscribe(peer string, onChange func(Snapshot)) Subscription

	// LoadOnce reads owner's record once.
	LoadOnce(ctx context.Context, owner string) (Snapshot, error)
}

type Subscription interface {
	// Unsubscribe stops delivery. Calling it more than once is a no-op.
	Unsubscribe()
}

type Failure int

const (
	FailureNone Failure = iota
	FailureTransient
	FailureRejected
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureTransient:
		return "transient"
	case FailureRejected:
		return "rejected"
	}
	return "unknown"
}

// Classify sorts a store error into the failure taxonomy. Everything not
// explicitly rejected is considered transient.
func Classify(err error) Failure {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrRejected):
		return FailureRejected
	default:
		return FailureTransient
	}
}

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() {
	f()
}
