package domain

import "context"

// Pusher delivers a payload to a single connection.
//
// A nil error means delivered. An error matching ErrGone (errors.Is) means the
// connection no longer exists. Any other error is a delivery failure that may be transient.
type Pusher interface {
	Push(ctx context.Context, connectionID string, payload []byte) error
}

// Deliverer delivers a payload to a registered connection, reaching whichever
// instance holds it. Errors follow the Pusher contract.
type Deliverer interface {
	Deliver(ctx context.Context, conn Connection, payload []byte) error
}
