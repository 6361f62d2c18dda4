package domain

import (
	"context"
	"time"
)

// Unsubscribed is the conversation ID of a connection that has not subscribed yet.
const Unsubscribed = "UNSUBSCRIBED"

type Connection struct {
	ID             string    `json:"connection_id"`
	ConversationID string    `json:"conversation_id"`
	ConnectedAt    time.Time `json:"connected_at"`
	// Endpoint is the management address of the instance holding the socket.
	// Empty when a single external gateway holds every connection.
	Endpoint string `json:"endpoint,omitempty"`
}

// Subscribed reports whether the connection is attached to a conversation.
func (c Connection) Subscribed() bool {
	return c.ConversationID != "" && c.ConversationID != Unsubscribed
}

// ConnectionRegistry is the durable mapping of connection ID to subscription state.
// Implementations surface storage faults as errors and never retry internally.
type ConnectionRegistry interface {
	// Put inserts or overwrites the record keyed by connection ID. Last write wins.
	Put(ctx context.Context, conn Connection) error
	// Delete removes the record if present. Deleting an absent ID is not an error.
	Delete(ctx context.Context, connectionID string) error
	// Get returns ErrConnectionNotFound when the ID is unknown.
	Get(ctx context.Context, connectionID string) (*Connection, error)
	// QueryByConversation returns all connections subscribed to the conversation, in no
	// particular order. Zero matches is an empty result, not an error.
	QueryByConversation(ctx context.Context, conversationID string) ([]Connection, error)
}

// ConnectionLifecycle reacts to transport connect/disconnect signals.
type ConnectionLifecycle interface {
	OnConnect(ctx context.Context, connectionID string) error
	OnDisconnect(ctx context.Context, connectionID string) error
	Subscribe(ctx context.Context, connectionID, conversationID string) error
}
