package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/councilcast/internal/domain"
	apperrors "github.com/pscheid92/councilcast/internal/platform/errors"
)

// ConnectionService keeps the connection registry in step with the transport's
// connect, disconnect and subscribe signals.
type ConnectionService struct {
	registry domain.ConnectionRegistry
	clock    clockwork.Clock
	endpoint string
}

type ConnectionOption func(*ConnectionService)

// WithEndpoint stamps new connections with the management address of this
// instance, so deliveries from other instances are routed here.
func WithEndpoint(endpoint string) ConnectionOption {
	return func(s *ConnectionService) { s.endpoint = endpoint }
}

func NewConnectionService(registry domain.ConnectionRegistry, clock clockwork.Clock, opts ...ConnectionOption) *ConnectionService {
	s := &ConnectionService{registry: registry, clock: clock}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnConnect records a new, not-yet-subscribed connection.
func (s *ConnectionService) OnConnect(ctx context.Context, connectionID string) error {
	if connectionID == "" {
		return apperrors.ValidationError("connection id is required")
	}

	conn := domain.Connection{
		ID:             connectionID,
		ConversationID: domain.Unsubscribed,
		ConnectedAt:    s.clock.Now().UTC(),
		Endpoint:       s.endpoint,
	}
	if err := s.registry.Put(ctx, conn); err != nil {
		slog.ErrorContext(ctx, "Failed to register connection", "connection_id", connectionID, "error", err)
		return apperrors.InternalError("failed to connect", err).WithField("connection_id", connectionID)
	}

	slog.InfoContext(ctx, "Connection registered", "connection_id", connectionID)
	return nil
}

// OnDisconnect removes the connection record. Unknown IDs succeed.
func (s *ConnectionService) OnDisconnect(ctx context.Context, connectionID string) error {
	if connectionID == "" {
		return apperrors.ValidationError("connection id is required")
	}

	if err := s.registry.Delete(ctx, connectionID); err != nil {
		slog.ErrorContext(ctx, "Failed to remove connection", "connection_id", connectionID, "error", err)
		return apperrors.InternalError("failed to disconnect", err).WithField("connection_id", connectionID)
	}

	slog.InfoContext(ctx, "Connection removed", "connection_id", connectionID)
	return nil
}

// Subscribe attaches an existing connection to a conversation, keeping its
// original connect time.
func (s *ConnectionService) Subscribe(ctx context.Context, connectionID, conversationID string) error {
	if conversationID == "" || conversationID == domain.Unsubscribed {
		return apperrors.ValidationError("conversation_id is required").WithField("connection_id", connectionID)
	}

	conn, err := s.registry.Get(ctx, connectionID)
	if errors.Is(err, domain.ErrConnectionNotFound) {
		return apperrors.NotFoundError("connection not found").WithField("connection_id", connectionID)
	}
	if err != nil {
		return apperrors.InternalError("failed to load connection", err).WithField("connection_id", connectionID)
	}

	conn.ConversationID = conversationID
	if err := s.registry.Put(ctx, *conn); err != nil {
		return apperrors.InternalError("failed to subscribe", err).
			WithField("connection_id", connectionID).
			WithField("conversation_id", conversationID)
	}

	slog.InfoContext(ctx, "Connection subscribed", "connection_id", connectionID, "conversation_id", conversationID)
	return nil
}
