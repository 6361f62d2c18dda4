package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/councilcast/internal/domain"
)

// ConnectionRegistry keeps connection records in the websocket_connections table.
// Queries by conversation use the conversation_id index.
type ConnectionRegistry struct {
	pool *pgxpool.Pool
}

var _ domain.ConnectionRegistry = (*ConnectionRegistry)(nil)

func NewConnectionRegistry(pool *pgxpool.Pool) *ConnectionRegistry {
	return &ConnectionRegistry{pool: pool}
}

func (r *ConnectionRegistry) Put(ctx context.Context, conn domain.Connection) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO websocket_connections (connection_id, conversation_id, connected_at, endpoint)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (connection_id) DO UPDATE
		SET conversation_id = EXCLUDED.conversation_id,
		    connected_at = EXCLUDED.connected_at,
		    endpoint = EXCLUDED.endpoint`,
		conn.ID, conn.ConversationID, conn.ConnectedAt.UTC(), conn.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to store connection %s: %w", conn.ID, err)
	}
	return nil
}

func (r *ConnectionRegistry) Delete(ctx context.Context, connectionID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM websocket_connections WHERE connection_id = $1`, connectionID); err != nil {
		return fmt.Errorf("failed to delete connection %s: %w", connectionID, err)
	}
	return nil
}

func (r *ConnectionRegistry) Get(ctx context.Context, connectionID string) (*domain.Connection, error) {
	var conn domain.Connection
	err := r.pool.QueryRow(ctx, `
		SELECT connection_id, conversation_id, connected_at, endpoint
		FROM websocket_connections
		WHERE connection_id = $1`, connectionID).
		Scan(&conn.ID, &conn.ConversationID, &conn.ConnectedAt, &conn.Endpoint)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read connection %s: %w", connectionID, err)
	}
	conn.ConnectedAt = conn.ConnectedAt.UTC()
	return &conn, nil
}

func (r *ConnectionRegistry) QueryByConversation(ctx context.Context, conversationID string) ([]domain.Connection, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT connection_id, conversation_id, connected_at, endpoint
		FROM websocket_connections
		WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections of %s: %w", conversationID, err)
	}

	conns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Connection, error) {
		var c domain.Connection
		err := row.Scan(&c.ID, &c.ConversationID, &c.ConnectedAt, &c.Endpoint)
		c.ConnectedAt = c.ConnectedAt.UTC()
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read connections of %s: %w", conversationID, err)
	}
	if conns == nil {
		conns = []domain.Connection{}
	}
	return conns, nil
}
