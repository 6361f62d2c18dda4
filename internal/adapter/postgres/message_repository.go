package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/councilcast/internal/domain"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Insert(ctx context.Context, msg domain.StoredMessage) error {
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata of message %s: %w", msg.ID, err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, agent_name, timestamp, role, content, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ConversationID, msg.AgentName, msg.Timestamp.UTC(), msg.Role, msg.Content, metadata)
	if err != nil {
		return fmt.Errorf("failed to insert message %s: %w", msg.ID, err)
	}
	return nil
}

// ListRecent returns the newest limit messages of a conversation in chronological order.
func (r *MessageRepo) ListRecent(ctx context.Context, conversationID string, limit int) ([]domain.StoredMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, conversation_id, agent_name, timestamp, role, content, metadata
		FROM messages
		WHERE conversation_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages of %s: %w", conversationID, err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.StoredMessage, error) {
		var m domain.StoredMessage
		var metadata []byte
		if err := row.Scan(&m.ID, &m.ConversationID, &m.AgentName, &m.Timestamp, &m.Role, &m.Content, &metadata); err != nil {
			return m, err
		}
		m.Timestamp = m.Timestamp.UTC()
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return m, fmt.Errorf("invalid metadata of message %s: %w", m.ID, err)
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read messages of %s: %w", conversationID, err)
	}

	slices.Reverse(msgs)
	if msgs == nil {
		msgs = []domain.StoredMessage{}
	}
	return msgs, nil
}
