package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pscheid92/councilcast/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// Redis hash field names for connection keys.
	fieldConnectionID   = "connection_id"
	fieldConversationID = "conversation_id"
	fieldConnectedAt    = "connected_at"
	fieldEndpoint       = "endpoint"
)

func connectionKey(connectionID string) string {
	return "connection:" + connectionID
}

func conversationIndexKey(conversationID string) string {
	return "conversation:" + conversationID + ":connections"
}

// ConnectionRegistry stores each connection as a hash and keeps one set per
// conversation as the lookup index. The hash is authoritative: index members
// whose hash is missing or points elsewhere are dropped on read.
type ConnectionRegistry struct {
	rdb goredis.UniversalClient
}

var _ domain.ConnectionRegistry = (*ConnectionRegistry)(nil)

func NewConnectionRegistry(rdb goredis.UniversalClient) *ConnectionRegistry {
	return &ConnectionRegistry{rdb: rdb}
}

func (r *ConnectionRegistry) Put(ctx context.Context, conn domain.Connection) error {
	key := connectionKey(conn.ID)

	previous, err := r.rdb.HGet(ctx, key, fieldConversationID).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("failed to read connection %s: %w", conn.ID, err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if previous != "" && previous != conn.ConversationID {
			pipe.SRem(ctx, conversationIndexKey(previous), conn.ID)
		}
		pipe.HSet(ctx, key,
			fieldConnectionID, conn.ID,
			fieldConversationID, conn.ConversationID,
			fieldConnectedAt, conn.ConnectedAt.UTC().Format(time.RFC3339Nano),
			fieldEndpoint, conn.Endpoint,
		)
		pipe.SAdd(ctx, conversationIndexKey(conn.ConversationID), conn.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store connection %s: %w", conn.ID, err)
	}
	return nil
}

func (r *ConnectionRegistry) Delete(ctx context.Context, connectionID string) error {
	key := connectionKey(connectionID)

	conversationID, err := r.rdb.HGet(ctx, key, fieldConversationID).Result()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read connection %s: %w", connectionID, err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, conversationIndexKey(conversationID), connectionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete connection %s: %w", connectionID, err)
	}
	return nil
}

func (r *ConnectionRegistry) Get(ctx context.Context, connectionID string) (*domain.Connection, error) {
	fields, err := r.rdb.HGetAll(ctx, connectionKey(connectionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read connection %s: %w", connectionID, err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrConnectionNotFound
	}

	conn, err := parseConnection(connectionID, fields)
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *ConnectionRegistry) QueryByConversation(ctx context.Context, conversationID string) ([]domain.Connection, error) {
	indexKey := conversationIndexKey(conversationID)

	ids, err := r.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation index %s: %w", conversationID, err)
	}
	if len(ids) == 0 {
		return []domain.Connection{}, nil
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err = r.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, connectionKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load connections of %s: %w", conversationID, err)
	}

	result := make([]domain.Connection, 0, len(ids))
	var stale []any
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 || fields[fieldConversationID] != conversationID {
			stale = append(stale, ids[i])
			continue
		}
		conn, err := parseConnection(ids[i], fields)
		if err != nil {
			slog.WarnContext(ctx, "Skipping unreadable connection record", "connection_id", ids[i], "error", err)
			continue
		}
		result = append(result, conn)
	}

	if len(stale) > 0 {
		if err := r.rdb.SRem(ctx, indexKey, stale...).Err(); err != nil {
			slog.WarnContext(ctx, "Failed to drop stale index members", "conversation_id", conversationID, "error", err)
		}
	}
	return result, nil
}

func parseConnection(connectionID string, fields map[string]string) (domain.Connection, error) {
	connectedAt, err := time.Parse(time.RFC3339Nano, fields[fieldConnectedAt])
	if err != nil {
		return domain.Connection{}, fmt.Errorf("invalid connected_at for connection %s: %w", connectionID, err)
	}
	return domain.Connection{
		ID:             connectionID,
		ConversationID: fields[fieldConversationID],
		ConnectedAt:    connectedAt,
		Endpoint:       fields[fieldEndpoint],
	}, nil
}
