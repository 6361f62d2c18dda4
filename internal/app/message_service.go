package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/councilcast/internal/changefeed"
	"github.com/pscheid92/councilcast/internal/domain"
	apperrors "github.com/pscheid92/councilcast/internal/platform/errors"
)

const (
	DefaultRecentLimit = 11
	MaxRecentLimit     = 500
	defaultRole        = "assistant"
)

type WriteMessageRequest struct {
	Content   string         `json:"content"`
	AgentName string         `json:"agent_name"`
	Role      string         `json:"role"`
	Metadata  map[string]any `json:"metadata"`
}

// MessageService is the write path of chat messages: it stamps IDs, persists the
// record when a store is configured and appends an INSERT event to the change feed.
type MessageService struct {
	store     domain.MessageRepository // nil when persistence is disabled
	publisher domain.ChangeFeedPublisher
	clock     clockwork.Clock
}

func NewMessageService(store domain.MessageRepository, publisher domain.ChangeFeedPublisher, clock clockwork.Clock) *MessageService {
	return &MessageService{store: store, publisher: publisher, clock: clock}
}

// Write builds, stores and publishes a message.
func (s *MessageService) Write(ctx context.Context, req WriteMessageRequest) (*domain.StoredMessage, error) {
	if req.Content == "" {
		return nil, apperrors.ValidationError("content is required")
	}
	if req.AgentName == "" {
		return nil, apperrors.ValidationError("agent_name is required")
	}

	now := s.clock.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	role := req.Role
	if role == "" {
		role = defaultRole
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	msg := domain.StoredMessage{
		ID:             MessageID(req.Content, timestamp, req.AgentName),
		ConversationID: ConversationID(now),
		AgentName:      req.AgentName,
		Timestamp:      now,
		Role:           role,
		Content:        req.Content,
		Metadata:       metadata,
	}

	if s.store != nil {
		if err := s.store.Insert(ctx, msg); err != nil {
			return nil, apperrors.InternalError("failed to store message", err).WithField("message_id", msg.ID)
		}
	}

	event := changefeed.NewInsertEvent(uuid.NewString(), domain.Message{
		domain.FieldID:             msg.ID,
		domain.FieldConversationID: msg.ConversationID,
		domain.FieldAgentName:      msg.AgentName,
		domain.FieldTimestamp:      timestamp,
		domain.FieldRole:           msg.Role,
		domain.FieldContent:        msg.Content,
		domain.FieldMetadata:       msg.Metadata,
	})
	if err := s.publisher.Publish(ctx, event); err != nil {
		return nil, apperrors.ExternalError("failed to publish message", err).WithField("message_id", msg.ID)
	}

	slog.InfoContext(ctx, "Message written",
		"message_id", msg.ID, "conversation_id", msg.ConversationID, "agent_name", msg.AgentName)
	return &msg, nil
}

// ListRecent returns up to limit of the newest messages of a conversation, oldest first.
func (s *MessageService) ListRecent(ctx context.Context, conversationID string, limit int) ([]domain.StoredMessage, error) {
	if s.store == nil {
		return nil, apperrors.NotFoundError("message store is disabled")
	}
	if conversationID == "" {
		return nil, apperrors.ValidationError("conversation id is required")
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		return nil, apperrors.ValidationError(fmt.Sprintf("limit must not exceed %d", MaxRecentLimit))
	}

	msgs, err := s.store.ListRecent(ctx, conversationID, limit)
	if err != nil {
		return nil, apperrors.InternalError("failed to list messages", err).WithField("conversation_id", conversationID)
	}
	return msgs, nil
}

// MessageID derives the deterministic 16-hex-character ID of a message.
func MessageID(content, timestamp, agentName string) string {
	sum := sha256.Sum256([]byte(content + timestamp + agentName))
	return hex.EncodeToString(sum[:])[:16]
}

// ConversationID derives the conversation of the UTC day containing t.
func ConversationID(t time.Time) string {
	sum := sha256.Sum256([]byte(t.UTC().Format(time.DateOnly)))
	return hex.EncodeToString(sum[:])[:16]
}
