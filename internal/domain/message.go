package domain

import (
	"context"
	"time"
)

// Message field names shared by the write path and the broadcast path.
const (
	FieldID             = "id"
	FieldConversationID = "conversation_id"
	FieldAgentName      = "agent_name"
	FieldTimestamp      = "timestamp"
	FieldRole           = "role"
	FieldContent        = "content"
	FieldMetadata       = "metadata"
)

// Message is a decoded chat message record. Values are plain JSON-like values:
// string, json.Number, bool, nil, map[string]any and []any.
type Message map[string]any

// ConversationID returns the routing key of the message, or "" when it is absent
// or not a string.
func (m Message) ConversationID() string {
	cid, _ := m[FieldConversationID].(string)
	return cid
}

// StoredMessage is the persisted form of a chat message.
type StoredMessage struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	AgentName      string         `json:"agent_name"`
	Timestamp      time.Time      `json:"timestamp"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata"`
}

// MessageRepository persists chat messages.
type MessageRepository interface {
	Insert(ctx context.Context, msg StoredMessage) error
	ListRecent(ctx context.Context, conversationID string, limit int) ([]StoredMessage, error)
}

// ChangeFeedPublisher appends change events to the feed the dispatcher consumes.
type ChangeFeedPublisher interface {
	Publish(ctx context.Context, event ChangeEvent) error
}
