package app

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/councilcast/internal/changefeed"
	"github.com/pscheid92/councilcast/internal/domain"
	apperrors "github.com/pscheid92/councilcast/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var writeTime = time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

func TestMessageID_Deterministic(t *testing.T) {
	id := MessageID("hello", "2026-01-15T10:30:00Z", "HighPriest")
	assert.Equal(t, "470e47d63f841e30", id)
	assert.Equal(t, id, MessageID("hello", "2026-01-15T10:30:00Z", "HighPriest"))
	assert.NotEqual(t, id, MessageID("hello", "2026-01-15T10:30:01Z", "HighPriest"))
}

func TestConversationID_PerUTCDay(t *testing.T) {
	assert.Equal(t, "b94a975b4c4909c3", ConversationID(writeTime))
	assert.Equal(t, ConversationID(writeTime), ConversationID(writeTime.Add(13*time.Hour)))
	assert.NotEqual(t, ConversationID(writeTime), ConversationID(writeTime.Add(14*time.Hour)))

	// 23:30 in UTC-5 is already the next UTC day
	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, ConversationID(time.Date(2026, 1, 16, 4, 30, 0, 0, time.UTC)), ConversationID(time.Date(2026, 1, 15, 23, 30, 0, 0, est)))
}

func TestWrite_StoresAndPublishes(t *testing.T) {
	var stored domain.StoredMessage
	var published domain.ChangeEvent
	store := &mockMessageRepo{insertFn: func(_ context.Context, msg domain.StoredMessage) error {
		stored = msg
		return nil
	}}
	publisher := &mockPublisher{publishFn: func(_ context.Context, event domain.ChangeEvent) error {
		published = event
		return nil
	}}
	svc := NewMessageService(store, publisher, clockwork.NewFakeClockAt(writeTime))

	msg, err := svc.Write(context.Background(), WriteMessageRequest{
		Content:   "hello",
		AgentName: "HighPriest",
		Metadata:  map[string]any{"mood": "solemn"},
	})
	require.NoError(t, err)

	assert.Equal(t, "470e47d63f841e30", msg.ID)
	assert.Equal(t, "b94a975b4c4909c3", msg.ConversationID)
	assert.Equal(t, "assistant", msg.Role)
	assert.Equal(t, *msg, stored)

	assert.Equal(t, domain.EventInsert, published.EventName)
	assert.NotEmpty(t, published.EventID)
	decoded := changefeed.Decode(published.Change.NewImage)
	assert.Equal(t, "b94a975b4c4909c3", decoded.ConversationID())
	assert.Equal(t, "2026-01-15T10:30:00Z", decoded[domain.FieldTimestamp])
	assert.Equal(t, map[string]any{"mood": "solemn"}, decoded[domain.FieldMetadata])
	assert.Equal(t, "470e47d63f841e30", published.Change.Keys[domain.FieldID].S)
}

func TestWrite_WithoutStore(t *testing.T) {
	published := 0
	publisher := &mockPublisher{publishFn: func(context.Context, domain.ChangeEvent) error {
		published++
		return nil
	}}
	svc := NewMessageService(nil, publisher, clockwork.NewFakeClockAt(writeTime))

	msg, err := svc.Write(context.Background(), WriteMessageRequest{Content: "hi", AgentName: "Whispers", Role: "user"})
	require.NoError(t, err)
	assert.Equal(t, "user", msg.Role)
	assert.Equal(t, map[string]any{}, msg.Metadata)
	assert.Equal(t, 1, published)
}

func TestWrite_Errors(t *testing.T) {
	tests := []struct {
		name       string
		req        WriteMessageRequest
		insertErr  error
		publishErr error
		wantStatus int
	}{
		{"missing content", WriteMessageRequest{AgentName: "a"}, nil, nil, http.StatusBadRequest},
		{"missing agent", WriteMessageRequest{Content: "c"}, nil, nil, http.StatusBadRequest},
		{"store fails", WriteMessageRequest{Content: "c", AgentName: "a"}, errors.New("db down"), nil, http.StatusInternalServerError},
		{"publish fails", WriteMessageRequest{Content: "c", AgentName: "a"}, nil, errors.New("redis down"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockMessageRepo{insertFn: func(context.Context, domain.StoredMessage) error { return tt.insertErr }}
			publisher := &mockPublisher{publishFn: func(context.Context, domain.ChangeEvent) error { return tt.publishErr }}
			svc := NewMessageService(store, publisher, clockwork.NewFakeClockAt(writeTime))

			_, err := svc.Write(context.Background(), tt.req)

			require.Error(t, err)
			assert.Equal(t, tt.wantStatus, apperrors.AsStructuredError(err).HTTPStatus())
		})
	}
}

func TestListRecent(t *testing.T) {
	var gotLimit int
	store := &mockMessageRepo{listRecentFn: func(_ context.Context, _ string, limit int) ([]domain.StoredMessage, error) {
		gotLimit = limit
		return []domain.StoredMessage{{ID: "a"}, {ID: "b"}}, nil
	}}
	svc := NewMessageService(store, &mockPublisher{}, clockwork.NewFakeClock())

	msgs, err := svc.ListRecent(context.Background(), "conv-1", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Equal(t, DefaultRecentLimit, gotLimit)

	_, err = svc.ListRecent(context.Background(), "conv-1", MaxRecentLimit+1)
	assert.Equal(t, http.StatusBadRequest, apperrors.AsStructuredError(err).HTTPStatus())
}

func TestListRecent_StoreDisabled(t *testing.T) {
	svc := NewMessageService(nil, &mockPublisher{}, clockwork.NewFakeClock())

	_, err := svc.ListRecent(context.Background(), "conv-1", 5)

	assert.Equal(t, http.StatusNotFound, apperrors.AsStructuredError(err).HTTPStatus())
}
