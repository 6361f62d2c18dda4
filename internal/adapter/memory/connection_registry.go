package memory

import (
	"context"
	"sync"

	"github.com/pscheid92/councilcast/internal/domain"
)

// ConnectionRegistry keeps connection records in process memory for single-instance mode.
// The conversation index mirrors the secondary index of the durable backends.
type ConnectionRegistry struct {
	mu             sync.RWMutex
	connections    map[string]domain.Connection
	byConversation map[string]map[string]struct{}
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		connections:    make(map[string]domain.Connection),
		byConversation: make(map[string]map[string]struct{}),
	}
}

var _ domain.ConnectionRegistry = (*ConnectionRegistry)(nil)

func (r *ConnectionRegistry) Put(_ context.Context, conn domain.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.connections[conn.ID]; exists {
		r.unindex(old)
	}
	r.connections[conn.ID] = conn

	ids, ok := r.byConversation[conn.ConversationID]
	if !ok {
		ids = make(map[string]struct{})
		r.byConversation[conn.ConversationID] = ids
	}
	ids[conn.ID] = struct{}{}
	return nil
}

func (r *ConnectionRegistry) Delete(_ context.Context, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.connections[connectionID]
	if !exists {
		return nil
	}
	r.unindex(conn)
	delete(r.connections, connectionID)
	return nil
}

func (r *ConnectionRegistry) Get(_ context.Context, connectionID string) (*domain.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[connectionID]
	if !exists {
		return nil, domain.ErrConnectionNotFound
	}
	return &conn, nil
}

func (r *ConnectionRegistry) QueryByConversation(_ context.Context, conversationID string) ([]domain.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byConversation[conversationID]
	result := make([]domain.Connection, 0, len(ids))
	for id := range ids {
		result = append(result, r.connections[id])
	}
	return result, nil
}

// Len returns the number of stored connections.
func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// unindex must be called with mu held.
func (r *ConnectionRegistry) unindex(conn domain.Connection) {
	ids := r.byConversation[conn.ConversationID]
	delete(ids, conn.ID)
	if len(ids) == 0 {
		delete(r.byConversation, conn.ConversationID)
	}
}
