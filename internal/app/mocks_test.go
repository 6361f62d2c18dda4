package app

import (
	"context"
	"fmt"

	"github.com/pscheid92/councilcast/internal/domain"
)

// --- Mock implementations ---

type mockRegistry struct {
	putFn    func(ctx context.Context, conn domain.Connection) error
	deleteFn func(ctx context.Context, connectionID string) error
	getFn    func(ctx context.Context, connectionID string) (*domain.Connection, error)
	queryFn  func(ctx context.Context, conversationID string) ([]domain.Connection, error)
}

func (m *mockRegistry) Put(ctx context.Context, conn domain.Connection) error {
	if m.putFn != nil {
		return m.putFn(ctx, conn)
	}
	return nil
}

func (m *mockRegistry) Delete(ctx context.Context, connectionID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, connectionID)
	}
	return nil
}

func (m *mockRegistry) Get(ctx context.Context, connectionID string) (*domain.Connection, error) {
	if m.getFn != nil {
		return m.getFn(ctx, connectionID)
	}
	return nil, domain.ErrConnectionNotFound
}

func (m *mockRegistry) QueryByConversation(ctx context.Context, conversationID string) ([]domain.Connection, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, conversationID)
	}
	return nil, fmt.Errorf("not implemented")
}

type mockMessageRepo struct {
	insertFn     func(ctx context.Context, msg domain.StoredMessage) error
	listRecentFn func(ctx context.Context, conversationID string, limit int) ([]domain.StoredMessage, error)
}

func (m *mockMessageRepo) Insert(ctx context.Context, msg domain.StoredMessage) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, msg)
	}
	return nil
}

func (m *mockMessageRepo) ListRecent(ctx context.Context, conversationID string, limit int) ([]domain.StoredMessage, error) {
	if m.listRecentFn != nil {
		return m.listRecentFn(ctx, conversationID, limit)
	}
	return nil, nil
}

type mockPublisher struct {
	publishFn func(ctx context.Context, event domain.ChangeEvent) error
}

func (m *mockPublisher) Publish(ctx context.Context, event domain.ChangeEvent) error {
	if m.publishFn != nil {
		return m.publishFn(ctx, event)
	}
	return nil
}
