package httpserver

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/councilcast/internal/app"
	"github.com/pscheid92/councilcast/internal/broadcast"
	"github.com/pscheid92/councilcast/internal/domain"
	"github.com/pscheid92/councilcast/internal/platform/config"
)

// --- Mock implementations ---

type mockLifecycle struct {
	onConnectFn    func(ctx context.Context, connectionID string) error
	onDisconnectFn func(ctx context.Context, connectionID string) error
}

func (m *mockLifecycle) OnConnect(ctx context.Context, connectionID string) error {
	if m.onConnectFn != nil {
		return m.onConnectFn(ctx, connectionID)
	}
	return nil
}

func (m *mockLifecycle) OnDisconnect(ctx context.Context, connectionID string) error {
	if m.onDisconnectFn != nil {
		return m.onDisconnectFn(ctx, connectionID)
	}
	return nil
}

type mockMessages struct {
	writeFn      func(ctx context.Context, req app.WriteMessageRequest) (*domain.StoredMessage, error)
	listRecentFn func(ctx context.Context, conversationID string, limit int) ([]domain.StoredMessage, error)
}

func (m *mockMessages) Write(ctx context.Context, req app.WriteMessageRequest) (*domain.StoredMessage, error) {
	if m.writeFn != nil {
		return m.writeFn(ctx, req)
	}
	return &domain.StoredMessage{}, nil
}

func (m *mockMessages) ListRecent(ctx context.Context, conversationID string, limit int) ([]domain.StoredMessage, error) {
	if m.listRecentFn != nil {
		return m.listRecentFn(ctx, conversationID, limit)
	}
	return []domain.StoredMessage{}, nil
}

type mockDispatcher struct {
	processBatchFn func(ctx context.Context, events []domain.ChangeEvent) broadcast.BatchReport
}

func (m *mockDispatcher) ProcessBatch(ctx context.Context, events []domain.ChangeEvent) broadcast.BatchReport {
	if m.processBatchFn != nil {
		return m.processBatchFn(ctx, events)
	}
	return broadcast.BatchReport{Events: len(events)}
}

type mockGateway struct {
	pushFn  func(ctx context.Context, connectionID string, payload []byte) error
	closeFn func(ctx context.Context, connectionID string) error
}

func (m *mockGateway) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusTeapot)
}

func (m *mockGateway) Push(ctx context.Context, connectionID string, payload []byte) error {
	if m.pushFn != nil {
		return m.pushFn(ctx, connectionID, payload)
	}
	return nil
}

func (m *mockGateway) Close(ctx context.Context, connectionID string) error {
	if m.closeFn != nil {
		return m.closeFn(ctx, connectionID)
	}
	return nil
}

// --- Test helpers ---

var testStart = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, opts ...func(*Dependencies)) *Server {
	t.Helper()

	deps := Dependencies{
		Connections: &mockLifecycle{},
		Messages:    &mockMessages{},
		Dispatcher:  &mockDispatcher{},
		Clock:       clockwork.NewFakeClockAt(testStart),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return NewServer(&config.Config{Port: "0"}, deps)
}

func withLifecycle(l lifecycleService) func(*Dependencies) {
	return func(d *Dependencies) { d.Connections = l }
}

func withMessages(m messageService) func(*Dependencies) {
	return func(d *Dependencies) { d.Messages = m }
}

func withDispatcher(p batchProcessor) func(*Dependencies) {
	return func(d *Dependencies) { d.Dispatcher = p }
}

func withGateway(g localGateway) func(*Dependencies) {
	return func(d *Dependencies) { d.Gateway = g }
}

func withHealthChecks(checks ...HealthCheck) func(*Dependencies) {
	return func(d *Dependencies) { d.HealthChecks = checks }
}
