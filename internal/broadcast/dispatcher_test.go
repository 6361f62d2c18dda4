package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/councilcast/internal/adapter/memory"
	"github.com/pscheid92/councilcast/internal/adapter/metrics"
	"github.com/pscheid92/councilcast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockRegistry struct {
	domain.ConnectionRegistry
	queryFn  func(ctx context.Context, conversationID string) ([]domain.Connection, error)
	deleteFn func(ctx context.Context, connectionID string) error

	mu      sync.Mutex
	queries []string
	deletes []string
}

func (m *mockRegistry) QueryByConversation(ctx context.Context, conversationID string) ([]domain.Connection, error) {
	m.mu.Lock()
	m.queries = append(m.queries, conversationID)
	m.mu.Unlock()
	if m.queryFn != nil {
		return m.queryFn(ctx, conversationID)
	}
	return nil, nil
}

func (m *mockRegistry) Delete(ctx context.Context, connectionID string) error {
	m.mu.Lock()
	m.deletes = append(m.deletes, connectionID)
	m.mu.Unlock()
	if m.deleteFn != nil {
		return m.deleteFn(ctx, connectionID)
	}
	return nil
}

type mockPusher struct {
	pushFn func(ctx context.Context, connectionID string, payload []byte) error

	mu     sync.Mutex
	pushed map[string][]byte
}

func (m *mockPusher) Push(ctx context.Context, connectionID string, payload []byte) error {
	m.mu.Lock()
	if m.pushed == nil {
		m.pushed = make(map[string][]byte)
	}
	m.pushed[connectionID] = payload
	m.mu.Unlock()
	if m.pushFn != nil {
		return m.pushFn(ctx, connectionID, payload)
	}
	return nil
}

func (m *mockPusher) Deliver(ctx context.Context, conn domain.Connection, payload []byte) error {
	return m.Push(ctx, conn.ID, payload)
}

func (m *mockPusher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pushed)
}

type deliverFunc func(ctx context.Context, conn domain.Connection, payload []byte) error

func (f deliverFunc) Deliver(ctx context.Context, conn domain.Connection, payload []byte) error {
	return f(ctx, conn, payload)
}

// --- Helpers ---

func newTestDispatcher(registry domain.ConnectionRegistry, pusher domain.Deliverer) (*Dispatcher, *metrics.BroadcastMetrics) {
	m := metrics.NewBroadcastMetrics(prometheus.NewRegistry())
	d := NewDispatcher(registry, pusher, m, clockwork.NewFakeClock(), Config{Concurrency: 4})
	return d, m
}

func insertEvent(id string, image map[string]domain.AttributeValue) domain.ChangeEvent {
	return domain.ChangeEvent{
		EventID:   id,
		EventName: domain.EventInsert,
		Change:    domain.StreamRecord{NewImage: image},
	}
}

func messageImage(conversationID, content string) map[string]domain.AttributeValue {
	return map[string]domain.AttributeValue{
		domain.FieldID:             domain.StringValue("msg-" + content),
		domain.FieldConversationID: domain.StringValue(conversationID),
		domain.FieldContent:        domain.StringValue(content),
	}
}

func subscribe(t *testing.T, registry *memory.ConnectionRegistry, conversationID string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, registry.Put(context.Background(), domain.Connection{
			ID: id, ConversationID: conversationID, ConnectedAt: time.Now().UTC(),
		}))
	}
}

// --- Tests ---

func TestProcessBatch_DeliversToSubscribers(t *testing.T) {
	registry := memory.NewConnectionRegistry()
	subscribe(t, registry, "conv-1", "a", "b")
	subscribe(t, registry, "conv-2", "c")
	pusher := &mockPusher{}
	d, _ := newTestDispatcher(registry, pusher)

	report := d.ProcessBatch(context.Background(), []domain.ChangeEvent{
		insertEvent("e1", map[string]domain.AttributeValue{
			domain.FieldConversationID: domain.StringValue("conv-1"),
			domain.FieldContent:        domain.StringValue("hi"),
			domain.FieldMetadata:       domain.MapValue(map[string]domain.AttributeValue{"k": domain.NumberValue("1")}),
		}),
	})

	assert.Equal(t, 1, report.Events)
	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, StatusDelivered, report.Outcomes[0].Status)
	assert.Equal(t, 2, report.Outcomes[0].Recipients)
	require.Equal(t, 2, pusher.count())

	var got map[string]any
	require.NoError(t, json.Unmarshal(pusher.pushed["a"], &got))
	assert.Equal(t, map[string]any{
		"conversation_id": "conv-1",
		"content":         "hi",
		"metadata":        map[string]any{"k": float64(1)},
	}, got)
	assert.Equal(t, pusher.pushed["a"], pusher.pushed["b"])
	assert.NotContains(t, pusher.pushed, "c")
}

func TestProcessBatch_NonInsertEventsSkipped(t *testing.T) {
	registry := &mockRegistry{}
	pusher := &mockPusher{}
	d, m := newTestDispatcher(registry, pusher)

	for _, name := range []domain.EventName{domain.EventModify, domain.EventRemove} {
		event := insertEvent("e", messageImage("conv-1", "x"))
		event.EventName = name

		report := d.ProcessBatch(context.Background(), []domain.ChangeEvent{event})
		assert.Equal(t, StatusSkippedEventType, report.Outcomes[0].Status)
	}

	assert.Empty(t, registry.queries)
	assert.Equal(t, 0, pusher.count())
	assert.InDelta(t, 2, testutil.ToFloat64(m.Events.WithLabelValues(string(StatusSkippedEventType))), 0)
}

func TestProcessBatch_MissingConversationSkipped(t *testing.T) {
	tests := []struct {
		name  string
		image map[string]domain.AttributeValue
	}{
		{"absent", map[string]domain.AttributeValue{domain.FieldContent: domain.StringValue("x")}},
		{"empty string", map[string]domain.AttributeValue{domain.FieldConversationID: domain.StringValue("")}},
		{"null", map[string]domain.AttributeValue{domain.FieldConversationID: domain.NullValue()}},
		{"unsubscribed sentinel", map[string]domain.AttributeValue{domain.FieldConversationID: domain.StringValue(domain.Unsubscribed)}},
		{"no image", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := &mockRegistry{}
			pusher := &mockPusher{}
			d, _ := newTestDispatcher(registry, pusher)

			report := d.ProcessBatch(context.Background(), []domain.ChangeEvent{insertEvent("e", tt.image)})

			assert.Equal(t, StatusSkippedNoConversation, report.Outcomes[0].Status)
			assert.Empty(t, registry.queries)
			assert.Equal(t, 0, pusher.count())
		})
	}
}

func TestProcessBatch_DeliversWithConnectionRecord(t *testing.T) {
	registry := memory.NewConnectionRegistry()
	require.NoError(t, registry.Put(context.Background(), domain.Connection{
		ID: "a", ConversationID: "conv-1", ConnectedAt: time.Now().UTC(), Endpoint: "http://10.0.0.2:8080",
	}))

	var got domain.Connection
	deliverer := deliverFunc(func(_ context.Context, conn domain.Connection, _ []byte) error {
		got = conn
		return nil
	})
	d, _ := newTestDispatcher(registry, deliverer)

	report := d.ProcessBatch(context.Background(), []domain.ChangeEvent{insertEvent("e1", messageImage("conv-1", "hi"))})

	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, "http://10.0.0.2:8080", got.Endpoint)
}

func TestProcessBatch_QueryFailureDoesNotStopBatch(t *testing.T) {
	registry := &mockRegistry{queryFn: func(_ context.Context, cid string) ([]domain.Connection, error) {
		if cid == "broken" {
			return nil, errors.New("provisioned throughput exceeded")
		}
		return []domain.Connection{{ID: "a", ConversationID: cid}}, nil
	}}
	pusher := &mockPusher{}
	d, _ := newTestDispatcher(registry, pusher)

	report := d.ProcessBatch(context.Background(), []domain.ChangeEvent{
		insertEvent("e1", messageImage("broken", "x")),
		insertEvent("e2", messageImage("conv-1", "y")),
	})

	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, StatusQueryFailed, report.Outcomes[0].Status)
	assert.Contains(t, report.Outcomes[0].Error, "throughput")
	assert.Equal(t, StatusDelivered, report.Outcomes[1].Status)
	assert.Equal(t, 1, report.Delivered)
}

func TestProcessBatch_GoneConnectionPruned(t *testing.T) {
	registry := memory.NewConnectionRegistry()
	subscribe(t, registry, "c1", "A", "B")
	pusher := &mockPusher{pushFn: func(_ context.Context, id string, _ []byte) error {
		if id == "B" {
			return fmt.Errorf("post to connection: %w", domain.ErrGone)
		}
		return nil
	}}
	d, m := newTestDispatcher(registry, pusher)

	report := d.ProcessBatch(context.Background(), []domain.ChangeEvent{insertEvent("e1", messageImage("c1", "hello"))})

	outcome := report.Outcomes[0]
	assert.Equal(t, 1, outcome.Delivered)
	assert.Equal(t, 1, outcome.Gone)
	assert.Equal(t, 1, outcome.Pruned)

	_, err := registry.Get(context.Background(), "B")
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
	_, err = registry.Get(context.Background(), "A")
	assert.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Deliveries.WithLabelValues("gone")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Prunes.WithLabelValues("removed")), 0)
}

func TestProcessBatch_OtherDeliveryErrorsKeepConnection(t *testing.T) {
	registry := &mockRegistry{queryFn: func(context.Context, string) ([]domain.Connection, error) {
		return []domain.Connection{{ID: "a"}, {ID: "b"}}, nil
	}}
	pusher := &mockPusher{pushFn: func(_ context.Context, id string, _ []byte) error {
		if id == "a" {
			return errors.New("internal server error")
		}
		return nil
	}}
	d, _ := newTestDispatcher(registry, pusher)

	report := d.ProcessBatch(context.Background(), []domain.ChangeEvent{insertEvent("e1", messageImage("conv-1", "x"))})

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Delivered)
	assert.Empty(t, registry.deletes)
}

func TestProcessBatch_PruneFailureDoesNotStopOtherPrunes(t *testing.T) {
	registry := &mockRegistry{
		queryFn: func(context.Context, string) ([]domain.Connection, error) {
			return []domain.Connection{{ID: "x"}, {ID: "y"}, {ID: "z"}}, nil
		},
		deleteFn: func(_ context.Context, id string) error {
			if id == "y" {
				return errors.New("conditional check failed")
			}
			return nil
		},
	}
	pusher := &mockPusher{pushFn: func(context.Context, string, []byte) error { return domain.ErrGone }}
	d, _ := newTestDispatcher(registry, pusher)

	report := d.ProcessBatch(context.Background(), []domain.ChangeEvent{insertEvent("e1", messageImage("conv-1", "x"))})

	assert.ElementsMatch(t, []string{"x", "y", "z"}, registry.deletes)
	assert.Equal(t, 2, report.Outcomes[0].Pruned)
	assert.Equal(t, 1, report.Outcomes[0].PruneFailed)
	assert.Equal(t, StatusDelivered, report.Outcomes[0].Status)
}

func TestProcessBatch_ZeroSubscribers(t *testing.T) {
	registry := memory.NewConnectionRegistry()
	pusher := &mockPusher{}
	d, _ := newTestDispatcher(registry, pusher)

	report := d.ProcessBatch(context.Background(), []domain.ChangeEvent{insertEvent("e1", messageImage("lonely", "x"))})

	assert.Equal(t, StatusDelivered, report.Outcomes[0].Status)
	assert.Equal(t, 0, report.Outcomes[0].Recipients)
	assert.Equal(t, 0, pusher.count())
}

func TestProcessBatch_EmptyBatch(t *testing.T) {
	d, _ := newTestDispatcher(&mockRegistry{}, &mockPusher{})

	report := d.ProcessBatch(context.Background(), nil)

	assert.Equal(t, 0, report.Events)
	assert.Empty(t, report.Outcomes)
}

func TestProcessBatch_CancelledContextStillCompletes(t *testing.T) {
	registry := memory.NewConnectionRegistry()
	subscribe(t, registry, "conv-1", "a")
	pusher := &mockPusher{pushFn: func(ctx context.Context, _ string, _ []byte) error {
		return ctx.Err()
	}}
	d, _ := newTestDispatcher(registry, pusher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := d.ProcessBatch(ctx, []domain.ChangeEvent{
		insertEvent("e1", messageImage("conv-1", "x")),
		insertEvent("e2", messageImage("conv-1", "y")),
	})

	assert.Equal(t, 2, report.Delivered)
}

func TestProcessBatch_CallsCarryDeadlines(t *testing.T) {
	registry := &mockRegistry{queryFn: func(ctx context.Context, _ string) ([]domain.Connection, error) {
		if _, ok := ctx.Deadline(); !ok {
			return nil, errors.New("query without deadline")
		}
		return []domain.Connection{{ID: "a"}}, nil
	}}
	pusher := &mockPusher{pushFn: func(ctx context.Context, _ string, _ []byte) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("push without deadline")
		}
		return nil
	}}
	d, _ := newTestDispatcher(registry, pusher)

	report := d.ProcessBatch(context.Background(), []domain.ChangeEvent{insertEvent("e1", messageImage("conv-1", "x"))})

	assert.Equal(t, StatusDelivered, report.Outcomes[0].Status)
	assert.Equal(t, 1, report.Delivered)
}

func TestProcessBatch_BoundedDeliveryConcurrency(t *testing.T) {
	conns := make([]domain.Connection, 32)
	for i := range conns {
		conns[i] = domain.Connection{ID: fmt.Sprintf("conn-%d", i)}
	}
	registry := &mockRegistry{queryFn: func(context.Context, string) ([]domain.Connection, error) { return conns, nil }}

	var inFlight, peak atomic.Int32
	pusher := &mockPusher{pushFn: func(context.Context, string, []byte) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}}
	m := metrics.NewBroadcastMetrics(prometheus.NewRegistry())
	d := NewDispatcher(registry, pusher, m, clockwork.NewFakeClock(), Config{Concurrency: 3})

	report := d.ProcessBatch(context.Background(), []domain.ChangeEvent{insertEvent("e1", messageImage("conv-1", "x"))})

	assert.Equal(t, 32, report.Delivered)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Greater(t, peak.Load(), int32(0))
}

func TestBatchReport_Count(t *testing.T) {
	d, _ := newTestDispatcher(&mockRegistry{}, &mockPusher{})
	modify := insertEvent("e2", messageImage("c", "x"))
	modify.EventName = domain.EventModify

	report := d.ProcessBatch(context.Background(), []domain.ChangeEvent{
		insertEvent("e1", messageImage("c", "x")),
		modify,
		insertEvent("e3", nil),
	})

	assert.Equal(t, 1, report.Count(StatusDelivered))
	assert.Equal(t, 1, report.Count(StatusSkippedEventType))
	assert.Equal(t, 1, report.Count(StatusSkippedNoConversation))
}

func TestNewDispatcher_Defaults(t *testing.T) {
	d := NewDispatcher(&mockRegistry{}, &mockPusher{}, metrics.NewBroadcastMetrics(prometheus.NewRegistry()), clockwork.NewRealClock(), Config{})

	assert.Equal(t, defaultConcurrency, d.concurrency)
	assert.Equal(t, defaultRegistryTimeout, d.registryTimeout)
	assert.Equal(t, defaultDeliveryTimeout, d.deliveryTimeout)
}
