package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/councilcast/internal/adapter/metrics"
	"github.com/pscheid92/councilcast/internal/changefeed"
	"github.com/pscheid92/councilcast/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency     = 8
	defaultRegistryTimeout = 2 * time.Second
	defaultDeliveryTimeout = 5 * time.Second
)

type deliveryResult int

const (
	resultDelivered deliveryResult = iota
	resultGone
	resultFailed
)

func (r deliveryResult) String() string {
	switch r {
	case resultDelivered:
		return "delivered"
	case resultGone:
		return "gone"
	default:
		return "failed"
	}
}

type Config struct {
	Concurrency     int
	RegistryTimeout time.Duration
	DeliveryTimeout time.Duration
}

// Dispatcher fans newly inserted messages out to every connection subscribed to
// the message's conversation and prunes connections the gateway reports as gone.
type Dispatcher struct {
	registry        domain.ConnectionRegistry
	deliverer       domain.Deliverer
	metrics         *metrics.BroadcastMetrics
	clock           clockwork.Clock
	concurrency     int
	registryTimeout time.Duration
	deliveryTimeout time.Duration
}

func NewDispatcher(registry domain.ConnectionRegistry, deliverer domain.Deliverer, m *metrics.BroadcastMetrics, clock clockwork.Clock, cfg Config) *Dispatcher {
	d := &Dispatcher{
		registry:        registry,
		deliverer:       deliverer,
		metrics:         m,
		clock:           clock,
		concurrency:     cfg.Concurrency,
		registryTimeout: cfg.RegistryTimeout,
		deliveryTimeout: cfg.DeliveryTimeout,
	}
	if d.concurrency < 1 {
		d.concurrency = defaultConcurrency
	}
	if d.registryTimeout <= 0 {
		d.registryTimeout = defaultRegistryTimeout
	}
	if d.deliveryTimeout <= 0 {
		d.deliveryTimeout = defaultDeliveryTimeout
	}
	return d
}

// ProcessBatch handles events in order. It never fails: per-event faults are logged
// and recorded in the report, and cancellation of ctx does not abort the batch.
func (d *Dispatcher) ProcessBatch(ctx context.Context, events []domain.ChangeEvent) BatchReport {
	start := d.clock.Now()
	ctx = context.WithoutCancel(ctx)

	report := BatchReport{Outcomes: make([]EventOutcome, 0, len(events))}
	for _, event := range events {
		outcome := d.processEvent(ctx, event)
		d.metrics.Events.WithLabelValues(string(outcome.Status)).Inc()
		report.add(outcome)
	}

	d.metrics.BatchDuration.Observe(d.clock.Since(start).Seconds())
	slog.InfoContext(ctx, "Change-feed batch processed",
		"events", report.Events, "delivered", report.Delivered, "gone", report.Gone,
		"failed", report.Failed, "pruned", report.Pruned)
	return report
}

func (d *Dispatcher) processEvent(ctx context.Context, event domain.ChangeEvent) EventOutcome {
	outcome := EventOutcome{EventID: event.EventID}

	if event.EventName != domain.EventInsert {
		slog.DebugContext(ctx, "Skipping non-insert event", "event_id", event.EventID, "event_name", event.EventName)
		outcome.Status = StatusSkippedEventType
		return outcome
	}

	msg := changefeed.Decode(event.Change.NewImage)
	conversationID := msg.ConversationID()
	// The sentinel is an index bucket, not a conversation anyone can post to
	if conversationID == "" || conversationID == domain.Unsubscribed {
		slog.WarnContext(ctx, "Skipping event without conversation_id", "event_id", event.EventID)
		outcome.Status = StatusSkippedNoConversation
		return outcome
	}
	outcome.ConversationID = conversationID

	queryCtx, cancel := context.WithTimeout(ctx, d.registryTimeout)
	conns, err := d.registry.QueryByConversation(queryCtx, conversationID)
	cancel()
	if err != nil {
		slog.ErrorContext(ctx, "Failed to query connections",
			"event_id", event.EventID, "conversation_id", conversationID, "error", err)
		outcome.Status = StatusQueryFailed
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Recipients = len(conns)
	d.metrics.Recipients.Observe(float64(len(conns)))

	payload, err := changefeed.MarshalMessage(msg)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode message", "event_id", event.EventID, "error", err)
		outcome.Status = StatusEncodeFailed
		outcome.Error = err.Error()
		return outcome
	}

	results := d.deliver(ctx, conns, payload)

	var dead []string
	for i, r := range results {
		switch r {
		case resultDelivered:
			outcome.Delivered++
		case resultGone:
			outcome.Gone++
			dead = append(dead, conns[i].ID)
		case resultFailed:
			outcome.Failed++
		}
	}

	outcome.Pruned, outcome.PruneFailed = d.prune(ctx, dead)
	outcome.Status = StatusDelivered

	slog.DebugContext(ctx, "Event broadcast",
		"event_id", event.EventID, "conversation_id", conversationID,
		"recipients", outcome.Recipients, "delivered", outcome.Delivered,
		"gone", outcome.Gone, "failed", outcome.Failed)
	return outcome
}

// deliver pushes payload to every connection concurrently; results[i] belongs to conns[i].
func (d *Dispatcher) deliver(ctx context.Context, conns []domain.Connection, payload []byte) []deliveryResult {
	results := make([]deliveryResult, len(conns))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, conn := range conns {
		g.Go(func() error {
			pushCtx, cancel := context.WithTimeout(ctx, d.deliveryTimeout)
			defer cancel()

			err := d.deliverer.Deliver(pushCtx, conn, payload)
			switch {
			case err == nil:
				results[i] = resultDelivered
			case errors.Is(err, domain.ErrGone):
				slog.InfoContext(ctx, "Connection gone, scheduling removal", "connection_id", conn.ID)
				results[i] = resultGone
			default:
				slog.WarnContext(ctx, "Failed to deliver message", "connection_id", conn.ID, "error", err)
				results[i] = resultFailed
			}
			d.metrics.Deliveries.WithLabelValues(results[i].String()).Inc()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// prune removes dead connections one by one; a failed delete does not stop the rest.
func (d *Dispatcher) prune(ctx context.Context, dead []string) (pruned, failed int) {
	for _, id := range dead {
		deleteCtx, cancel := context.WithTimeout(ctx, d.registryTimeout)
		err := d.registry.Delete(deleteCtx, id)
		cancel()

		if err != nil {
			slog.ErrorContext(ctx, "Failed to remove dead connection", "connection_id", id, "error", err)
			d.metrics.Prunes.WithLabelValues("error").Inc()
			failed++
			continue
		}
		d.metrics.Prunes.WithLabelValues("removed").Inc()
		pruned++
	}
	return pruned, failed
}
