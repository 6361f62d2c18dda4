package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/councilcast/internal/adapter/metrics"
	"github.com/pscheid92/councilcast/internal/changefeed"
	"github.com/pscheid92/councilcast/internal/domain"
	"github.com/pscheid92/councilcast/internal/platform/correlation"
	"github.com/pscheid92/councilcast/internal/platform/retry"
	goredis "github.com/redis/go-redis/v9"
)

const readErrorBackoff = time.Second

var (
	errConsumerStarting = errors.New("change-feed consumer is starting")
	errConsumerStopped  = errors.New("stopped")
)

// BatchHandler processes one read batch. It must not fail: every entry handed
// to it is acknowledged once it returns.
type BatchHandler func(ctx context.Context, events []domain.ChangeEvent)

type ConsumerConfig struct {
	Stream    string
	Group     string
	Consumer  string
	BatchSize int64
	Block     time.Duration
}

// ChangeFeedConsumer reads the change-feed stream as a member of a consumer group.
// Each XREADGROUP result is one batch; entries are acknowledged after the handler
// returns, so a crash mid-batch redelivers it (at-least-once).
type ChangeFeedConsumer struct {
	rdb     goredis.UniversalClient
	cfg     ConsumerConfig
	handle  BatchHandler
	metrics *metrics.ChangeFeedMetrics
	clock   clockwork.Clock

	mu      sync.Mutex
	running bool
	lastErr error
}

func NewChangeFeedConsumer(rdb goredis.UniversalClient, cfg ConsumerConfig, handle BatchHandler, m *metrics.ChangeFeedMetrics, clock clockwork.Clock) *ChangeFeedConsumer {
	return &ChangeFeedConsumer{rdb: rdb, cfg: cfg, handle: handle, metrics: m, clock: clock}
}

// EnsureGroup creates the stream and consumer group if they do not exist yet.
func (c *ChangeFeedConsumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", c.cfg.Group, err)
	}
	return nil
}

// recoveryPolicy retries startup steps until they succeed or ctx is cancelled.
var recoveryPolicy = retry.Policy{
	MaxAttempts:    math.MaxInt,
	InitialBackoff: readErrorBackoff,
	MaxBackoff:     30 * time.Second,
}

// Run consumes until ctx is cancelled. Entries left pending by a previous run of
// this consumer are processed first. Redis failures never end the loop; they are
// retried with backoff and reported through Check.
func (c *ChangeFeedConsumer) Run(ctx context.Context) error {
	defer c.setState(false, errConsumerStopped)

	if err := c.retryStep(ctx, "create consumer group", c.EnsureGroup); err != nil {
		return nil
	}

	slog.Info("Change-feed consumer started",
		"stream", c.cfg.Stream, "group", c.cfg.Group, "consumer", c.cfg.Consumer)

	drained := false
	err := c.retryStep(ctx, "drain pending entries", func(ctx context.Context) error {
		for !drained {
			n, err := c.Poll(ctx, "0")
			if err != nil {
				return err
			}
			drained = n == 0
		}
		return nil
	})
	if err != nil {
		return nil
	}
	c.setState(true, nil)

	for {
		if ctx.Err() != nil {
			slog.Info("Change-feed consumer stopped", "consumer", c.cfg.Consumer)
			return nil
		}

		if _, err := c.Poll(ctx, ">"); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.metrics.ReadErrors.Inc()
			c.setState(true, err)
			slog.Error("Failed to read change feed", "stream", c.cfg.Stream, "error", err)

			select {
			case <-c.clock.After(readErrorBackoff):
			case <-ctx.Done():
			}
			continue
		}
		c.setState(true, nil)
	}
}

// retryStep runs a startup step until it succeeds. It only fails once ctx is done.
func (c *ChangeFeedConsumer) retryStep(ctx context.Context, step string, op func(ctx context.Context) error) error {
	policy := recoveryPolicy
	policy.Clock = c.clock
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		c.metrics.ReadErrors.Inc()
		c.setState(false, err)
		slog.Error("Change-feed consumer startup step failed, retrying",
			"step", step, "attempt", attempt, "backoff", backoff, "error", err)
	}

	return retry.DoVoid(ctx, policy, func(error) retry.Action {
		if ctx.Err() != nil {
			return retry.Stop
		}
		return retry.Retry
	}, op)
}

func (c *ChangeFeedConsumer) setState(running bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = running
	c.lastErr = err
}

// Check reports whether the consumer is reading the stream. It fails while the
// consumer is starting up, after it stopped, and while reads keep failing.
func (c *ChangeFeedConsumer) Check(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case !c.running && c.lastErr != nil:
		return fmt.Errorf("change-feed consumer not running: %w", c.lastErr)
	case !c.running:
		return errConsumerStarting
	case c.lastErr != nil:
		return fmt.Errorf("change-feed consumer failing: %w", c.lastErr)
	}
	return nil
}

// Poll reads one batch starting at id ("0" for this consumer's pending entries,
// ">" for new ones), hands it to the handler and acknowledges it. It returns the
// number of entries read.
func (c *ChangeFeedConsumer) Poll(ctx context.Context, id string) (int, error) {
	block := c.cfg.Block
	if id != ">" {
		block = -1
	}

	streams, err := c.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, id},
		Count:    c.cfg.BatchSize,
		Block:    block,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read stream %s: %w", c.cfg.Stream, err)
	}

	var entries []goredis.XMessage
	for _, s := range streams {
		entries = append(entries, s.Messages...)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	batchCtx := correlation.WithID(ctx, correlation.NewID())
	events := make([]domain.ChangeEvent, 0, len(entries))
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)

		event, err := decodeEntry(entry)
		if err != nil {
			slog.WarnContext(batchCtx, "Dropping malformed change-feed entry", "entry_id", entry.ID, "error", err)
			c.metrics.Entries.WithLabelValues("malformed").Inc()
			continue
		}
		events = append(events, event)
	}

	if len(events) > 0 {
		c.handle(batchCtx, events)
	}
	c.metrics.Entries.WithLabelValues("processed").Add(float64(len(events)))

	// The batch is done; acknowledging must not be skipped because the caller is shutting down.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.rdb.XAck(ackCtx, c.cfg.Stream, c.cfg.Group, ids...).Err(); err != nil {
		return len(entries), fmt.Errorf("failed to acknowledge %d entries: %w", len(ids), err)
	}
	return len(entries), nil
}

func decodeEntry(entry goredis.XMessage) (domain.ChangeEvent, error) {
	raw, ok := entry.Values[recordField]
	if !ok {
		return domain.ChangeEvent{}, fmt.Errorf("entry has no %q field", recordField)
	}
	s, ok := raw.(string)
	if !ok {
		return domain.ChangeEvent{}, fmt.Errorf("entry field %q is %T, not a string", recordField, raw)
	}
	return changefeed.ParseRecord([]byte(s))
}
