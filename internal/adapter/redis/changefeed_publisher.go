package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pscheid92/councilcast/internal/adapter/metrics"
	"github.com/pscheid92/councilcast/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// recordField is the stream entry field holding one change-event JSON document.
const recordField = "record"

const defaultStreamMaxLen = 100_000

// ChangeFeedPublisher appends change events to a Redis stream.
type ChangeFeedPublisher struct {
	rdb     goredis.UniversalClient
	stream  string
	maxLen  int64
	metrics *metrics.ChangeFeedMetrics
}

var _ domain.ChangeFeedPublisher = (*ChangeFeedPublisher)(nil)

func NewChangeFeedPublisher(rdb goredis.UniversalClient, stream string, m *metrics.ChangeFeedMetrics) *ChangeFeedPublisher {
	return &ChangeFeedPublisher{rdb: rdb, stream: stream, maxLen: defaultStreamMaxLen, metrics: m}
}

func (p *ChangeFeedPublisher) Publish(ctx context.Context, event domain.ChangeEvent) error {
	record, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}

	err = p.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{recordField: record},
	}).Err()
	if err != nil {
		p.metrics.Published.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to append to stream %s: %w", p.stream, err)
	}

	p.metrics.Published.WithLabelValues("success").Inc()
	return nil
}
