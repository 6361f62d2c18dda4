package websocket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pscheid92/councilcast/internal/adapter/metrics"
	"github.com/pscheid92/councilcast/internal/domain"
	"github.com/sony/gobreaker"
)

const breakerName = "delivery"

// ManagementClient pushes payloads to connections held by a remote gateway through
// its management API.
type ManagementClient struct {
	endpoint   string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

var _ domain.Pusher = (*ManagementClient)(nil)

// NewManagementClient targets endpoint, e.g. "https://gateway.internal:8080". m may be nil.
func NewManagementClient(endpoint string, httpClient *http.Client, m *metrics.CircuitBreakerMetrics) *ManagementClient {
	return newManagementClient(breakerName, endpoint, httpClient, m)
}

func newManagementClient(name, endpoint string, httpClient *http.Client, m *metrics.CircuitBreakerMetrics) *ManagementClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		// A gone connection is a healthy answer from the gateway
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrGone)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			if m != nil {
				m.Record(name, to.String())
			}
		},
	}

	return &ManagementClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: httpClient,
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

// Push posts payload to the connection. 410 Gone maps to domain.ErrGone; an open
// breaker is a plain delivery error.
func (c *ManagementClient) Push(ctx context.Context, connectionID string, payload []byte) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.post(ctx, connectionID, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("push to %s: %w", connectionID, err)
	}
	return err
}

// State reports the breaker state, for health checks.
func (c *ManagementClient) State() gobreaker.State {
	return c.breaker.State()
}

func (c *ManagementClient) post(ctx context.Context, connectionID string, payload []byte) error {
	target := c.endpoint + "/@connections/" + url.PathEscape(connectionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push to %s: %w", connectionID, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusGone:
		return fmt.Errorf("connection %s: %w", connectionID, domain.ErrGone)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return fmt.Errorf("push to %s: unexpected status %d", connectionID, resp.StatusCode)
	}
}
