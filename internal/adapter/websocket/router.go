package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pscheid92/councilcast/internal/adapter/metrics"
	"github.com/pscheid92/councilcast/internal/domain"
)

var errNoRoute = errors.New("no delivery route for connection")

// Router delivers each payload to the instance holding the connection. Connections
// registered by this instance go to the local gateway, connections of other
// instances go to their management API, and records without an endpoint go to
// the fallback pusher.
type Router struct {
	self       string
	local      domain.Pusher
	fallback   domain.Pusher
	httpClient *http.Client
	metrics    *metrics.CircuitBreakerMetrics

	mu      sync.Mutex
	remotes map[string]*ManagementClient
}

var _ domain.Deliverer = (*Router)(nil)

type RouterConfig struct {
	// Self is this instance's management endpoint, as stamped on its connections.
	Self string
	// Local serves connections owned by Self. Nil when this instance holds no sockets.
	Local domain.Pusher
	// Fallback serves records without an endpoint. Nil routes them to Local.
	Fallback   domain.Pusher
	HTTPClient *http.Client
	Metrics    *metrics.CircuitBreakerMetrics
}

func NewRouter(cfg RouterConfig) *Router {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Router{
		self:       normalizeEndpoint(cfg.Self),
		local:      cfg.Local,
		fallback:   cfg.Fallback,
		httpClient: httpClient,
		metrics:    cfg.Metrics,
		remotes:    make(map[string]*ManagementClient),
	}
}

func (r *Router) Deliver(ctx context.Context, conn domain.Connection, payload []byte) error {
	pusher, err := r.route(conn.Endpoint)
	if err != nil {
		return fmt.Errorf("connection %s: %w", conn.ID, err)
	}
	return pusher.Push(ctx, conn.ID, payload)
}

func (r *Router) route(endpoint string) (domain.Pusher, error) {
	endpoint = normalizeEndpoint(endpoint)

	switch {
	case endpoint == "" && r.fallback != nil:
		return r.fallback, nil
	case endpoint == "" || endpoint == r.self:
		if r.local == nil {
			return nil, errNoRoute
		}
		return r.local, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// One client per owner so an unreachable instance trips only its own breaker
	client, ok := r.remotes[endpoint]
	if !ok {
		client = newManagementClient(breakerName+":"+endpoint, endpoint, r.httpClient, r.metrics)
		r.remotes[endpoint] = client
	}
	return client, nil
}

func normalizeEndpoint(endpoint string) string {
	return strings.TrimRight(strings.TrimSpace(endpoint), "/")
}
