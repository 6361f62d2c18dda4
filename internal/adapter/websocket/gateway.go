package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/councilcast/internal/adapter/metrics"
	"github.com/pscheid92/councilcast/internal/domain"
	"github.com/pscheid92/councilcast/internal/platform/correlation"
	apperrors "github.com/pscheid92/councilcast/internal/platform/errors"
)

const (
	lifecycleTimeout = 5 * time.Second
	maxFrameSize     = 64 * 1024

	actionSubscribe = "subscribe"
	actionPing      = "ping"
)

// clientFrame is a client-to-server message.
type clientFrame struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// serverFrame is a control message sent to a client. Chat messages are pushed as
// bare message JSON, without this envelope.
type serverFrame struct {
	Type           string `json:"type"`
	ConnectionID   string `json:"connection_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Gateway terminates client WebSocket connections in process. It assigns each
// connection an ID, reports connect, subscribe and disconnect to the lifecycle
// handler, and implements domain.Pusher for the connections it holds.
type Gateway struct {
	lifecycle domain.ConnectionLifecycle
	limits    *ConnectionLimits
	metrics   *metrics.WebSocketMetrics
	clock     clockwork.Clock
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*clientWriter
	closing bool
}

var _ domain.Pusher = (*Gateway)(nil)

func NewGateway(lifecycle domain.ConnectionLifecycle, checkOrigin func(*http.Request) bool, limits *ConnectionLimits, m *metrics.WebSocketMetrics, clock clockwork.Clock) *Gateway {
	return &Gateway{
		lifecycle: lifecycle,
		limits:    limits,
		metrics:   m,
		clock:     clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[string]*clientWriter),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if ok, reason := g.limits.Acquire(ip); !ok {
		g.metrics.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
		slog.Warn("WebSocket connection rejected", "reason", reason, "remote_ip", ip)
		w.Header().Set("Retry-After", "1")
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}
	defer g.limits.Release()

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		g.metrics.ConnectionsRejected.WithLabelValues("upgrade").Inc()
		slog.Debug("WebSocket upgrade failed", "remote_ip", ip, "error", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	connectionID := uuid.NewString()
	ctx := correlation.WithConnectionID(correlation.Ensure(context.WithoutCancel(r.Context())), connectionID)

	cw := newClientWriter(conn, g.clock)
	if err := g.connect(ctx, connectionID, cw); err != nil {
		slog.ErrorContext(ctx, "Rejecting connection", "error", err)
		cw.close(websocket.CloseInternalServerErr, "connect failed")
		return
	}
	defer g.disconnect(ctx, connectionID, cw)

	_ = cw.send(mustFrame(serverFrame{Type: "connected", ConnectionID: connectionID}))
	g.readLoop(ctx, connectionID, conn, cw)
}

func (g *Gateway) connect(ctx context.Context, connectionID string, cw *clientWriter) error {
	g.mu.Lock()
	if g.closing {
		g.mu.Unlock()
		return errors.New("gateway shutting down")
	}
	g.clients[connectionID] = cw
	g.mu.Unlock()

	lctx, cancel := context.WithTimeout(ctx, lifecycleTimeout)
	defer cancel()
	if err := g.lifecycle.OnConnect(lctx, connectionID); err != nil {
		g.mu.Lock()
		delete(g.clients, connectionID)
		g.mu.Unlock()
		return err
	}

	g.metrics.ActiveConnections.Inc()
	return nil
}

func (g *Gateway) disconnect(ctx context.Context, connectionID string, cw *clientWriter) {
	g.mu.Lock()
	delete(g.clients, connectionID)
	g.mu.Unlock()

	cw.close(websocket.CloseNormalClosure, "")
	g.metrics.ActiveConnections.Dec()

	lctx, cancel := context.WithTimeout(ctx, lifecycleTimeout)
	defer cancel()
	if err := g.lifecycle.OnDisconnect(lctx, connectionID); err != nil {
		slog.ErrorContext(ctx, "Failed to record disconnect", "error", err)
	}
}

func (g *Gateway) readLoop(ctx context.Context, connectionID string, conn *websocket.Conn, cw *clientWriter) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && !cw.closed() {
				slog.DebugContext(ctx, "WebSocket read ended", "error", err)
			}
			return
		}
		cw.extendReadDeadline()

		if msgType != websocket.TextMessage {
			continue
		}
		g.handleFrame(ctx, connectionID, data, cw)
	}
}

func (g *Gateway) handleFrame(ctx context.Context, connectionID string, data []byte, cw *clientWriter) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		g.metrics.ClientActions.WithLabelValues("invalid", "error").Inc()
		_ = cw.send(mustFrame(serverFrame{Type: "error", Error: "invalid JSON frame"}))
		return
	}

	switch frame.Action {
	case actionSubscribe:
		lctx, cancel := context.WithTimeout(ctx, lifecycleTimeout)
		err := g.lifecycle.Subscribe(lctx, connectionID, frame.ConversationID)
		cancel()
		if err != nil {
			g.metrics.ClientActions.WithLabelValues(actionSubscribe, "error").Inc()
			_ = cw.send(mustFrame(serverFrame{Type: "error", Error: apperrors.AsStructuredError(err).Message}))
			return
		}
		g.metrics.ClientActions.WithLabelValues(actionSubscribe, "ok").Inc()
		_ = cw.send(mustFrame(serverFrame{Type: "subscribed", ConversationID: frame.ConversationID}))

	case actionPing:
		g.metrics.ClientActions.WithLabelValues(actionPing, "ok").Inc()
		_ = cw.send(mustFrame(serverFrame{Type: "pong"}))

	default:
		g.metrics.ClientActions.WithLabelValues("unknown", "error").Inc()
		_ = cw.send(mustFrame(serverFrame{Type: "error", Error: fmt.Sprintf("unknown action %q", frame.Action)}))
	}
}

// Push queues payload for a local connection. Unknown or closed connections are
// reported as domain.ErrGone; a full send buffer is a transient failure.
func (g *Gateway) Push(ctx context.Context, connectionID string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.RLock()
	cw, ok := g.clients[connectionID]
	g.mu.RUnlock()
	if !ok {
		g.metrics.Pushes.WithLabelValues("gone").Inc()
		return fmt.Errorf("connection %s: %w", connectionID, domain.ErrGone)
	}

	switch err := cw.send(payload); {
	case err == nil:
		g.metrics.Pushes.WithLabelValues("delivered").Inc()
		return nil
	case errors.Is(err, errWriterClosed):
		g.metrics.Pushes.WithLabelValues("gone").Inc()
		return fmt.Errorf("connection %s: %w", connectionID, domain.ErrGone)
	default:
		g.metrics.Pushes.WithLabelValues("failed").Inc()
		return fmt.Errorf("connection %s: %w", connectionID, err)
	}
}

// Close disconnects a local connection. Unknown connections are reported as domain.ErrGone.
func (g *Gateway) Close(_ context.Context, connectionID string) error {
	g.mu.RLock()
	cw, ok := g.clients[connectionID]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("connection %s: %w", connectionID, domain.ErrGone)
	}

	// The read loop notices the closed socket and runs the disconnect path
	cw.close(websocket.CloseNormalClosure, "closed by server")
	return nil
}

// Count returns the number of live local connections.
func (g *Gateway) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// Shutdown stops accepting connections and closes all live ones with a going-away frame.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.mu.Lock()
	g.closing = true
	writers := make([]*clientWriter, 0, len(g.clients))
	for _, cw := range g.clients {
		writers = append(writers, cw)
	}
	g.mu.Unlock()

	slog.InfoContext(ctx, "Closing WebSocket connections", "count", len(writers))

	var wg sync.WaitGroup
	for _, cw := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cw.close(websocket.CloseGoingAway, "server shutting down")
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("WebSocket shutdown timed out")
	}
}

func mustFrame(f serverFrame) []byte {
	data, _ := json.Marshal(f)
	return data
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
