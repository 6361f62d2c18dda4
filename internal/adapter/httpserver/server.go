package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/councilcast/internal/adapter/metrics"
	"github.com/pscheid92/councilcast/internal/app"
	"github.com/pscheid92/councilcast/internal/broadcast"
	"github.com/pscheid92/councilcast/internal/domain"
	"github.com/pscheid92/councilcast/internal/platform/config"
)

type lifecycleService interface {
	OnConnect(ctx context.Context, connectionID string) error
	OnDisconnect(ctx context.Context, connectionID string) error
}

type messageService interface {
	Write(ctx context.Context, req app.WriteMessageRequest) (*domain.StoredMessage, error)
	ListRecent(ctx context.Context, conversationID string, limit int) ([]domain.StoredMessage, error)
}

type batchProcessor interface {
	ProcessBatch(ctx context.Context, events []domain.ChangeEvent) broadcast.BatchReport
}

// localGateway is the in-process WebSocket gateway. It is nil when delivery goes
// to a remote gateway, in which case /ws and the management API are not served.
type localGateway interface {
	http.Handler
	domain.Pusher
	Close(ctx context.Context, connectionID string) error
}

// Dependencies are the collaborators the server routes to.
type Dependencies struct {
	Connections  lifecycleService
	Messages     messageService
	Dispatcher   batchProcessor
	Gateway      localGateway
	HealthChecks []HealthCheck
	Registry     *prometheus.Registry
	HTTPMetrics  *metrics.HTTPMetrics
	Clock        clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	connections  lifecycleService
	messages     messageService
	dispatcher   batchProcessor
	gateway      localGateway
	healthChecks []HealthCheck
	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics

	clock     clockwork.Clock
	startTime time.Time
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	srv := &Server{
		echo:         e,
		config:       cfg,
		connections:  deps.Connections,
		messages:     deps.Messages,
		dispatcher:   deps.Dispatcher,
		gateway:      deps.Gateway,
		healthChecks: deps.HealthChecks,
		registry:     deps.Registry,
		httpMetrics:  deps.HTTPMetrics,
		clock:        clock,
		startTime:    clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP makes the server usable with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
