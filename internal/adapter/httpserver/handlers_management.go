package httpserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/councilcast/internal/domain"
	"github.com/pscheid92/councilcast/internal/platform/correlation"
	apperrors "github.com/pscheid92/councilcast/internal/platform/errors"
)

// registerManagementRoutes exposes the local gateway so that other instances can
// push to its connections through a ManagementClient.
func (s *Server) registerManagementRoutes() {
	s.echo.POST("/@connections/:id", s.handlePushToConnection, middleware.BodyLimit(messageBodyLimit))
	s.echo.DELETE("/@connections/:id", s.handleCloseConnection)
}

func (s *Server) handlePushToConnection(c echo.Context) error {
	connectionID := c.Param("id")
	ctx := correlation.WithConnectionID(c.Request().Context(), connectionID)

	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return apperrors.ValidationError("failed to read request body")
	}
	if len(payload) == 0 {
		return apperrors.ValidationError("payload is required")
	}

	err = s.gateway.Push(ctx, connectionID, payload)
	switch {
	case err == nil:
		return c.NoContent(http.StatusOK)
	case errors.Is(err, domain.ErrGone):
		return apperrors.GoneError("connection gone").WithField("connection_id", connectionID)
	default:
		return apperrors.InternalError("failed to push to connection", err).WithField("connection_id", connectionID)
	}
}

func (s *Server) handleCloseConnection(c echo.Context) error {
	connectionID := c.Param("id")
	ctx := correlation.WithConnectionID(c.Request().Context(), connectionID)

	err := s.gateway.Close(ctx, connectionID)
	if errors.Is(err, domain.ErrGone) {
		return apperrors.GoneError("connection gone").WithField("connection_id", connectionID)
	}
	if err != nil {
		return fmt.Errorf("close connection %s: %w", connectionID, err)
	}
	return c.NoContent(http.StatusNoContent)
}
