package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/councilcast/internal/platform/correlation"
	apperrors "github.com/pscheid92/councilcast/internal/platform/errors"
)

// Connect and disconnect acknowledgments keep the response shape gateways expect:
// 200 {"message":...} on success, 500 {"error":...} on failure.
func (s *Server) registerConnectionRoutes() {
	s.echo.POST("/connections/:id/connect", s.handleConnect)
	s.echo.POST("/connections/:id/disconnect", s.handleDisconnect)
}

func (s *Server) handleConnect(c echo.Context) error {
	connectionID := c.Param("id")
	ctx := correlation.WithConnectionID(c.Request().Context(), connectionID)

	if err := s.connections.OnConnect(ctx, connectionID); err != nil {
		return ackFailure(err)
	}

	if err := c.JSON(http.StatusOK, map[string]string{"message": "Connected successfully"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleDisconnect(c echo.Context) error {
	connectionID := c.Param("id")
	ctx := correlation.WithConnectionID(c.Request().Context(), connectionID)

	if err := s.connections.OnDisconnect(ctx, connectionID); err != nil {
		return ackFailure(err)
	}

	if err := c.JSON(http.StatusOK, map[string]string{"message": "Disconnected successfully"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// ackFailure keeps validation errors as 400 and reports everything else as an internal failure.
func ackFailure(err error) error {
	structured := apperrors.AsStructuredError(err)
	if structured.Type == apperrors.TypeValidation || structured.Type == apperrors.TypeInternal {
		return structured
	}
	return apperrors.InternalError(structured.Message, err)
}
