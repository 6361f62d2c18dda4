package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/councilcast/internal/app"
	apperrors "github.com/pscheid92/councilcast/internal/platform/errors"
)

func (s *Server) registerMessageRoutes() {
	limiter := newRateLimiter(apiRatePerSecond, apiRateBurst)

	s.echo.POST("/api/messages", s.handleWriteMessage, limiter, middleware.BodyLimit(messageBodyLimit))
	s.echo.GET("/api/conversations/:id/messages", s.handleListMessages, limiter)
}

func (s *Server) handleWriteMessage(c echo.Context) error {
	var req app.WriteMessageRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid JSON body")
	}

	msg, err := s.messages.Write(c.Request().Context(), req)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusCreated, msg); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleListMessages(c echo.Context) error {
	conversationID := c.Param("id")

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return apperrors.ValidationError("limit must be a positive integer").WithField("limit", raw)
		}
		limit = n
	}

	msgs, err := s.messages.ListRecent(c.Request().Context(), conversationID, limit)
	if err != nil {
		return err
	}

	response := map[string]any{
		"conversation_id": conversationID,
		"messages":        msgs,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
