package httpserver

import (
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/councilcast/internal/broadcast"
	"github.com/pscheid92/councilcast/internal/changefeed"
	apperrors "github.com/pscheid92/councilcast/internal/platform/errors"
)

type batchResponse struct {
	StatusCode int                   `json:"statusCode"`
	Report     broadcast.BatchReport `json:"report"`
}

func (s *Server) registerChangeFeedRoutes() {
	s.echo.POST("/changefeed/batch", s.handleChangeFeedBatch, middleware.BodyLimit(changefeedBodyLimit))
}

// handleChangeFeedBatch runs one invocation over a batch of change records. Once the
// envelope parses, the invocation always succeeds; per-event problems are in the report.
func (s *Server) handleChangeFeedBatch(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return apperrors.ValidationError("failed to read request body")
	}

	events, err := changefeed.ParseBatch(body)
	if err != nil {
		return apperrors.ValidationError("invalid change batch")
	}

	report := s.dispatcher.ProcessBatch(c.Request().Context(), events)

	if err := c.JSON(http.StatusOK, batchResponse{StatusCode: http.StatusOK, Report: report}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
