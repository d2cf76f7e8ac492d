package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/database"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/engine"
)

// queryTimeout bounds the one-shot, non-streaming query endpoint.
const queryTimeout = 5 * time.Minute

// listLiveSessionsHandler handles GET /api/ccsdk/sessions.
func (s *Server) listLiveSessionsHandler(c *echo.Context) error {
	sessions := s.hub.List()
	return c.JSON(http.StatusOK, &LiveSessionsResponse{
		Sessions: sessions,
		Count:    len(sessions),
	})
}

// configHandler handles GET /api/ccsdk/config.
func (s *Server) configHandler(c *echo.Context) error {
	eng := s.cfg.Engine
	return c.JSON(http.StatusOK, &ConfigResponse{
		Model:              eng.Model,
		MaxTurns:           eng.MaxTurns,
		CWD:                eng.CWD,
		PermissionMode:     eng.PermissionMode,
		AllowedTools:       eng.AllowedTools,
		SystemPromptSuffix: eng.SystemPromptSuffix,
	})
}

// healthHandler handles GET /api/ccsdk/health.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	response := &HealthResponse{
		Status:         "healthy",
		ActiveSessions: s.hub.Len(),
		Timestamp:      time.Now().UnixMilli(),
	}

	dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
	response.Database = dbHealth
	if err != nil {
		response.Status = "unhealthy"
		return c.JSON(http.StatusServiceUnavailable, response)
	}
	return c.JSON(http.StatusOK, response)
}

// QueryRequest is the one-shot prompt body.
type QueryRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// queryHandler handles POST /api/ccsdk/query: runs a single prompt outside
// any session, draining the stream and returning only the terminal result.
func (s *Server) queryHandler(c *echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt is required")
	}

	opts := engine.StreamOptions{
		Model:              s.cfg.Engine.Model,
		MaxTurns:           s.cfg.Engine.MaxTurns,
		CWD:                s.cfg.Engine.CWD,
		AllowedTools:       s.cfg.Engine.AllowedTools,
		SystemPromptSuffix: s.cfg.Engine.SystemPromptSuffix,
		PermissionMode:     s.cfg.Engine.PermissionMode,
	}
	if req.Model != "" {
		opts.Model = req.Model
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), queryTimeout)
	defer cancel()

	stream, err := s.engine.Stream(ctx, req.Prompt, opts)
	if err != nil {
		return c.JSON(http.StatusOK, &QueryResponse{Success: false, Error: err.Error()})
	}

	var response QueryResponse
	var texts []string
	for ev := range stream.Events() {
		switch ev.Kind {
		case engine.EventAssistant:
			texts = append(texts, ev.Text)
		case engine.EventResult:
			cost := ev.CostUSD
			duration := ev.DurationMS
			response.Success = ev.Success
			response.Result = ev.ResultText
			response.Cost = &cost
			response.Duration = &duration
			if !ev.Success {
				response.Error = ev.Subtype
			}
		}
	}

	if streamErr := stream.Err(); streamErr != nil {
		if errors.Is(streamErr, engine.ErrCancelled) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "query cancelled")
		}
		return c.JSON(http.StatusOK, &QueryResponse{Success: false, Error: streamErr.Error()})
	}
	if response.Result == "" && len(texts) > 0 {
		response.Result = strings.Join(texts, "\n")
	}
	return c.JSON(http.StatusOK, &response)
}
