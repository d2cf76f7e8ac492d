package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"
)

// dbListSessionsHandler handles GET /api/ccsdk/db/sessions?limit=&offset=.
func (s *Server) dbListSessionsHandler(c *echo.Context) error {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		return err
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return err
	}

	sessions, err := s.store.ListSessions(c.Request().Context(), limit, offset)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, &SessionsResponse{Sessions: sessions, Count: len(sessions)})
}

// dbActiveSessionsHandler handles GET /api/ccsdk/db/sessions/active.
func (s *Server) dbActiveSessionsHandler(c *echo.Context) error {
	sessions, err := s.store.ListActiveSessions(c.Request().Context())
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, &SessionsResponse{Sessions: sessions, Count: len(sessions)})
}

// dbGetSessionHandler handles GET /api/ccsdk/db/sessions/:id.
func (s *Server) dbGetSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	session, err := s.store.GetSession(c.Request().Context(), sessionID)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, session)
}

// dbListMessagesHandler handles GET /api/ccsdk/db/sessions/:id/messages?limit=.
func (s *Server) dbListMessagesHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	limit, err := queryInt(c, "limit", 1000)
	if err != nil {
		return err
	}

	messages, err := s.store.ListMessages(c.Request().Context(), sessionID, limit)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, &MessagesResponse{Messages: messages, Count: len(messages)})
}

// dbDeleteSessionHandler handles DELETE /api/ccsdk/db/sessions/:id.
func (s *Server) dbDeleteSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if err := s.store.DeleteSession(c.Request().Context(), sessionID); err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, &DeleteResponse{Success: true})
}

// dbStatsHandler handles GET /api/ccsdk/db/stats.
func (s *Server) dbStatsHandler(c *echo.Context) error {
	stats, err := s.store.Stats(c.Request().Context())
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// dbSearchHandler handles GET /api/ccsdk/db/search?q=&limit=.
func (s *Server) dbSearchHandler(c *echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter q is required")
	}
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		return err
	}

	messages, err := s.store.SearchMessages(c.Request().Context(), query, limit)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, &MessagesResponse{Messages: messages, Count: len(messages)})
}

// CleanupRequest is the body of POST /db/cleanup.
type CleanupRequest struct {
	Days int `json:"days,omitempty"`
}

// dbCleanupHandler handles POST /api/ccsdk/db/cleanup.
func (s *Server) dbCleanupHandler(c *echo.Context) error {
	req := CleanupRequest{Days: 30}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Days == 0 {
		req.Days = 30
	}

	deleted, err := s.store.CleanupOldSessions(c.Request().Context(), req.Days)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, &CleanupResponse{Deleted: deleted})
}

// BackupRequest is the body of POST /db/backup.
type BackupRequest struct {
	Path string `json:"path,omitempty"`
}

// dbBackupHandler handles POST /api/ccsdk/db/backup.
func (s *Server) dbBackupHandler(c *echo.Context) error {
	var req BackupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Path == "" {
		req.Path = fmt.Sprintf("%s.backup-%d", s.dbClient.Path(), time.Now().UnixMilli())
	}

	if err := s.dbClient.Backup(c.Request().Context(), req.Path); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "backup failed: "+err.Error())
	}
	return c.JSON(http.StatusOK, &BackupResponse{Success: true, Path: req.Path})
}

// queryInt parses an optional integer query parameter.
func queryInt(c *echo.Context, name string, fallback int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+" parameter")
	}
	return n, nil
}
