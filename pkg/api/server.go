// Package api provides the HTTP/REST surface and the WebSocket endpoint.
package api

import (
	"context"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/config"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/database"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/engine"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/hub"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/store"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/ws"
)

// Server is the HTTP API server.
type Server struct {
	echo        *echo.Echo
	httpServer  *http.Server
	cfg         *config.Config
	dbClient    *database.Client
	store       *store.Store
	hub         *hub.Hub
	connManager *ws.ConnectionManager
	engine      engine.Streamer
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg *config.Config, dbClient *database.Client, st *store.Store,
	h *hub.Hub, connManager *ws.ConnectionManager, eng engine.Streamer) *Server {
	s := &Server{
		echo:        echo.New(),
		cfg:         cfg,
		dbClient:    dbClient,
		store:       st,
		hub:         h,
		connManager: connManager,
		engine:      eng,
	}
	s.setupRoutes()
	return s
}

// setupRoutes registers all API routes under the /api/ccsdk prefix.
func (s *Server) setupRoutes() {
	// Prompts and metadata are small; cap bodies well above any legitimate
	// request before JSON decoding sees them.
	s.echo.Use(middleware.BodyLimit(1 * 1024 * 1024))
	s.echo.Use(securityHeaders())
	s.echo.Use(requestLogger())

	g := s.echo.Group("/api/ccsdk")

	// Gateway-level endpoints.
	g.GET("/sessions", s.listLiveSessionsHandler)
	g.POST("/query", s.queryHandler)
	g.GET("/config", s.configHandler)
	g.GET("/health", s.healthHandler)

	// Persisted-history endpoints. Static paths register before :id params.
	g.GET("/db/sessions", s.dbListSessionsHandler)
	g.GET("/db/sessions/active", s.dbActiveSessionsHandler)
	g.GET("/db/sessions/:id", s.dbGetSessionHandler)
	g.GET("/db/sessions/:id/messages", s.dbListMessagesHandler)
	g.DELETE("/db/sessions/:id", s.dbDeleteSessionHandler)
	g.GET("/db/stats", s.dbStatsHandler)
	g.GET("/db/search", s.dbSearchHandler)
	g.POST("/db/cleanup", s.dbCleanupHandler)
	g.POST("/db/backup", s.dbBackupHandler)

	// WebSocket endpoint for the streaming session protocol.
	g.GET("/ws", s.wsHandler)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-created listener. Used by tests to bind
// a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
