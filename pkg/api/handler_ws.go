package api

import (
	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades GET /api/ccsdk/ws and delegates to the
// ConnectionManager. Blocks until the WebSocket closes.
func (s *Server) wsHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// The gateway binds to localhost-style deployments; origin
		// enforcement belongs to a fronting proxy.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	s.connManager.HandleConnection(c.Request().Context(), conn)
	return nil
}
