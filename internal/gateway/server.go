package gateway

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

// Config holds the gateway's own tunables (as opposed to the orchestrator
// it delegates to).
type Config struct {
	TLSActive           bool
	HSTSMaxAgeSeconds   int
	WSRateLimit         int
	WSRateWindow        time.Duration
	WSHeartbeatInterval time.Duration
	WSMaxMissedPongs    int
	WSWriteTimeout      time.Duration
}

// DefaultConfig returns the gateway defaults used when the deployment's
// config layer doesn't override them.
func DefaultConfig() Config {
	return Config{
		TLSActive:           false,
		HSTSMaxAgeSeconds:   31536000,
		WSRateLimit:         60,
		WSRateWindow:        time.Minute,
		WSHeartbeatInterval: 30 * time.Second,
		WSMaxMissedPongs:    2,
		WSWriteTimeout:      10 * time.Second,
	}
}

// Server is the Gateway (C10) HTTP + WebSocket surface. It holds no
// business logic of its own: every operation is delegated to the
// capability interfaces it's constructed with, per the orchestrator's
// leaves-first composition (spec §9 design notes).
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	jobs        JobService
	messages    MessageStore
	tokens      TokenStore
	ready       ReadinessChecker
	connManager *ConnectionManager

	cfg Config
}

// NewServer constructs a Server and registers its routes.
func NewServer(cfg Config, jobs JobService, messages MessageStore, tokens TokenStore, ready ReadinessChecker) *Server {
	connManager := NewConnectionManager(tokens, cfg.WSRateLimit, cfg.WSRateWindow, cfg.WSHeartbeatInterval, cfg.WSMaxMissedPongs, cfg.WSWriteTimeout)

	s := &Server{
		echo:        echo.New(),
		jobs:        jobs,
		messages:    messages,
		tokens:      tokens,
		ready:       ready,
		connManager: connManager,
		cfg:         cfg,
	}
	s.setupRoutes()
	return s
}

// ConnectionManager exposes the broadcaster so the orchestrator can push
// status/approval_required/result/error frames as jobs progress.
func (s *Server) ConnectionManager() *ConnectionManager {
	return s.connManager
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders(s.cfg.TLSActive, s.cfg.HSTSMaxAgeSeconds))

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/ready", s.readyHandler)

	s.echo.POST("/messages", s.postMessagesHandler)
	s.echo.POST("/jobs/:id/approve", s.approveJobHandler)
	s.echo.POST("/jobs/:id/cancel", s.cancelJobHandler)
	s.echo.GET("/jobs/:id", s.getJobHandler)
	s.echo.GET("/conversations/:id/messages", s.listConversationMessagesHandler)

	s.echo.POST("/ws/token", s.wsTokenHandler)
	s.echo.GET("/ws", s.wsHandler)
}

// wsHandler upgrades the connection and hands it to the ConnectionManager,
// matching the teacher's handler_ws.go split between HTTP upgrade and
// connection-lifecycle ownership.
func (s *Server) wsHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// Origin validation is a deployment-layer concern here too (see
		// sessionHeader doc comment): this runtime expects a reverse proxy
		// in front of it enforcing same-origin / allowlisted origins.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}
	s.connManager.HandleConnection(c.Request().Context(), conn)
	return nil
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener, used
// by integration tests that want a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
