// Package server hosts the MCP endpoint, the event stream and the health
// check on a single echo instance.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/felixge/fgprof"
	"github.com/kaz/mcpsql/internal/auth"
	"github.com/kaz/mcpsql/internal/config"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

type (
	// Pinger reports whether the database is reachable.
	Pinger interface {
		Ping(ctx context.Context) error
	}

	// EventHub serves the event stream below the group it is registered on.
	EventHub interface {
		RegisterHandlers(g *echo.Group)
	}

	Options struct {
		Config config.ServerConfig
		// Auth protects /mcp and /api/event when non-nil.
		Auth   *auth.Auth
		MCP    *mcpserver.MCPServer
		DB     Pinger
		Events EventHub
	}

	Server struct {
		echo            *echo.Echo
		addr            string
		shutdownTimeout time.Duration
	}

	healthResponse struct {
		Status   string `json:"status"`
		Database string `json:"database"`
		Error    string `json:"error,omitempty"`
	}
)

func New(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetOutput(log.Output())
	e.Logger.SetLevel(log.Level())
	e.Logger.SetPrefix("mcpsql")

	var protect []echo.MiddlewareFunc
	if opts.Auth != nil {
		protect = append(protect, opts.Auth.Middleware())
	}

	if opts.MCP != nil {
		h := echo.WrapHandler(mcpserver.NewStreamableHTTPServer(opts.MCP, mcpserver.WithEndpointPath("/mcp")))
		e.Match([]string{http.MethodGet, http.MethodPost, http.MethodDelete}, "/mcp", h, protect...)
	}

	api := e.Group("/api", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("Cache-Control", "no-store")
			return next(c)
		}
	})
	api.GET("/health", healthHandler(opts.DB))

	if opts.Events != nil {
		opts.Events.RegisterHandlers(api.Group("/event", protect...))
	}

	if opts.Config.Profiling {
		e.GET("/debug/fgprof", echo.WrapHandler(fgprof.Handler()))
		log.Warnf("server: profiling enabled at /debug/fgprof")
	}

	return &Server{
		echo:            e,
		addr:            opts.Config.Addr(),
		shutdownTimeout: opts.Config.ShutdownTimeout,
	}
}

func healthHandler(db Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if db == nil {
			return c.JSON(http.StatusOK, healthResponse{Status: "ok", Database: "unknown"})
		}
		if err := db.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "degraded", Database: "unreachable", Error: err.Error()})
		}
		return c.JSON(http.StatusOK, healthResponse{Status: "ok", Database: "reachable"})
	}
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("server: listening on %s", s.addr)
		errCh <- s.echo.Start(s.addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.shutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Infof("server: shutting down")
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
