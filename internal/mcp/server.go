// Package mcp registers the database, query and learning tools on an MCP
// server.
package mcp

import (
	"context"
	"time"

	"github.com/kaz/mcpsql/internal/config"
	"github.com/kaz/mcpsql/internal/learning"
	"github.com/kaz/mcpsql/internal/query"
	"github.com/kaz/mcpsql/internal/schema"
	"github.com/labstack/gommon/log"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Publisher receives activity that subscribers may want to follow.
type Publisher interface {
	Publish(topic, eventType string, v any)
}

// Deps are the services the tools forward to.
type Deps struct {
	Schema     *schema.Service
	Query      *query.Service
	Learning   *learning.Service
	Events     Publisher
	SlowLogDir string
}

type registrar struct {
	Deps
}

// NewServer creates an MCP server with every tool and resource registered.
func NewServer(cfg config.MCPConfig, version string, deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		cfg.Name,
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions(cfg.Instructions),
		server.WithLogging(),
		server.WithRecovery(),
	)

	r := &registrar{Deps: deps}
	r.registerSchemaTools(s)
	r.registerQueryTools(s)
	r.registerLearningTools(s)
	r.registerResources(s)

	log.Infof("mcp: server %s %s ready", cfg.Name, version)
	return s
}

// logged reports every call with its duration.
func logged(name string, h server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		log.Infof("mcp: executing %s", name)
		res, err := h(ctx, req)
		if res != nil && res.IsError {
			log.Warnf("mcp: %s failed after %s", name, time.Since(start))
		} else {
			log.Debugf("mcp: %s done in %s", name, time.Since(start))
		}
		return res, err
	}
}
