package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/kaz/mcpsql/internal/auth"
	"github.com/kaz/mcpsql/internal/config"
	"github.com/kaz/mcpsql/internal/database"
	"github.com/kaz/mcpsql/internal/event"
	"github.com/kaz/mcpsql/internal/learning"
	"github.com/kaz/mcpsql/internal/mcp"
	"github.com/kaz/mcpsql/internal/query"
	"github.com/kaz/mcpsql/internal/schema"
	"github.com/kaz/mcpsql/internal/server"
	"github.com/labstack/gommon/log"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	transportHTTP  = "http"
	transportStdio = "stdio"
)

var errDatabaseUnreachable = errors.New("database is unreachable")

var (
	transport  string
	listenAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the MCP tools over streamable HTTP or stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyAddr(&cfg.Server, listenAddr); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&transport, "transport", transportHTTP, "transport to serve on (http|stdio)")
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "listen address host:port, overrides the config")
	rootCmd.AddCommand(serveCmd)
}

func applyAddr(sc *config.ServerConfig, addr string) error {
	if addr == "" {
		return nil
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid --addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port in --addr %q: %w", addr, err)
	}
	sc.Host = host
	sc.Port = port
	return nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	if transport != transportHTTP && transport != transportStdio {
		return fmt.Errorf("unknown transport %q", transport)
	}

	conn, err := database.Open(ctx, cfg.Database)
	if err != nil {
		log.Errorf("could not connect to MySQL at %s:%d: %v", cfg.Database.Host, cfg.Database.Port, err)
		log.Errorf("check that:")
		log.Errorf("  1. the MySQL server is running")
		log.Errorf("  2. the credentials (USER_BD, PASSWORD_BD) are correct")
		log.Errorf("  3. the database %q exists", cfg.Database.Name)
		log.Errorf("  4. the user has permission to access it")
		return errDatabaseUnreachable
	}
	defer conn.Close()

	store, err := learning.OpenStore(cfg.Learning.Backend, cfg.Learning.Path)
	if err != nil {
		return err
	}

	hub := event.NewHub()
	defer hub.Close()

	notes := learning.NewService(store, learning.WithObserver(learning.ObserverFunc(func(n learning.Note) {
		hub.Publish(event.TopicNotes, "note_saved", n)
	})))
	defer notes.Close()

	mcpSrv := mcp.NewServer(cfg.MCP, version, mcp.Deps{
		Schema:     schema.NewService(conn),
		Query:      query.NewService(conn),
		Learning:   notes,
		Events:     hub,
		SlowLogDir: cfg.SlowLog.Dir,
	})

	if transport == transportStdio {
		log.Infof("serving %s on stdio", cfg.MCP.Name)
		return mcpserver.ServeStdio(mcpSrv)
	}

	opts := server.Options{
		Config: cfg.Server,
		MCP:    mcpSrv,
		DB:     conn,
		Events: hub,
	}
	if cfg.Auth.Enabled {
		a, err := auth.New(cfg.Auth)
		if err != nil {
			return err
		}
		opts.Auth = a
	} else {
		log.Warnf("authentication is disabled")
	}
	srv := server.New(opts)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return srv.Run(egCtx)
	})
	eg.Go(func() error {
		// event streams never end on their own and would hold up shutdown
		<-egCtx.Done()
		hub.Close()
		return nil
	})
	return eg.Wait()
}
