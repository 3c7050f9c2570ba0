package main

import (
	"fmt"
	"os"

	"github.com/kaz/mcpsql/internal/config"
	"github.com/labstack/gommon/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mcpsql",
	Short: "MCP server for MySQL with schema introspection and query learning",
	Long: `mcpsql exposes a MySQL database to AI agents over the Model Context Protocol.
Agents can inspect the schema, run queries and keep notes about what they learned
from each query, so later sessions can reuse fast, working statements.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetOutput(os.Stderr)

		loaded, err := config.Load(configPath, loadOptions(cmd)...)
		if err != nil {
			return err
		}
		cfg = loaded

		configureLogging(cfg.Log.Level)
		return nil
	},
}

// loadOptions drops the auth requirements when serving on stdio, which never
// sees a bearer token.
func loadOptions(cmd *cobra.Command) []config.LoadOption {
	if cmd == serveCmd && transport == transportStdio {
		return []config.LoadOption{config.WithoutAuth()}
	}
	return nil
}

// configureLogging sends every log line to stderr. stdout is reserved for
// command output and the stdio transport.
func configureLogging(level string) {
	log.SetOutput(os.Stderr)
	log.SetPrefix("mcpsql")
	log.SetLevel(logLevel(level))
}

func logLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML or TOML config file")
}
