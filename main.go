package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mcpbus-io/mcpresume/config"
	"github.com/mcpbus-io/mcpresume/mcp"
)

var (
	flagConfFilePath string
	flagLogLevel     string
)

func init() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		RunE:  runServe,
	}
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the events schema and exit",
		RunE:  runMigrate,
	}

	rootCmd := &cobra.Command{
		Use:           "mcpresume",
		Short:         "MCP Streamable HTTP server with resumable streams",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logLevel, err := log.ParseLevel(flagLogLevel)
			if err != nil {
				log.WithError(err).Error("Invalid flag 'loglevel'")
				return err
			}
			log.SetLevel(logLevel)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&flagConfFilePath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "loglevel", "info", "Log level, one of: trace, debug, info, warn, error, fatal, panic")
	rootCmd.AddCommand(serveCmd, migrateCmd)

	return rootCmd
}

func loadConfig() (*config.Config, error) {
	var configData []byte
	if flagConfFilePath != "" {
		var err error
		configData, err = os.ReadFile(flagConfFilePath)
		if err != nil {
			log.WithError(err).Error("Error reading config file")
			return nil, err
		}
	}

	conf, err := config.LoadConfig(configData)
	if err != nil {
		log.WithError(err).Error("Error parsing config file")
		return nil, err
	}
	return conf, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, shutdownStore, err := openEventStore(ctx, conf)
	if err != nil {
		log.WithError(err).WithField("events_storage", conf.EventsStorage.Type).Error("Error opening events storage")
		return err
	}
	// pools go last, after every session stopped writing
	defer func() {
		if err := shutdownStore(); err != nil {
			log.WithError(err).Error("Error shutting down events storage")
		}
	}()

	// https://modelcontextprotocol.io/specification/2025-03-26
	server := mcp.NewStreamableServer(conf, store)

	log.WithFields(log.Fields{
		"server_name":    mcp.ServerName,
		"server_version": mcp.ServerVersion,
		"addr":           conf.Addr,
		"port":           conf.Port,
		"mcp_end_point":  conf.McpEndpoint,
		"events_storage": conf.EventsStorage.Type,
		"resumable":      !conf.DisableStreaming && !conf.DisableStreamResume,
	}).Info("Starting MCP server")

	if err := server.Run(ctx); err != nil {
		log.WithError(err).Error("MCP server stopped")
		return err
	}
	log.Info("MCP server stopped")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return migrate(ctx, conf)
}

// migrate opens the configured store, which creates its schema, and closes it again.
func migrate(ctx context.Context, conf *config.Config) error {
	_, shutdownStore, err := openEventStore(ctx, conf)
	if err != nil {
		log.WithError(err).Error("Error creating events schema")
		return err
	}
	if err := shutdownStore(); err != nil {
		return err
	}
	log.WithField("events_storage", conf.EventsStorage.Type).Info("Events schema is ready")
	return nil
}
