package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/brokerlink/internal/app"
	"github.com/nfrund/brokerlink/internal/config"
	"github.com/nfrund/brokerlink/internal/logging"
	"github.com/nfrund/brokerlink/internal/socket"
)

var (
	flagURL         string
	flagMock        bool
	flagOpenTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "brokerctl",
	Short: "Talk to a broker over its websocket",
	Long: `brokerctl sends, requests and listens for broker messages from the command line.

Messages are addressed by topics given as JSON, for example '{"type":"motor","id":3}'.
Configuration comes from the environment (BROKER_URL, BROKER_MOCK, ...) and an
optional .env file; the flags below override it.

Use "brokerctl [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagURL, "url", "", "Broker URL (default $BROKER_URL or "+config.DefaultBrokerURL+")")
	rootCmd.PersistentFlags().BoolVar(&flagMock, "mock", false, "Use the in-memory scripted transport instead of the network")
	rootCmd.PersistentFlags().DurationVar(&flagOpenTimeout, "open-timeout", 10*time.Second, "How long to wait for the connection to open")
}

// loadConfig reads the environment and applies the persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagURL != "" {
		cfg.BrokerURL = flagURL
	}
	if flagMock {
		cfg.Mock = true
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// withConnection opens the primary connection, runs fn and shuts everything
// down. ctx passed to fn ends on SIGINT or SIGTERM.
func withConnection(cmd *cobra.Command, opts []app.Option, fn func(ctx context.Context, conn *socket.Connection) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer a.Shutdown()

	conn, err := a.Primary()
	if err != nil {
		return err
	}

	openCtx, cancel := context.WithTimeout(ctx, flagOpenTimeout)
	defer cancel()
	if err := conn.Open().Wait(openCtx); err != nil {
		return fmt.Errorf("open %s: %w", conn.URL(), err)
	}
	logger.Debug("Connection open", slog.String("url", conn.URL()))

	return fn(ctx, conn)
}

// parseJSONArg decodes a command-line JSON value.
func parseJSONArg(name, arg string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return nil, fmt.Errorf("%s is not valid JSON: %w", name, err)
	}
	return v, nil
}

func printJSON(cmd *cobra.Command, v any, indent bool) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
