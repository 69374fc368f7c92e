package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/brokerlink/internal/config"
	"github.com/nfrund/brokerlink/internal/echobroker"
	"github.com/nfrund/brokerlink/internal/logging"
	"github.com/nfrund/brokerlink/internal/topics"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve-echo",
	Short: "Run a loopback broker for local development",
	Long: `Run a broker that answers built-in broker requests and subscriptions and echoes
every other message back to its sender. The websocket endpoint is "/" and
"/healthz" reports the number of connected clients.

Examples:
  brokerctl serve-echo
  brokerctl serve-echo --addr :9000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		addr := cfg.EchoAddr
		if serveAddr != "" {
			addr = serveAddr
		}
		logger := logging.New()

		srv := echobroker.NewServer(echobroker.NewBroker(topics.Default(), logger), logger)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start(addr) }()

		// Wait for interrupt signal to gracefully shut down the server with a timeout.
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info("Echo broker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default $ECHO_BROKER_ADDR or "+config.DefaultEchoAddr+")")
}
