package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/harun/dotagent/internal/observability"
	"github.com/harun/dotagent/pkg/agent"
	"github.com/harun/dotagent/pkg/gateway"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	statsInterval   = time.Minute
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve agent sessions over websocket",
	Long: `Start the websocket gateway. Every connection to /ws gets its own agent
session; /metrics exposes Prometheus metrics and /healthz reports liveness.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides gateway.host)")
	serveCmd.Flags().IntVar(&servePort, "port", -1, "listen port (overrides gateway.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := loadEnvironment(cmd, environmentOptions{agent: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.cfg.Gateway
	if serveHost != "" {
		cfg.Host = serveHost
	}
	if servePort >= 0 {
		cfg.Port = servePort
	}

	if err := os.MkdirAll(rt.cfg.DataDir, 0755); err == nil {
		auditPath := filepath.Join(rt.cfg.DataDir, "audit.log")
		if err := observability.InitAuditLogger(auditPath); err != nil {
			rt.log.Warn().Err(err).Msg("Audit log disabled")
		} else {
			defer observability.GetAuditLogger().Close()
		}
	}

	logger := rt.logger()
	srv, err := gateway.NewServer(gateway.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		SharedSecret:      cfg.SharedSecret,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Logger:            logger,
		NewSession: func(clientID string) (*agent.Session, error) {
			return agent.NewSession(rt.cfg.Agent, rt.registry,
				agent.WithLogger(logger.With().Str("clientId", clientID).Logger()))
		},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Gateway listening on ws://%s/ws\n", srv.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				logger.Info().Int("clients", len(srv.GetConnectedClients())).Msg("Gateway stats")
			}
		}
	})

	return g.Wait()
}
