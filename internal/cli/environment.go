package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/dotagent/internal/config"
	"github.com/harun/dotagent/internal/logger"
	"github.com/harun/dotagent/internal/tracing"
	"github.com/harun/dotagent/pkg/agent"
	"github.com/harun/dotagent/pkg/chaintools"
	"github.com/harun/dotagent/pkg/tools"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// environmentOptions selects what a command needs from the environment
type environmentOptions struct {
	// agent requires a valid model configuration
	agent bool
	// interactive keeps the console at warn unless --log-level is set
	interactive bool
}

// environment holds the process-wide collaborators built from configuration
type environment struct {
	cfg       *config.Config
	log       *logger.Logger
	toolkit   *chaintools.Toolkit
	registry  *tools.Registry
	telemetry bool
}

func loadEnvironment(cmd *cobra.Command, opts environmentOptions) (*environment, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	} else if opts.interactive {
		cfg.Logging.Level = "warn"
	}

	if opts.agent {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Format != "json",
		Output:    cmd.ErrOrStderr(),
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	for _, problem := range config.NewValidator().ValidateConfig(cfg) {
		log.Warn().Err(problem).Msg("Configuration check")
	}

	rt := &environment{cfg: cfg, log: log}

	if cfg.Telemetry.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Telemetry.ServiceName); err != nil {
			log.Warn().Err(err).Msg("OpenTelemetry disabled")
		} else {
			rt.telemetry = true
		}
	}

	toolkit, err := chaintools.NewToolkit(cfg.ToolkitConfig(), log.GetZerolog())
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.toolkit = toolkit

	rt.registry = tools.NewRegistry(log.GetZerolog())
	if err := toolkit.Register(rt.registry); err != nil {
		rt.Close()
		return nil, err
	}

	return rt, nil
}

func (rt *environment) logger() zerolog.Logger {
	return rt.log.GetZerolog()
}

func (rt *environment) newSession() (*agent.Session, error) {
	return agent.NewSession(rt.cfg.Agent, rt.registry, agent.WithLogger(rt.logger()))
}

// Close releases node connections and flushes telemetry
func (rt *environment) Close() error {
	var errs []error
	if rt.toolkit != nil {
		errs = append(errs, rt.toolkit.Close())
	}
	if rt.telemetry {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, tracing.ShutdownOpenTelemetry(ctx))
		cancel()
	}
	if rt.log != nil {
		errs = append(errs, rt.log.Close())
	}
	return errors.Join(errs...)
}
