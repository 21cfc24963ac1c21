package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harun/agentrelay/internal/config"
	"github.com/harun/agentrelay/internal/logger"
	"github.com/harun/agentrelay/internal/observability"
	"github.com/harun/agentrelay/internal/tracing"
	"github.com/harun/agentrelay/pkg/agent"
	"github.com/harun/agentrelay/pkg/gateway"
	"github.com/harun/agentrelay/pkg/service"
	"github.com/harun/agentrelay/pkg/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agentrelay service in the foreground",
	Long: `Run the agentrelay service. Persisted sessions are restored, the HTTP and
WebSocket listener starts, and the process runs until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	pidFile := getPIDFilePath()
	if isRunning(pidFile) {
		return fmt.Errorf("agentrelay is already running (PID file: %s)", pidFile)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      expandHome(cfg.Logging.File),
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer lg.Close()
	zl := lg.GetZerolog()

	if cfg.Telemetry.TracingEnabled {
		if err := tracing.InitOpenTelemetry(cfg.Telemetry.ServiceName, cfg.Telemetry.SampleRatio); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer tracing.ShutdownOpenTelemetry(context.Background())
	}

	if err := observability.InitAuditLogger(expandHome(cfg.Telemetry.AuditFile)); err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer observability.GetAuditLogger().Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observability.RecordConfigAudit(ctx, "load", "cli", map[string]interface{}{
		"config_path": config.NewLoader(cfgFile).GetConfigPath(),
		"port":        cfg.Server.Port,
	})

	a, err := newApp(cfg, zl)
	if err != nil {
		return err
	}

	if err := a.start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(err, a.stop(shutdownCtx))
	}

	if err := writePIDFile(pidFile); err != nil {
		zl.Warn().Err(err).Str("pid_file", pidFile).Msg("Failed to write PID file")
	}
	defer os.Remove(pidFile)

	zl.Info().Str("addr", a.gateway.Addr()).Str("version", version).Msg("agentrelay started")

	<-ctx.Done()
	zl.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.stop(shutdownCtx)
}

// app is the wired service graph
type app struct {
	logger  zerolog.Logger
	store   *store.Store
	service *service.Service
	gateway *gateway.Server
}

func newApp(cfg *config.Config, zl zerolog.Logger) (*app, error) {
	path, err := store.ResolvePath(
		expandHome(cfg.Storage.PreferredDir),
		expandHome(cfg.Storage.FallbackDir),
		cfg.Storage.FileName,
	)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(store.Config{
		Path:   path,
		Logger: zl.With().Str("component", "store").Logger(),
	})
	if err != nil {
		return nil, err
	}

	tools := agent.NewToolbox(agent.ToolboxConfig{
		WorkspaceRoot: expandHome(cfg.Agent.WorkspaceRoot),
		MaxReadBytes:  cfg.Agent.MaxReadBytes,
	})
	loopConfig := func(baseURL, provider string) agent.LoopConfig {
		return agent.LoopConfig{
			BaseURL:    baseURL,
			MaxTurns:   cfg.Agent.MaxTurns,
			MaxRetries: cfg.Agent.MaxRetries,
			Timeout:    cfg.Agent.Timeout,
			Tools:      tools,
			Logger:     zl.With().Str("component", "agent").Str("provider", provider).Logger(),
		}
	}
	router := agent.NewRouter(agent.RouterConfig{
		Anthropic: agent.NewAnthropicLoop(loopConfig(cfg.Agent.AnthropicBaseURL, "anthropic")),
		OpenAI:    agent.NewOpenAILoop(loopConfig(cfg.Agent.OpenAIBaseURL, "openai")),
	})

	svc := service.New(service.Config{
		Store:            st,
		Loop:             router,
		Credentials:      agent.NewCredentialResolver(cfg.Credentials),
		Defaults:         cfg.Defaults,
		SubscriberBuffer: cfg.Server.SubscriberBuffer,
		Logger:           zl.With().Str("component", "service").Logger(),
	})

	gw, err := gateway.NewServer(gateway.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PingInterval:   cfg.Server.PingInterval,
		WriteTimeout:   cfg.Server.WriteTimeout,
		VNCURL:         cfg.Server.VNCURL,
		Service:        svc,
		Logger:         zl.With().Str("component", "gateway").Logger(),
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		logger:  zl,
		store:   st,
		service: svc,
		gateway: gw,
	}, nil
}

// start restores persisted sessions, then begins accepting connections
func (a *app) start(ctx context.Context) error {
	restored, err := a.service.Restore(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore sessions: %w", err)
	}
	a.logger.Info().Int("sessions", restored).Str("db", a.store.Path()).Msg("Sessions restored")

	return a.gateway.Start()
}

// stop closes the listener first so no new work arrives, then drains runs
// and closes the store.
func (a *app) stop(ctx context.Context) error {
	var errs []error
	if err := a.gateway.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.service.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to drain runs: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	return errors.Join(errs...)
}
