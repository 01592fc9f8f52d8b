package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scriptgate/internal/auditlog"
	"scriptgate/internal/chat"
	"scriptgate/internal/config"
	"scriptgate/internal/gateway"
	"scriptgate/internal/logging"
	"scriptgate/internal/provider"
	"scriptgate/internal/runner"

	"github.com/spf13/cobra"
)

// app holds the components built from one config.
type app struct {
	cfg       *config.Config
	runner    *runner.Runner
	providers *provider.Factory
	chat      *chat.Service
	audit     *auditlog.Store
}

// newApp wires the runner, the chat service and, when enabled, the audit
// store. The chat service is nil when no route needs it.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg}
	a.runner = runner.FromConfig(cfg, logger)
	a.providers = provider.NewFactory(cfg, a.runner, logger)

	if hasChatRoute(cfg) {
		svc, err := newChatService(cfg, a.providers, logger)
		if err != nil {
			return nil, err
		}
		a.chat = svc
	}

	if cfg.Audit.Enabled {
		store, err := auditlog.NewStore(cfg.Audit.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
		a.audit = store
	}
	return a, nil
}

func (a *app) Close() {
	if a.audit != nil {
		a.audit.Close()
	}
}

func hasChatRoute(cfg *config.Config) bool {
	for _, r := range cfg.Routes {
		if r.Kind == config.RouteChat {
			return true
		}
	}
	return false
}

func newChatService(cfg *config.Config, providers *provider.Factory, logger *slog.Logger) (*chat.Service, error) {
	prov, err := providers.ChatProvider()
	if err != nil {
		return nil, fmt.Errorf("chat provider: %w", err)
	}

	systemPrompt := cfg.Chat.SystemPrompt
	if systemPrompt == "" && cfg.Chat.SystemPromptFile != "" {
		data, err := os.ReadFile(cfg.Chat.SystemPromptFile)
		if err != nil {
			return nil, fmt.Errorf("read system prompt: %w", err)
		}
		systemPrompt = string(data)
	}

	return chat.NewService(chat.ServiceConfig{
		Provider:        prov,
		Model:           cfg.Chat.Model,
		MaxTokens:       cfg.Chat.MaxTokens,
		MaxHistoryTurns: cfg.Chat.MaxHistoryTurns,
		BookingURL:      cfg.Chat.BookingURL,
		SystemPrompt:    systemPrompt,
		Greetings:       chat.MergeGreetings(cfg.Chat.Greetings),
		Logger:          logger,
	}), nil
}

func serveCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		Long:  "Serves every configured route until interrupted. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port and PORT)")
	return cmd
}

func runServe(cfg *config.Config) error {
	log, closeLog, err := logging.NewFromConfig(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()
	logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, name := range a.runner.Names() {
		if err := a.runner.Check(name); err != nil {
			logger.Warn("target not available", logging.FieldTarget, name, "err", err)
		}
	}
	if a.chat != nil {
		if err := a.chat.Healthy(ctx); err != nil {
			logger.Warn("chat provider unhealthy at startup", "provider", a.chat.ProviderName(), "err", err)
		} else {
			logger.Info("chat provider healthy", "provider", a.chat.ProviderName())
		}
	}

	gwCfg := gateway.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ServiceName:     cfg.Server.ServiceName,
		Version:         version,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		CORSOrigins:     cfg.Server.CORSOrigins,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second,
		Table:           gateway.TableFromConfig(cfg),
		Runner:          a.runner,
		Logger:          logger,
	}
	if a.chat != nil {
		gwCfg.Chat = a.chat
	}
	if a.audit != nil {
		gwCfg.Audit = a.audit
		go pruneLoop(ctx, a.audit, time.Duration(cfg.Audit.RetentionDays)*24*time.Hour)
	}

	return gateway.New(gwCfg).Start(ctx)
}

// pruneLoop trims the audit log once at startup and then hourly.
func pruneLoop(ctx context.Context, store *auditlog.Store, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if _, err := store.Prune(ctx, retention); err != nil {
			logger.Warn("audit prune failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
