package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"deployhook/internal/config"
	"deployhook/internal/deploylog"
	"deployhook/internal/deployment"
	"deployhook/internal/ghapi"
	"deployhook/internal/history"
	"deployhook/internal/security"
)

// loadConfig resolves and validates the configuration. Validation errors
// are printed one per line, the way they are reported at startup.
func loadConfig() (*config.Config, []string, error) {
	cfg, err := config.LoadFrom(configFile)
	if err != nil {
		return nil, nil, err
	}

	errs, warnings := cfg.Validate()
	if len(errs) > 0 {
		return nil, nil, fmt.Errorf("invalid configuration:\n%s", strings.Join(errs, "\n"))
	}
	return cfg, warnings, nil
}

// setupLogging configures slog for console and optional file logging.
// Returns both the logger and the file handle (nil without a log file;
// caller must close it otherwise).
func setupLogging(logPath string, level slog.Level) (*slog.Logger, *os.File, error) {
	var w io.Writer = os.Stdout
	var file *os.File

	if logPath != "" {
		if err := security.CreateSecureDir(filepath.Dir(logPath), security.PermDirectory); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		// Open log file with secure permissions
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, security.PermLogFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f

		// Create multi-writer to log to both file and console
		w = io.MultiWriter(os.Stdout, file)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(handler), file, nil
}

// stack is the deployment machinery shared by serve and deploy.
type stack struct {
	cfg     *config.Config
	log     *deploylog.Log
	history *history.History
	orch    *deployment.Orchestrator
	source  deployment.Source
}

func (s *stack) Close() {
	if s.history != nil {
		s.history.Close()
	}
}

// buildStack wires the git source, compose runtime, deployment log,
// history and optional GitHub reporter into an orchestrator.
func buildStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	dlog := deploylog.New(cfg.DeploymentLogPath())

	exec := deployment.NewExecutor(cfg.ProjectPath, cfg.CommandTimeout, dlog, logger)
	exec.Secrets = cfg.Secrets()
	for _, cmd := range [][]string{cfg.Compose.Primary, cfg.Compose.Legacy, {cfg.Docker}} {
		if len(cmd) > 0 && cmd[0] != "" {
			exec.Policy.Allow(cmd[0])
		}
	}

	git := deployment.NewGit(cfg.ProjectPath, cfg.Remote, exec)
	git.Branch = cfg.Branch

	primary := deployment.NewPrimaryCompose(exec, cfg.Compose.Files)
	primary.Command = cfg.Compose.Primary
	primary.Name = strings.Join(cfg.Compose.Primary, " ")
	primary.Docker = cfg.Docker

	var runtime deployment.Runtime = primary
	if len(cfg.Compose.Legacy) > 0 {
		legacy := deployment.NewLegacyCompose(exec, cfg.Compose.Files)
		legacy.Command = cfg.Compose.Legacy
		legacy.Name = strings.Join(cfg.Compose.Legacy, " ")
		legacy.Docker = cfg.Docker
		runtime = deployment.NewFallbackRuntime(primary, legacy, logger)
	}

	s := &stack{cfg: cfg, log: dlog, source: git}

	var reporters []deployment.Reporter
	if cfg.HistoryDB != "" {
		hist, err := history.NewHistory(cfg.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize history database: %w", err)
		}
		hist.SetLogger(logger)
		s.history = hist
		reporters = append(reporters, hist)
	}

	if client := ghapi.NewClient(ctx, cfg.GitHubToken); client != nil {
		reporters = append(reporters, ghapi.NewCommitStatus(client, "", logger))
		logger.Info("GitHub commit status reporting enabled", "context", ghapi.DefaultStatusContext)
	}

	s.orch = deployment.NewOrchestrator(deployment.Options{
		Source:     git,
		Runtime:    runtime,
		Services:   cfg.Services,
		Log:        dlog,
		Logger:     logger,
		Reporters:  reporters,
		RunTimeout: cfg.RunTimeout,
	})
	return s, nil
}

// openHistory opens the history database read side for CLI commands.
func openHistory(cfg *config.Config) (*history.History, error) {
	if cfg.HistoryDB == "" {
		return nil, fmt.Errorf("deployment history is disabled (%s is empty)", config.EnvHistoryDB)
	}
	hist, err := history.NewHistory(cfg.HistoryDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return hist, nil
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
