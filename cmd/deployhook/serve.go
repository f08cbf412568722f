package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"deployhook/internal/deployment"
	"deployhook/internal/metrics"
	"deployhook/internal/server"
)

var logFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Start the HTTP server to receive GitHub webhook requests.

Pushes to refs/heads/main are deployed in the background; the server
answers GitHub immediately. SIGINT or SIGTERM stops accepting requests
and waits for the in-flight deployment to finish.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&logFile, "log", getEnvOrDefault("WEBHOOK_LOG_FILE", ""), "Path to the service log file (console only when empty)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, warnings, err := loadConfig()
	if err != nil {
		return err
	}

	// Set up logging
	logger, logFileHandle, err := setupLogging(logFile, cfg.SlogLevel())
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	if logFileHandle != nil {
		defer logFileHandle.Close()
	}

	logger.Info("Starting deployhook",
		"version", version,
		"service", cfg.ServiceName,
		"port", cfg.Port,
		"project_path", cfg.ProjectPath,
		"services", cfg.Services,
		"secret_configured", cfg.SecretConfigured(),
		"config", cfg.ConfigFile)
	for _, w := range warnings {
		logger.Warn("Configuration warning", "detail", w)
	}
	if !cfg.SecretConfigured() {
		logger.Warn("WEBHOOK_SECRET is the built-in placeholder; anyone who knows it can trigger deployments")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize deployment", "error", err)
		return err
	}
	defer st.Close()

	m := metrics.New()
	st.orch.AddReporter(m)

	dispatcher := deployment.NewDispatcher(st.orch, cfg.Delay, logger)
	dispatcher.OnRunFinished(func(run *deployment.Run) {
		st.log.Append(run.ID, fmt.Sprintf("Run finished: outcome=%s duration=%s", run.Outcome, run.Duration().Round(time.Millisecond)))
	})
	dispatcher.Start(ctx)

	opts := server.Options{
		Secret:      cfg.Secret,
		ServiceName: cfg.ServiceName,
		Dispatcher:  dispatcher,
		Metrics:     m,
		Logger:      logger,
		RateLimit:   cfg.RateLimit,
	}
	if st.history != nil {
		opts.History = st.history
	}
	srv := server.NewServer(opts)

	serveErr := srv.Run(ctx, cfg.Addr())
	if serveErr != nil {
		logger.Error("Server failed", "error", serveErr)
		stop()
	}

	if dispatcher.Busy() {
		logger.Info("Waiting for the in-flight deployment to finish")
	}
	<-dispatcher.Done()
	logger.Info("Shutdown complete")

	if serveErr != nil {
		return fmt.Errorf("server failed: %w", serveErr)
	}
	return nil
}
