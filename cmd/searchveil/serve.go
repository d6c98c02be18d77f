package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"searchveil/classmap"
	"searchveil/internal/config"
	"searchveil/internal/logging"
	"searchveil/internal/proxy"
	"searchveil/rewrite"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = 10 * time.Minute
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the search front end",
		Long: `Serve runs the HTTP front end.

Examples:
  # Listen on the default :5000
  searchveil serve

  # Override the listen address and vocabulary file
  searchveil serve --listen 127.0.0.1:8080 --vocabulary ./vocabulary.yaml

Environment:
  SEARCHVEIL_ROOT_URL            public root used in rewritten links
  SEARCHVEIL_UPSTREAM_URL        upstream search endpoint
  SEARCHVEIL_BROWSER=true        render anonymous views in headless Chrome
  SEARCHVEIL_CONFIG_THEME=dark   default user settings (SEARCHVEIL_CONFIG_*)`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().StringP("listen", "l", "", "listen address (overrides SEARCHVEIL_LISTEN)")
	cmd.Flags().String("vocabulary", "", "vocabulary YAML file (overrides SEARCHVEIL_VOCABULARY)")
	cmd.Flags().String("env-file", ".env", "dotenv file loaded before reading the environment")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Listen = listen
	}
	if vocab, _ := cmd.Flags().GetString("vocabulary"); vocab != "" {
		cfg.Vocabulary = vocab
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Development: cfg.LogDev})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	vocab, vocabPath, err := config.LoadVocabulary(cfg.Vocabulary)
	if err != nil {
		return err
	}
	if vocabPath != "" {
		logger.Info("vocabulary loaded", zap.String("path", vocabPath))
	}

	pipeline := rewrite.New(classmap.Default(), vocab, rewrite.WithLogger(logger.Named("rewrite")))
	srv, err := proxy.New(proxy.Config{App: cfg, Pipeline: pipeline, Logger: logger})
	if err != nil {
		return err
	}
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
	}
	logger.Info("listening",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("browser", cfg.Browser),
		zap.Strings("stages", pipeline.Stages()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return srv.SweepSessions(ctx, sweepInterval)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
