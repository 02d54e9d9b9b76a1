package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tweenson/artificer/auth"
	"github.com/tweenson/artificer/engine"
	"github.com/tweenson/artificer/jobs"
	"github.com/tweenson/artificer/observability"
	"github.com/tweenson/artificer/store"
	"github.com/tweenson/artificer/transport"
)

func main() {
	var (
		configFile string
		verbose    bool
	)

	root := &cobra.Command{
		Use:           "artificerd",
		Short:         "Local-first agent runtime server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configFile, verbose)
		},
	}
	serve.Flags().StringVarP(&configFile, "config", "c", "", "path to YAML config file")
	serve.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(serve)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("artificerd failed", "error", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, configFile string, verbose bool) error {
	cfg := engine.DefaultConfig()
	if configFile != "" {
		loaded, err := engine.LoadConfig(configFile)
		if err != nil {
			return err
		}
		cfg = *loaded
	}
	if len(cfg.Specialists) == 0 {
		return errors.New("config must define at least one specialist")
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	observer := observability.NewSlogObserver(logger)

	// The archivist tools read the store, so it opens before the registry
	// is built and the engine takes it over.
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}

	registry, err := registerTools(st)
	if err != nil {
		st.Close()
		return err
	}

	eng, err := engine.New(cfg, registry, engine.WithObserver(observer), engine.WithStore(st))
	if err != nil {
		st.Close()
		return err
	}
	defer eng.Close()

	worker := jobs.NewWorker(eng.Store(), eng,
		jobs.WithPollInterval(time.Duration(cfg.Worker.PollInterval)),
		jobs.WithObserver(observer),
	)
	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(workerCtx)
	}()

	server := transport.NewServer(eng, auth.NewStoreAuthenticator(eng.Store()), transport.WithObserver(observer))
	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	logger.Info("listening", "addr", cfg.Listen)

	select {
	case err := <-errCh:
		stopWorker()
		<-workerDone
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}

	// Let queued background work finish before closing the store.
	stopWorker()
	<-workerDone
	worker.Drain(shutdownCtx)
	return nil
}
