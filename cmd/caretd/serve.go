package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/caretd/internal/adapters/http/api"
	"github.com/okian/caretd/internal/adapters/http/swagger"
	"github.com/okian/caretd/internal/adapters/journal"
	service "github.com/okian/caretd/internal/app"
	"github.com/okian/caretd/internal/config"
	"github.com/okian/caretd/pkg/logger"
)

// HTTP server timeout constants. Writes have no deadline so event streams
// can stay open; they end when the base context is cancelled.
const (
	readTimeout       = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
	pruneInterval     = time.Hour
)

type serveFlags struct {
	configPath string
	addr       string
	journal    string
	retention  time.Duration
	watch      bool
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP session service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), &f)
		},
	}
	cmd.Flags().StringVar(&f.configPath, "config", os.Getenv(config.EnvConfigPath), "YAML or TOML config file")
	cmd.Flags().StringVar(&f.addr, "addr", "", "listen address, overrides config")
	cmd.Flags().StringVar(&f.journal, "journal", "", "sqlite journal path, overrides config")
	cmd.Flags().DurationVar(&f.retention, "journal-retention", 0, "prune closed journal sessions older than this (0 keeps all)")
	cmd.Flags().BoolVar(&f.watch, "watch", true, "reload the config file when it changes")
	return cmd
}

func serve(ctx context.Context, f *serveFlags) error {
	cfg, err := config.LoadFile(ctx, f.configPath)
	if err != nil {
		return err
	}
	if f.addr != "" {
		cfg.Addr = f.addr
	}
	if f.journal != "" {
		cfg.JournalPath = f.journal
	}

	if err := logger.Init(logger.WithWriter(os.Stderr), logger.WithFormat(logger.Format(cfg.LogFormat))); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	opts := []service.Option{service.WithLogger(log.Named("service"))}
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := j.Close(); err != nil {
				log.Error(ctx, "journal close failed", logger.Error(err))
			}
		}()
		opts = append(opts, service.WithJournal(j))
		if f.retention > 0 {
			go pruneJournal(ctx, j, f.retention)
		}
		log.Info(ctx, "journal enabled", logger.String("path", cfg.JournalPath))
	}

	svc, err := service.NewFromConfig(cfg, opts...)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	if f.watch && f.configPath != "" {
		err := config.Watch(ctx, f.configPath, func(next *config.Config) {
			if err := svc.ApplyConfig(ctx, next); err != nil {
				log.Warn(ctx, "config not applied", logger.Error(err))
			}
		})
		if err != nil {
			log.Warn(ctx, "config watch disabled", logger.Error(err))
		}
	}

	mux := http.NewServeMux()
	api.NewServer(svc, svc).Register(mux)
	swagger.Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

func pruneJournal(ctx context.Context, j journal.Journal, retention time.Duration) {
	log := logger.Named("journal")
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		n, err := j.Prune(ctx, time.Now().Add(-retention))
		switch {
		case err != nil:
			log.Warn(ctx, "journal prune failed", logger.Error(err))
		case n > 0:
			log.Info(ctx, "journal pruned", logger.Int("sessions", int(n)))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
