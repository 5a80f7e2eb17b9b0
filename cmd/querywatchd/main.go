// Command querywatchd is the server: it loads configuration, wires the
// Fetcher/Storage/Registry collaborators, and serves the JSON/HTTP API
// spec.md §6 describes, following the teacher's own cobra-based
// entry-point pattern (env.Load -> config.Load -> run loop with
// signal-driven cancellation).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmagro/querywatch/internal/config"
	"github.com/dmagro/querywatch/internal/env"
	"github.com/dmagro/querywatch/internal/fetch"
	"github.com/dmagro/querywatch/internal/registry"
	"github.com/dmagro/querywatch/internal/storage"
	"github.com/dmagro/querywatch/internal/transport"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "querywatchd",
		Short: "Run the querywatch change-monitor server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "config/querywatchd.yaml", "path to server config")
	return cmd
}

func run(cfgPath string) error {
	env.Load()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("querywatchd: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	defaultSound, err := os.ReadFile(cfg.Storage.DefaultSoundFile)
	if err != nil {
		log.Warn("no default sound file configured", "error", err)
	}

	store, err := storage.Open(filepath.Join(cfg.Storage.Root, "querywatch.db"), defaultSound)
	if err != nil {
		return fmt.Errorf("querywatchd: %w", err)
	}
	defer store.Close()

	fetcher := fetch.New(fetch.Config{
		Timeout:     cfg.Fetch.Timeout,
		UserAgent:   cfg.Fetch.UserAgent,
		DumpEnabled: cfg.Monitor.DumpEnabled,
		DumpDir:     cfg.Monitor.DumpDir,
	})

	reg := registry.New(registry.Config{
		Authenticator:   registry.NewStaticAuthenticator(loadCredentials()),
		Storage:         store,
		Fetcher:         fetcher,
		JWTSecret:       []byte(cfg.Auth.JWTSecret),
		MinInterval:     cfg.Monitor.MinIntervalMinutes,
		ScanConcurrency: cfg.Monitor.ScanConcurrency,
		CaptchaKeywords: cfg.Monitor.CaptchaKeywords,
		Logger:          log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	go reg.Housekeep(ctx, 5*time.Minute)

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	if err := config.Watch(cfgPath, func(fresh *config.Config) {
		reg.ReloadConfig(fresh.Monitor.CaptchaKeywords, fresh.Monitor.DumpEnabled)
		log.Info("config hot-reloaded", "path", cfgPath)
	}, stopWatch, log); err != nil {
		log.Warn("config watch unavailable", "error", err)
	}

	srv := transport.NewServer(reg, cfg, log)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: srv,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("listening", "addr", httpServer.Addr)
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		err = httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	} else {
		err = httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("querywatchd: %w", err)
	}
	return nil
}

// loadCredentials reads a single QUERYWATCH_USER/QUERYWATCH_PASS pair from
// the environment. A real deployment would back this with a credential
// store; registry.Authenticator is the seam for swapping one in, per
// spec.md §1's "Credential authentication... a separate identity
// collaborator" non-goal.
func loadCredentials() map[string]string {
	creds := map[string]string{}
	if u := os.Getenv("QUERYWATCH_USER"); u != "" {
		creds[u] = os.Getenv("QUERYWATCH_PASS")
	}
	return creds
}
