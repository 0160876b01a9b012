// Command server runs the reference table service: an authoritative
// sqlite-backed store behind the HTTP API the sync client speaks.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/offlinekit/tablesync/internal/server/handlers"
	"github.com/offlinekit/tablesync/internal/server/jwt"
	"github.com/offlinekit/tablesync/internal/server/middleware"
	"github.com/offlinekit/tablesync/internal/server/storage/sqlite"
)

// Version is set via ldflags during build
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:     "tablesyncd",
		Short:   "Reference table service for tablesync clients",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v)
		},
	}

	flags := root.Flags()
	flags.String("addr", ":8080", "listen address")
	flags.String("db", "tablesync-server.db", "path to the sqlite database")
	flags.String("secret", "", "JWT signing secret (required)")
	flags.Duration("token-ttl", 24*time.Hour, "issued token lifetime")
	flags.Int("rate", 600, "max requests per client per window")
	flags.Duration("rate-window", time.Minute, "rate limit window")

	issue := &cobra.Command{
		Use:   "issue-token <subject>",
		Short: "Issue a bearer token for a client and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := jwt.NewService(v.GetString("secret"), v.GetDuration("token-ttl")).Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	root.AddCommand(issue)

	// Флаги перекрываются переменными окружения TABLESYNC_*
	v.SetEnvPrefix("TABLESYNC")
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)

	return root
}

func run(ctx context.Context, v *viper.Viper) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	secret := v.GetString("secret")
	if secret == "" {
		return errors.New("JWT secret is required (--secret or TABLESYNC_SECRET)")
	}

	store, err := sqlite.New(ctx, v.GetString("db"))
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	tokens := jwt.NewService(secret, v.GetDuration("token-ttl"))

	mux := http.NewServeMux()
	handlers.NewTablesHandler(logger, store).Register(mux)

	health := handlers.NewHealthHandler(logger, Version)

	// Health остается снаружи auth-цепочки для мониторинга
	authed := middleware.Auth(logger, tokens)(mux)
	outer := http.NewServeMux()
	outer.HandleFunc("GET /api/v1/health", health.Health)
	outer.Handle("/api/v1/tables/", authed)

	handler := middleware.Logging(logger, "/api/v1/health")(
		middleware.Recovery(logger)(
			middleware.RateLimit(v.GetInt("rate"), v.GetDuration("rate-window"), logger)(outer)))

	server := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", server.Addr, "version", Version)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
