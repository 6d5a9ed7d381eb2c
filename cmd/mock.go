package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bmr-systems/bmr-admin/internal/logging"
	"github.com/bmr-systems/bmr-admin/internal/mockapi"
	"github.com/bmr-systems/bmr-admin/pkg/output"
)

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Run a local mock of the BMR API",
	Long: `Serve an in-memory BMR API for development and demos.

The mock seeds an admin account and generated records for every module,
then serves until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runMock,
}

func runMock(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	count, _ := cmd.Flags().GetInt("count")
	seed, _ := cmd.Flags().GetInt64("seed")
	anonymous, _ := cmd.Flags().GetBool("anonymous")
	csrf, _ := cmd.Flags().GetBool("require-csrf")
	accessTTL, _ := cmd.Flags().GetDuration("access-ttl")

	level := cfg.Logging.Level
	if l, _ := cmd.Flags().GetString("log-level"); l != "" {
		level = l
	}
	if level == "warn" {
		level = "info"
	}
	logger := logging.New(logging.ParseLevel(level), cfg.Logging.Format).With("service", "mockapi")

	opts := []mockapi.Option{mockapi.WithLogger(logger), mockapi.WithTokenTTL(accessTTL, 7*24*time.Hour)}
	if anonymous {
		opts = append(opts, mockapi.AllowAnonymous())
	}
	if csrf {
		opts = append(opts, mockapi.RequireCSRF())
	}
	srv := mockapi.New(opts...)
	if _, err := srv.SeedAdmin(); err != nil {
		return err
	}
	if count > 0 {
		if err := srv.Seed(count, seed); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	output.Success("Mock API listening on http://%s", ln.Addr())
	output.Info("Log in with: bmrctl auth login --base-url http://%s -e %s -p %s", ln.Addr(), mockapi.AdminEmail, mockapi.AdminPassword)

	select {
	case <-shutdownCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", logging.Error(err))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(mockCmd)

	mockCmd.Flags().String("addr", "127.0.0.1:8000", "listen address")
	mockCmd.Flags().Int("count", 25, "generated records per module")
	mockCmd.Flags().Int64("seed", 1, "seed for generated data")
	mockCmd.Flags().Bool("anonymous", false, "serve resources without a token")
	mockCmd.Flags().Bool("require-csrf", false, "reject unsafe requests without the CSRF token")
	mockCmd.Flags().Duration("access-ttl", 15*time.Minute, "access token lifetime")
}
