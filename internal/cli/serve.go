package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hsa-planner/internal/handler"
	"hsa-planner/internal/infra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API on $PORT.

Sessions are kept in memory or in Redis depending on SESSION_STORE, and every
revision is written to the audit database when AUDIT_DB_PATH is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *options) error {
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	log := infra.NewLogger(cfg.AppEnv)

	app, err := infra.NewApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	hopts := []handler.Option{
		handler.WithDefaultTaxYear(cfg.TaxYear),
		handler.WithLogger(log.With().Str("component", "http").Logger()),
	}
	if cfg.RateLimitPerMin > 0 {
		rl := handler.NewRateLimiter(cfg.RateLimitPerMin)
		defer rl.Stop()
		hopts = append(hopts, handler.WithRateLimiter(rl))
	}
	if app.Audit != nil {
		hopts = append(hopts, handler.WithCalculationRecorder(app.Audit))
	}
	h := handler.New(app.Service, app.Policies, hopts...)
	srv := infra.NewHTTPServer(cfg, h.Handle, log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("hsa planner listening")
		errCh <- srv.ListenAndServe(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
