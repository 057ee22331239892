package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"splat-notifyer/internal/config"
	"splat-notifyer/internal/constants"
	"splat-notifyer/internal/devapi"
	fxmodules "splat-notifyer/internal/fx"
	"splat-notifyer/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.DevAPIModule,
		fx.Invoke(runServer),
	).Run()
}

func runServer(
	lc fx.Lifecycle,
	apiServer *devapi.Server,
	svc *service.ConfigService,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.DevAPIPort),
		Handler:           apiServer.Routes(),
		ReadHeaderTimeout: constants.ExternalAPITimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := svc.SyncStoredCount(ctx); err != nil {
				return fmt.Errorf("failed to count stored configs: %w", err)
			}
			go func() {
				logger.Info().Str("addr", srv.Addr).Bool("probe_webhooks", cfg.ProbeWebhooks).Msg("dev API starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal().Err(err).Msg("dev API failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down dev API")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("dev API shutdown failed")
				return err
			}
			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}
			logger.Info().Msg("dev API stopped gracefully")
			return nil
		},
	})
}
