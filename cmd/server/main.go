package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"splat-notifyer/internal/config"
	"splat-notifyer/internal/constants"
	fxmodules "splat-notifyer/internal/fx"
	"splat-notifyer/internal/server"
	"splat-notifyer/internal/session"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.FormModule,
		fx.Invoke(runServer),
	).Run()
}

func runServer(
	lc fx.Lifecycle,
	formServer *server.FormServer,
	sessions *session.Manager,
	cfg *config.Config,
	logger zerolog.Logger,
) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           formServer.Routes(),
		ReadHeaderTimeout: constants.ExternalAPITimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.RemoteAPIURL == "" {
				logger.Warn().Msg("REMOTE_API_URL is not set, webhook checks and submissions will fail")
			}
			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("form server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal().Err(err).Msg("form server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down form server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("form server shutdown failed")
				return err
			}
			if err := sessions.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing session store")
			}
			logger.Info().Msg("form server stopped gracefully")
			return nil
		},
	})
}
