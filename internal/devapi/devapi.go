// Package devapi serves a local stand-in for the remote configuration API so
// the form can be exercised end to end without the hosted service.
package devapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"splat-notifyer/internal/api"
	"splat-notifyer/internal/config"
	"splat-notifyer/internal/domain"
	"splat-notifyer/internal/metrics"
	"splat-notifyer/internal/middleware"
	"splat-notifyer/internal/repository"
	"splat-notifyer/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

const maxPayloadBytes = 1 << 20

type Server struct {
	svc    *service.ConfigService
	refs   *domain.ReferenceData
	cfg    *config.Config
	logger zerolog.Logger
}

func NewServer(svc *service.ConfigService, refs *domain.ReferenceData, cfg *config.Config, logger zerolog.Logger) *Server {
	return &Server{svc: svc, refs: refs, cfg: cfg, logger: logger}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	r.Use(middleware.RequestID(s.logger))
	r.Use(middleware.Recover)
	r.Use(metrics.Middleware)
	r.Use(c.Handler)

	r.Get("/config-check", s.handleConfigCheck)
	r.Get("/load-config", s.handleLoadConfig)
	r.Post("/submit-config", s.handleSubmitConfig)
	r.Get("/reference/modes", s.handleModes)
	r.Get("/reference/maps", s.handleMaps)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func message(msg string) map[string]string {
	return map[string]string{"message": msg}
}

func (s *Server) handleConfigCheck(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Check(r.Context(), r.URL.Query().Get("webhookUrl"))

	var werr *service.WebhookError
	switch {
	case errors.As(err, &werr):
		writeJSON(w, http.StatusBadRequest, api.CheckResponse{Valid: false, Error: werr.Reason})
	case err != nil:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("config check failed")
		writeJSON(w, http.StatusInternalServerError, message("Internal server error during database query."))
	default:
		writeJSON(w, http.StatusOK, api.CheckResponse{Valid: true, Exists: res.Exists, Config: res.Config})
	}
}

func (s *Server) handleLoadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.svc.Load(r.Context(), r.URL.Query().Get("webhookUrl"))

	var werr *service.WebhookError
	switch {
	case errors.As(err, &werr):
		writeJSON(w, http.StatusBadRequest, message(werr.Reason))
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, message("No configuration stored for this webhook."))
	case err != nil:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("load config failed")
		writeJSON(w, http.StatusInternalServerError, message("Internal server error during database query."))
	default:
		writeJSON(w, http.StatusOK, cfg)
	}
}

func (s *Server) handleSubmitConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, message("Invalid payload: body too large."))
		return
	}

	name, err := s.svc.Submit(r.Context(), body)

	var perr *service.PayloadError
	switch {
	case errors.As(err, &perr):
		zerolog.Ctx(r.Context()).Info().Str("reason", perr.Reason).Msg("payload rejected")
		writeJSON(w, http.StatusBadRequest, message(perr.Error()))
	case err != nil:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("submit config failed")
		writeJSON(w, http.StatusInternalServerError, message("Error configuring notification schedule."))
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"message":      "Webhook submitted and schedule configured successfully.",
			"scheduleName": name,
		})
	}
}

func (s *Server) handleModes(w http.ResponseWriter, r *http.Request) {
	resp := api.ModesResponse{Modes: make([]domain.Mode, 0, len(s.refs.ModeOrder))}
	for _, id := range s.refs.ModeOrder {
		resp.Modes = append(resp.Modes, s.refs.Modes[id])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMaps(w http.ResponseWriter, r *http.Request) {
	resp := api.MapsResponse{Maps: make([]domain.Map, 0, len(s.refs.MapOrder))}
	for _, id := range s.refs.MapOrder {
		resp.Maps = append(resp.Maps, s.refs.Maps[id])
	}
	writeJSON(w, http.StatusOK, resp)
}
