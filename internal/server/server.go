package server

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"splat-notifyer/internal/config"
	"splat-notifyer/internal/form"
	"splat-notifyer/internal/metrics"
	"splat-notifyer/internal/middleware"
	"splat-notifyer/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templateFS embed.FS

// FormServer serves the notification form and applies user events to form
// sessions.
type FormServer struct {
	sessions *session.Manager
	tmpl     *template.Template
	cfg      *config.Config
	logger   zerolog.Logger
}

func NewFormServer(sessions *session.Manager, cfg *config.Config, logger zerolog.Logger) (*FormServer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &FormServer{sessions: sessions, tmpl: tmpl, cfg: cfg, logger: logger}, nil
}

func (s *FormServer) Routes() http.Handler {
	r := chi.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	r.Use(middleware.RequestID(s.logger))
	r.Use(middleware.Recover)
	r.Use(metrics.Middleware)
	r.Use(c.Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", s.handleIndex)
	r.Post("/sessions", s.handleCreateSession)
	r.Route("/sessions/{sid}", func(r chi.Router) {
		r.Get("/", s.handlePage)
		r.Get("/state", s.handleState)
		r.Post("/webhook", s.handleSetWebhook)
		r.Post("/webhook/check", s.handleCheckWebhook)
		r.Post("/rules", s.handleAddRule)
		r.Post("/rules/apply", s.handleApplyRules)
		r.Post("/submit", s.handleSubmit)
		r.Route("/rules/{rid}", func(r chi.Router) {
			r.Post("/", s.handleUpdateRule)
			r.Post("/delete", s.handleDeleteRule)
			r.Post("/modes/{mode}", s.handleToggleMode)
			r.Post("/modes/{mode}/maps/{map}", s.handleToggleMap)
			r.Post("/modes/{mode}/notify", s.handleSetNotifyType)
		})
	})

	return r
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, form.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, form.ErrBusy), errors.Is(err, errStaleForm):
		return http.StatusConflict
	case errors.Is(err, form.ErrWebhookCheck), errors.Is(err, form.ErrEmptyWebhook):
		return http.StatusUnprocessableEntity
	case errors.Is(err, form.ErrUnknownMode), errors.Is(err, form.ErrUnknownMap), errors.Is(err, form.ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
