// Package service holds the business logic of the development configuration
// API: webhook checks, payload validation and config storage.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"splat-notifyer/internal/config"
	"splat-notifyer/internal/constants"
	"splat-notifyer/internal/domain"
	"splat-notifyer/internal/metrics"
	"splat-notifyer/internal/repository"
	"splat-notifyer/internal/timewindow"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

const (
	ProbeMessage     = "Validating Splat-Notifyer Webhook..."
	SchedulePrefix   = "splat-notifyer-"
	MsgEmptyWebhook  = "Webhook URL cannot be empty!"
	MsgBadWebhookURL = "Webhook URL must be an http or https URL."
	MsgProbeFailed   = "Webhook Validation Failure"
)

var (
	ErrInvalidWebhook = errors.New("invalid webhook URL")
	ErrProbeFailed    = errors.New("webhook probe failed")
	ErrInvalidPayload = errors.New("invalid payload")
)

// WebhookError carries the user-facing reason a webhook URL was refused.
type WebhookError struct {
	Reason string
	cause  error
}

func (e *WebhookError) Error() string { return e.Reason }

func (e *WebhookError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.cause, ErrInvalidWebhook}
	}
	return []error{ErrInvalidWebhook}
}

// PayloadError describes the first problem found in a submitted payload.
type PayloadError struct {
	Reason string
}

func (e *PayloadError) Error() string { return "Invalid payload: " + e.Reason }

func (e *PayloadError) Unwrap() error { return ErrInvalidPayload }

// Prober posts a message to a webhook to prove it accepts deliveries.
type Prober interface {
	Probe(ctx context.Context, webhookURL, content string) error
}

type ConfigService struct {
	repo   *repository.WebhookConfigRepository
	prober Prober
	logger zerolog.Logger
}

func NewConfigService(repo *repository.WebhookConfigRepository, cfg *config.Config, logger zerolog.Logger) *ConfigService {
	var prober Prober
	if cfg.ProbeWebhooks {
		prober = NewWebhookProber(logger)
	}
	return &ConfigService{repo: repo, prober: prober, logger: logger}
}

// WithProber replaces the webhook prober; nil disables probing.
func (s *ConfigService) WithProber(p Prober) *ConfigService {
	s.prober = p
	return s
}

type CheckResult struct {
	Exists bool
	Config *domain.Config
}

// Check validates webhookURL and returns the configuration stored for it, if
// any.
func (s *ConfigService) Check(ctx context.Context, webhookURL string) (*CheckResult, error) {
	if err := checkWebhookURL(webhookURL); err != nil {
		return nil, err
	}

	if s.prober != nil {
		probeCtx, cancel := context.WithTimeout(ctx, constants.WebhookProbeTimeout)
		defer cancel()
		if err := s.prober.Probe(probeCtx, webhookURL, ProbeMessage); err != nil {
			s.logger.Warn().Err(err).Msg("webhook probe failed")
			return nil, &WebhookError{Reason: MsgProbeFailed, cause: fmt.Errorf("%w: %w", ErrProbeFailed, err)}
		}
	}

	stored, err := s.repo.Get(ctx, webhookURL)
	if errors.Is(err, repository.ErrNotFound) {
		return &CheckResult{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &CheckResult{Exists: true, Config: &stored.Config}, nil
}

func (s *ConfigService) Load(ctx context.Context, webhookURL string) (*domain.Config, error) {
	if err := checkWebhookURL(webhookURL); err != nil {
		return nil, err
	}
	stored, err := s.repo.Get(ctx, webhookURL)
	if err != nil {
		return nil, err
	}
	return &stored.Config, nil
}

// Submit validates a raw config payload and stores it, returning the name of
// the schedule it is registered under.
func (s *ConfigService) Submit(ctx context.Context, body []byte) (string, error) {
	cfg, err := ValidatePayload(body)
	if err != nil {
		return "", err
	}

	name := ScheduleName(cfg.WebhookURL)
	if err := s.repo.Upsert(ctx, name, cfg); err != nil {
		return "", err
	}
	metrics.StoredConfigsTotal.Inc()
	if err := s.SyncStoredCount(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to refresh stored config count")
	}

	s.logger.Info().Str("schedule", name).Int("rules", len(cfg.Rules)).Msg("config stored")
	return name, nil
}

// SyncStoredCount sets the stored-configs gauge from the database.
func (s *ConfigService) SyncStoredCount(ctx context.Context) error {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return err
	}
	metrics.StoredConfigs.Set(float64(n))
	return nil
}

// ScheduleName derives a stable schedule identifier from the webhook URL.
func ScheduleName(webhookURL string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(webhookURL))
	return fmt.Sprintf("%s%d", SchedulePrefix, h.Sum64())
}

func checkWebhookURL(webhookURL string) error {
	if strings.TrimSpace(webhookURL) == "" {
		return &WebhookError{Reason: MsgEmptyWebhook}
	}
	u, err := url.Parse(webhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &WebhookError{Reason: MsgBadWebhookURL}
	}
	return nil
}

// ValidatePayload checks the shape of a submitted config before decoding it.
// Types are checked on the generic JSON form so a wrong type is reported by
// field rather than as a decode error.
func ValidatePayload(body []byte) (domain.Config, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Config{}, &PayloadError{Reason: "body must be a JSON object."}
	}
	if reason := validatePayload(payload); reason != "" {
		return domain.Config{}, &PayloadError{Reason: reason}
	}

	var cfg domain.Config
	if err := json.Unmarshal(body, &cfg); err != nil {
		return domain.Config{}, &PayloadError{Reason: err.Error()}
	}
	return cfg, nil
}

func validatePayload(payload any) string {
	top, ok := payload.(map[string]any)
	if !ok {
		return "Payload must be a dictionary."
	}
	if u, ok := top["webhookUrl"].(string); !ok || u == "" {
		return "webhookUrl is required and must be a non-empty string."
	}
	rules, ok := top["rules"].([]any)
	if !ok {
		return "rules is required and must be a list."
	}

	for i, r := range rules {
		rule, ok := r.(map[string]any)
		if !ok {
			return fmt.Sprintf("Rule at index %d must be a dictionary.", i)
		}
		if reason := validateRule(i, rule); reason != "" {
			return reason
		}
	}
	return ""
}

func validateRule(i int, rule map[string]any) string {
	msg, ok := rule["notificationMessage"].(string)
	if !ok || strings.TrimSpace(msg) == "" {
		return fmt.Sprintf("notificationMessage in rule %d is required and must be a non-empty string.", i)
	}
	if utf8.RuneCountInString(msg) > constants.MaxMessageLength {
		return fmt.Sprintf("notificationMessage in rule %d cannot exceed %d characters.", i, constants.MaxMessageLength)
	}

	mt, _ := rule["matchType"].(string)
	if _, err := domain.ParseMatchType(mt); err != nil {
		return fmt.Sprintf("matchType in rule %d must be one of %s.", i, quoteAll(domain.MatchTypes))
	}

	slots, ok := rule["timeSlots"].([]any)
	if !ok {
		return fmt.Sprintf("timeSlots in rule %d is required and must be a list.", i)
	}
	for j, s := range slots {
		v, ok := s.(string)
		if !ok {
			return fmt.Sprintf("timeSlots[%d] in rule %d is invalid. Expected format HH:MM-HH:MM UTC.", j, i)
		}
		if _, err := timewindow.ParseValue(v); err != nil {
			return fmt.Sprintf("timeSlots[%d] in rule %d is invalid. Expected format HH:MM-HH:MM UTC.", j, i)
		}
	}

	modes, ok := rule["battleModes"].(map[string]any)
	if !ok {
		return fmt.Sprintf("battleModes in rule %d is required and must be a dictionary.", i)
	}
	for name, enabled := range modes {
		if name == "" {
			return fmt.Sprintf("battleModes key in rule %d must be a non-empty string.", i)
		}
		if _, ok := enabled.(bool); !ok {
			return fmt.Sprintf("battleModes value for '%s' in rule %d must be a boolean.", name, i)
		}
	}

	maps, ok := rule["maps"].(map[string]any)
	if !ok {
		return fmt.Sprintf("maps in rule %d is required and must be a dictionary.", i)
	}
	for name, d := range maps {
		if name == "" {
			return fmt.Sprintf("maps key in rule %d must be a non-empty string.", i)
		}
		details, ok := d.(map[string]any)
		if !ok {
			return fmt.Sprintf("map details for '%s' in rule %d must be a dictionary.", name, i)
		}
		nt, _ := details["notifyType"].(string)
		if _, err := domain.ParseNotifyType(nt); err != nil {
			return fmt.Sprintf("notifyType for map '%s' in rule %d must be one of %s.", name, i, quoteAll(domain.NotifyTypes))
		}
		selected, ok := details["selectedMaps"].([]any)
		if !ok {
			return fmt.Sprintf("selectedMaps for map '%s' in rule %d is required and must be a list.", name, i)
		}
		for _, m := range selected {
			if s, ok := m.(string); !ok || s == "" {
				return fmt.Sprintf("All selectedMaps for map '%s' in rule %d must be non-empty strings.", name, i)
			}
		}
	}
	return ""
}

func quoteAll[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = "'" + string(v) + "'"
	}
	return strings.Join(parts, ", ")
}

// WebhookProber delivers the probe message with fasthttp.
type WebhookProber struct {
	client *fasthttp.Client
	logger zerolog.Logger
}

func NewWebhookProber(logger zerolog.Logger) *WebhookProber {
	return &WebhookProber{
		client: &fasthttp.Client{
			ReadTimeout:  constants.WebhookProbeTimeout,
			WriteTimeout: constants.WebhookProbeTimeout,
		},
		logger: logger,
	}
}

func (p *WebhookProber) Probe(ctx context.Context, webhookURL, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(webhookURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(constants.WebhookProbeTimeout)
	}
	if err := p.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("failed to post probe: %w", err)
	}

	// Discord answers 204 No Content on success.
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		p.logger.Debug().Int("status", code).Msg("webhook rejected probe")
		return fmt.Errorf("webhook answered %d", code)
	}
	return nil
}
