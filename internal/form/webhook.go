package form

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"splat-notifyer/internal/api"
	"splat-notifyer/internal/domain"
)

const (
	CheckLabel      = "Check"
	CheckingLabel   = "Checking..."
	SubmitLabel     = "Submit"
	SubmittingLabel = "Submitting..."
)

// begin marks a request in flight. The returned func restores the control
// whatever the outcome.
func (s *Session) begin(label string) (func(), error) {
	if s.busy != "" {
		return nil, ErrBusy
	}
	s.busy = label
	return func() { s.busy = "" }, nil
}

// CheckLabel is the current caption of the check button.
func (s *Session) CheckLabel() string {
	if s.busy == CheckingLabel {
		return CheckingLabel
	}
	return CheckLabel
}

func (s *Session) SubmitLabel() string {
	if s.busy == SubmittingLabel {
		return SubmittingLabel
	}
	return SubmitLabel
}

// CheckWebhook validates the current URL with the remote API. On success the
// form is shown and rebuilt from any stored config; on failure it is hidden
// and the URL stays unvalidated.
func (s *Session) CheckWebhook(ctx context.Context) error {
	done, err := s.begin(CheckingLabel)
	if err != nil {
		return err
	}
	defer done()

	url := s.state.WebhookURL
	if url == "" {
		s.rejectWebhook("Webhook URL cannot be empty.")
		return ErrEmptyWebhook
	}

	s.state.Feedback = Feedback{Kind: FeedbackInfo, Text: CheckingLabel}
	resp, err := s.remote.CheckConfig(ctx, url)
	if err != nil {
		var se *api.StatusError
		if errors.As(err, &se) {
			msg := se.Message()
			if msg == "" {
				msg = "Invalid Webhook URL"
			}
			s.rejectWebhook(msg)
			return fmt.Errorf("%w: %s", ErrWebhookCheck, msg)
		}
		s.rejectWebhook("Error checking webhook: " + err.Error())
		s.logger.Error().Err(err).Str("webhook_url", url).Msg("error checking webhook URL")
		return fmt.Errorf("%w: %w", ErrWebhookCheck, err)
	}
	if !resp.Valid {
		msg := resp.Error
		if msg == "" {
			msg = "Invalid Webhook URL"
		}
		s.rejectWebhook(msg)
		return fmt.Errorf("%w: %s", ErrWebhookCheck, msg)
	}

	s.state.Feedback = Feedback{Kind: FeedbackSuccess, Text: "Webhook URL is valid."}
	s.state.FormVisible = true
	s.state.Validated = true
	s.state.ValidatedURL = url
	s.state.Response = nil

	var rules []domain.Rule
	switch {
	case resp.Exists && resp.Config != nil:
		rules = resp.Config.Rules
	case resp.Exists:
		// Older API revisions only flag the config; fetch it separately.
		cfg, err := s.remote.LoadConfig(ctx, url)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to load stored config, starting empty")
		} else {
			rules = cfg.Rules
		}
	}
	rulesErr := s.loadRules(rules)

	s.logger.Info().Str("webhook_url", url).Bool("exists", resp.Exists).Msg("webhook URL validated")
	return rulesErr
}

func (s *Session) rejectWebhook(msg string) {
	s.state.Feedback = Feedback{Kind: FeedbackError, Text: msg}
	s.state.FormVisible = false
	s.state.Validated = false
}

type SubmitResult struct {
	Validation Result          `json:"validation"`
	Sent       bool            `json:"sent"`
	StatusCode int             `json:"statusCode,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// OK reports whether the config was accepted by the remote API.
func (r *SubmitResult) OK() bool {
	return r.Sent && r.StatusCode >= 200 && r.StatusCode < 300
}

// Submit validates the form and, only if it is valid, sends it. Validation
// failures and server rejections are reported in the result and the response
// panel; the returned error is reserved for busy and transport failures.
func (s *Session) Submit(ctx context.Context) (*SubmitResult, error) {
	done, err := s.begin(SubmittingLabel)
	if err != nil {
		return nil, err
	}
	defer done()

	res := &SubmitResult{Validation: s.Validate()}
	if !res.Validation.Valid {
		s.state.Response = &Response{
			Kind:  FeedbackError,
			Title: "Please fix the following errors:",
			Lines: res.Validation.Lines(),
		}
		s.logger.Debug().Int("rules_with_errors", len(res.Validation.Rules)).Msg("form validation failed, submission skipped")
		return res, nil
	}
	s.state.Response = nil

	cfg := s.Serialize()
	resp, err := s.remote.SubmitConfig(ctx, cfg)
	if err != nil {
		s.state.Response = &Response{Kind: FeedbackError, Title: "Network error: " + err.Error()}
		s.logger.Error().Err(err).Msg("failed to submit configuration")
		return res, fmt.Errorf("failed to submit configuration: %w", err)
	}

	res.Sent = true
	res.StatusCode = resp.StatusCode
	res.Payload = resp.Body

	if res.OK() {
		s.state.Response = &Response{Kind: FeedbackSuccess, Title: "Configuration submitted successfully:", Payload: prettyJSON(resp.Body)}
		s.logger.Info().Int("rules", len(cfg.Rules)).Int("status", resp.StatusCode).Msg("configuration submitted")
	} else {
		s.state.Response = &Response{Kind: FeedbackError, Title: "Error submitting configuration:", Payload: prettyJSON(resp.Body)}
		s.logger.Warn().Int("status", resp.StatusCode).Msg("configuration rejected")
	}
	return res, nil
}

func prettyJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
