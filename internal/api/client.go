package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"splat-notifyer/internal/config"
	"splat-notifyer/internal/domain"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

var ErrNoRemote = errors.New("remote API URL is not configured")

// StatusError is returned for non-2xx responses. Body holds the raw payload so
// callers can echo it back to the user.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error: %d", e.StatusCode)
}

// Message extracts "error" or "message" from a JSON body, falling back to the
// raw text.
func (e *StatusError) Message() string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(e.Body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(e.Body))
}

type Client struct {
	baseURL string
	client  *fasthttp.Client
	logger  zerolog.Logger
}

func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.RemoteAPIURL, "/"),
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		logger: logger,
	}
}

func (c *Client) Configured() bool {
	return c.baseURL != ""
}

type CheckResponse struct {
	Valid  bool           `json:"valid"`
	Exists bool           `json:"exists"`
	Config *domain.Config `json:"config,omitempty"`
	Error  string         `json:"error,omitempty"`
}

type SubmitResponse struct {
	StatusCode int
	Body       json.RawMessage
}

type ModesResponse struct {
	Modes []domain.Mode `json:"modes"`
}

type MapsResponse struct {
	Maps []domain.Map `json:"maps"`
}

// CheckConfig asks the remote API whether webhookURL is usable and returns any
// config already stored for it. A business rejection comes back as a
// StatusError whose body carries the reason.
func (c *Client) CheckConfig(ctx context.Context, webhookURL string) (*CheckResponse, error) {
	u := fmt.Sprintf("%s/config-check?webhookUrl=%s", c.baseURL, url.QueryEscape(webhookURL))
	return doRequest[CheckResponse](ctx, c, fasthttp.MethodGet, u, nil)
}

func (c *Client) LoadConfig(ctx context.Context, webhookURL string) (*domain.Config, error) {
	u := fmt.Sprintf("%s/load-config?webhookUrl=%s", c.baseURL, url.QueryEscape(webhookURL))
	return doRequest[domain.Config](ctx, c, fasthttp.MethodGet, u, nil)
}

func (c *Client) GetModes(ctx context.Context) (*ModesResponse, error) {
	return doRequest[ModesResponse](ctx, c, fasthttp.MethodGet, c.baseURL+"/reference/modes", nil)
}

func (c *Client) GetMaps(ctx context.Context) (*MapsResponse, error) {
	return doRequest[MapsResponse](ctx, c, fasthttp.MethodGet, c.baseURL+"/reference/maps", nil)
}

// SubmitConfig posts cfg and returns the raw response whatever the status, so
// the caller can branch on the code and echo the payload.
func (c *Client) SubmitConfig(ctx context.Context, cfg domain.Config) (*SubmitResponse, error) {
	if !c.Configured() {
		return nil, ErrNoRemote
	}
	body, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	status, respBody, err := c.do(ctx, fasthttp.MethodPost, c.baseURL+"/submit-config", body)
	if err != nil {
		return nil, err
	}
	return &SubmitResponse{StatusCode: status, Body: respBody}, nil
}

func (c *Client) do(ctx context.Context, method, uri string, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	start := time.Now()
	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.client.DoDeadline(req, resp, deadline)
	} else {
		err = c.client.Do(req, resp)
	}
	if err != nil {
		c.logger.Error().Err(err).Str("method", method).Str("uri", uri).Msg("remote request failed")
		return 0, nil, fmt.Errorf("failed to call %s: %w", uri, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("uri", uri).
		Int("status", resp.StatusCode()).
		Dur("duration", time.Since(start)).
		Msg("remote request completed")

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return resp.StatusCode(), out, nil
}

func doRequest[T any](ctx context.Context, client *Client, method, uri string, body []byte) (*T, error) {
	if !client.Configured() {
		return nil, ErrNoRemote
	}
	status, respBody, err := client.do(ctx, method, uri, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &StatusError{StatusCode: status, Body: respBody}
	}

	var result T
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", uri, err)
	}
	return &result, nil
}
