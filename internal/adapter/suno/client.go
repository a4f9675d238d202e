package suno

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cwygoda/songbridge/internal/domain"
)

var (
	// ErrMissingAPIKey indicates that the client was configured without credentials.
	ErrMissingAPIKey = errors.New("suno: api key is required")
	// ErrMissingCallbackURL indicates that no callback address was configured.
	ErrMissingCallbackURL = errors.New("suno: callback url is required")
)

const (
	DefaultBaseURL = "https://apibox.erweima.ai"
	DefaultModel   = "V3_5"

	generatePath = "/api/v1/generate"
	successCode  = 200
)

// Options configures the apibox Suno client.
type Options struct {
	APIKey            string
	BaseURL           string
	Model             string
	CallbackURL       string
	RequestTimeout    time.Duration
	RequestsPerMinute float64
	HTTPClient        *http.Client
	Logger            *zerolog.Logger
}

// Client submits generation jobs to the apibox Suno API.
type Client struct {
	baseURL     string
	model       string
	callbackURL string
	http        *resty.Client
	limiter     *rate.Limiter
	logger      zerolog.Logger
}

type generateRequest struct {
	Prompt       string `json:"prompt"`
	Style        string `json:"style,omitempty"`
	Title        string `json:"title,omitempty"`
	CustomMode   bool   `json:"customMode"`
	Instrumental bool   `json:"instrumental"`
	Model        string `json:"model"`
	CallBackURL  string `json:"callBackUrl"`
}

type generateResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

// NewClient constructs a client with defaults filled in.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	callbackURL := strings.TrimSpace(opts.CallbackURL)
	if callbackURL == "" {
		return nil, ErrMissingCallbackURL
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var hc *resty.Client
	if opts.HTTPClient != nil {
		hc = resty.NewWithClient(opts.HTTPClient)
	} else {
		hc = resty.New()
	}
	hc.SetTimeout(timeout)
	hc.SetAuthToken(apiKey)
	hc.SetHeader("Content-Type", "application/json")

	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Limit(opts.RequestsPerMinute / 60)
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Client{
		baseURL:     baseURL,
		model:       model,
		callbackURL: callbackURL,
		http:        hc,
		limiter:     rate.NewLimiter(limit, 1),
		logger:      logger.With().Str("component", "suno").Logger(),
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Submit starts a generation job and returns the provider task id.
// Failures are *domain.ProviderError values.
func (c *Client) Submit(ctx context.Context, req domain.GenerateRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// The limiter refuses waits that would overrun the deadline.
		return "", &domain.ProviderError{Kind: domain.ErrProviderUnreachable, Message: "submission rate limit", Err: err}
	}

	payload := generateRequest{
		Prompt:       req.Prompt,
		Style:        strings.TrimSpace(req.Style),
		Title:        strings.TrimSpace(req.Title),
		CustomMode:   true,
		Instrumental: req.Instrumental,
		Model:        c.model,
		CallBackURL:  c.callbackURL,
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post(c.baseURL + generatePath)
	if err != nil {
		c.logger.Warn().Err(err).Msg("generate request failed")
		return "", &domain.ProviderError{Kind: domain.ErrProviderUnreachable, Err: err}
	}

	var body generateResponse
	decodeErr := json.Unmarshal(resp.Body(), &body)

	if resp.IsError() {
		msg := body.Msg
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(resp.Status())
		}
		return "", &domain.ProviderError{
			Kind:       domain.ErrProviderRejected,
			Message:    msg,
			StatusCode: resp.StatusCode(),
		}
	}
	if decodeErr != nil {
		return "", &domain.ProviderError{
			Kind:       domain.ErrProviderRejected,
			Message:    "undecodable response",
			StatusCode: resp.StatusCode(),
			Err:        decodeErr,
		}
	}
	if body.Code != successCode || body.Data == nil || body.Data.TaskID == "" {
		msg := body.Msg
		if msg == "" {
			msg = "unknown error from provider"
		}
		return "", &domain.ProviderError{
			Kind:       domain.ErrProviderRejected,
			Message:    msg,
			StatusCode: resp.StatusCode(),
		}
	}

	c.logger.Info().
		Str("job_id", body.Data.TaskID).
		Dur("elapsed", time.Since(start)).
		Bool("instrumental", req.Instrumental).
		Msg("generation submitted")
	return body.Data.TaskID, nil
}

var _ domain.Generator = (*Client)(nil)
