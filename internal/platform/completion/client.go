package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/yungbote/nort-backend/internal/observability"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
)

var (
	ErrTimedOut  = errors.New("completion: attempt timed out")
	ErrCancelled = errors.New("completion: cancelled")
)

// Options are the sampling parameters of one completion. Zero values take the client defaults.
type Options struct {
	Model            string
	Temperature      *float64
	MaxTokens        int
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	Seed             *int64
	Stop             []string
}

type Client interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

type Config struct {
	BaseURL          string
	APIKey           string
	Model            string
	Temperature      float64
	MaxTokens        int
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	Timeout          time.Duration
	MaxRetries       int
	// RatePerSecond <= 0 disables outbound limiting.
	RatePerSecond float64
	RateBurst     int
}

func DefaultConfig() Config {
	return Config{
		BaseURL:          "http://localhost:8000",
		Temperature:      1.1,
		MaxTokens:        1024,
		TopP:             0.8,
		FrequencyPenalty: 0.1,
		PresencePenalty:  0.1,
		Timeout:          30 * time.Second,
		MaxRetries:       2,
	}
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("completion provider http %d: %s", e.StatusCode, e.Body)
}

func (e *httpError) HTTPStatusCode() int { return e.StatusCode }

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(log *logger.Logger, cfg Config) Client {
	def := DefaultConfig()
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &client{
		log:        log.With("client", "CompletionClient"),
		cfg:        cfg,
		httpClient: &http.Client{},
		limiter:    limiter,
	}
}

type completionRequest struct {
	Model            string   `json:"model,omitempty"`
	Prompt           string   `json:"prompt"`
	Temperature      float64  `json:"temperature"`
	MaxTokens        int      `json:"max_tokens"`
	TopP             float64  `json:"top_p"`
	FrequencyPenalty float64  `json:"frequency_penalty"`
	PresencePenalty  float64  `json:"presence_penalty"`
	Seed             *int64   `json:"seed,omitempty"`
	Stop             []string `json:"stop,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

func (c *client) request(prompt string, opts Options) completionRequest {
	req := completionRequest{
		Model:            c.cfg.Model,
		Prompt:           prompt,
		Temperature:      c.cfg.Temperature,
		MaxTokens:        c.cfg.MaxTokens,
		TopP:             c.cfg.TopP,
		FrequencyPenalty: c.cfg.FrequencyPenalty,
		PresencePenalty:  c.cfg.PresencePenalty,
		Seed:             opts.Seed,
		Stop:             opts.Stop,
	}
	if m := strings.TrimSpace(opts.Model); m != "" {
		req.Model = m
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.TopP != nil {
		req.TopP = *opts.TopP
	}
	if opts.FrequencyPenalty != nil {
		req.FrequencyPenalty = *opts.FrequencyPenalty
	}
	if opts.PresencePenalty != nil {
		req.PresencePenalty = *opts.PresencePenalty
	}
	return req
}

// Complete retries failed attempts immediately, each under a fresh timeout. Cancellation of ctx
// is never retried.
func (c *client) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	body := c.request(prompt, opts)
	ctx, span := observability.Tracer().Start(ctx, "completion.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("completion.model", body.Model),
		attribute.Int("completion.prompt_chars", len(prompt)),
	)

	start := time.Now()
	metrics := observability.Current()
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return "", c.finish(span, body.Model, start, "cancelled", fmt.Errorf("%w: %v", ErrCancelled, ctx.Err()))
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", c.finish(span, body.Model, start, "cancelled", fmt.Errorf("%w: %v", ErrCancelled, err))
			}
		}

		text, status, err := c.attempt(ctx, body)
		if err == nil {
			metrics.ObserveCompletion(body.Model, status, time.Since(start))
			span.SetAttributes(attribute.Int("completion.attempts", attempt+1))
			return text, nil
		}
		if errors.Is(err, ErrCancelled) {
			return "", c.finish(span, body.Model, start, "cancelled", err)
		}
		lastErr = err
		if attempt == c.cfg.MaxRetries {
			break
		}
		reason := "provider"
		if errors.Is(err, ErrTimedOut) {
			reason = "timeout"
		}
		metrics.IncCompletionRetry(reason)
		c.log.Warn("Completion request retrying",
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"error", err.Error(),
		)
	}
	status := "error"
	var he *httpError
	if errors.As(lastErr, &he) {
		status = observability.StatusLabel(he.StatusCode)
	} else if errors.Is(lastErr, ErrTimedOut) {
		status = "timeout"
	}
	return "", c.finish(span, body.Model, start, status, lastErr)
}

func (c *client) finish(span trace.Span, model string, start time.Time, status string, err error) error {
	observability.Current().ObserveCompletion(model, status, time.Since(start))
	span.RecordError(err)
	span.SetStatus(codes.Error, status)
	return err
}

func (c *client) attempt(parent context.Context, body completionRequest) (string, string, error) {
	ctx, cancel := context.WithTimeout(parent, c.cfg.Timeout)
	defer cancel()

	text, status, err := c.doOnce(ctx, body)
	if err == nil {
		return text, status, nil
	}
	switch {
	case parent.Err() != nil:
		return "", "cancelled", fmt.Errorf("%w: %v", ErrCancelled, parent.Err())
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "", "timeout", fmt.Errorf("%w after %s", ErrTimedOut, c.cfg.Timeout)
	default:
		return "", status, err
	}
}

func (c *client) doOnce(ctx context.Context, body completionRequest) (string, string, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return "", "error", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/completions", &buf)
	if err != nil {
		return "", "error", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "error", err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	status := observability.StatusLabel(resp.StatusCode)
	if readErr != nil {
		return "", status, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", status, &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", status, fmt.Errorf("completion decode error: %w; raw=%s", err, string(raw))
	}
	if len(out.Choices) == 0 {
		return "", status, fmt.Errorf("completion response has no choices")
	}
	return out.Choices[0].Text, status, nil
}
