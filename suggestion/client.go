package suggestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"disputeflow/config"
	"disputeflow/logger"
	"disputeflow/metrics"
)

// Completer produces completion text for a prompt.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Client talks to an OpenAI-compatible chat completion endpoint. Transport
// failures and timeouts are retried with a constant delay; an HTTP error
// answer is returned at once as an *UpstreamError.
type Client struct {
	api         openai.Client
	configured  bool
	model       string
	timeout     time.Duration
	maxAttempts int
	retryDelay  time.Duration
	maxTokens   int
	temperature float64
	metrics     *metrics.Collectors
}

func NewClient(cfg config.CompletionConfig) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	return &Client{
		api:         openai.NewClient(opts...),
		configured:  cfg.Enabled(),
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		maxAttempts: attempts,
		retryDelay:  cfg.RetryDelay,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (c *Client) WithMetrics(m *metrics.Collectors) *Client {
	c.metrics = m
	return c
}

func (c *Client) Complete(ctx context.Context, p Prompt) (string, error) {
	if !c.configured {
		return "", ErrNotConfigured
	}

	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.System),
			openai.UserMessage(p.User),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	var (
		text    string
		attempt int
	)
	op := func() error {
		attempt++
		out, err := c.attempt(ctx, params)
		if err == nil {
			c.metrics.CompletionAttempt("ok")
			text = out
			return nil
		}

		var apiErr *openai.Error
		switch {
		case errors.As(err, &apiErr):
			c.metrics.CompletionAttempt("upstream_error")
			return backoff.Permanent(&UpstreamError{StatusCode: apiErr.StatusCode, Message: upstreamMessage(apiErr)})
		case errors.Is(err, ErrEmptyCompletion):
			c.metrics.CompletionAttempt("empty")
			return backoff.Permanent(err)
		case ctx.Err() != nil:
			c.metrics.CompletionAttempt("canceled")
			return backoff.Permanent(ctx.Err())
		}

		c.metrics.CompletionAttempt("transport_error")
		slog.WarnContext(ctx, "completion attempt failed", "attempt", attempt, "max_attempts", c.maxAttempts, "error", err)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.maxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		var upstream *UpstreamError
		if errors.As(err, &upstream) || errors.Is(err, ErrEmptyCompletion) || errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%w after %d attempts: %w", ErrUnavailable, attempt, err)
	}
	return text, nil
}

func (c *Client) attempt(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	c.metrics.CompletionDuration(time.Since(start))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

func upstreamMessage(err *openai.Error) string {
	msg := err.Message
	if msg == "" {
		msg = err.RawJSON()
	}
	return logger.Truncate(msg, 500)
}
