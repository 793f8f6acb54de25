package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/couchcryptid/dispatch-alert-relay/internal/config"
	"github.com/couchcryptid/dispatch-alert-relay/internal/domain"
	"github.com/couchcryptid/dispatch-alert-relay/internal/observability"
)

const maxResponseBytes = 1 << 20

// RetryPolicy bounds delivery attempts on transport failures.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration // wait between attempts, on top of the request timeout
}

// DefaultRetryPolicy makes 10 attempts back to back.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 10}
}

// Client delivers text messages through the Telegram Bot API sendMessage method.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	retry      RetryPolicy
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Bot API client from the relay configuration.
func NewClient(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		token: cfg.TelegramToken,
		httpClient: &http.Client{
			Timeout: cfg.TelegramTimeout,
		},
		baseURL: cfg.TelegramAPIURL,
		retry: RetryPolicy{
			MaxAttempts: cfg.TelegramMaxAttempts,
			Delay:       cfg.TelegramRetryDelay,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// WithLogger returns a copy of the client that logs to logger.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	cp := *c
	cp.logger = logger
	return &cp
}

// Send posts text to chatID. Every failure is logged here; the returned
// error only tells the caller which outcome occurred:
//
//   - domain.ErrNotConfigured: empty chat id or token, nothing was sent
//   - domain.ErrRejected: the API answered with an error, not retried
//   - domain.ErrTransport: every attempt failed on the network
func (c *Client) Send(ctx context.Context, chatID, text string) error {
	if c.token == "" || chatID == "" {
		c.logger.Error("chat id or token is not configured, message not sent", "chat_id", chatID)
		c.metrics.Notifications.WithLabelValues("not_configured").Inc()
		return domain.ErrNotConfigured
	}

	maxAttempts := max(c.retry.MaxAttempts, 1)
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retry.Delay), uint64(maxAttempts-1)),
		ctx,
	)

	attempt := 0
	op := func() error {
		attempt++
		err := c.post(ctx, chatID, text)
		if errors.Is(err, domain.ErrRejected) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, _ time.Duration) {
		c.logger.Warn("send retry", "attempt", attempt, "max_attempts", maxAttempts, "chat_id", chatID, "error", err)
	}

	err := backoff.RetryNotify(op, policy, notify)
	switch {
	case err == nil:
		c.logger.Info("message delivered", "chat_id", chatID, "attempts", attempt)
		c.metrics.Notifications.WithLabelValues("success").Inc()
		return nil
	case errors.Is(err, domain.ErrRejected):
		c.logger.Error("telegram rejected message", "chat_id", chatID, "error", err)
		c.metrics.Notifications.WithLabelValues("rejected").Inc()
		return err
	default:
		c.logger.Error("telegram unreachable, message dropped", "chat_id", chatID, "attempts", attempt, "error", err)
		c.metrics.Notifications.WithLabelValues("transport_error").Inc()
		return fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
}

func (c *Client) post(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return backoff.Permanent(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.SendAttempts.Inc()
	c.metrics.SendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("sendMessage request: %w", c.redact(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", c.redact(err))
	}

	var res sendMessageResponse
	decodeErr := json.Unmarshal(raw, &res)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && decodeErr == nil && res.OK {
		return nil
	}

	rej := &RejectionError{StatusCode: resp.StatusCode, ErrorCode: res.ErrorCode, Description: res.Description}
	if decodeErr != nil {
		rej.Description = fmt.Sprintf("unreadable response: %s", truncate(string(raw), 200))
	}
	return rej
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
}

// redact removes the bot token from URL errors before they are logged.
func (c *Client) redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		uerr.URL = fmt.Sprintf("%s/bot<redacted>/sendMessage", c.baseURL)
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// RejectionError is an error answer of the Bot API. It matches domain.ErrRejected.
type RejectionError struct {
	StatusCode  int
	ErrorCode   int
	Description string
}

func (e *RejectionError) Error() string {
	desc := e.Description
	if desc == "" {
		desc = "unknown error"
	}
	return fmt.Sprintf("sendMessage error (status %d, code %d): %s", e.StatusCode, e.ErrorCode, desc)
}

func (e *RejectionError) Is(target error) bool { return target == domain.ErrRejected }

// Bot API request/response types.

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}
