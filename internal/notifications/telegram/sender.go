// Package telegram provides chat notification sending via the Telegram Bot API.
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
	"strings"
	"time"

	"github.com/bissquit/notify-relay/internal/domain"
	"github.com/bissquit/notify-relay/internal/notifications"
	"golang.org/x/time/rate"
)

const (
	defaultAPIURL      = "https://api.telegram.org/bot%s/sendMessage"
	defaultRateLimit   = 25.0
	defaultRetryAfter  = time.Second
	defaultParseMode   = "HTML"
	maxResponseSize    = 1 << 20
	httpRequestTimeout = 15 * time.Second
)

// ErrDisabled is returned by Send when the sender is not enabled.
var ErrDisabled = errors.New("telegram sender disabled")

// Config holds telegram sender configuration.
type Config struct {
	Enabled  bool
	BotToken string
	// APIURL overrides the Bot API base URL, e.g. for a local Bot API server.
	APIURL string
	// RateLimit is the maximum messages per second across all chats.
	RateLimit float64
}

// Sender implements chat notification sender over the Bot API.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	// apiURL is a format string taking the bot token.
	apiURL string
}

// NewSender creates a new telegram sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.BotToken == "" {
			return nil, errors.New("telegram sender: bot token is required when enabled")
		}
	}

	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}

	apiURL := defaultAPIURL
	if config.APIURL != "" {
		apiURL = strings.TrimRight(config.APIURL, "/") + "/bot%s/sendMessage"
	}

	slog.Info("telegram sender configured",
		"enabled", config.Enabled,
		"rate_limit", config.RateLimit,
		"custom_api_url", config.APIURL != "",
	)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: httpRequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		apiURL:     apiURL,
	}, nil
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeTelegram
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// Send posts one message to a chat. The body must already fit the
// provider's message limit.
func (s *Sender) Send(ctx context.Context, notification notifications.Notification) error {
	if !s.config.Enabled {
		return notifications.NewNonRetryableError(ErrDisabled)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	parseMode := notification.ParseMode
	if parseMode == "" {
		parseMode = defaultParseMode
	}

	payload, err := json.Marshal(sendMessageRequest{
		ChatID:    notification.To,
		Text:      notification.Body,
		ParseMode: parseMode,
	})
	if err != nil {
		return notifications.NewNonRetryableError(fmt.Errorf("marshal request: %w", err))
	}

	endpoint := fmt.Sprintf(s.apiURL, s.config.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return notifications.NewNonRetryableError(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// Never include the URL: it carries the bot token.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return notifications.NewRetryableError(fmt.Errorf("send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp)
}

func (s *Sender) handleResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &RetryableError{Code: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}

	var tr telegramResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		tr.Description = strings.TrimSpace(string(body))
	}

	if resp.StatusCode == http.StatusOK && tr.OK {
		return nil
	}

	code := resp.StatusCode
	if code == http.StatusOK && tr.ErrorCode != 0 {
		code = tr.ErrorCode
	}
	msg := tr.Description
	if msg == "" {
		msg = http.StatusText(code)
	}

	switch {
	case code == http.StatusTooManyRequests:
		retryAfter := defaultRetryAfter
		if tr.Parameters != nil && tr.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(tr.Parameters.RetryAfter) * time.Second
		}
		return &RateLimitError{RetryAfter: retryAfter, Message: msg}
	case code == http.StatusUnauthorized:
		return &PermanentError{Code: code, Message: "invalid bot token: " + msg}
	case code >= 500:
		return &RetryableError{Code: code, Message: msg}
	default:
		return &PermanentError{Code: code, Message: msg}
	}
}

// RateLimitError is returned when the provider throttles the bot.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("telegram rate limited, retry after %s: %s", e.RetryAfter, e.Message)
}

// IsRetryable always returns true.
func (e *RateLimitError) IsRetryable() bool { return true }

// StatusCode returns 429.
func (e *RateLimitError) StatusCode() int { return http.StatusTooManyRequests }

// RetryDelay returns the wait requested by the provider.
func (e *RateLimitError) RetryDelay() time.Duration { return e.RetryAfter }

// PermanentError is a rejection that will not succeed on retry.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("telegram error %d: %s", e.Code, e.Message)
}

// IsRetryable always returns false.
func (e *PermanentError) IsRetryable() bool { return false }

// StatusCode returns the provider response code.
func (e *PermanentError) StatusCode() int { return e.Code }

// RetryableError is a provider-side failure worth retrying.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("telegram error %d: %s", e.Code, e.Message)
}

// IsRetryable always returns true.
func (e *RetryableError) IsRetryable() bool { return true }

// StatusCode returns the provider response code.
func (e *RetryableError) StatusCode() int { return e.Code }
