// Package notify sends Telegram messages for user and yield events and answers
// the bot's /start command.
package notify

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

	"github.com/hashicorp/go-retryablehttp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yourorg/treasury-functions/internal/circuitbreaker"
	"github.com/yourorg/treasury-functions/internal/fetch"
)

// DefaultAPIURL is the Telegram Bot API base
const DefaultAPIURL = "https://api.telegram.org"

// ErrNotConfigured is returned when no bot token is set
var ErrNotConfigured = errors.New("telegram bot token not configured")

var messagesSent = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "treasury_notifications_total",
		Help: "Telegram messages by kind and outcome",
	},
	[]string{"kind", "status"},
)

func init() {
	prometheus.MustRegister(messagesSent)
}

func recordSend(kind string, err error) {
	status := "sent"
	if err != nil {
		status = "error"
	}
	messagesSent.WithLabelValues(kind, status).Inc()
}

// Sender delivers a text message to a chat
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// TelegramConfig configures a TelegramClient
type TelegramConfig struct {
	BaseURL  string
	BotToken string

	// RetryMax is the number of retries after the first attempt
	RetryMax int

	// Breaker is optional
	Breaker *circuitbreaker.CircuitBreaker
}

// TelegramClient posts to the Bot API sendMessage method
type TelegramClient struct {
	baseURL    string
	token      string
	httpClient *retryablehttp.Client
	breaker    *circuitbreaker.CircuitBreaker
}

// NewTelegramClient creates a Bot API client
func NewTelegramClient(cfg TelegramConfig) *TelegramClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAPIURL
	}

	return &TelegramClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.BotToken,
		httpClient: fetch.NewRetryClient(cfg.RetryMax, 10*time.Second),
		breaker:    cfg.Breaker,
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends text to chatID with HTML parse mode. Returned errors never
// contain the bot token.
func (c *TelegramClient) SendMessage(ctx context.Context, chatID, text string) error {
	if c.token == "" {
		return ErrNotConfigured
	}
	if c.breaker != nil {
		return c.breaker.Do(func() error { return c.redact(c.send(ctx, chatID, text)) })
	}
	return c.redact(c.send(ctx, chatID, text))
}

func (c *TelegramClient) send(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram returned error status: %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// redactedError hides the bot token from the message and keeps the chain for errors.Is
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.err }

// redact replaces the bot token wherever it appears in err's message, which
// covers transport errors that quote the request URL
func (c *TelegramClient) redact(err error) error {
	if err == nil || !strings.Contains(err.Error(), c.token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), c.token, "<redacted>"), err: err}
}
