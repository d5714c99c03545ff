package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultAPIBase is the public Bot API endpoint.
const DefaultAPIBase = "https://api.telegram.org"

// Button is one inline keyboard button.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// Keyboard is an inline keyboard attached to a message.
type Keyboard struct {
	InlineKeyboard [][]Button `json:"inline_keyboard"`
}

// Sender is the outbound half of the bot.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard *Keyboard) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Client calls the Telegram Bot API.
type Client struct {
	base   string
	http   *http.Client
	logger *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithClientLogger sets the logger.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client for the bot with token. An empty apiBase uses
// DefaultAPIBase.
func NewClient(token, apiBase string, opts ...ClientOption) *Client {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	c := &Client{
		base:   strings.TrimRight(apiBase, "/") + "/bot" + token,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sendMessageRequest struct {
	ChatID      int64     `json:"chat_id"`
	Text        string    `json:"text"`
	ReplyMarkup *Keyboard `json:"reply_markup,omitempty"`
}

// SendMessage posts text to a chat, with an optional inline keyboard.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard *Keyboard) error {
	return c.call(ctx, "sendMessage", sendMessageRequest{ChatID: chatID, Text: text, ReplyMarkup: keyboard})
}

// AnswerCallback acknowledges a button press so the client stops its spinner.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]string{"callback_query_id": callbackID, "text": text})
}

// SetWebhook registers url for updates. Telegram echoes secret in the
// X-Telegram-Bot-Api-Secret-Token header of every delivery.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	body := map[string]any{"url": url, "allowed_updates": []string{"message", "callback_query"}}
	if secret != "" {
		body["secret_token"] = secret
	}
	return c.call(ctx, "setWebhook", body)
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (c *Client) call(ctx context.Context, method string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+method, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("telegram %s: status %d: %w", method, resp.StatusCode, err)
	}
	if !out.OK {
		c.logger.Warn("telegram call rejected",
			zap.String("method", method),
			zap.Int("status", resp.StatusCode),
			zap.String("description", out.Description))
		return fmt.Errorf("telegram %s: %s", method, out.Description)
	}
	return nil
}
