package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TelegramBot sends chat messages through the Telegram Bot API.
type TelegramBot struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewTelegramBot creates a bot client. apiURL defaults to https://api.telegram.org.
func NewTelegramBot(token, apiURL string) *TelegramBot {
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	return &TelegramBot{
		token:   token,
		baseURL: strings.TrimRight(apiURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type botResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// SendMessage implements ChatBot.
func (b *TelegramBot) SendMessage(ctx context.Context, chatID, html string) error {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  html,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", b.baseURL, b.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		// the request URL carries the token
		return fmt.Errorf("telegram request failed: %w", redactToken(err, b.token))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("failed to read telegram response: %w", err)
	}
	var out botResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("telegram returned %d with unreadable body", resp.StatusCode)
	}
	if !out.OK {
		return fmt.Errorf("telegram error %d: %s", out.ErrorCode, out.Description)
	}
	return nil
}

type redactedError struct{ msg string }

func (e redactedError) Error() string { return e.msg }

func redactToken(err error, token string) error {
	if token == "" {
		return err
	}
	return redactedError{msg: strings.ReplaceAll(err.Error(), token, "***")}
}
