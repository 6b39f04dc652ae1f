// Package notify delivers call notices through the Telegram Bot API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Notifier is the messaging capability used by the monitor and processor.
type Notifier interface {
	SendText(ctx context.Context, chatID, text string) (int64, error)
	SendVoice(ctx context.Context, chatID, path, caption string) error
	DeleteMessage(ctx context.Context, chatID string, messageID int64) error
}

// Telegram is a minimal Bot API client using HTML parse mode.
type Telegram struct {
	Token   string
	BaseURL string
	HTTP    *http.Client
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// SendText posts a message and returns its id.
func (c *Telegram) SendText(ctx context.Context, chatID, text string) (int64, error) {
	if chatID == "" {
		return 0, fmt.Errorf("missing telegram chat id")
	}
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	resp, err := c.call(ctx, "sendMessage", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	return resp.Result.MessageID, nil
}

// SendVoice uploads the file at path as a voice message with caption.
func (c *Telegram) SendVoice(ctx context.Context, chatID, path, caption string) error {
	if chatID == "" {
		return fmt.Errorf("missing telegram chat id")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("chat_id", chatID)
	_ = w.WriteField("caption", caption)
	_ = w.WriteField("parse_mode", "HTML")
	part, err := w.CreateFormFile("voice", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	_, err = c.call(ctx, "sendVoice", w.FormDataContentType(), &buf)
	return err
}

// DeleteMessage removes a message. A zero id is a no-op.
func (c *Telegram) DeleteMessage(ctx context.Context, chatID string, messageID int64) error {
	if messageID == 0 {
		return nil
	}
	body, err := json.Marshal(map[string]any{"chat_id": chatID, "message_id": messageID})
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "deleteMessage", "application/json", bytes.NewReader(body))
	return err
}

func (c *Telegram) call(ctx context.Context, method, contentType string, body io.Reader) (apiResponse, error) {
	var out apiResponse
	if c.Token == "" {
		return out, fmt.Errorf("missing telegram token")
	}
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/bot"+c.Token+"/"+method, body)
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", contentType)

	res, err := c.HTTP.Do(req)
	if err != nil {
		return out, fmt.Errorf("telegram %s: %w", method, err)
	}
	defer res.Body.Close()

	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("telegram %s status %d: %w", method, res.StatusCode, err)
	}
	if res.StatusCode >= 300 || !out.OK {
		desc := out.Description
		if desc == "" {
			desc = "telegram api error"
		}
		return out, fmt.Errorf("telegram %s status %d: %s", method, res.StatusCode, desc)
	}
	return out, nil
}
