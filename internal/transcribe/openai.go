// Package transcribe turns a call recording into an OTP candidate: audio
// normalisation through ffmpeg, speech-to-text through the OpenAI audio API,
// then an ordered cascade of code patterns.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ErrNoSpeech means the audio produced no usable text.
var ErrNoSpeech = errors.New("no speech detected")

// Transcriber converts audio bytes to text in the hinted language.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

// OpenAI calls the /v1/audio/transcriptions endpoint.
type OpenAI struct {
	APIKey  string
	BaseURL string
	Model   string
	HTTP    *http.Client
}

func (c *OpenAI) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	if c.APIKey == "" {
		return "", errors.New("OPENAI_API_KEY not set")
	}
	if len(audio) == 0 {
		return "", ErrNoSpeech
	}
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	model := c.Model
	if model == "" {
		model = "whisper-1"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fw, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return "", err
	}
	_ = writer.WriteField("model", model)
	if language != "" {
		_ = writer.WriteField("language", language)
	}
	_ = writer.WriteField("response_format", "json")
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("openai status %d: %s", resp.StatusCode, string(b))
	}
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	text := strings.TrimSpace(parsed.Text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
