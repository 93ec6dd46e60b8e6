// Package backend talks to the assistant service over its text and voice
// processing endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/bosley/voxchat/audio"
)

const (
	// maxResponseSize bounds how much of a response body is read.
	maxResponseSize = 10 * 1024 * 1024

	audioField = "audio"
)

var (
	// ErrStatus wraps non-2xx answers; see StatusError for the code.
	ErrStatus = errors.New("unexpected HTTP status")

	// ErrDecode indicates a body that is not a JSON object.
	ErrDecode = errors.New("unparseable response")
)

// StatusError carries the HTTP status and a prefix of the body.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("assistant returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("assistant returned HTTP %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// Config locates the two endpoints.
type Config struct {
	BaseURL   string
	TextPath  string
	VoicePath string
	Timeout   time.Duration

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

type Client struct {
	hc       *http.Client
	textURL  string
	voiceURL string
}

func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		hc:       hc,
		textURL:  base + cfg.TextPath,
		voiceURL: base + cfg.VoicePath,
	}
}

type textRequest struct {
	Prompt string `json:"prompt"`
}

// ProcessText posts {"prompt": prompt} to the text endpoint.
func (c *Client) ProcessText(ctx context.Context, prompt string) (*Response, error) {
	body, err := json.Marshal(textRequest{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to encode prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.textURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build text request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// ProcessVoice uploads clip as the multipart field "audio".
func (c *Client) ProcessVoice(ctx context.Context, clip audio.Clip) (*Response, error) {
	if clip.Empty() {
		return nil, audio.ErrEmptyClip
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	mediaType := clip.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, audioField, clipFilename(mediaType)))
	header.Set("Content-Type", mediaType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio part: %w", err)
	}
	if _, err := part.Write(clip.Data); err != nil {
		return nil, fmt.Errorf("failed to write audio part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.voiceURL, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build voice request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Response, error) {
	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not reach the assistant: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	slog.Debug("Assistant responded",
		"url", req.URL.String(),
		"status", resp.StatusCode,
		"bytes", len(data),
		"elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: snippet(data)}
	}

	return Decode(data)
}

func clipFilename(mediaType string) string {
	switch {
	case strings.Contains(mediaType, "wav"):
		return "recording.wav"
	case strings.Contains(mediaType, "webm"):
		return "recording.webm"
	case strings.Contains(mediaType, "ogg"):
		return "recording.ogg"
	}
	return "recording.bin"
}

func snippet(data []byte) string {
	const max = 200
	s := strings.TrimSpace(string(data))
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
