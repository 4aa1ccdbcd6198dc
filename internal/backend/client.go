// Package backend is the request/response client for the Akai server's
// HTTP surface: session lifecycle, chat turns, speech passthrough, and
// knowledge feedback. Every call returns structured data or an error the
// engine converts into a degraded user-visible response, never a crash.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/akai-desk/internal/domain"
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Detail)
}

// Client talks to one Akai backend.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a backend client. timeout bounds each individual call.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// CreateSession starts a new support session.
func (c *Client) CreateSession(ctx context.Context) (*domain.Session, error) {
	var out struct {
		SessionID string `json:"session_id"`
		Code      string `json:"code"`
		CreatedAt string `json:"created_at"`
	}
	if err := c.postForm(ctx, "/api/session/create", nil, &out); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &domain.Session{
		ID:        out.SessionID,
		ShortCode: out.Code,
		CreatedAt: parseTimestamp(out.CreatedAt),
	}, nil
}

// JoinSession resolves a short code to its session.
func (c *Client) JoinSession(ctx context.Context, code string) (*domain.Session, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	form := url.Values{"code": {code}}
	if err := c.postForm(ctx, "/api/session/join", form, &out); err != nil {
		return nil, fmt.Errorf("join session: %w", err)
	}
	return &domain.Session{
		ID:        out.SessionID,
		ShortCode: code,
		CreatedAt: time.Now(),
	}, nil
}

// SubmitChat submits a user turn and returns the assistant reply. The
// optional screenshot is an opaque image payload from the screen-frame
// producer.
func (c *Client) SubmitChat(ctx context.Context, sessionID, message string, screenshot []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("message", message); err != nil {
		return "", fmt.Errorf("submit chat: %w", err)
	}
	if err := mw.WriteField("session_id", sessionID); err != nil {
		return "", fmt.Errorf("submit chat: %w", err)
	}
	if len(screenshot) > 0 {
		part, err := mw.CreateFormFile("screenshot", "screenshot.png")
		if err != nil {
			return "", fmt.Errorf("submit chat: %w", err)
		}
		if _, err := part.Write(screenshot); err != nil {
			return "", fmt.Errorf("submit chat: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("submit chat: %w", err)
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := c.post(ctx, "/api/chat", mw.FormDataContentType(), &body, &out); err != nil {
		return "", fmt.Errorf("submit chat: %w", err)
	}
	return out.Response, nil
}

// Transcribe submits captured audio and returns the transcription.
func (c *Client) Transcribe(ctx context.Context, sessionID string, audio []byte, filename string) (string, error) {
	if filename == "" {
		filename = "audio.webm"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if err := mw.WriteField("session_id", sessionID); err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	var out struct {
		Transcript string `json:"transcript"`
	}
	if err := c.post(ctx, "/api/voice/transcribe", mw.FormDataContentType(), &body, &out); err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return out.Transcript, nil
}

// Synthesize converts text to speech and returns the base64 audio
// payload and its format.
func (c *Client) Synthesize(ctx context.Context, text string) (audio, format string, err error) {
	var out struct {
		Audio  string `json:"audio"`
		Format string `json:"format"`
	}
	form := url.Values{"text": {text}}
	if err := c.postForm(ctx, "/api/voice/synthesize", form, &out); err != nil {
		return "", "", fmt.Errorf("synthesize: %w", err)
	}
	return out.Audio, out.Format, nil
}

// SubmitSolutionFeedback records whether a suggested solution worked.
func (c *Client) SubmitSolutionFeedback(ctx context.Context, solutionID string, success bool) error {
	form := url.Values{"success": {strconv.FormatBool(success)}}
	path := "/api/knowledge/solutions/" + url.PathEscape(solutionID) + "/feedback"
	if err := c.postForm(ctx, path, form, nil); err != nil {
		return fmt.Errorf("solution feedback: %w", err)
	}
	return nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	return c.post(ctx, path, "application/x-www-form-urlencoded", body, out)
}

func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("Failed to close response body", "path", path, "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Detail: readDetail(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return strings.TrimSpace(string(data))
}

func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now()
}
