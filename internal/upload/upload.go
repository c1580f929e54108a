// Package upload talks to the tile-recognition service: session bookkeeping,
// hand analysis from photos, transcript/event extraction from audio chunks.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Service is what the capture state machine needs from the inference service.
type Service interface {
	StartSession(ctx context.Context, sessionID string) error
	EndSession(ctx context.Context, sessionID string) error
	AnalyzeHand(ctx context.Context, photoPath, sessionID string) (*HandAnalysis, error)
	ProcessAudio(ctx context.Context, wavPath, sessionID string) (*AudioResult, error)
	DetectTiles(ctx context.Context, photoPath string) (*Detections, error)
}

type HandAnalysis struct {
	UserHand      []string `json:"user_hand"`
	MeldedTiles   []string `json:"melded_tiles"`
	SuggestedPlay string   `json:"suggested_play"`
}

type AudioResult struct {
	Transcript               string           `json:"transcript"`
	Events                   []map[string]any `json:"events"`
	UpdatedVisibleTilesCount int              `json:"updated_visible_tiles_count"`
	Details                  []string         `json:"details"`
}

type Detection struct {
	ClassName  string  `json:"class_name"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
}

type Detections struct {
	Detections      []Detection `json:"detections"`
	InferenceTimeMs float64     `json:"inference_time_ms"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type sessionResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Client is the HTTP implementation of Service.
type Client struct {
	base *url.URL
	http *http.Client
	log  zerolog.Logger
}

func New(baseURL string, timeout time.Duration, log zerolog.Logger) (*Client, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", baseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}, nil
}

// HTTPClient exposes the underlying client, mainly for tests.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

func (c *Client) StartSession(ctx context.Context, sessionID string) error {
	var resp sessionResponse
	if err := c.postJSON(ctx, "api/start-session", sessionRequest{SessionID: sessionID}, &resp); err != nil {
		return err
	}
	if resp.Status != "success" {
		return fmt.Errorf("start-session rejected: status %q", resp.Status)
	}
	c.log.Info().Str("session_id", sessionID).Msg("Session started")
	return nil
}

func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	var resp sessionResponse
	if err := c.postJSON(ctx, "api/end-session", sessionRequest{SessionID: sessionID}, &resp); err != nil {
		return err
	}
	c.log.Info().Str("session_id", sessionID).Str("message", resp.Message).Msg("Session ended")
	return nil
}

func (c *Client) AnalyzeHand(ctx context.Context, photoPath, sessionID string) (*HandAnalysis, error) {
	var out HandAnalysis
	err := c.postFile(ctx, "api/analyze-hand", "image", photoPath, "image/jpeg", map[string]string{"session_id": sessionID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ProcessAudio(ctx context.Context, wavPath, sessionID string) (*AudioResult, error) {
	var out AudioResult
	err := c.postFile(ctx, "api/process-audio", "audio", wavPath, "audio/wav", map[string]string{"session_id": sessionID}, &out)
	if err != nil {
		return nil, err
	}
	c.log.Debug().Str("transcript", out.Transcript).Int("events", len(out.Events)).Msg("Audio processed")
	return &out, nil
}

func (c *Client) DetectTiles(ctx context.Context, photoPath string) (*Detections, error) {
	var out Detections
	if err := c.postFile(ctx, "api/detect-tiles", "image", photoPath, "image/jpeg", nil, &out); err != nil {
		return nil, err
	}
	c.log.Debug().Int("detections", len(out.Detections)).Float64("inference_ms", out.InferenceTimeMs).Msg("Tiles detected")
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", endpoint, err)
	}
	return c.do(ctx, endpoint, "application/json", bytes.NewReader(body), out)
}

func (c *Client) postFile(ctx context.Context, endpoint, field, path, contentType string, fields map[string]string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filepath.Base(path)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", field, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finish multipart body: %w", err)
	}

	return c.do(ctx, endpoint, mw.FormDataContentType(), &body, out)
}

func (c *Client) do(ctx context.Context, endpoint, contentType string, body io.Reader, out any) error {
	target := c.base.ResolveReference(&url.URL{Path: endpoint})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: server returned %d", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("%s: server returned %d: %s", e.Endpoint, e.Code, e.Body)
}
