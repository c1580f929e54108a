package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "http://tiles.test:8000/"

func newMockedClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	c, err := New("http://tiles.test:8000", 5*time.Second, zerolog.Nop())
	require.NoError(t, err)
	mt := httpmock.NewMockTransport()
	c.HTTPClient().Transport = mt
	return c, mt
}

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com", time.Second, zerolog.Nop())
	assert.Error(t, err)
	_, err = New("://nope", time.Second, zerolog.Nop())
	assert.Error(t, err)
}

func TestStartSession(t *testing.T) {
	c, mt := newMockedClient(t)

	var got sessionRequest
	mt.RegisterResponder(http.MethodPost, baseURL+"api/start-session",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
				return nil, err
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"status":"success","session_id":"abc"}`), nil
		})

	require.NoError(t, c.StartSession(context.Background(), "abc"))
	assert.Equal(t, "abc", got.SessionID)
}

func TestStartSessionRejected(t *testing.T) {
	c, mt := newMockedClient(t)
	mt.RegisterResponder(http.MethodPost, baseURL+"api/start-session",
		httpmock.NewStringResponder(http.StatusOK, `{"status":"error"}`))

	err := c.StartSession(context.Background(), "abc")
	assert.ErrorContains(t, err, "rejected")
}

func TestEndSession(t *testing.T) {
	c, mt := newMockedClient(t)
	mt.RegisterResponder(http.MethodPost, baseURL+"api/end-session",
		httpmock.NewStringResponder(http.StatusOK, `{"status":"success","message":"bye"}`))

	require.NoError(t, c.EndSession(context.Background(), "abc"))
	assert.Equal(t, 1, mt.GetCallCountInfo()["POST "+baseURL+"api/end-session"])
}

func TestAnalyzeHandSendsMultipart(t *testing.T) {
	c, mt := newMockedClient(t)
	photo := writeTemp(t, "2024-01-02-03-04-05-006.jpg", "jpeg-bytes")

	mt.RegisterResponder(http.MethodPost, baseURL+"api/analyze-hand",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseMultipartForm(1<<20))
			assert.Equal(t, "sess-1", req.FormValue("session_id"))

			file, header, err := req.FormFile("image")
			require.NoError(t, err)
			defer file.Close()
			body, _ := io.ReadAll(file)
			assert.Equal(t, "jpeg-bytes", string(body))
			assert.Equal(t, "2024-01-02-03-04-05-006.jpg", header.Filename)
			assert.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))

			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"user_hand":      []string{"1m", "2m", "3m"},
				"melded_tiles":   []string{"5p", "5p", "5p"},
				"suggested_play": "discard 9s",
			})
		})

	res, err := c.AnalyzeHand(context.Background(), photo, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1m", "2m", "3m"}, res.UserHand)
	assert.Equal(t, []string{"5p", "5p", "5p"}, res.MeldedTiles)
	assert.Equal(t, "discard 9s", res.SuggestedPlay)
}

func TestProcessAudio(t *testing.T) {
	c, mt := newMockedClient(t)
	wav := writeTemp(t, "audio_20240102_030405_006.wav", "RIFF")

	mt.RegisterResponder(http.MethodPost, baseURL+"api/process-audio",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseMultipartForm(1<<20))
			_, header, err := req.FormFile("audio")
			require.NoError(t, err)
			assert.Equal(t, "audio/wav", header.Header.Get("Content-Type"))
			return httpmock.NewStringResponse(http.StatusOK, `{
				"transcript": "pung five pin",
				"events": [{"type": "pung", "tile": "5p"}],
				"updated_visible_tiles_count": 3,
				"details": ["5p x3"]
			}`), nil
		})

	res, err := c.ProcessAudio(context.Background(), wav, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "pung five pin", res.Transcript)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "pung", res.Events[0]["type"])
	assert.Equal(t, 3, res.UpdatedVisibleTilesCount)
	assert.Equal(t, []string{"5p x3"}, res.Details)
}

func TestDetectTiles(t *testing.T) {
	c, mt := newMockedClient(t)
	photo := writeTemp(t, "p.jpg", "jpeg")

	mt.RegisterResponder(http.MethodPost, baseURL+"api/detect-tiles",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseMultipartForm(1<<20))
			assert.Empty(t, req.FormValue("session_id"))
			return httpmock.NewStringResponse(http.StatusOK,
				`{"detections":[{"class_name":"3s","x1":1,"y1":2,"x2":30,"y2":40,"confidence":0.93}],"inference_time_ms":12.5}`), nil
		})

	res, err := c.DetectTiles(context.Background(), photo)
	require.NoError(t, err)
	require.Len(t, res.Detections, 1)
	assert.Equal(t, Detection{ClassName: "3s", X1: 1, Y1: 2, X2: 30, Y2: 40, Confidence: 0.93}, res.Detections[0])
	assert.InDelta(t, 12.5, res.InferenceTimeMs, 0.001)
}

func TestNon2xxBecomesStatusError(t *testing.T) {
	c, mt := newMockedClient(t)
	photo := writeTemp(t, "p.jpg", "jpeg")

	tests := []struct {
		name string
		code int
	}{
		{"bad_request", http.StatusBadRequest},
		{"not_found", http.StatusNotFound},
		{"internal_server_error", http.StatusInternalServerError},
		{"service_unavailable", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt.RegisterResponder(http.MethodPost, baseURL+"api/analyze-hand",
				httpmock.NewStringResponder(tt.code, "nope"))

			_, err := c.AnalyzeHand(context.Background(), photo, "s")
			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.code, se.Code)
			assert.Equal(t, "nope", se.Body)
		})
	}
}

func TestTransportErrorAndBadJSON(t *testing.T) {
	c, mt := newMockedClient(t)
	photo := writeTemp(t, "p.jpg", "jpeg")

	mt.RegisterResponder(http.MethodPost, baseURL+"api/detect-tiles",
		httpmock.NewErrorResponder(errors.New("connection refused")))
	_, err := c.DetectTiles(context.Background(), photo)
	assert.ErrorContains(t, err, "connection refused")

	mt.RegisterResponder(http.MethodPost, baseURL+"api/detect-tiles",
		httpmock.NewStringResponder(http.StatusOK, "<html>"))
	_, err = c.DetectTiles(context.Background(), photo)
	assert.ErrorContains(t, err, "decode")
}

func TestMissingFile(t *testing.T) {
	c, _ := newMockedClient(t)
	_, err := c.AnalyzeHand(context.Background(), filepath.Join(t.TempDir(), "gone.jpg"), "s")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
