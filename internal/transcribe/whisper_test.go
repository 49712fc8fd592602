package transcribe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multimodal-rag/internal/config"
	"multimodal-rag/internal/models"
)

func TestWhisperClient_Segments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "talk.mp3", hdr.Filename)
		assert.Equal(t, "audio-bytes", string(data))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"text":     "Hello there. Second part.",
			"language": "english",
			"duration": 7.5,
			"segments": []map[string]any{
				{"text": " Hello there.", "start": 0.0, "end": 3.2, "avg_logprob": 0.0},
				{"text": "  ", "start": 3.2, "end": 3.5, "avg_logprob": -1.0},
				{"text": " Second part.", "start": 3.5, "end": 7.5, "avg_logprob": -0.5},
			},
		})
	}))
	defer srv.Close()

	c := NewWhisperClient(&config.ServiceConfig{BaseURL: srv.URL, Model: "whisper-1", TimeoutSecs: 5})
	segs, meta, err := c.Transcribe(context.Background(), "talk.mp3", strings.NewReader("audio-bytes"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"language": "english", "duration": 7.5}, meta)
	require.Len(t, segs, 2)
	assert.Equal(t, "Hello there.", segs[0].Text)
	assert.InDelta(t, 1.0, segs[0].Confidence, 1e-9)
	assert.Equal(t, 3.5, segs[1].Start)
	assert.InDelta(t, 0.6065, segs[1].Confidence, 1e-3)
}

func TestWhisperClient_TextOnlyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"text":"just text","duration":4}`))
	}))
	defer srv.Close()

	c := NewWhisperClient(&config.ServiceConfig{BaseURL: srv.URL, TimeoutSecs: 5})
	segs, meta, err := c.Transcribe(context.Background(), "a.wav", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, []Segment{{Text: "just text", End: 4, Confidence: 1}}, segs)
	assert.Equal(t, map[string]any{"duration": 4.0}, meta)
}

func TestWhisperClient_BaseURLWithVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"text":"ok","duration":1}`))
	}))
	defer srv.Close()

	c := NewWhisperClient(&config.ServiceConfig{BaseURL: srv.URL + "/v1/", Key: "Bearer secret", TimeoutSecs: 5})
	segs, _, err := c.Transcribe(context.Background(), "a.wav", strings.NewReader("x"))
	require.NoError(t, err)
	require.Len(t, segs, 1)
}

func TestWhisperClient_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewWhisperClient(&config.ServiceConfig{BaseURL: srv.URL, TimeoutSecs: 5})
	_, _, err := c.Transcribe(context.Background(), "a.wav", strings.NewReader("x"))
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
}
