package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/voxchat/audio"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:   srv.URL + "/",
		TextPath:  "/api/text/process",
		VoicePath: "/api/voice/process",
		Timeout:   5 * time.Second,
	})
}

func TestProcessText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/text/process", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "  hello there ", body["prompt"])

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"message":"hi"}`)
	})

	resp, err := client.ProcessText(context.Background(), "  hello there ")
	require.NoError(t, err)
	assert.Equal(t, Some(true), resp.Success)
	assert.Equal(t, Some("hi"), resp.Message)
}

func TestProcessVoice(t *testing.T) {
	clip, err := audio.EncodePCM16([]int16{1, 2, 3, 4}, 8000)
	require.NoError(t, err)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/voice/process", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		file, header, err := r.FormFile("audio")
		require.NoError(t, err)
		defer file.Close()

		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, clip.Data, data)
		assert.Equal(t, "recording.wav", header.Filename)
		assert.Equal(t, audio.MediaTypeWAV, header.Header.Get("Content-Type"))

		io.WriteString(w, `{"success":true,"transcription":{"originalText":"hello"}}`)
	})

	resp, err := client.ProcessVoice(context.Background(), clip)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Heard())
}

func TestProcessVoiceEmptyClip(t *testing.T) {
	client := New(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := client.ProcessVoice(context.Background(), audio.Clip{})
	assert.ErrorIs(t, err, audio.ErrEmptyClip)
}

func TestNon2xxIsStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := client.ProcessText(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStatus)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.Equal(t, "boom", statusErr.Body)
}

func TestUnparseableBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>oops</html>")
	})

	_, err := client.ProcessText(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrDecode)
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := New(Config{BaseURL: url, TextPath: "/t", VoicePath: "/v", Timeout: time.Second})
	_, err := client.ProcessText(context.Background(), "hi")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStatus)
	assert.Contains(t, err.Error(), "could not reach the assistant")
}
