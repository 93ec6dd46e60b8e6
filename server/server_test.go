package voxserv

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/voxchat/audio"
	"github.com/bosley/voxchat/backend"
	"github.com/bosley/voxchat/chat"
)

// gatedAssistant blocks each request until release is closed.
type gatedAssistant struct {
	mu      sync.Mutex
	prompts []string
	release chan struct{}
}

func (g *gatedAssistant) ProcessText(ctx context.Context, prompt string) (*backend.Response, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	<-g.release
	return backend.Decode([]byte(`{"success":true,"message":"pong"}`))
}

func (g *gatedAssistant) ProcessVoice(ctx context.Context, clip audio.Clip) (*backend.Response, error) {
	<-g.release
	return backend.Decode([]byte(`{"success":true,"transcription":{"originalText":"hey"}}`))
}

type stubCapturer struct {
	clip audio.Clip
}

func (stubCapturer) Start(ctx context.Context) error { return nil }

func (s stubCapturer) Stop() (audio.Clip, error) { return s.clip, nil }

func testClip(t *testing.T) audio.Clip {
	t.Helper()
	clip, err := audio.EncodePCM16(make([]int16, 16000), 16000)
	require.NoError(t, err)
	return clip
}

func newTestServer(t *testing.T, capt chat.Capturer) (*Server, *httptest.Server, *gatedAssistant) {
	t.Helper()
	ga := &gatedAssistant{release: make(chan struct{})}
	ctrl := chat.New(chat.Config{}, capt, chat.WithAssistant(ga))
	s := New(ctrl, Config{})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts, ga
}

func waitIdle(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.ctrl.WaitIdle(ctx))
}

func getState(t *testing.T, url string) StateView {
	t.Helper()
	resp, err := http.Get(url + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state StateView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	return state
}

func postText(t *testing.T, url, prompt string) *http.Response {
	t.Helper()
	body, err := json.Marshal(textRequest{Prompt: prompt})
	require.NoError(t, err)
	resp, err := http.Post(url+"/api/text", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestTextSubmissionIsSingleFlight(t *testing.T) {
	s, ts, ga := newTestServer(t, nil)

	first := postText(t, ts.URL, "ping")
	assert.Equal(t, http.StatusAccepted, first.StatusCode)

	second := postText(t, ts.URL, "again")
	assert.Equal(t, http.StatusConflict, second.StatusCode)

	state := getState(t, ts.URL)
	assert.True(t, state.IsLoading)
	require.Len(t, state.Messages, 1)
	assert.Equal(t, "ping", state.Messages[0].Text)
	assert.Equal(t, "typed", state.Messages[0].Origin)

	close(ga.release)
	waitIdle(t, s)

	state = getState(t, ts.URL)
	assert.False(t, state.IsLoading)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, chat.RoleAssistant, state.Messages[1].Role)
	assert.Equal(t, "pong", state.Messages[1].Text)
	assert.Equal(t, []string{"ping"}, ga.prompts)
}

func TestTextRejectsMalformedBody(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/api/text", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecordingRoundTripServesAudio(t *testing.T) {
	clip := testClip(t)
	s, ts, ga := newTestServer(t, stubCapturer{clip: clip})
	close(ga.release)

	resp, err := http.Post(ts.URL+"/api/recording/stop", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/recording/start", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, getState(t, ts.URL).IsRecording)

	resp, err = http.Post(ts.URL+"/api/recording/stop", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	waitIdle(t, s)
	state := getState(t, ts.URL)
	require.Len(t, state.Messages, 2)
	spoken := state.Messages[0]
	assert.True(t, spoken.HasAudio)
	assert.Equal(t, audio.MediaTypeWAV, spoken.MediaType)
	assert.Equal(t, "Voice message (00:01)", spoken.Text)

	resp, err = http.Get(ts.URL + "/api/messages/" + spoken.ID.String() + "/audio")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, audio.MediaTypeWAV, resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, clip.Data, data)

	reply := state.Messages[1]
	resp2, err := http.Get(ts.URL + "/api/messages/" + reply.ID.String() + "/audio")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)

	resp3, err := http.Get(ts.URL + "/api/messages/not-a-uuid/audio")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp3.StatusCode)
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var raw struct {
		Type    string    `json:"type"`
		Payload StateView `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&raw))
	return Frame{Type: raw.Type, Payload: raw.Payload}
}

func TestWebSocketStreamsSnapshots(t *testing.T) {
	s, ts, ga := newTestServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Forward(ctx)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	initial := readFrame(t, conn)
	assert.Equal(t, "snapshot", initial.Type)
	assert.Empty(t, initial.Payload.(StateView).Messages)

	require.Eventually(t, func() bool { return s.conns.Len() == 1 }, time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusAccepted, postText(t, ts.URL, "ping").StatusCode)
	close(ga.release)

	// Snapshots are latest-wins, so read until the reply shows up.
	for {
		frame := readFrame(t, conn)
		state := frame.Payload.(StateView)
		if len(state.Messages) == 2 && !state.IsLoading {
			assert.Equal(t, "pong", state.Messages[1].Text)
			break
		}
	}
}

func TestConnectionListDropsSlowViewers(t *testing.T) {
	cl := NewConnectionList()
	c := &wsConnection{send: make(chan []byte, 1), list: cl}
	cl.Add(c)

	cl.Broadcast([]byte("a"))
	assert.Equal(t, 1, cl.Len())

	cl.Broadcast([]byte("b"))
	assert.Equal(t, 0, cl.Len())

	_, ok := <-c.send
	assert.True(t, ok)
	_, ok = <-c.send
	assert.False(t, ok)
}

func TestConnectionListSendTargetsLiveConnections(t *testing.T) {
	cl := NewConnectionList()
	c := &wsConnection{id: uuid.New(), send: make(chan []byte, 1), list: cl}
	cl.Add(c)

	assert.True(t, cl.Send(c.id, []byte("first")))
	assert.False(t, cl.Send(c.id, []byte("full")))

	cl.Remove(c.id)
	assert.False(t, cl.Send(c.id, []byte("gone")))
	assert.False(t, cl.Send(uuid.New(), []byte("unknown")))
}

func TestStateReportsStartingRecording(t *testing.T) {
	assert.True(t, viewOf(chat.Snapshot{IsStarting: true}).IsStarting)
	assert.False(t, viewOf(chat.Snapshot{}).IsStarting)
}
