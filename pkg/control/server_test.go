package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpolat/pagelift/pkg/bus"
	"github.com/dpolat/pagelift/pkg/session"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()

	if cfg.Port == 0 {
		cfg.Port = 8742
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewRegistry()
	}
	cfg.Logger = zerolog.Nop()

	srv, err := NewServer(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	return srv, ts
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postStatus(t *testing.T, url string, headers map[string]string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestServer_Healthz(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	var body map[string]string
	code := getJSON(t, ts.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_SessionLifecycle(t *testing.T) {
	registry := session.NewRegistry()
	registry.Create("sess-1")
	_, ts := newTestServer(t, Config{Sessions: registry})

	var status SessionStatus
	code := getJSON(t, ts.URL+"/sessions/sess-1", &status)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, status.Paused)

	code = postStatus(t, ts.URL+"/sessions/sess-1/pause", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, registry.IsPaused("sess-1"))

	code = postStatus(t, ts.URL+"/sessions/sess-1/resume", nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, registry.IsPaused("sess-1"))

	code = postStatus(t, ts.URL+"/sessions/sess-1/cancel", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, registry.IsCancelled("sess-1"))
}

func TestServer_UnknownSessionIs404(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/sessions/ghost", nil))
	assert.Equal(t, http.StatusNotFound, postStatus(t, ts.URL+"/sessions/ghost/pause", nil))
}

func TestServer_SecretGuardsMutations(t *testing.T) {
	registry := session.NewRegistry()
	registry.Create("sess-1")
	_, ts := newTestServer(t, Config{Sessions: registry, Secret: "hunter2"})

	code := postStatus(t, ts.URL+"/sessions/sess-1/pause", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, registry.IsPaused("sess-1"))

	code = postStatus(t, ts.URL+"/sessions/sess-1/pause", map[string]string{"X-Pagelift-Secret": "hunter2"})
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, registry.IsPaused("sess-1"))

	// Reads stay open.
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/sessions", nil))
}

func TestServer_ListSessions(t *testing.T) {
	registry := session.NewRegistry()
	registry.Create("a")
	registry.Create("b")
	registry.Cancel("b")
	_, ts := newTestServer(t, Config{Sessions: registry})

	var statuses []SessionStatus
	code := getJSON(t, ts.URL+"/sessions", &statuses)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, statuses, 2)

	byID := map[string]SessionStatus{}
	for _, st := range statuses {
		byID[st.ID] = st
	}
	assert.False(t, byID["a"].Cancelled)
	assert.True(t, byID["b"].Cancelled)
}

func TestServer_LatestRun(t *testing.T) {
	obsDir := t.TempDir()
	_, ts := newTestServer(t, Config{ObsDir: obsDir})

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/runs/latest", nil))

	payload := `{"login.xhtml":{"score":9}}`
	require.NoError(t, os.WriteFile(filepath.Join(obsDir, "evaluation.json"), []byte(payload), 0o644))

	var latest map[string]interface{}
	code := getJSON(t, ts.URL+"/runs/latest", &latest)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, latest, "login.xhtml")
}

func TestServer_TriggerRun(t *testing.T) {
	triggered := make(chan string, 1)
	_, ts := newTestServer(t, Config{
		TriggerRun: func(ctx context.Context, sessionID string) error {
			triggered <- sessionID
			return nil
		},
	})

	body := bytes.NewBufferString(`{"session_id":"manual-1"}`)
	resp, err := http.Post(ts.URL+"/runs", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case id := <-triggered:
		assert.Equal(t, "manual-1", id)
	case <-time.After(time.Second):
		t.Fatal("trigger never invoked")
	}
}

func TestServer_TriggerRunDisabledWithoutCallback(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, err := http.Post(ts.URL+"/runs", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_WebSocketStream(t *testing.T) {
	srv, ts := newTestServer(t, Config{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return srv.broadcaster.count() == 1
	}, time.Second, 10*time.Millisecond)

	srv.Broadcast("session.paused", map[string]string{"session_id": "sess-1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg EventMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, "session.paused", msg.Event)
	assert.Equal(t, int64(1), msg.Seq)
}

func TestServer_PumpForwardsRunReports(t *testing.T) {
	srv, ts := newTestServer(t, Config{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return srv.broadcaster.count() == 1
	}, time.Second, 10*time.Millisecond)

	b := bus.New()
	srv.Pump(b, "runs")
	defer func() {
		srv.pumpCancel()
		srv.pumpWG.Wait()
	}()

	require.True(t, b.TrySend("runs", map[string]string{"status": "complete"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg EventMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "run.complete", msg.Event)
}
