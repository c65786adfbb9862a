package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis-server/pkg/config"
	"aegis-server/pkg/state"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type fakeMonitor struct {
	active  bool
	startOK bool
}

func (f *fakeMonitor) Start() bool {
	if !f.startOK {
		return false
	}
	f.active = true
	return true
}

func (f *fakeMonitor) Stop() { f.active = false }

type fakeEmergency struct {
	active bool
}

func (f *fakeEmergency) TriggerManual() (string, bool) {
	if f.active {
		return "", false
	}
	f.active = true
	return "episode-1", true
}

func (f *fakeEmergency) Cancel() bool {
	if !f.active {
		return false
	}
	f.active = false
	return true
}

func (f *fakeEmergency) Active() bool { return f.active }

type fakeAnalyzer struct {
	trigger string
}

func (f *fakeAnalyzer) AnalyzeTranscript(text string) (string, bool) {
	if f.trigger != "" && strings.Contains(text, f.trigger) {
		return "episode-kw", true
	}
	return "", false
}

func newTestServer() (*Server, *fakeMonitor, *fakeEmergency, *state.Container) {
	states := state.NewContainer()
	mon := &fakeMonitor{startOK: true}
	em := &fakeEmergency{}
	srv := NewServer(testLogger(), config.HTTPConfig{Port: 8080}, states, mon, em,
		&fakeAnalyzer{trigger: "help"})
	return srv, mon, em, states
}

func doRequest(srv *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	srv, _, _, _ := newTestServer()

	for _, path := range []string{"/health", "/healthz"} {
		rec := doRequest(srv, http.MethodGet, path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	}
}

func TestStatusIncludesSnapshot(t *testing.T) {
	srv, _, _, states := newTestServer()
	states.SetMonitoring(true)

	rec := doRequest(srv, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Version string         `json:"version"`
		State   state.Snapshot `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Version)
	assert.True(t, body.State.Monitoring)
}

func TestPanicEndpoint(t *testing.T) {
	srv, _, em, _ := newTestServer()

	rec := doRequest(srv, http.MethodPost, "/panic")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "episode-1")
	assert.True(t, em.Active())

	// A second panic while active conflicts.
	rec = doRequest(srv, http.MethodPost, "/panic")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// GET is not a panic trigger.
	rec = doRequest(srv, http.MethodGet, "/panic")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCancelEndpoint(t *testing.T) {
	srv, _, em, _ := newTestServer()

	rec := doRequest(srv, http.MethodPost, "/cancel")
	assert.Equal(t, http.StatusConflict, rec.Code, "cancel without an episode conflicts")

	em.active = true
	rec = doRequest(srv, http.MethodPost, "/cancel")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, em.Active())
}

func TestMonitorControls(t *testing.T) {
	srv, mon, _, _ := newTestServer()

	rec := doRequest(srv, http.MethodPost, "/monitor/start")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, mon.active)

	rec = doRequest(srv, http.MethodPost, "/monitor/stop")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, mon.active)

	mon.startOK = false
	rec = doRequest(srv, http.MethodPost, "/monitor/start")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTranscriptEndpoint(t *testing.T) {
	srv, _, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/transcript",
		strings.NewReader(`{"text":"someone please help me"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"triggered":true`)
	assert.Contains(t, rec.Body.String(), "episode-kw")

	req = httptest.NewRequest(http.MethodPost, "/transcript",
		strings.NewReader(`{"text":"lovely weather"}`))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"triggered":false`)

	req = httptest.NewRequest(http.MethodPost, "/transcript", strings.NewReader("not json"))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpointRegistered(t *testing.T) {
	srv, _, _, _ := newTestServer()

	rec := doRequest(srv, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStateStream(t *testing.T) {
	srv, _, _, states := newTestServer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// First frame is the current snapshot.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snap state.Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.False(t, snap.Monitoring)

	require.Eventually(t, func() bool {
		return srv.hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	// Changes stream as they happen.
	states.SetMonitoring(true)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&snap))
	assert.True(t, snap.Monitoring)
}

func TestStateStreamClosesClientsAfterShutdown(t *testing.T) {
	srv, _, _, _ := newTestServer()

	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)
	cancel()

	select {
	case <-srv.hub.done:
	case <-time.After(time.Second):
		t.Fatal("hub did not shut down")
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// A client connecting after shutdown gets its connection closed
	// instead of leaving the handler goroutine parked on the hub.
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "the upgrade itself still succeeds")
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "connection is closed rather than registered")
	assert.Equal(t, 0, srv.hub.ClientCount())
}
