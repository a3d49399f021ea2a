package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipclick/internal/core/dispatcher"
	"ipclick/internal/shared/lifecycle"
	"ipclick/internal/shared/types"
	"ipclick/model"
)

type fakeProvider struct{}

func (fakeProvider) Phase() lifecycle.Phase { return lifecycle.Running }

func (fakeProvider) Stats() types.DispatchStats {
	return types.DispatchStats{DefaultAdapter: "fingerprint", Dispatched: 7, Succeeded: 6, Faults: 1}
}

func (fakeProvider) RecentTargets() []string { return []string{"http://a.test/"} }

func (fakeProvider) ListenerInfo() *types.ListenerInfo {
	return &types.ListenerInfo{Address: "0.0.0.0", Port: 9527}
}

func setupTestWeb(t *testing.T, cfg types.WebConf) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "ipclick_test_total", Help: "test"}).Inc()

	srv := httptest.NewServer(NewMux(cfg, NewHandler(fakeProvider{}, hub, "test"), hub, reg))
	t.Cleanup(srv.Close)
	return srv, hub
}

func TestStatusIsPublic(t *testing.T) {
	srv, _ := setupTestWeb(t, types.WebConf{User: "admin", Password: "pw"})

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "running", body["globalStatus"])
	assert.Equal(t, "test", body["version"])
}

func TestStatsRequiresAuth(t *testing.T) {
	srv, _ := setupTestWeb(t, types.WebConf{User: "admin", Password: "pw"})

	resp, err := http.Get(srv.URL + "/api/stats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/stats", nil)
	req.SetBasicAuth("admin", "pw")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats types.DispatchStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, int64(7), stats.Dispatched)
	assert.Equal(t, "fingerprint", stats.DefaultAdapter)
}

func TestStatsRejectsPost(t *testing.T) {
	srv, _ := setupTestWeb(t, types.WebConf{})

	resp, err := http.Post(srv.URL+"/api/stats", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := setupTestWeb(t, types.WebConf{})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "ipclick_test_total 1")
}

func TestWebSocketReceivesTaskCompleted(t *testing.T) {
	srv, hub := setupTestWeb(t, types.WebConf{})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	task, err := model.NewTask("http://example.com/x")
	require.NoError(t, err)
	hub.TaskFinished(&dispatcher.Result{
		TaskUUID: task.UUID,
		Adapter:  model.AdapterFingerprint,
		Task:     task,
		Response: &model.Response{StatusCode: 200},
		Elapsed:  30 * time.Millisecond,
	})
	hub.BroadcastStatsUpdate(fakeProvider{}.Stats())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first struct {
		Type string    `json:"type"`
		Data TaskEvent `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "task_completed", first.Type)
	assert.Equal(t, task.UUID, first.Data.UUID)
	assert.Equal(t, "GET", first.Data.Method)
	assert.Equal(t, 200, first.Data.StatusCode)
	assert.Equal(t, int64(30), first.Data.ElapsedMs)

	var second WebSocketMessage
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "stats_update", second.Type)
}

func TestHubStopClosesClients(t *testing.T) {
	srv, hub := setupTestWeb(t, types.WebConf{})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Stop()
	hub.Stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
