package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longnt/sage/internal/config"
	"github.com/longnt/sage/internal/logger"
	"github.com/longnt/sage/pkg/session"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Slack.BotToken = "xoxb-test"
	cfg.Slack.SigningSecret = "test-secret"
	cfg.Notion.APIKey = "secret-notion"
	cfg.Notion.DatabaseID = "db-1"
	cfg.Report.Endpoint = "http://localhost:9/report"
	cfg.Report.Token = "report-token"
	cfg.AI.Profiles = []config.AIProfile{
		{ID: "primary", Provider: "openai", APIKey: "sk-test", Priority: 1},
	}
	cfg.Session.DBPath = filepath.Join(t.TempDir(), "sessions.db")
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	return log
}

func newTestDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()

	d, err := New(cfg, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = d.store.Close()
	})
	return d
}

func TestNewWiresComponents(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))

	assert.NotNil(t, d.sessions)
	assert.NotNil(t, d.registry)
	assert.NotNil(t, d.orchestrator)
	assert.NotNil(t, d.httpServer)
	assert.Nil(t, d.socketClient)
}

func TestNewSocketModeCreatesClient(t *testing.T) {
	cfg := testConfig(t)
	cfg.Slack.Mode = "socket"
	cfg.Slack.AppToken = "xapp-test"

	d := newTestDaemon(t, cfg)
	assert.NotNil(t, d.socketClient)
}

func TestNewRejectsBadCleanupSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.CleanupSchedule = "not a schedule"

	_, err := New(cfg, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cleanup schedule")
}

func TestHealthEndpoint(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))

	rec := httptest.NewRecorder()
	d.buildMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestThreadsEndpoint(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))

	ctx := context.Background()
	_, err := d.sessions.ResolveOrCreate(ctx, session.Key("U1", "C1"))
	require.NoError(t, err)
	_, err = d.sessions.ResolveOrCreate(ctx, session.Key("U2", "C1"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	d.buildMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/threads", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Threads []string `json:"threads"`
		Count   int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.ElementsMatch(t, []string{"U1:C1", "U2:C1"}, body.Threads)
}

func TestCleanupThreadsEndpoint(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))

	_, err := d.sessions.ResolveOrCreate(context.Background(), session.Key("U1", "C1"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	d.buildMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cleanup-threads/7", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Deleted int `json:"deleted"`
		Days    int `json:"days"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Deleted)
	assert.Equal(t, 7, body.Days)
	assert.Equal(t, 1, d.sessions.Len())
}

func TestCleanupThreadsRejectsBadDays(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	mux := d.buildMux()

	for _, days := range []string{"0", "-1", "abc"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cleanup-threads/"+days, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "days=%s", days)
	}
}

func TestEventsRouteOnlyInEventsMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Slack.Mode = "socket"
	cfg.Slack.AppToken = "xapp-test"
	d := newTestDaemon(t, cfg)

	rec := httptest.NewRecorder()
	d.buildMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/slack/events", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	d = newTestDaemon(t, testConfig(t))
	rec = httptest.NewRecorder()
	d.buildMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/slack/events", nil))
	// Wired but unsigned, so the handler rejects it rather than 404.
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))

	rec := httptest.NewRecorder()
	d.buildMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sage_")
}

func TestConfigWatcherFiresOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sage.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))

	changed := make(chan struct{}, 1)
	w, err := newConfigWatcher(path, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}, testLogger(t).GetZerolog())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"data_dir":"/tmp"}`), 0644))

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not fire")
	}
}

func TestConfigWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sage.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))

	changed := make(chan struct{}, 1)
	w, err := newConfigWatcher(path, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}, testLogger(t).GetZerolog())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644))

	select {
	case <-changed:
		t.Fatal("watcher fired for an unrelated file")
	case <-time.After(1 * time.Second):
	}
}
