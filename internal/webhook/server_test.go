package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbdk-dev/sbdk/internal/testutil"
)

func testServer(t *testing.T, rebuild RebuildFunc) *Server {
	t.Helper()
	return NewServer(Config{
		Host:    "127.0.0.1",
		Port:    5000,
		Rebuild: rebuild,
		Logger:  testutil.NewLogger(t),
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_Health(t *testing.T) {
	srv := testServer(t, nil)
	rec := doJSON(t, srv.Routes(), http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestServer_Index(t *testing.T) {
	srv := testServer(t, nil)
	rec := doJSON(t, srv.Routes(), http.MethodGet, "/", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	info := decode(t, rec)
	assert.Equal(t, "sbdk-webhooks", info["service"])
	assert.Equal(t, "dev", info["version"])
	assert.Contains(t, info, "uptime_seconds")
	assert.Contains(t, info, "endpoints")
}

func TestServer_RegisterProject(t *testing.T) {
	srv := testServer(t, nil)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/register", map[string]string{"project_name": "analytics"})
	require.Equal(t, http.StatusOK, rec.Code)

	first := decode(t, rec)
	id, ok := first["project_id"].(string)
	require.True(t, ok)
	assert.Len(t, id, 36)
	assert.Equal(t, "analytics", first["project_name"])

	rec = doJSON(t, h, http.MethodPost, "/register", map[string]string{"project_name": "ops"})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode(t, rec)
	assert.NotEqual(t, id, second["project_id"])
}

func TestServer_RegisterRequiresName(t *testing.T) {
	srv := testServer(t, nil)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/register", map[string]string{"project_name": "  "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "project_name is required")

	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString("{not json"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListProjects(t *testing.T) {
	srv := testServer(t, nil)
	h := srv.Routes()

	doJSON(t, h, http.MethodPost, "/register", map[string]string{"project_name": "first"})
	doJSON(t, h, http.MethodPost, "/register", map[string]string{"project_name": "second"})

	rec := doJSON(t, h, http.MethodGet, "/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Projects []Project `json:"projects"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Projects, 2)
	assert.Equal(t, "first", out.Projects[0].Name)
	assert.Equal(t, "second", out.Projects[1].Name)
}

func TestServer_TrackUsage(t *testing.T) {
	srv := testServer(t, nil)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/register", map[string]string{"project_name": "analytics"})
	id := decode(t, rec)["project_id"].(string)

	rec = doJSON(t, h, http.MethodPost, "/track/usage", map[string]any{
		"project_id": id,
		"command":    "run",
		"metadata":   map[string]any{"duration": 1.5},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tracked", decode(t, rec)["status"])

	rec = doJSON(t, h, http.MethodGet, "/usage/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		ProjectID string       `json:"project_id"`
		Events    []UsageEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Events, 1)
	assert.Equal(t, "run", out.Events[0].Command)
	assert.False(t, out.Events[0].Timestamp.IsZero())
}

func TestServer_TrackUsageUnknownProject(t *testing.T) {
	srv := testServer(t, nil)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/track/usage", map[string]any{
		"project_id": "nope",
		"command":    "run",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Project not found", decode(t, rec)["error"])

	rec = doJSON(t, h, http.MethodGet, "/usage/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_TrackUsageRequiresFields(t *testing.T) {
	srv := testServer(t, nil)
	rec := doJSON(t, srv.Routes(), http.MethodPost, "/track/usage", map[string]any{
		"project_id": "something",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GitHubMainTriggersRebuild(t *testing.T) {
	var calls atomic.Int32
	srv := testServer(t, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/webhook/github", map[string]string{
		"ref": "refs/heads/main",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rebuild_triggered", decode(t, rec)["status"])
	assert.Equal(t, int32(1), calls.Load())

	info := decode(t, doJSON(t, h, http.MethodGet, "/", nil))
	assert.Equal(t, float64(1), info["rebuilds"])
}

func TestServer_GitHubOtherBranchIgnored(t *testing.T) {
	var calls atomic.Int32
	srv := testServer(t, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	h := srv.Routes()

	for _, ref := range []string{"refs/heads/dev", "refs/heads/maintenance", ""} {
		rec := doJSON(t, h, http.MethodPost, "/webhook/github", map[string]string{"ref": ref})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", decode(t, rec)["status"], "ref %q", ref)
	}
	assert.Equal(t, int32(0), calls.Load())
}

func TestServer_GitHubMalformedBody(t *testing.T) {
	srv := testServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewBufferString("{{{"))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GitHubRebuildFailure(t *testing.T) {
	srv := testServer(t, func(ctx context.Context) error {
		return fmt.Errorf("spawn failed")
	})
	rec := doJSON(t, srv.Routes(), http.MethodPost, "/webhook/github", map[string]string{
		"ref": "refs/heads/main",
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "spawn failed")
}

func TestState_UsageCap(t *testing.T) {
	state := NewState()
	p := state.RegisterProject("busy", "")

	for i := 0; i < maxUsagePerProject+20; i++ {
		ok := state.TrackUsage(UsageEvent{
			ProjectID: p.ID,
			Command:   fmt.Sprintf("cmd_%d", i),
		})
		require.True(t, ok)
	}

	events, ok := state.Usage(p.ID)
	require.True(t, ok)
	require.Len(t, events, maxUsagePerProject)
	// Oldest entries are dropped first.
	assert.Equal(t, "cmd_20", events[0].Command)
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	srv := NewServer(Config{Host: "127.0.0.1", Port: 0})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func TestServer_ServeReturnsOnConfigChange(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sbdk_config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"project":"demo"}`), 0o644))

	srv := NewServer(Config{
		Host:       "127.0.0.1",
		Port:       0,
		ConfigPath: cfgPath,
		Reload:     true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	// Rewrite until the watcher picks it up; the watch may not be
	// established when the first write lands.
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case err := <-errCh:
			require.ErrorIs(t, err, ErrConfigChanged)
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(cfgPath, []byte(`{"project":"demo2"}`), 0o644))
		case <-deadline:
			t.Fatal("server did not restart on config change")
		}
	}
}
