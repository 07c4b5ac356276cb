package freshness

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svelumani/MusicianManager-sub005/pkg/config"
	"github.com/svelumani/MusicianManager-sub005/pkg/hub"
	"github.com/svelumani/MusicianManager-sub005/pkg/logger"
	"github.com/svelumani/MusicianManager-sub005/pkg/version"
)

type fakeNavigator struct {
	mu   sync.Mutex
	urls []string
}

func (n *fakeNavigator) Navigate(url string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, url)
	return nil
}

func (n *fakeNavigator) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.urls)
}

type testEnv struct {
	store  *version.Store
	engine *Engine
	nav    *fakeNavigator
}

// newTestEnv stands up a real hub server and an engine pointed at it.
func newTestEnv(t *testing.T, location string) *testEnv {
	t.Helper()

	log := logger.New(slog.NewTextHandler(os.Stdout, nil))

	store := version.NewStore()
	reg := prometheus.NewRegistry()
	h := hub.New(store, log, hub.NewMetrics(reg))
	srv := httptest.NewServer(hub.Router(h, reg))
	t.Cleanup(func() {
		srv.Close()
		h.Close()
	})

	cfg := config.Default()
	cfg.Client.ServerURL = srv.URL
	cfg.Client.PollInterval = 50 * time.Millisecond
	cfg.Client.CachePath = filepath.Join(t.TempDir(), "versions.json")

	nav := &fakeNavigator{}
	eng, err := New(cfg, Deps{
		Fetch: func(ctx context.Context, id string) (any, error) {
			return "data for " + id, nil
		},
		Navigator: nav,
		Location:  func() string { return location },
		Logger:    log,
	})
	require.NoError(t, err)

	return &testEnv{store: store, engine: eng, nav: nav}
}

func (env *testEnv) start(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.engine.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.engine.Stop(stopCtx)
	})
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEngineInvalidatesOnBump(t *testing.T) {
	env := newTestEnv(t, "/musicians")
	env.start(t)
	waitFor(t, env.engine.Connected, "channel connection")

	_, err := env.engine.Queries().Get(context.Background(), "/api/musicians")
	require.NoError(t, err)
	require.False(t, env.engine.Queries().IsStale("/api/musicians"))

	env.store.Bump("musicians")

	waitFor(t, func() bool {
		return env.engine.Queries().IsStale("/api/musicians")
	}, "query invalidation")
	assert.Zero(t, env.nav.count())
}

func TestEngineNormalizesDriftedKeys(t *testing.T) {
	env := newTestEnv(t, "/musicians")
	env.start(t)
	waitFor(t, env.engine.Connected, "channel connection")

	// The server-side key is "planner"; on an ordinary view its change
	// must surface as an invalidation of the plannerAssignments queries.
	_, err := env.engine.Queries().Get(context.Background(), "/api/planner-assignments")
	require.NoError(t, err)

	env.store.Bump("planner")

	waitFor(t, func() bool {
		return env.engine.Queries().IsStale("/api/planner-assignments")
	}, "drifted key invalidation")
	assert.Zero(t, env.nav.count())
}

func TestEngineEscalatesOnCriticalView(t *testing.T) {
	env := newTestEnv(t, "/events/planner")
	env.start(t)
	waitFor(t, env.engine.Connected, "channel connection")

	env.store.Bump("planner")

	waitFor(t, func() bool { return env.nav.count() > 0 }, "full reload")

	env.nav.mu.Lock()
	url := env.nav.urls[0]
	env.nav.mu.Unlock()
	assert.Contains(t, url, "/events/planner")
	assert.Contains(t, url, "fresh=")
}

func TestEnginePollingFallback(t *testing.T) {
	// A server with no notification channel at all: the engine must
	// still converge through the poll loop.
	store := version.NewStore()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/versions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(store.Snapshot())
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Client.ServerURL = srv.URL
	cfg.Client.PollInterval = 30 * time.Millisecond
	cfg.Client.CachePath = filepath.Join(t.TempDir(), "versions.json")

	nav := &fakeNavigator{}
	eng, err := New(cfg, Deps{
		Fetch:     func(ctx context.Context, id string) (any, error) { return id, nil },
		Navigator: nav,
		Location:  func() string { return "/venues" },
		Logger:    logger.Nop(),
	})
	require.NoError(t, err)

	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Stop(stopCtx)
	})

	_, err = eng.Queries().Get(context.Background(), "/api/venues")
	require.NoError(t, err)

	store.Bump("venues")

	waitFor(t, func() bool {
		return eng.Queries().IsStale("/api/venues")
	}, "poll-driven invalidation")
	assert.False(t, eng.Connected())
}

func TestEngineStopPersistsCache(t *testing.T) {
	env := newTestEnv(t, "/musicians")
	env.store.Bump("musicians")
	env.start(t)
	waitFor(t, env.engine.Connected, "channel connection")

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.engine.Stop(stopCtx))

	_, err := os.Stat(env.engine.cfg.Client.CachePath)
	assert.NoError(t, err, "version cache should survive a plain stop")
}

func TestEngineStopAndResetDiscardsState(t *testing.T) {
	env := newTestEnv(t, "/musicians")
	env.store.Bump("musicians")
	env.start(t)
	waitFor(t, env.engine.Connected, "channel connection")

	_, err := env.engine.Queries().Get(context.Background(), "/api/musicians")
	require.NoError(t, err)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.engine.StopAndReset(stopCtx))

	_, err = os.Stat(env.engine.cfg.Client.CachePath)
	assert.True(t, os.IsNotExist(err), "version cache must be discarded on logout")
	assert.Zero(t, env.engine.Queries().Len())
}

func TestEngineStartTwice(t *testing.T) {
	env := newTestEnv(t, "/musicians")
	env.start(t)

	assert.Error(t, env.engine.Start(context.Background()))
}

func TestWSEndpoint(t *testing.T) {
	assert.Equal(t, "ws://localhost:8090/ws", WSEndpoint("http://localhost:8090"))
	assert.Equal(t, "wss://fresh.example.com/ws", WSEndpoint("https://fresh.example.com"))
}
