package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/recipe-e2e/internal/publish"
	"github.com/gotrs-io/recipe-e2e/internal/scenario"
)

type fakeFeed struct {
	msgs   chan publish.Message
	latest []publish.Message
}

func (f *fakeFeed) Subscribe(ctx context.Context) (<-chan publish.Message, error) {
	out := make(chan publish.Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-f.msgs:
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (f *fakeFeed) Latest(_ context.Context, n int64) ([]publish.Message, error) {
	if int64(len(f.latest)) > n {
		return f.latest[:n], nil
	}
	return f.latest, nil
}

func newServerWith(t *testing.T, opts Options) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if opts.Catalog == nil {
		opts.Catalog = testCatalog()
	}
	s := New(opts)
	t.Cleanup(s.Close)
	return s
}

func dialLive(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/runs/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readLive(t *testing.T, conn *websocket.Conn) liveMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m liveMessage
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func readRun(t *testing.T, conn *websocket.Conn) RunEvent {
	t.Helper()
	m := readLive(t, conn)
	require.Equal(t, "run", m.Type)
	require.NotNil(t, m.Run)
	return *m.Run
}

func TestLiveRuns(t *testing.T) {
	exec := &fakeExecutor{release: make(chan struct{})}
	s := newTestServer(t, exec, nil)

	conn := dialLive(t, s)
	snap := readLive(t, conn)
	assert.Equal(t, "snapshot", snap.Type)
	assert.Empty(t, snap.Runs)

	w, _ := do(t, s, http.MethodPost, "/api/runs", []byte(`{"scenarios":["TC006"]}`))
	require.Equal(t, http.StatusAccepted, w.Code)

	ev := readRun(t, conn)
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, "TC006", ev.ScenarioID)
	assert.Equal(t, "queued", ev.Status)
	assert.Equal(t, sourceDashboard, ev.Source)
	assert.Equal(t, "running", readRun(t, conn).Status)

	t.Run("late clients get active runs in the snapshot", func(t *testing.T) {
		late := dialLive(t, s)
		snap := readLive(t, late)
		require.Len(t, snap.Runs, 1)
		assert.Equal(t, "run-1", snap.Runs[0].RunID)
		assert.Equal(t, "running", snap.Runs[0].Status)
	})

	close(exec.release)
	ev = readRun(t, conn)
	assert.Equal(t, string(scenario.StatusPassed), ev.Status)
	assert.Equal(t, int64(1000), ev.DurationMS)
}

func TestLiveRelaysFeed(t *testing.T) {
	started := time.Date(2026, 10, 1, 2, 0, 0, 0, time.UTC)
	feed := &fakeFeed{
		msgs: make(chan publish.Message),
		latest: []publish.Message{
			{RunID: "cron-2", ScenarioID: "TC010", Status: scenario.StatusFailed, Error: "TC010: expected outcome not observed", StartedAt: started.Add(time.Minute)},
			{RunID: "cron-1", ScenarioID: "TC006", Status: scenario.StatusPassed, StartedAt: started, DurationMS: 1500},
		},
	}
	s := newServerWith(t, Options{Executor: &fakeExecutor{}, Feed: feed})

	conn := dialLive(t, s)
	snap := readLive(t, conn)
	require.Len(t, snap.Runs, 2)
	assert.Equal(t, "cron-1", snap.Runs[0].RunID)
	assert.Equal(t, sourceFeed, snap.Runs[0].Source)
	assert.True(t, started.Add(1500*time.Millisecond).Equal(snap.Runs[0].At), "got %s", snap.Runs[0].At)
	assert.Equal(t, "cron-2", snap.Runs[1].RunID)
	assert.Equal(t, "failed", snap.Runs[1].Status)

	w, _ := do(t, s, http.MethodPost, "/api/runs", []byte(`{"scenarios":["TC014"]}`))
	require.Equal(t, http.StatusAccepted, w.Code)
	for _, want := range []string{"queued", "running", "passed"} {
		ev := readRun(t, conn)
		require.Equal(t, "run-1", ev.RunID)
		require.Equal(t, want, ev.Status)
	}

	// the dashboard's own run comes back through the feed and is dropped
	feed.msgs <- publish.Message{RunID: "run-1", ScenarioID: "TC014", Status: scenario.StatusPassed}
	feed.msgs <- publish.Message{RunID: "cron-3", ScenarioID: "TC006", Status: scenario.StatusPassed}

	ev := readRun(t, conn)
	assert.Equal(t, "cron-3", ev.RunID)
	assert.Equal(t, sourceFeed, ev.Source)
}

func TestLiveClosesOnShutdown(t *testing.T) {
	s := newServerWith(t, Options{Executor: &fakeExecutor{}})
	conn := dialLive(t, s)
	readLive(t, conn)

	s.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestFinishedRunRetention(t *testing.T) {
	s := newServerWith(t, Options{Executor: &fakeExecutor{}, MaxFinished: 2, FinishedTTL: time.Minute})
	var clock atomic.Int64
	clock.Store(time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC).UnixNano())
	s.now = func() time.Time { return time.Unix(0, clock.Load()) }

	w, _ := do(t, s, http.MethodPost, "/api/runs", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool {
		w, body := do(t, s, http.MethodGet, "/api/runs/run-3", nil)
		return w.Code == http.StatusOK && body["status"] == "passed"
	}, 2*time.Second, 10*time.Millisecond)

	t.Run("cap evicts the oldest", func(t *testing.T) {
		w, _ := do(t, s, http.MethodGet, "/api/runs/run-1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		w, _ = do(t, s, http.MethodGet, "/api/runs/run-2", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		s.mu.RLock()
		defer s.mu.RUnlock()
		assert.Len(t, s.pending, 2)
		assert.Equal(t, []string{"run-2", "run-3"}, s.finished)
	})

	t.Run("expired runs are dropped", func(t *testing.T) {
		clock.Add(int64(2 * time.Minute))
		w, _ := do(t, s, http.MethodPost, "/api/runs", []byte(`{"scenarios":["TC006"]}`))
		require.Equal(t, http.StatusAccepted, w.Code)

		for _, id := range []string{"run-2", "run-3"} {
			w, _ := do(t, s, http.MethodGet, "/api/runs/"+id, nil)
			assert.Equal(t, http.StatusNotFound, w.Code, id)
		}
		require.Eventually(t, func() bool {
			w, body := do(t, s, http.MethodGet, "/api/runs/run-4", nil)
			return w.Code == http.StatusOK && body["status"] == "passed"
		}, 2*time.Second, 10*time.Millisecond)
	})
}
