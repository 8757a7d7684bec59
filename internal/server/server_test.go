package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/recipe-e2e/internal/metrics"
	"github.com/gotrs-io/recipe-e2e/internal/scenario"
	"github.com/gotrs-io/recipe-e2e/internal/store"
)

type fakeCatalog struct {
	scenarios []scenario.Scenario
}

func (f *fakeCatalog) List() []scenario.Scenario { return f.scenarios }

func (f *fakeCatalog) Filter(ids, tags []string) ([]scenario.Scenario, error) {
	if len(ids) == 0 && len(tags) == 0 {
		return f.scenarios, nil
	}
	var out []scenario.Scenario
	for _, sc := range f.scenarios {
		for _, id := range ids {
			if id == sc.ID {
				out = append(out, sc)
			}
		}
		for _, tag := range tags {
			if sc.HasTag(tag) {
				out = append(out, sc)
			}
		}
	}
	if len(ids) > 0 && len(out) == 0 {
		return nil, fmt.Errorf("scenario %q not found", ids[0])
	}
	return out, nil
}

type fakeExecutor struct {
	seq     atomic.Int64
	release chan struct{}
	store   *store.Store

	mu  sync.Mutex
	ran []string
}

func (f *fakeExecutor) NewRunID() string {
	return fmt.Sprintf("run-%d", f.seq.Add(1))
}

func (f *fakeExecutor) RunWithID(ctx context.Context, runID string, sc scenario.Scenario) *scenario.Result {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
		}
	}
	now := time.Now().UTC()
	res := &scenario.Result{
		RunID:      runID,
		ScenarioID: sc.ID,
		Title:      sc.Title,
		Status:     scenario.StatusPassed,
		Phase:      scenario.PhaseDone,
		StartedAt:  now.Add(-time.Second),
		FinishedAt: now,
		Duration:   time.Second,
	}
	if ctx.Err() != nil {
		res.Status = scenario.StatusError
		res.Error = ctx.Err().Error()
	}
	if f.store != nil {
		_ = f.store.Save(context.Background(), res)
	}
	f.mu.Lock()
	f.ran = append(f.ran, sc.ID)
	f.mu.Unlock()
	return res
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{scenarios: []scenario.Scenario{
		{ID: "TC006", Title: "Recipe Search", Tags: []string{"smoke"}, ExpectedOutcome: "cards", Assertions: []scenario.Assertion{{Text: "Tomato Pulao"}}},
		{ID: "TC010", Title: "Cooking Instructions", Tags: []string{"smoke"}, ExpectedOutcome: "steps", Assertions: []scenario.Assertion{{Text: "Ingredients"}}},
		{ID: "TC014", Title: "Responsive Layout", ExpectedOutcome: "layout adapts", Assertions: []scenario.Assertion{{Text: "Smart Recipe"}}},
	}}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("sqlite3", filepath.Join(t.TempDir(), "dashboard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestServer(t *testing.T, exec *fakeExecutor, history History) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	opts := Options{
		Catalog:  testCatalog(),
		Executor: exec,
		Metrics:  metrics.NewRecorder().Handler(),
		Target:   "http://localhost:4200",
	}
	if history != nil {
		opts.History = history
	}
	s := New(opts)
	t.Cleanup(s.Close)
	return s
}

func do(t *testing.T, s *Server, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var out map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeExecutor{}, nil)
	w, body := do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["scenarios"])
	assert.Equal(t, false, body["history"])
}

func TestListScenarios(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	require.NoError(t, st.Save(ctx, &scenario.Result{
		RunID: "r1", ScenarioID: "TC006", Status: scenario.StatusPassed, Phase: scenario.PhaseDone,
		StartedAt: time.Now().UTC(), FinishedAt: time.Now().UTC(),
	}))

	s := newTestServer(t, &fakeExecutor{}, st)
	w, body := do(t, s, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, w.Code)

	list := body["scenarios"].([]interface{})
	require.Len(t, list, 3)
	first := list[0].(map[string]interface{})
	assert.Equal(t, "TC006", first["id"])
	assert.Equal(t, float64(1), first["assertions"])
	stats := first["stats"].(map[string]interface{})
	require.NotNil(t, stats)
	_, hasStats := list[2].(map[string]interface{})["stats"]
	assert.False(t, hasStats)
}

func TestRunsWithoutHistory(t *testing.T) {
	s := newTestServer(t, &fakeExecutor{}, nil)

	w, _ := do(t, s, http.MethodGet, "/api/runs", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, _ = do(t, s, http.MethodGet, "/report", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, _ = do(t, s, http.MethodGet, "/api/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggerRuns(t *testing.T) {
	t.Run("runs are queued and then stored", func(t *testing.T) {
		st := openStore(t)
		exec := &fakeExecutor{release: make(chan struct{}), store: st}
		s := newTestServer(t, exec, st)

		w, body := do(t, s, http.MethodPost, "/api/runs", []byte(`{"tags":["smoke"]}`))
		require.Equal(t, http.StatusAccepted, w.Code)
		runs := body["runs"].([]interface{})
		require.Len(t, runs, 2)
		first := runs[0].(map[string]interface{})
		assert.Equal(t, "TC006", first["scenario_id"])
		assert.Equal(t, "queued", first["status"])
		id := first["run_id"].(string)

		require.Eventually(t, func() bool {
			w, body := do(t, s, http.MethodGet, "/api/runs/"+id, nil)
			return w.Code == http.StatusOK && body["status"] == "running"
		}, 2*time.Second, 10*time.Millisecond)

		close(exec.release)

		require.Eventually(t, func() bool {
			w, body := do(t, s, http.MethodGet, "/api/runs/"+id, nil)
			return w.Code == http.StatusOK && body["status"] == string(scenario.StatusPassed)
		}, 2*time.Second, 10*time.Millisecond)

		require.Eventually(t, func() bool {
			_, body := do(t, s, http.MethodGet, "/api/runs?limit=10", nil)
			return len(body["runs"].([]interface{})) == 2
		}, 2*time.Second, 10*time.Millisecond)

		exec.mu.Lock()
		assert.Equal(t, []string{"TC006", "TC010"}, exec.ran)
		exec.mu.Unlock()

		w, body = do(t, s, http.MethodGet, "/api/runs?scenario=TC010", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, body["runs"].([]interface{}), 1)
		summary := body["summary"].(map[string]interface{})
		assert.Equal(t, float64(1), summary["passed"])
	})

	t.Run("results stay in memory without history", func(t *testing.T) {
		exec := &fakeExecutor{}
		s := newTestServer(t, exec, nil)

		w, body := do(t, s, http.MethodPost, "/api/runs", []byte(`{"scenarios":["TC014"]}`))
		require.Equal(t, http.StatusAccepted, w.Code)
		id := body["runs"].([]interface{})[0].(map[string]interface{})["run_id"].(string)

		require.Eventually(t, func() bool {
			w, body := do(t, s, http.MethodGet, "/api/runs/"+id, nil)
			return w.Code == http.StatusOK && body["scenario_id"] == "TC014" && body["status"] == "passed"
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("bad requests", func(t *testing.T) {
		s := newTestServer(t, &fakeExecutor{}, nil)

		w, _ := do(t, s, http.MethodPost, "/api/runs", []byte(`{"scenarios":`))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w, body := do(t, s, http.MethodPost, "/api/runs", []byte(`{"scenarios":["TC999"]}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, body["error"], "TC999")

		w, body = do(t, s, http.MethodPost, "/api/runs", []byte(`{"tags":["nightly"]}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "no scenarios selected", body["error"])
	})

	t.Run("close cancels pending runs", func(t *testing.T) {
		exec := &fakeExecutor{release: make(chan struct{})}
		s := newTestServer(t, exec, nil)

		w, _ := do(t, s, http.MethodPost, "/api/runs", []byte(`{"scenarios":["TC006"]}`))
		require.Equal(t, http.StatusAccepted, w.Code)

		done := make(chan struct{})
		go func() {
			s.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Close did not return")
		}
	})
}

func TestQueryValidation(t *testing.T) {
	s := newTestServer(t, &fakeExecutor{}, openStore(t))
	w, body := do(t, s, http.MethodGet, "/api/runs?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "limit")
}

func TestReportAndMetrics(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, st.Save(ctx, &scenario.Result{
		RunID: "r1", ScenarioID: "TC007", Title: "Nutrition Insights", Status: scenario.StatusFailed,
		Phase: scenario.PhaseAssert, Error: "TC007: expected outcome not observed",
		StartedAt: now, FinishedAt: now.Add(time.Second), Duration: time.Second,
	}))
	s := newTestServer(t, &fakeExecutor{}, st)

	w, _ := do(t, s, http.MethodGet, "/report", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "TC007")

	w, _ = do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
