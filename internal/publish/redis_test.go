package publish

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/recipe-e2e/internal/scenario"
)

func sample(runID string) *scenario.Result {
	return &scenario.Result{
		RunID:      runID,
		ScenarioID: "TC006",
		Title:      "Recipe Search by Category and Cuisine",
		Status:     scenario.StatusPassed,
		Phase:      scenario.PhaseDone,
		StartedAt:  time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
		Duration:   1500 * time.Millisecond,
		Steps:      make([]scenario.StepResult, 5),
		Assertions: make([]scenario.AssertionResult, 3),
	}
}

func TestNewMessage(t *testing.T) {
	m := NewMessage(sample("r1"))
	assert.Equal(t, "r1", m.RunID)
	assert.Equal(t, scenario.StatusPassed, m.Status)
	assert.Equal(t, int64(1500), m.DurationMS)
	assert.Equal(t, 5, m.Steps)
	assert.Equal(t, 3, m.Assertions)
}

func TestNewPublisherUnreachable(t *testing.T) {
	_, err := NewPublisher(context.Background(), Config{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

// Requires a disposable Redis, e.g. RECIPE_E2E_TEST_REDIS_ADDR=localhost:6379.
func TestPublisherAgainstRedis(t *testing.T) {
	addr := os.Getenv("RECIPE_E2E_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RECIPE_E2E_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	p, err := NewPublisher(ctx, Config{
		Addr:     addr,
		Channel:  "recipe-e2e-test:results:" + suffix,
		ListKey:  "recipe-e2e-test:latest:" + suffix,
		ListSize: 2,
	}, metrics)
	require.NoError(t, err)
	defer p.Close()
	defer p.client.Del(context.Background(), p.listKey)

	messages, err := p.Subscribe(ctx)
	require.NoError(t, err)

	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, p.Observe(ctx, sample(id)))
	}

	t.Run("subscribers receive results", func(t *testing.T) {
		select {
		case m := <-messages:
			assert.Equal(t, "r1", m.RunID)
		case <-ctx.Done():
			t.Fatal("no message received")
		}
	})

	t.Run("latest list is capped and newest first", func(t *testing.T) {
		latest, err := p.Latest(ctx, 10)
		require.NoError(t, err)
		require.Len(t, latest, 2)
		assert.Equal(t, "r3", latest[0].RunID)
		assert.Equal(t, "r2", latest[1].RunID)
	})

	t.Run("metrics count publications", func(t *testing.T) {
		assert.Equal(t, 3.0, testutil.ToFloat64(metrics.published))
		assert.Zero(t, testutil.ToFloat64(metrics.errors))
	})
}
