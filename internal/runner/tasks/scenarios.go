// Package tasks holds the scheduled tasks of the suite.
package tasks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gotrs-io/recipe-e2e/internal/config"
	"github.com/gotrs-io/recipe-e2e/internal/runner"
	"github.com/gotrs-io/recipe-e2e/internal/scenario"
)

// DefaultScenarioTimeout bounds a scheduled run when the entry sets none.
const DefaultScenarioTimeout = 30 * time.Minute

// Selector picks scenarios by id and tag.
type Selector interface {
	Filter(ids, tags []string) ([]scenario.Scenario, error)
}

// Executor runs a batch of scenarios.
type Executor interface {
	RunAll(ctx context.Context, scenarios []scenario.Scenario) []*scenario.Result
}

// ScenarioTask runs a scenario selection on a cron schedule.
type ScenarioTask struct {
	entry    config.ScheduleEntry
	selector Selector
	executor Executor
	logger   *zap.Logger
}

// NewScenarioTask creates a task for one schedule entry.
func NewScenarioTask(entry config.ScheduleEntry, selector Selector, executor Executor, logger *zap.Logger) runner.Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScenarioTask{
		entry:    entry,
		selector: selector,
		executor: executor,
		logger:   logger.With(zap.String("schedule", entry.Name)),
	}
}

// Name returns the schedule entry name
func (t *ScenarioTask) Name() string { return t.entry.Name }

// Schedule returns the cron spec
func (t *ScenarioTask) Schedule() string { return t.entry.Spec }

// Timeout returns the entry timeout or DefaultScenarioTimeout
func (t *ScenarioTask) Timeout() time.Duration {
	if t.entry.Timeout > 0 {
		return t.entry.Timeout
	}
	return DefaultScenarioTimeout
}

// Run executes the selected scenarios and fails when any of them did not pass.
func (t *ScenarioTask) Run(ctx context.Context) error {
	selected, err := t.selector.Filter(t.entry.Scenarios, t.entry.Tags)
	if err != nil {
		return fmt.Errorf("failed to select scenarios: %w", err)
	}
	if len(selected) == 0 {
		return fmt.Errorf("schedule %s selects no scenarios", t.entry.Name)
	}

	results := t.executor.RunAll(ctx, selected)
	sum := scenario.Summarize(results)
	t.logger.Info("scheduled run finished",
		zap.Int("total", sum.Total),
		zap.Int("passed", sum.Passed),
		zap.Int("failed", sum.Failed),
		zap.Int("errors", sum.Errors))

	if !sum.OK() {
		return fmt.Errorf("%d of %d scenarios did not pass", sum.Total-sum.Passed, sum.Total)
	}
	return nil
}

// Register adds one ScenarioTask per schedule entry.
func Register(reg *runner.TaskRegistry, entries []config.ScheduleEntry, selector Selector, executor Executor, logger *zap.Logger) error {
	for _, e := range entries {
		if err := reg.Register(NewScenarioTask(e, selector, executor, logger)); err != nil {
			return err
		}
	}
	return nil
}
