package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gotrs-io/recipe-e2e/internal/runner"
)

// Pruner deletes history older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// HistoryRetentionTask removes runs older than the retention period once a day.
type HistoryRetentionTask struct {
	pruner    Pruner
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewHistoryRetentionTask creates the retention task.
func NewHistoryRetentionTask(pruner Pruner, retention time.Duration, logger *zap.Logger) runner.Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryRetentionTask{pruner: pruner, retention: retention, logger: logger, now: time.Now}
}

// Name returns the task name
func (t *HistoryRetentionTask) Name() string { return "history-retention" }

// Schedule runs the task daily
func (t *HistoryRetentionTask) Schedule() string { return "@daily" }

// Timeout returns the maximum time this task should run
func (t *HistoryRetentionTask) Timeout() time.Duration { return 5 * time.Minute }

// Run prunes expired runs
func (t *HistoryRetentionTask) Run(ctx context.Context) error {
	cutoff := t.now().Add(-t.retention)
	n, err := t.pruner.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	t.logger.Info("pruned run history", zap.Int64("runs", n), zap.Time("cutoff", cutoff))
	return nil
}
