package runner

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Task is a unit of scheduled work.
type Task interface {
	Name() string
	// Schedule is a cron expression; descriptors such as @daily are accepted.
	Schedule() string
	Run(ctx context.Context) error
	// Timeout bounds a single Run.
	Timeout() time.Duration
}

// TaskRegistry keeps tasks by unique name in registration order.
type TaskRegistry struct {
	mu    sync.RWMutex
	order []string
	tasks map[string]Task
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]Task)}
}

// Register adds task. A second task with the same name is rejected.
func (r *TaskRegistry) Register(task Task) error {
	name := task.Name()
	if name == "" {
		return fmt.Errorf("task has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tasks[name]; dup {
		return fmt.Errorf("task %s already registered", name)
	}
	r.tasks[name] = task
	r.order = append(r.order, name)
	return nil
}

func (r *TaskRegistry) Get(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[name]
	return task, ok
}

// Len reports the number of registered tasks.
func (r *TaskRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Names returns task names in registration order.
func (r *TaskRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
