package scheduler

import (
	"errors"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus int

const (
	TaskPending    TaskStatus = iota // Waiting for dependencies or a worker
	TaskInProgress                   // Claimed by a worker
	TaskDone                         // Finished successfully
	TaskFailed                       // Finished with error
)

// String returns the wire name of the status.
func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskInProgress:
		return "in_progress"
	case TaskDone:
		return "done"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is done or failed.
func (s TaskStatus) Terminal() bool {
	return s == TaskDone || s == TaskFailed
}

// MaxRetries is the number of retries a single task is allowed.
const MaxRetries = 1

var (
	ErrTaskNotFound        = errors.New("task not found")
	ErrInvalidDependency   = errors.New("invalid dependency")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrRetryRefused        = errors.New("task retry refused")
	ErrBlockedByDependency = errors.New("blocked by failed dependency")
)

// Task is a unit of agent work in the dependency graph.
type Task struct {
	Index           int           // Declaration order, also the task's identity
	AgentType       string        // Key into the agent capability table
	Description     string        // Instruction for the agent
	DependsOn       []int         // Indices of earlier tasks that must be done first
	Status          TaskStatus
	Result          string        // Output of a successful run
	Error           string        // Error message of the last failed run
	RetryCount      int
	TimeoutOverride time.Duration // Zero when the agent default applies
}

// Outcome returns the stored error for failed tasks and the result otherwise.
func (t *Task) Outcome() string {
	if t.Status == TaskFailed {
		return t.Error
	}
	return t.Result
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.DependsOn != nil {
		cp.DependsOn = append([]int(nil), task.DependsOn...)
	}
	return &cp
}
