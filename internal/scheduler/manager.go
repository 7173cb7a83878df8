package scheduler

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gammazero/toposort"
)

// Manager owns the dependency graph of declared tasks.
// All transitions happen under mu, so claiming a ready task and flipping it
// to in_progress is a single atomic step even with parallel workers.
type Manager struct {
	mu    sync.RWMutex
	tasks []*Task
}

// NewManager creates an empty task manager.
func NewManager() *Manager {
	return &Manager{}
}

// AddTask appends a pending task and returns its index.
// Every dependency must reference a previously declared task.
func (m *Manager) AddTask(agentType, description string, dependsOn ...int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := len(m.tasks)
	for _, dep := range dependsOn {
		if dep < 0 || dep >= index {
			return -1, fmt.Errorf("%w: task %d depends on %d", ErrInvalidDependency, index, dep)
		}
	}

	m.tasks = append(m.tasks, &Task{
		Index:       index,
		AgentType:   agentType,
		Description: description,
		DependsOn:   append([]int{}, dependsOn...),
		Status:      TaskPending,
	})
	return index, nil
}

// ReadyTasks returns every pending task whose dependencies are all done,
// in declaration order.
func (m *Manager) ReadyTasks() []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ready := []*Task{}
	for _, task := range m.tasks {
		if m.isReady(task) {
			ready = append(ready, cloneTask(task))
		}
	}
	return ready
}

// ClaimReady selects ready tasks like ReadyTasks and marks each one
// in_progress before returning it. max <= 0 claims every ready task.
func (m *Manager) ClaimReady(max int) []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	claimed := []*Task{}
	for _, task := range m.tasks {
		if max > 0 && len(claimed) >= max {
			break
		}
		if !m.isReady(task) {
			continue
		}
		task.Status = TaskInProgress
		claimed = append(claimed, cloneTask(task))
	}
	return claimed
}

// isReady must be called with mu held.
func (m *Manager) isReady(task *Task) bool {
	if task.Status != TaskPending {
		return false
	}
	for _, dep := range task.DependsOn {
		if m.tasks[dep].Status != TaskDone {
			return false
		}
	}
	return true
}

// MarkInProgress claims a single pending task.
func (m *Manager) MarkInProgress(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, err := m.lookup(index)
	if err != nil {
		return err
	}
	if task.Status != TaskPending {
		return fmt.Errorf("%w: task %d is %s", ErrInvalidTransition, index, task.Status)
	}
	task.Status = TaskInProgress
	return nil
}

// MarkCompleted sets the task to done and stores its result.
// The task must be pending or in_progress.
func (m *Manager) MarkCompleted(index int, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, err := m.lookup(index)
	if err != nil {
		return err
	}
	if task.Status != TaskPending && task.Status != TaskInProgress {
		return fmt.Errorf("%w: cannot complete task %d in state %s", ErrInvalidTransition, index, task.Status)
	}

	task.Status = TaskDone
	task.Result = result
	task.Error = ""
	return nil
}

// MarkFailed sets the task to failed and stores the error message.
func (m *Manager) MarkFailed(index int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, err := m.lookup(index)
	if err != nil {
		return err
	}

	task.Status = TaskFailed
	task.Error = errMsg
	return nil
}

// MarkForRetry moves a failed task back to pending, at most once per task.
// A positive timeoutOverride is stored for the next attempt.
// Returns false for an invalid index, a task that is not failed, or a task
// that already used its retry.
func (m *Manager) MarkForRetry(index int, timeoutOverride time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, err := m.lookup(index)
	if err != nil {
		return false
	}
	if task.Status != TaskFailed || task.RetryCount >= MaxRetries {
		return false
	}

	task.Status = TaskPending
	task.RetryCount++
	task.Result = ""
	task.Error = ""
	if timeoutOverride > 0 {
		task.TimeoutOverride = timeoutOverride
	}
	return true
}

// CascadeFailure fails every pending task that transitively depends on
// index. It is used once the orchestrator gives up on a failed task, so its
// dependents do not linger pending forever. Returns the failed indices.
func (m *Manager) CascadeFailure(index int, reason string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.lookup(index); err != nil {
		return nil
	}

	blocked := map[int]bool{index: true}
	var failed []int
	// Dependencies always point backwards, so one forward pass reaches every
	// transitive dependent.
	for i := index + 1; i < len(m.tasks); i++ {
		task := m.tasks[i]
		for _, dep := range task.DependsOn {
			if !blocked[dep] {
				continue
			}
			blocked[i] = true
			if task.Status == TaskPending {
				task.Status = TaskFailed
				task.Error = fmt.Sprintf("%v: task %d: %s", ErrBlockedByDependency, dep, reason)
				failed = append(failed, i)
			}
			break
		}
	}
	return failed
}

// IsComplete reports whether every task is done or failed.
func (m *Manager) IsComplete() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, task := range m.tasks {
		if !task.Status.Terminal() {
			return false
		}
	}
	return true
}

// Clear discards all tasks.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = nil
}

// Get returns a copy of the task at index.
func (m *Manager) Get(index int) (*Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, err := m.lookup(index)
	if err != nil {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns copies of all tasks in declaration order.
func (m *Manager) Tasks() []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		tasks = append(tasks, cloneTask(task))
	}
	return tasks
}

// Len returns the number of declared tasks.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

// Counts summarizes tasks by status.
type Counts struct {
	Total      int
	Pending    int
	InProgress int
	Done       int
	Failed     int
}

// Counts returns the current status breakdown.
func (m *Manager) Counts() Counts {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := Counts{Total: len(m.tasks)}
	for _, task := range m.tasks {
		switch task.Status {
		case TaskPending:
			c.Pending++
		case TaskInProgress:
			c.InProgress++
		case TaskDone:
			c.Done++
		case TaskFailed:
			c.Failed++
		}
	}
	return c
}

// Validate checks the graph with a topological sort and returns the task
// indices in a valid execution order.
func (m *Manager) Validate() ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	edges := make([]toposort.Edge, 0, len(m.tasks))
	for _, task := range m.tasks {
		if len(task.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, task.Index})
			continue
		}
		for _, dep := range task.DependsOn {
			if dep < 0 || dep >= len(m.tasks) {
				return nil, fmt.Errorf("%w: task %d depends on %d", ErrInvalidDependency, task.Index, dep)
			}
			edges = append(edges, toposort.Edge{dep, task.Index})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("task graph contains cycle: %w", err)
	}

	order := make([]int, 0, len(m.tasks))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(int))
		}
	}
	if len(order) != len(m.tasks) {
		return nil, fmt.Errorf("topological sort lost %d tasks", len(m.tasks)-len(order))
	}
	return order, nil
}

func (m *Manager) lookup(index int) (*Task, error) {
	if index < 0 || index >= len(m.tasks) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, strconv.Itoa(index))
	}
	return m.tasks[index], nil
}
