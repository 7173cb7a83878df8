package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	// TaskIndex returns the task the event belongs to, or -1.
	TaskIndex() int
}

// Topic constants
const (
	TopicTask = "task"
	TopicRun  = "run"
	TopicTool = "tool"
)

// Event type constants
const (
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskOutput    = "task.output"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskRetried   = "task.retried"
	EventTypeTaskBlocked   = "task.blocked"
	EventTypeRunProgress   = "run.progress"
	EventTypeRunFinished   = "run.finished"
	EventTypeToolExecuted  = "tool.executed"
)

// TaskStartedEvent is published when a task is claimed and dispatched.
type TaskStartedEvent struct {
	Index       int
	AgentType   string
	Description string
	Attempt     int // 1 for the first run, 2 for the retry
	Timeout     time.Duration
	Timestamp   time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskIndex() int    { return e.Index }

// TaskOutputEvent carries assistant text produced while a task runs.
type TaskOutputEvent struct {
	Index     int
	Line      string
	Timestamp time.Time
}

func (e TaskOutputEvent) EventType() string { return EventTypeTaskOutput }
func (e TaskOutputEvent) TaskIndex() int    { return e.Index }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	Index        int
	Result       string
	Duration     time.Duration
	InputTokens  int
	OutputTokens int
	Timestamp    time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskIndex() int    { return e.Index }

// TaskFailedEvent is published when a task attempt fails.
type TaskFailedEvent struct {
	Index     int
	Err       string
	Permanent bool
	WillRetry bool
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskIndex() int    { return e.Index }

// TaskRetriedEvent is published when a failed task goes back to pending.
type TaskRetriedEvent struct {
	Index     int
	Timeout   time.Duration
	Timestamp time.Time
}

func (e TaskRetriedEvent) EventType() string { return EventTypeTaskRetried }
func (e TaskRetriedEvent) TaskIndex() int    { return e.Index }

// TaskBlockedEvent is published when a task is failed because a dependency
// failed for good.
type TaskBlockedEvent struct {
	Index      int
	Dependency int
	Timestamp  time.Time
}

func (e TaskBlockedEvent) EventType() string { return EventTypeTaskBlocked }
func (e TaskBlockedEvent) TaskIndex() int    { return e.Index }

// RunProgressEvent is published whenever task counts change.
type RunProgressEvent struct {
	Total      int
	Done       int
	InProgress int
	Failed     int
	Pending    int
	Timestamp  time.Time
}

func (e RunProgressEvent) EventType() string { return EventTypeRunProgress }
func (e RunProgressEvent) TaskIndex() int    { return -1 }

// RunFinishedEvent is published once every task is terminal.
type RunFinishedEvent struct {
	RunID     string
	Done      int
	Failed    int
	Duration  time.Duration
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) TaskIndex() int    { return -1 }

// ToolExecutedEvent is published for every tool call, allowed or not.
type ToolExecutedEvent struct {
	Index      int
	Tool       string
	AgentType  string
	Permission string
	OK         bool
	Kind       string // Error kind when !OK
	Error      string
	Duration   time.Duration
	Timestamp  time.Time
}

func (e ToolExecutedEvent) EventType() string { return EventTypeToolExecuted }
func (e ToolExecutedEvent) TaskIndex() int    { return e.Index }
