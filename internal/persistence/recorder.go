package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/scheduler"
)

// Recorder writes one run's events to a Store: a task snapshot and a
// transition row per task event, an audit row per tool call.
type Recorder struct {
	store   Store
	manager *scheduler.Manager
	runID   string
	log     *logrus.Entry
}

// NewRecorder creates a recorder for runID over manager's tasks.
func NewRecorder(store Store, manager *scheduler.Manager, runID string) *Recorder {
	return &Recorder{
		store:   store,
		manager: manager,
		runID:   runID,
		log:     logrus.WithFields(logrus.Fields{"component": "recorder", "run": runID}),
	}
}

// Start records the run and the initial snapshot of every task.
func (r *Recorder) Start(ctx context.Context) error {
	if err := r.store.CreateRun(ctx, r.runID, time.Now()); err != nil {
		return err
	}
	for _, task := range r.manager.Tasks() {
		if err := r.store.SaveTask(ctx, r.runID, task); err != nil {
			return err
		}
	}
	return nil
}

// Attach subscribes the recorder to every topic on bus.
func (r *Recorder) Attach(bus *events.EventBus) {
	bus.SubscribeFunc(events.AllTopics, r.Handle)
}

// Handle records a single event. Store errors are logged, never returned:
// history must not fail the run.
func (r *Recorder) Handle(event events.Event) {
	ctx := context.Background()

	switch e := event.(type) {
	case events.ToolExecutedEvent:
		err := r.store.RecordToolCall(ctx, r.runID, ToolCall{
			TaskIndex:  e.Index,
			Tool:       e.Tool,
			AgentType:  e.AgentType,
			Permission: e.Permission,
			OK:         e.OK,
			Kind:       e.Kind,
			Error:      e.Error,
			Duration:   e.Duration,
			At:         e.Timestamp,
		})
		if err != nil {
			r.log.WithError(err).WithField("tool", e.Tool).Warn("failed to record tool call")
		}

	case events.RunFinishedEvent:
		if e.RunID != "" && e.RunID != r.runID {
			return
		}
		// Spawned tasks may never have produced a task event.
		for _, task := range r.manager.Tasks() {
			if err := r.store.SaveTask(ctx, r.runID, task); err != nil {
				r.log.WithError(err).WithField("task", task.Index).Warn("failed to save task snapshot")
			}
		}
		if err := r.store.FinishRun(ctx, r.runID, e.Done, e.Failed, e.Duration); err != nil {
			r.log.WithError(err).Warn("failed to finish run")
		}

	case events.TaskStartedEvent, events.TaskCompletedEvent, events.TaskFailedEvent,
		events.TaskRetriedEvent, events.TaskBlockedEvent:
		r.snapshot(ctx, event)
	}
}

func (r *Recorder) snapshot(ctx context.Context, event events.Event) {
	index := event.TaskIndex()
	log := r.log.WithFields(logrus.Fields{"task": index, "event": event.EventType()})

	task, ok := r.manager.Get(index)
	if !ok {
		log.Warn("event for unknown task")
		return
	}
	if err := r.store.SaveTask(ctx, r.runID, task); err != nil {
		log.WithError(err).Warn("failed to save task snapshot")
		return
	}
	err := r.store.RecordTransition(ctx, r.runID, index, Transition{
		Event:  event.EventType(),
		Status: task.Status,
		Detail: describe(event),
		At:     time.Now(),
	})
	if err != nil {
		log.WithError(err).Warn("failed to record transition")
	}
}

func describe(event events.Event) string {
	switch e := event.(type) {
	case events.TaskStartedEvent:
		return fmt.Sprintf("attempt %d, timeout %s", e.Attempt, e.Timeout)
	case events.TaskCompletedEvent:
		return fmt.Sprintf("completed in %s (%d in, %d out tokens)", e.Duration.Round(time.Millisecond), e.InputTokens, e.OutputTokens)
	case events.TaskFailedEvent:
		switch {
		case e.WillRetry:
			return "will retry: " + e.Err
		case e.Permanent:
			return "permanent: " + e.Err
		default:
			return e.Err
		}
	case events.TaskRetriedEvent:
		return fmt.Sprintf("retry with timeout %s", e.Timeout)
	case events.TaskBlockedEvent:
		if e.Dependency < 0 {
			return "stalled"
		}
		return fmt.Sprintf("blocked by task %d", e.Dependency)
	default:
		return ""
	}
}
