// Package orchestrator drives a scheduler to completion: it claims ready
// tasks, dispatches each to an agent backend, and writes outcomes back.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskforge/internal/agents"
	"github.com/aristath/taskforge/internal/backend"
	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/process"
	"github.com/aristath/taskforge/internal/resilience"
	"github.com/aristath/taskforge/internal/scheduler"
	"github.com/aristath/taskforge/internal/tools"
)

// BackendFactory creates the backend for one task attempt.
type BackendFactory func(cfg backend.Config) (backend.Backend, error)

// RunnerConfig configures the runner.
type RunnerConfig struct {
	RunID            string // Optional; generated when empty
	ConcurrencyLimit int    // Max concurrent tasks (default 4)
	TokenBudget      int    // Prompt hard cap in estimated tokens (default 8000)
	Retry            resilience.Policy

	Agents   *agents.Registry
	Executor *tools.Executor
	Breakers *resilience.BreakerRegistry

	// BackendConfigs maps agent type to backend config; the "" entry is
	// the fallback for types without their own.
	BackendConfigs map[string]backend.Config
	BackendFactory BackendFactory // Optional; defaults to backend.New

	FS        tools.FileSystem
	WorkDir   string
	Locks     *tools.PathLocker
	Processes *process.Manager // Killed when the run is cancelled
	EventBus  *events.EventBus // Optional
}

// Summary describes a finished run.
type Summary struct {
	RunID    string
	Total    int
	Done     int
	Failed   int
	Duration time.Duration
	Usage    backend.Usage
}

// Runner executes scheduler tasks concurrently until every task is terminal.
type Runner struct {
	config  RunnerConfig
	manager *scheduler.Manager
	log     *logrus.Entry

	// wake is signalled when spawn_task adds work mid-run.
	wake chan struct{}

	mu    sync.Mutex
	usage backend.Usage
}

// NewRunner creates a runner over manager.
func NewRunner(cfg RunnerConfig, manager *scheduler.Manager) *Runner {
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = 4
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 8000
	}
	if cfg.Agents == nil {
		cfg.Agents = agents.NewRegistry()
	}
	if cfg.Breakers == nil {
		cfg.Breakers = resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig())
	}
	if cfg.Locks == nil {
		cfg.Locks = tools.NewPathLocker()
	}
	if cfg.BackendFactory == nil {
		procs := cfg.Processes
		cfg.BackendFactory = func(bc backend.Config) (backend.Backend, error) {
			return backend.New(bc, procs)
		}
	}

	return &Runner{
		config:  cfg,
		manager: manager,
		log:     logrus.WithField("component", "runner"),
		wake:    make(chan struct{}, 1),
	}
}

// outcome is what a dispatched attempt reports back to the run loop.
type outcome struct {
	task     *scheduler.Task
	result   string
	err      error
	timedOut bool // The task's own deadline fired, not the run's
	timeout  time.Duration
	duration time.Duration
	usage    backend.Usage
}

// Run dispatches ready tasks until the scheduler is complete. Task failures
// are recorded in the scheduler, not returned; Run only returns an error
// when ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	runID := r.config.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := r.log.WithField("run", runID)
	log.WithField("tasks", r.manager.Len()).Info("run started")

	if _, err := r.manager.Validate(); err != nil {
		return Summary{RunID: runID}, fmt.Errorf("invalid task graph: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make(chan outcome)
	inflight := 0

	for {
		// ClaimReady treats n <= 0 as unlimited, so a saturated runner must not call it.
		if n := r.config.ConcurrencyLimit - inflight; ctx.Err() == nil && n > 0 {
			for _, task := range r.manager.ClaimReady(n) {
				inflight++
				task := task
				g.Go(func() error {
					results <- r.dispatch(gctx, task)
					return nil
				})
			}
		}

		if inflight == 0 {
			break
		}

		select {
		case out := <-results:
			inflight--
			r.settle(ctx, out)
		case <-r.wake:
		case <-ctx.Done():
			if r.config.Processes != nil {
				if err := r.config.Processes.KillAll(); err != nil {
					log.WithError(err).Warn("failed to kill subprocesses")
				}
			}
			// Keep draining; dispatches observe the cancelled context.
			out := <-results
			inflight--
			r.settle(ctx, out)
		}
	}
	_ = g.Wait()

	if ctx.Err() == nil && !r.manager.IsComplete() {
		r.failStalled()
	}

	counts := r.manager.Counts()
	summary := Summary{
		RunID:    runID,
		Total:    counts.Total,
		Done:     counts.Done,
		Failed:   counts.Failed,
		Duration: time.Since(start),
		Usage:    r.Usage(),
	}

	r.publish(events.TopicRun, events.RunFinishedEvent{
		RunID:     runID,
		Done:      summary.Done,
		Failed:    summary.Failed,
		Duration:  summary.Duration,
		Timestamp: time.Now(),
	})
	log.WithFields(logrus.Fields{
		"done":     summary.Done,
		"failed":   summary.Failed,
		"duration": summary.Duration.Round(time.Millisecond),
	}).Info("run finished")

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// settle writes an attempt's outcome back to the scheduler: completion, a
// single retry with a relaxed timeout, or a final failure that cascades to
// dependents.
func (r *Runner) settle(ctx context.Context, out outcome) {
	r.addUsage(out.usage)
	index := out.task.Index
	log := r.log.WithFields(logrus.Fields{"task": index, "agent": out.task.AgentType})

	if out.err == nil {
		if err := r.manager.MarkCompleted(index, out.result); err != nil {
			log.WithError(err).Error("failed to mark task completed")
		}
		log.WithField("duration", out.duration.Round(time.Millisecond)).Info("task completed")
		r.publish(events.TopicTask, events.TaskCompletedEvent{
			Index:        index,
			Result:       out.result,
			Duration:     out.duration,
			InputTokens:  int(out.usage.InputTokens),
			OutputTokens: int(out.usage.OutputTokens),
			Timestamp:    time.Now(),
		})
		r.publishProgress()
		return
	}

	errMsg := out.err.Error()
	if err := r.manager.MarkFailed(index, errMsg); err != nil {
		log.WithError(err).Error("failed to mark task failed")
	}

	permanent := ctx.Err() != nil || (!out.timedOut && resilience.Classify(out.err) == resilience.Permanent)
	if !permanent {
		if capability, err := r.config.Agents.Lookup(out.task.AgentType); err == nil {
			relaxed := capability.RetryTimeout(out.timeout)
			if r.manager.MarkForRetry(index, relaxed) {
				log.WithError(out.err).WithField("timeout", relaxed).Warn("task failed, retrying")
				r.publish(events.TopicTask, events.TaskFailedEvent{
					Index: index, Err: errMsg, WillRetry: true, Duration: out.duration, Timestamp: time.Now(),
				})
				r.publish(events.TopicTask, events.TaskRetriedEvent{Index: index, Timeout: relaxed, Timestamp: time.Now()})
				r.publishProgress()
				return
			}
		}
	}

	log.WithError(out.err).WithField("permanent", permanent).Error("task failed")
	r.publish(events.TopicTask, events.TaskFailedEvent{
		Index: index, Err: errMsg, Permanent: permanent, Duration: out.duration, Timestamp: time.Now(),
	})
	for _, blocked := range r.manager.CascadeFailure(index, errMsg) {
		log.WithField("blocked", blocked).Warn("dependent task blocked")
		r.publish(events.TopicTask, events.TaskBlockedEvent{Index: blocked, Dependency: index, Timestamp: time.Now()})
	}
	r.publishProgress()
}

// failStalled fails tasks left pending with nothing running. CascadeFailure
// normally prevents this; it guards against a dependency that was failed
// outside the run loop.
func (r *Runner) failStalled() {
	for _, task := range r.manager.Tasks() {
		if task.Status != scheduler.TaskPending {
			continue
		}
		if err := r.manager.MarkFailed(task.Index, "stalled: dependencies can never complete"); err == nil {
			r.log.WithField("task", task.Index).Warn("task stalled")
			r.publish(events.TopicTask, events.TaskBlockedEvent{Index: task.Index, Dependency: -1, Timestamp: time.Now()})
		}
	}
	r.publishProgress()
}

// Spawn queues a follow-up task. It implements tools.Spawner.
func (r *Runner) Spawn(agentType, description string, dependsOn []int) (int, error) {
	if _, err := r.config.Agents.Lookup(agentType); err != nil {
		return -1, err
	}
	if description == "" {
		return -1, errors.New("description must not be empty")
	}

	index, err := r.manager.AddTask(agentType, description, dependsOn...)
	if err != nil {
		return -1, err
	}
	r.log.WithFields(logrus.Fields{"task": index, "agent": agentType}).Info("task spawned")
	r.publishProgress()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return index, nil
}

// Usage returns the tokens reported by every backend call so far.
func (r *Runner) Usage() backend.Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage
}

func (r *Runner) addUsage(u backend.Usage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage.Add(u)
}

func (r *Runner) publishProgress() {
	c := r.manager.Counts()
	r.publish(events.TopicRun, events.RunProgressEvent{
		Total:      c.Total,
		Done:       c.Done,
		InProgress: c.InProgress,
		Failed:     c.Failed,
		Pending:    c.Pending,
		Timestamp:  time.Now(),
	})
}

func (r *Runner) publish(topic string, event events.Event) {
	if r.config.EventBus != nil {
		r.config.EventBus.Publish(topic, event)
	}
}
