package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aristath/taskforge/internal/agents"
	"github.com/aristath/taskforge/internal/backend"
	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/permission"
	"github.com/aristath/taskforge/internal/prompt"
	"github.com/aristath/taskforge/internal/resilience"
	"github.com/aristath/taskforge/internal/scheduler"
	"github.com/aristath/taskforge/internal/telemetry"
	"github.com/aristath/taskforge/internal/tools"
)

// defaultMaxTurns bounds the tool loop for capabilities that set no limit.
const defaultMaxTurns = 20

// Prompt section priorities. The task itself and the persona always win.
const (
	priorityPersona      = 100
	priorityTask         = 100
	priorityDependencies = 70
	priorityTools        = 60
	priorityWorkDir      = 40
)

// dispatch runs one attempt of task under its capability's timeout.
func (r *Runner) dispatch(ctx context.Context, task *scheduler.Task) outcome {
	start := time.Now()
	out := outcome{task: task}

	ctx, span := otel.Tracer(telemetry.InstrumentationName).Start(ctx, "task.dispatch")
	span.SetAttributes(
		attribute.Int("task.index", task.Index),
		attribute.String("agent.type", task.AgentType),
		attribute.Int("task.attempt", task.RetryCount+1),
	)
	defer span.End()

	capability, err := r.config.Agents.Lookup(task.AgentType)
	if err != nil {
		out.err = &resilience.ValidationError{Msg: err.Error()}
		out.duration = time.Since(start)
		span.SetStatus(codes.Error, out.err.Error())
		return out
	}

	out.timeout = capability.Timeout(task.TimeoutOverride)
	r.publish(events.TopicTask, events.TaskStartedEvent{
		Index:       task.Index,
		AgentType:   task.AgentType,
		Description: task.Description,
		Attempt:     task.RetryCount + 1,
		Timeout:     out.timeout,
		Timestamp:   time.Now(),
	})

	taskCtx := ctx
	cancel := func() {}
	if out.timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, out.timeout)
	}
	defer cancel()

	out.result, out.usage, out.err = r.runAgent(taskCtx, task, capability)
	out.duration = time.Since(start)

	if out.err != nil && ctx.Err() == nil && errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
		out.timedOut = true
		out.err = fmt.Errorf("task %d timed out after %s: %w", task.Index, out.timeout, out.err)
	}
	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
	}
	return out
}

// runAgent drives the backend conversation for one attempt: send the
// assembled prompt, run every requested tool call, and feed the results
// back until the model stops asking for tools.
func (r *Runner) runAgent(ctx context.Context, task *scheduler.Task, capability agents.Capability) (string, backend.Usage, error) {
	var usage backend.Usage
	log := r.log.WithFields(logrus.Fields{"task": task.Index, "agent": task.AgentType})

	defs := r.toolDefinitions(capability)
	cfg := r.backendConfig(task.AgentType)
	cfg.Tools = defs
	if cfg.WorkDir == "" {
		cfg.WorkDir = r.config.WorkDir
	}

	b, err := r.config.BackendFactory(cfg)
	if err != nil {
		return "", usage, &resilience.ValidationError{Msg: fmt.Sprintf("backend %q: %v", cfg.Type, err)}
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.WithError(err).Warn("failed to close backend")
		}
	}()

	breaker := r.config.Breakers.Get(breakerName(cfg))
	toolCtx := tools.Context{
		FS:        r.config.FS,
		WorkDir:   r.config.WorkDir,
		AgentType: task.AgentType,
		TaskIndex: task.Index,
		Spawner:   r,
		Locks:     r.config.Locks,
	}
	opts := tools.Options{Permissions: capability.Permissions, AllowedTools: capability.AllowedTools}

	msg := backend.Message{Content: r.buildPrompt(task, capability, defs)}
	maxTurns := capability.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	for turn := 1; turn <= maxTurns; turn++ {
		resp, err := sendWithRetry(ctx, b, msg, breaker, r.config.Retry)
		if err != nil {
			return "", usage, err
		}
		usage.Add(resp.Usage)

		if resp.Content != "" {
			r.publish(events.TopicTask, events.TaskOutputEvent{Index: task.Index, Line: resp.Content, Timestamp: time.Now()})
		}
		if resp.Done() {
			return resp.Content, usage, nil
		}

		results := make([]backend.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			res := r.executeTool(ctx, call, toolCtx, opts)
			log.WithFields(logrus.Fields{"tool": call.Name, "ok": res.OK, "turn": turn}).Debug("tool call finished")
			results = append(results, backend.ToolResult{CallID: call.ID, Content: res.Text(), IsError: !res.OK})
		}
		msg = backend.Message{ToolResults: results}
	}

	return "", usage, fmt.Errorf("agent %s exceeded %d turns without finishing", task.AgentType, maxTurns)
}

func (r *Runner) executeTool(ctx context.Context, call backend.ToolCall, tctx tools.Context, opts tools.Options) tools.Result {
	if r.config.Executor == nil {
		return tools.Failure(tools.KindToolNotFound, "unknown tool %q", call.Name)
	}
	return r.config.Executor.ExecuteSafe(ctx, call.Name, call.Args, tctx, opts)
}

// toolDefinitions returns the tools the agent may call and holds the
// permission for. Offering the rest would only produce denials.
func (r *Runner) toolDefinitions(capability agents.Capability) []mcp.Tool {
	if r.config.Executor == nil {
		return nil
	}
	var names []string
	for _, tool := range r.config.Executor.Registry().List() {
		name := tool.Definition().Name
		if capability.Allows(name) && permission.HasPermission(capability.Permissions, tool.Permission()) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return r.config.Executor.Registry().Definitions(names)
}

func (r *Runner) backendConfig(agentType string) backend.Config {
	if cfg, ok := r.config.BackendConfigs[agentType]; ok {
		return cfg
	}
	return r.config.BackendConfigs[""]
}

// breakerName keys breakers by upstream, so agents sharing a provider trip
// together.
func breakerName(cfg backend.Config) string {
	if cfg.BaseURL != "" {
		return cfg.Type + "@" + cfg.BaseURL
	}
	return cfg.Type
}

// buildPrompt assembles the first user turn within the token budget.
func (r *Runner) buildPrompt(task *scheduler.Task, capability agents.Capability, defs []mcp.Tool) string {
	a := prompt.New()
	if capability.Persona != "" {
		a.AddWithPriority("Role", capability.Persona, priorityPersona)
	}
	a.AddWithPriority("Task", task.Description, priorityTask)

	if deps := r.dependencyResults(task); deps != "" {
		a.AddWithPriority("Results from earlier tasks", deps, priorityDependencies)
	}

	if len(defs) > 0 {
		var sb strings.Builder
		for _, def := range defs {
			fmt.Fprintf(&sb, "- %s: %s\n", def.Name, def.Description)
		}
		a.AddWithPriority("Available tools", strings.TrimRight(sb.String(), "\n"), priorityTools)
	}

	if r.config.WorkDir != "" {
		a.AddWithPriority("Working directory", r.config.WorkDir, priorityWorkDir)
	}

	text, manifest := a.BuildWithManifest(r.config.TokenBudget)
	if excluded := manifest.Excluded(); len(excluded) > 0 {
		r.log.WithFields(logrus.Fields{
			"task":     task.Index,
			"excluded": excluded,
			"budget":   manifest.Budget,
		}).Warn("prompt sections dropped to fit the token budget")
	}
	return text
}

func (r *Runner) dependencyResults(task *scheduler.Task) string {
	var sb strings.Builder
	for _, dep := range task.DependsOn {
		t, ok := r.manager.Get(dep)
		if !ok || t.Result == "" {
			continue
		}
		fmt.Fprintf(&sb, "Task %d (%s):\n%s\n\n", dep, t.AgentType, t.Result)
	}
	return strings.TrimSpace(sb.String())
}
