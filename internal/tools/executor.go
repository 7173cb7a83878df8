package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/permission"
	"github.com/aristath/taskforge/internal/telemetry"
)

// Executor runs tool calls on behalf of agents.
type Executor struct {
	registry *Registry
	gate     *permission.Gate
	tracer   trace.Tracer
	bus      *events.EventBus
	log      *logrus.Entry
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTracer overrides the global taskforge tracer.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// WithEventBus publishes a ToolExecutedEvent for every call.
func WithEventBus(bus *events.EventBus) ExecutorOption {
	return func(e *Executor) { e.bus = bus }
}

// NewExecutor creates an executor over registry. gate may be nil, in which
// case only the static permission check applies.
func NewExecutor(registry *Registry, gate *permission.Gate, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		gate:     gate,
		tracer:   telemetry.Tracer(),
		log:      logrus.WithField("component", "tools"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the executor's tool registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// ExecuteSafe runs the named tool and never returns an error or panics:
// every failure is reported in the Result. The tool body only runs after the
// name resolves, the agent holds the tool's permission, the arguments match
// the schema and, for non-read tools, the gate grants the request.
func (e *Executor) ExecuteSafe(ctx context.Context, name string, args map[string]any, tctx Context, opts Options) Result {
	start := time.Now()
	var perm permission.Permission

	result := func() Result {
		tool, ok := e.registry.Get(name)
		if !ok {
			return Failure(KindToolNotFound, "unknown tool %q", name)
		}
		perm = tool.Permission()

		if !opts.allows(name) {
			return Failure(KindPermissionDenied, "permission denied: tool %s is not available to agent %s", name, tctx.AgentType)
		}
		if !permission.HasPermission(opts.Permissions, perm) {
			return Failure(KindPermissionDenied, "permission denied: agent %s lacks %s permission for %s", tctx.AgentType, perm, name)
		}

		if args == nil {
			args = map[string]any{}
		}
		if err := ValidateArgs(tool.Definition(), args); err != nil {
			return Failure(KindValidation, "invalid arguments for %s: %v", name, err)
		}

		if perm != permission.Read && e.gate != nil {
			decision := e.gate.RequestPermission(ctx, name, perm, describeCall(name, args))
			if !decision.Granted {
				return Failure(KindPermissionDenied, "permission denied: %s", decision.Reason)
			}
		}

		return e.run(ctx, tool, perm, args, tctx)
	}()

	e.publish(name, perm, tctx, result, time.Since(start))
	return result
}

// run executes the tool body inside a span.
func (e *Executor) run(ctx context.Context, tool Tool, perm permission.Permission, args map[string]any, tctx Context) (result Result) {
	name := tool.Definition().Name
	ctx, span := e.tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("tool.name", name),
		attribute.String("tool.permission", string(perm)),
		attribute.String("agent.type", tctx.AgentType),
		attribute.Int("task.index", tctx.TaskIndex),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("tool %s panicked: %v", name, r)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			result = Failure(KindExecution, "%v", err)
		}
	}()

	output, err := tool.Execute(ctx, args, tctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Failure(KindExecution, "%s failed: %v", name, err)
	}

	text, err := encodeOutput(output)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Failure(KindExecution, "%s returned unencodable output: %v", name, err)
	}

	span.SetStatus(codes.Ok, "")
	return Success(text)
}

func encodeOutput(output any) (string, error) {
	if s, ok := output.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(output)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func describeCall(name string, args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return name
	}
	desc := fmt.Sprintf("%s %s", name, data)
	if len(desc) > 300 {
		desc = desc[:300] + "..."
	}
	return desc
}

func (e *Executor) publish(name string, perm permission.Permission, tctx Context, result Result, elapsed time.Duration) {
	entry := e.log.WithFields(logrus.Fields{
		"tool":  name,
		"agent": tctx.AgentType,
		"task":  tctx.TaskIndex,
	})
	if result.OK {
		entry.Debug("tool executed")
	} else {
		entry.WithField("kind", string(result.Kind)).Info(result.Error)
	}

	if e.bus == nil {
		return
	}
	e.bus.Publish(events.TopicTool, events.ToolExecutedEvent{
		Index:      tctx.TaskIndex,
		Tool:       name,
		AgentType:  tctx.AgentType,
		Permission: string(perm),
		OK:         result.OK,
		Kind:       string(result.Kind),
		Error:      result.Error,
		Duration:   elapsed,
		Timestamp:  time.Now(),
	})
}
