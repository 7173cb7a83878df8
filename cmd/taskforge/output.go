package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/orchestrator"
	"github.com/aristath/taskforge/internal/scheduler"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// printStatus prints a status line with a coloured symbol.
func printStatus(w io.Writer, symbol, message string, attr color.Attribute) {
	fmt.Fprintf(w, "%s %s\n", color.New(attr).Sprint(symbol), message)
}

// progressPrinter writes one line per task transition for non-TUI runs.
type progressPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

// Handle implements events.Handler.
func (p *progressPrinter) Handle(event events.Event) {
	line := p.format(event)
	if line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

func (p *progressPrinter) format(event events.Event) string {
	switch e := event.(type) {
	case events.TaskStartedEvent:
		attempt := ""
		if e.Attempt > 1 {
			attempt = fmt.Sprintf(" (attempt %d)", e.Attempt)
		}
		return fmt.Sprintf("%s #%d %s: %s%s", cyan("▶"), e.Index, e.AgentType, firstLine(e.Description), attempt)
	case events.TaskCompletedEvent:
		return fmt.Sprintf("%s #%d done in %s", green("✓"), e.Index, e.Duration.Round(time.Millisecond))
	case events.TaskFailedEvent:
		if e.WillRetry {
			return fmt.Sprintf("%s #%d failed, retrying: %s", yellow("↻"), e.Index, e.Err)
		}
		return fmt.Sprintf("%s #%d failed: %s", red("✗"), e.Index, e.Err)
	case events.TaskBlockedEvent:
		if e.Dependency < 0 {
			return fmt.Sprintf("%s #%d never became ready", red("⊘"), e.Index)
		}
		return fmt.Sprintf("%s #%d blocked by failed task #%d", red("⊘"), e.Index, e.Dependency)
	case events.ToolExecutedEvent:
		if e.OK {
			return faint(fmt.Sprintf("  #%d %s", e.Index, e.Tool))
		}
		return fmt.Sprintf("  %s #%d %s: %s", yellow("!"), e.Index, e.Tool, e.Error)
	default:
		return ""
	}
}

// printSummary prints the run outcome and every task's result.
func printSummary(w io.Writer, summary orchestrator.Summary, tasks []*scheduler.Task) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s\n", bold("Run"), summary.RunID)
	for _, task := range tasks {
		switch task.Status {
		case scheduler.TaskDone:
			printStatus(w, "✓", fmt.Sprintf("#%d %s: %s", task.Index, task.AgentType, firstLine(task.Result)), color.FgGreen)
		case scheduler.TaskFailed:
			printStatus(w, "✗", fmt.Sprintf("#%d %s: %s", task.Index, task.AgentType, firstLine(task.Error)), color.FgRed)
		default:
			printStatus(w, "○", fmt.Sprintf("#%d %s: %s", task.Index, task.AgentType, task.Status), color.FgYellow)
		}
	}

	result := green(fmt.Sprintf("%d done", summary.Done))
	if summary.Failed > 0 {
		result += ", " + red(fmt.Sprintf("%d failed", summary.Failed))
	}
	fmt.Fprintf(w, "\n%s of %d tasks in %s (%d input, %d output tokens)\n",
		result, summary.Total, summary.Duration.Round(time.Millisecond),
		summary.Usage.InputTokens, summary.Usage.OutputTokens)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " …"
	}
	const limit = 100
	if len(s) > limit {
		s = s[:limit] + "…"
	}
	return s
}
