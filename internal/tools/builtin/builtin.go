// Package builtin provides the stock tools agents work with: file access,
// shell commands, follow-up task spawning and web fetching.
package builtin

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/taskforge/internal/process"
	"github.com/aristath/taskforge/internal/tools"
)

// Tool names.
const (
	ReadFile   = "read_file"
	ListDir    = "list_dir"
	FindFiles  = "find_files"
	WriteFile  = "write_file"
	EditFile   = "edit_file"
	RunCommand = "run_command"
	SpawnTask  = "spawn_task"
	WebFetch   = "web_fetch"
)

var (
	errNoFS      = errors.New("no filesystem available to this task")
	errNoSpawner = errors.New("task spawning is not available here")
)

// Config wires the builtin tools to shared infrastructure.
type Config struct {
	Processes      *process.Manager // Tracks run_command subprocesses; may be nil
	HTTPClient     *http.Client
	CommandTimeout time.Duration // Default run_command timeout
	MaxFetchBytes  int64
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		HTTPClient:     &http.Client{Timeout: 30 * time.Second},
		CommandTimeout: 2 * time.Minute,
		MaxFetchBytes:  512 * 1024,
	}
}

// All returns every builtin tool.
func All(cfg Config) []tools.Tool {
	def := DefaultConfig()
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = def.HTTPClient
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.MaxFetchBytes <= 0 {
		cfg.MaxFetchBytes = def.MaxFetchBytes
	}

	return []tools.Tool{
		readFileTool{},
		listDirTool{},
		findFilesTool{},
		writeFileTool{},
		editFileTool{},
		&runCommandTool{procs: cfg.Processes, timeout: cfg.CommandTimeout},
		spawnTaskTool{},
		&webFetchTool{client: cfg.HTTPClient, maxBytes: cfg.MaxFetchBytes},
	}
}

// Register adds every builtin tool to reg.
func Register(reg *tools.Registry, cfg Config) error {
	for _, tool := range All(cfg) {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func intsArg(args map[string]any, key string) []int {
	raw, _ := args[key].([]any)
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		}
	}
	return out
}

// clip cuts s to max bytes and says how much was dropped.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return fmt.Sprintf("%s\n... (truncated %d bytes)", s[:max], len(s)-max)
}
