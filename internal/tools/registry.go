package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
)

// Registry maps tool names to tools. Built once at startup and passed by
// reference to the executor and the MCP server.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds tool under its definition name.
func (r *Registry) Register(tool Tool) error {
	name := tool.Definition().Name
	if name == "" {
		return fmt.Errorf("tool has no name")
	}
	if !tool.Permission().Valid() {
		return fmt.Errorf("tool %s declares unknown permission %q", name, tool.Permission())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// MustRegister is Register for startup wiring.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			panic(err)
		}
	}
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns every registered tool, sorted by name.
func (r *Registry) List() []Tool {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Definitions returns the definitions of the named tools, or of every tool
// when names is nil. Unknown names are skipped.
func (r *Registry) Definitions(names []string) []mcp.Tool {
	if names == nil {
		names = r.Names()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]mcp.Tool, 0, len(names))
	for _, name := range names {
		if tool, ok := r.tools[name]; ok {
			defs = append(defs, tool.Definition())
		}
	}
	return defs
}
