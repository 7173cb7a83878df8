package scheduler

import (
	"fmt"
	"os"
	"time"

	"github.com/gammazero/toposort"
	"gopkg.in/yaml.v3"
)

// Plan is a named set of tasks decoded from a plan file.
type Plan struct {
	Name  string     `yaml:"name"`
	Goal  string     `yaml:"goal"`
	Tasks []PlanTask `yaml:"tasks"`
}

// PlanTask declares one task. Dependencies reference other tasks by ID and
// may appear in any order in the file.
type PlanTask struct {
	ID          string        `yaml:"id"`
	Agent       string        `yaml:"agent"`
	Description string        `yaml:"description"`
	DependsOn   []string      `yaml:"depends_on"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ParsePlan decodes and validates a YAML plan.
func ParsePlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if _, err := plan.Order(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ReadPlan reads and parses a plan file.
func ReadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return ParsePlan(data)
}

// Order returns the plan's tasks in an order where every dependency comes
// before its dependents.
func (p *Plan) Order() ([]PlanTask, error) {
	if len(p.Tasks) == 0 {
		return nil, fmt.Errorf("plan %q has no tasks", p.Name)
	}

	byID := make(map[string]PlanTask, len(p.Tasks))
	for _, task := range p.Tasks {
		if task.ID == "" {
			return nil, fmt.Errorf("plan task with description %q has no id", task.Description)
		}
		if task.Agent == "" {
			return nil, fmt.Errorf("plan task %s has no agent", task.ID)
		}
		if _, dup := byID[task.ID]; dup {
			return nil, fmt.Errorf("duplicate plan task id: %s", task.ID)
		}
		byID[task.ID] = task
	}

	edges := make([]toposort.Edge, 0, len(p.Tasks))
	for _, task := range p.Tasks {
		if len(task.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, task.ID})
			continue
		}
		for _, dep := range task.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on unknown task %s", ErrInvalidDependency, task.ID, dep)
			}
			edges = append(edges, toposort.Edge{dep, task.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("plan contains cycle: %w", err)
	}

	ordered := make([]PlanTask, 0, len(p.Tasks))
	for _, id := range sorted {
		if id == nil {
			continue
		}
		ordered = append(ordered, byID[id.(string)])
	}
	return ordered, nil
}

// Apply adds the plan's tasks to m in dependency order and returns the
// index assigned to each plan task ID.
func (p *Plan) Apply(m *Manager) (map[string]int, error) {
	ordered, err := p.Order()
	if err != nil {
		return nil, err
	}

	indices := make(map[string]int, len(ordered))
	for _, task := range ordered {
		deps := make([]int, 0, len(task.DependsOn))
		for _, dep := range task.DependsOn {
			deps = append(deps, indices[dep])
		}

		index, err := m.AddTask(task.Agent, task.Description, deps...)
		if err != nil {
			return nil, fmt.Errorf("failed to add plan task %s: %w", task.ID, err)
		}
		if task.Timeout > 0 {
			m.setTimeout(index, task.Timeout)
		}
		indices[task.ID] = index
	}
	return indices, nil
}

// LoadPlan reads the plan at path into m.
func LoadPlan(path string, m *Manager) (*Plan, map[string]int, error) {
	plan, err := ReadPlan(path)
	if err != nil {
		return nil, nil, err
	}
	indices, err := plan.Apply(m)
	if err != nil {
		return nil, nil, err
	}
	return plan, indices, nil
}

func (m *Manager) setTimeout(index int, timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if task, err := m.lookup(index); err == nil {
		task.TimeoutOverride = timeout
	}
}
