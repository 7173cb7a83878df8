// Package prompt assembles labeled, prioritized sections into a prompt that
// fits an approximate token budget.
package prompt

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultPriority is used by Add.
const DefaultPriority = 50

// Section is one labeled chunk of prompt content.
type Section struct {
	Label    string
	Content  string
	Priority int
}

// ManifestEntry describes how one section was treated by a build.
type ManifestEntry struct {
	Label    string `json:"label"`
	Priority int    `json:"priority"`
	Tokens   int    `json:"tokens"`
	Included bool   `json:"included"`

	// RunningTotal is the selected token total right after this section was
	// considered, in priority order. Excluded sections leave it unchanged.
	RunningTotal int `json:"running_total"`
}

// Manifest lists every declared section in declaration order, with the
// tokens used by included sections and the budget they were fitted into.
type Manifest struct {
	Entries []ManifestEntry `json:"entries"`
	Used    int             `json:"used"`
	Budget  int             `json:"budget"`
}

// Excluded returns the labels of sections that did not fit.
func (m Manifest) Excluded() []string {
	var labels []string
	for _, e := range m.Entries {
		if !e.Included {
			labels = append(labels, e.Label)
		}
	}
	return labels
}

// Assembler collects sections for a single prompt. It is not safe for
// concurrent use; each dispatch builds its own.
type Assembler struct {
	sections []Section
}

// New creates an empty assembler.
func New() *Assembler {
	return &Assembler{}
}

// Add appends a section with the default priority.
func (a *Assembler) Add(label, content string) {
	a.AddWithPriority(label, content, DefaultPriority)
}

// AddWithPriority appends a section. Higher priorities are kept first when
// the budget is tight; priority never changes the rendered order.
func (a *Assembler) AddWithPriority(label, content string, priority int) {
	a.sections = append(a.sections, Section{Label: label, Content: content, Priority: priority})
}

// Len returns the number of declared sections.
func (a *Assembler) Len() int {
	return len(a.sections)
}

// Reset discards all sections.
func (a *Assembler) Reset() {
	a.sections = nil
}

// Build renders the prompt for hardCap tokens.
func (a *Assembler) Build(hardCap int) string {
	prompt, _ := a.BuildWithManifest(hardCap)
	return prompt
}

// BuildWithManifest selects sections by descending priority while the
// running token total stays within hardCap, then renders the selected
// sections in their declared order.
func (a *Assembler) BuildWithManifest(hardCap int) (string, Manifest) {
	costs := make([]int, len(a.sections))
	for i, s := range a.sections {
		costs[i] = EstimateTokens(s.Content)
	}

	order := make([]int, len(a.sections))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return a.sections[order[i]].Priority > a.sections[order[j]].Priority
	})

	included := make([]bool, len(a.sections))
	running := make([]int, len(a.sections))
	used := 0
	for _, i := range order {
		// A section that does not fit is skipped; smaller ones after it may still fit.
		if used+costs[i] <= hardCap {
			used += costs[i]
			included[i] = true
		}
		running[i] = used
	}

	manifest := Manifest{
		Entries: make([]ManifestEntry, 0, len(a.sections)),
		Used:    used,
		Budget:  hardCap,
	}
	blocks := make([]string, 0, len(a.sections))
	for i, s := range a.sections {
		manifest.Entries = append(manifest.Entries, ManifestEntry{
			Label:    s.Label,
			Priority: s.Priority,
			Tokens:   costs[i],
			Included: included[i],

			RunningTotal: running[i],
		})
		if included[i] {
			blocks = append(blocks, fmt.Sprintf("## %s\n\n%s", s.Label, s.Content))
		}
	}

	return strings.Join(blocks, "\n\n"), manifest
}
