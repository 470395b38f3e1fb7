// Package templates embeds the deterministic project template library.
// When the reasoning backend is unavailable the planner matches the
// project description against these by keyword and expands the selected
// template into a task plan.
package templates

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/foreman/internal/ai"
	"github.com/zjrosen/foreman/internal/domain"
)

//go:embed library/*.yaml
var libraryFS embed.FS

// DefaultName is the template used when nothing matches.
const DefaultName = "web-app"

// MatchThreshold is the minimum keyword score for a template to be
// preferred over the default.
const MatchThreshold = 0.3

// TaskDef is one task in a template expansion.
type TaskDef struct {
	ID             string   `yaml:"id"`
	Title          string   `yaml:"title"`
	Description    string   `yaml:"description"`
	Phase          string   `yaml:"phase"`
	Labels         []string `yaml:"labels"`
	Priority       string   `yaml:"priority"`
	EstimatedHours float64  `yaml:"estimated_hours"`
	DependsOn      []string `yaml:"depends_on"`
}

// Expansion is a template's task list at one complexity level.
type Expansion struct {
	EstimatedDays float64   `yaml:"estimated_days"`
	Tasks         []TaskDef `yaml:"tasks"`
}

// Template is one project archetype.
type Template struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Keywords    []string             `yaml:"keywords"`
	Complexity  map[string]Expansion `yaml:"complexity"`
}

// Library holds the loaded templates.
type Library struct {
	templates []*Template
	byName    map[string]*Template
}

// Load parses and validates every embedded template.
func Load() (*Library, error) {
	lib := &Library{byName: make(map[string]*Template)}

	entries, err := fs.Glob(libraryFS, "library/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("scan template library: %w", err)
	}
	sort.Strings(entries)

	for _, path := range entries {
		content, err := fs.ReadFile(libraryFS, path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var t Template
		if err := yaml.Unmarshal(content, &t); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := validate(&t); err != nil {
			return nil, fmt.Errorf("template %s: %w", path, err)
		}
		lib.templates = append(lib.templates, &t)
		lib.byName[t.Name] = &t
	}

	if _, ok := lib.byName[DefaultName]; !ok {
		return nil, fmt.Errorf("template library is missing the %q default", DefaultName)
	}
	return lib, nil
}

func validate(t *Template) error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(t.Keywords) == 0 {
		return fmt.Errorf("keywords are required")
	}
	for _, level := range []string{ai.ComplexityMVP, ai.ComplexityStandard, ai.ComplexityEnterprise} {
		exp, ok := t.Complexity[level]
		if !ok {
			return fmt.Errorf("missing complexity level %q", level)
		}
		seen := make(map[string]bool, len(exp.Tasks))
		for _, task := range exp.Tasks {
			if task.ID == "" || task.Title == "" {
				return fmt.Errorf("level %s: every task needs an id and title", level)
			}
			if seen[task.ID] {
				return fmt.Errorf("level %s: duplicate task id %q", level, task.ID)
			}
			seen[task.ID] = true
			if task.Priority != "" {
				if _, err := domain.ParsePriority(task.Priority); err != nil {
					return fmt.Errorf("level %s task %s: %w", level, task.ID, err)
				}
			}
		}
		for _, task := range exp.Tasks {
			for _, dep := range task.DependsOn {
				if !seen[dep] {
					return fmt.Errorf("level %s task %s: unknown dependency %q", level, task.ID, dep)
				}
			}
		}
	}
	return nil
}

// Get returns a template by name.
func (l *Library) Get(name string) (*Template, bool) {
	t, ok := l.byName[name]
	return t, ok
}

// Names lists the loaded template names, sorted.
func (l *Library) Names() []string {
	out := make([]string, 0, len(l.byName))
	for name := range l.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Default returns the fallback template.
func (l *Library) Default() *Template { return l.byName[DefaultName] }

// Match scores every template against the description and returns the
// best one with its score. Scoring is keyword hits over keyword total,
// on word boundaries.
func (l *Library) Match(description string) (*Template, float64) {
	words := tokenize(description)
	var best *Template
	bestScore := -1.0
	for _, t := range l.templates {
		hits := 0
		for _, kw := range t.Keywords {
			if words[strings.ToLower(kw)] {
				hits++
			}
		}
		score := float64(hits) / float64(len(t.Keywords))
		if score > bestScore {
			best, bestScore = t, score
		}
	}
	return best, bestScore
}

// Select applies the threshold: the best match above it, otherwise the
// default template. Returns the template, its score, and whether the
// match (not the fallback) was used.
func (l *Library) Select(description string) (*Template, float64, bool) {
	best, score := l.Match(description)
	if best != nil && score > MatchThreshold {
		return best, score, true
	}
	return l.Default(), score, false
}

func tokenize(s string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = true
	}
	return words
}

// Expand produces the task plan for a complexity level. Unknown levels
// expand as standard.
func (t *Template) Expand(complexity string) ai.TaskPlan {
	exp, ok := t.Complexity[complexity]
	if !ok {
		exp = t.Complexity[ai.ComplexityStandard]
	}

	plan := ai.TaskPlan{EstimatedDays: exp.EstimatedDays}
	seenPhase := make(map[string]bool)
	for _, def := range exp.Tasks {
		prio, _ := domain.ParsePriority(def.Priority)
		plan.Tasks = append(plan.Tasks, ai.PlannedTask{
			LocalID:        def.ID,
			Title:          def.Title,
			Description:    def.Description,
			Phase:          def.Phase,
			Labels:         append([]string(nil), def.Labels...),
			Priority:       prio,
			EstimatedHours: def.EstimatedHours,
			DependsOn:      append([]string(nil), def.DependsOn...),
		})
		if def.Phase != "" && !seenPhase[def.Phase] {
			seenPhase[def.Phase] = true
			plan.Phases = append(plan.Phases, def.Phase)
		}
	}
	sort.SliceStable(plan.Phases, func(i, j int) bool {
		ri, rj := domain.PhaseRank(plan.Phases[i]), domain.PhaseRank(plan.Phases[j])
		if ri < 0 {
			ri = len(domain.PhaseOrder)
		}
		if rj < 0 {
			rj = len(domain.PhaseOrder)
		}
		return ri < rj
	})
	return plan
}
