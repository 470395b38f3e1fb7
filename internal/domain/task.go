// Package domain holds the coordinator's core entities: tasks, agents,
// assignments, and board snapshots. It is a pure data layer; board truth
// lives on the provider, and the coordinator only owns assignments, mode,
// and transient snapshots.
package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zjrosen/foreman/internal/errs"
)

// Status is a task's lifecycle position on the board.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
)

// ParseStatus validates a status string from an external caller.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusTodo, StatusInProgress, StatusBlocked, StatusDone:
		return Status(s), nil
	default:
		return "", &errs.InvalidStatusError{Status: s}
	}
}

// Priority orders tasks urgent > high > medium > low.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority validates a priority string. Empty input maps to medium.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return Priority(s), nil
	case "":
		return PriorityMedium, nil
	default:
		return "", errs.Permanent("parse priority", fmt.Errorf("unknown priority %q", s))
	}
}

// Score maps the priority onto the scoring scale used by the assignment
// engine: urgent 1.0, high 0.75, medium 0.5, low 0.25.
func (p Priority) Score() float64 {
	switch p {
	case PriorityUrgent:
		return 1.0
	case PriorityHigh:
		return 0.75
	case PriorityMedium:
		return 0.5
	case PriorityLow:
		return 0.25
	default:
		return 0.5
	}
}

// Reserved label namespaces. Unknown labels are preserved verbatim; these
// prefixes feed scoring, phase ordering, and the safety classifier.
const (
	LabelPhasePrefix     = "phase:"
	LabelComponentPrefix = "component:"
	LabelTypePrefix      = "type:"
	LabelPriorityPrefix  = "priority:"
	LabelSkillPrefix     = "skill:"

	// LabelOverrideSafety exempts a task from hard type-ordering edges.
	LabelOverrideSafety = "override_safety"
)

// Canonical phases in execution order.
const (
	PhaseSetup          = "setup"
	PhaseDesign         = "design"
	PhaseImplementation = "implementation"
	PhaseTesting        = "testing"
	PhaseDeployment     = "deployment"
)

// PhaseOrder lists the canonical phases earliest first.
var PhaseOrder = []string{PhaseSetup, PhaseDesign, PhaseImplementation, PhaseTesting, PhaseDeployment}

// PhaseRank returns the position of phase in PhaseOrder, or -1 for
// unknown phases (custom feature phases sort after canonical ones).
func PhaseRank(phase string) int {
	for i, p := range PhaseOrder {
		if p == phase {
			return i
		}
	}
	return -1
}

// Task mirrors a board task. The id is board-assigned and opaque.
type Task struct {
	ID             string   `json:"task_id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Status         Status   `json:"status"`
	Labels         []string `json:"labels,omitempty"`
	Priority       Priority `json:"priority"`
	EstimatedHours float64  `json:"estimated_hours,omitempty"`
	Dependencies   []string `json:"dependencies,omitempty"`
	Assignee       string   `json:"assignee,omitempty"`
	Phase          string   `json:"phase,omitempty"`
}

// HasLabel reports whether the task carries the exact label.
func (t Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// LabelValues returns the values of labels in the given namespace,
// e.g. LabelValues("skill:") on ["skill:go", "ui"] yields ["go"].
func (t Task) LabelValues(prefix string) []string {
	var vals []string
	for _, l := range t.Labels {
		if strings.HasPrefix(l, prefix) {
			vals = append(vals, strings.TrimPrefix(l, prefix))
		}
	}
	return vals
}

// SkillLabels returns the skill:* label values.
func (t Task) SkillLabels() []string { return t.LabelValues(LabelSkillPrefix) }

// ComponentLabels returns the component:* label values.
func (t Task) ComponentLabels() []string { return t.LabelValues(LabelComponentPrefix) }

// EffectivePhase resolves the task's phase from the Phase field first,
// then from a phase:* label.
func (t Task) EffectivePhase() string {
	if t.Phase != "" {
		return t.Phase
	}
	if vals := t.LabelValues(LabelPhasePrefix); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// DependsOn reports whether taskID appears in the declared dependencies.
func (t Task) DependsOn(taskID string) bool {
	for _, d := range t.Dependencies {
		if d == taskID {
			return true
		}
	}
	return false
}

// TaskSpec carries the fields a caller controls when creating a task.
type TaskSpec struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Labels         []string `json:"labels,omitempty"`
	Priority       Priority `json:"priority,omitempty"`
	EstimatedHours float64  `json:"estimated_hours,omitempty"`
	Dependencies   []string `json:"dependencies,omitempty"`
	Phase          string   `json:"phase,omitempty"`
}

// Validate rejects specs the board would refuse anyway.
func (s TaskSpec) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return errs.Permanent("validate task spec", fmt.Errorf("title is required"))
	}
	if s.Priority != "" {
		if _, err := ParsePriority(string(s.Priority)); err != nil {
			return err
		}
	}
	if s.EstimatedHours < 0 {
		return errs.Permanent("validate task spec", fmt.Errorf("estimated_hours must be non-negative"))
	}
	return nil
}

// TaskPatch is a partial update. Nil fields are left untouched; an empty
// Assignee pointer value clears the assignee.
type TaskPatch struct {
	Status   *Status   `json:"status,omitempty"`
	Assignee *string   `json:"assignee,omitempty"`
	Labels   *[]string `json:"labels,omitempty"`
	Priority *Priority `json:"priority,omitempty"`
	Comment  string    `json:"comment,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p TaskPatch) IsZero() bool {
	return p.Status == nil && p.Assignee == nil && p.Labels == nil && p.Priority == nil && p.Comment == ""
}

// NormalizeLabels sorts and de-duplicates a label set in place, returning
// the normalized slice.
func NormalizeLabels(labels []string) []string {
	if len(labels) == 0 {
		return labels
	}
	seen := make(map[string]struct{}, len(labels))
	out := labels[:0]
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
