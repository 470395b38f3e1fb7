package domain

import (
	"sort"
	"time"
)

// ProjectSnapshot is an immutable read of the board used for a single
// decision. The engine always works from a fresh capture; only the
// analyzer may cache one, bounded by its TTL.
type ProjectSnapshot struct {
	Tasks       []Task
	LabelsInUse []string
	CapturedAt  time.Time

	byID       map[string]int
	dependents map[string][]string
}

// NewSnapshot indexes tasks into a snapshot. The input slice is copied;
// callers may keep mutating their own copy.
func NewSnapshot(tasks []Task) *ProjectSnapshot {
	s := &ProjectSnapshot{
		Tasks:      make([]Task, len(tasks)),
		CapturedAt: time.Now(),
		byID:       make(map[string]int, len(tasks)),
		dependents: make(map[string][]string),
	}
	copy(s.Tasks, tasks)

	labelSet := make(map[string]struct{})
	for i, t := range s.Tasks {
		s.byID[t.ID] = i
		for _, l := range t.Labels {
			labelSet[l] = struct{}{}
		}
		for _, dep := range t.Dependencies {
			s.dependents[dep] = append(s.dependents[dep], t.ID)
		}
	}
	s.LabelsInUse = make([]string, 0, len(labelSet))
	for l := range labelSet {
		s.LabelsInUse = append(s.LabelsInUse, l)
	}
	sort.Strings(s.LabelsInUse)
	return s
}

// Task looks up a task by id.
func (s *ProjectSnapshot) Task(id string) (Task, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Task{}, false
	}
	return s.Tasks[i], true
}

// Len returns the number of tasks in the snapshot.
func (s *ProjectSnapshot) Len() int { return len(s.Tasks) }

// TasksByStatus returns all tasks with the given status.
func (s *ProjectSnapshot) TasksByStatus(status Status) []Task {
	var out []Task
	for _, t := range s.Tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// Dependents returns the ids of tasks that declare id as a dependency.
func (s *ProjectSnapshot) Dependents(id string) []string {
	return s.dependents[id]
}

// DependenciesDone reports whether every declared dependency of t is done.
// Dependencies missing from the snapshot count as unmet.
func (s *ProjectSnapshot) DependenciesDone(t Task) bool {
	for _, dep := range t.Dependencies {
		d, ok := s.Task(dep)
		if !ok || d.Status != StatusDone {
			return false
		}
	}
	return true
}

// StatusTotals counts tasks per status.
func (s *ProjectSnapshot) StatusTotals() map[Status]int {
	totals := make(map[Status]int, 4)
	for _, t := range s.Tasks {
		totals[t.Status]++
	}
	return totals
}

// CompletionPct returns done/total in percent; 0 for an empty board.
func (s *ProjectSnapshot) CompletionPct() float64 {
	if len(s.Tasks) == 0 {
		return 0
	}
	done := 0
	for _, t := range s.Tasks {
		if t.Status == StatusDone {
			done++
		}
	}
	return float64(done) / float64(len(s.Tasks)) * 100
}

// HasClass reports whether any task of the given class exists in the
// snapshot, regardless of status.
func (s *ProjectSnapshot) HasClass(class TaskClass) bool {
	for _, t := range s.Tasks {
		if Classify(t) == class {
			return true
		}
	}
	return false
}

// HasClassInStatus reports whether any task of the given class currently
// holds one of the statuses. The deployment gate in the assignment engine
// uses this with ClassImplementation and unfinished statuses.
func (s *ProjectSnapshot) HasClassInStatus(class TaskClass, statuses ...Status) bool {
	for _, t := range s.Tasks {
		if Classify(t) != class {
			continue
		}
		for _, st := range statuses {
			if t.Status == st {
				return true
			}
		}
	}
	return false
}
