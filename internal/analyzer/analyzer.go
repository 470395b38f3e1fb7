// Package analyzer scores board structure quality. The score is a pure
// function of a snapshot; the Analyzer wraps it with a short-lived cache
// so status and mode queries do not hammer the board provider.
package analyzer

import (
	"context"
	"time"

	"github.com/zjrosen/foreman/internal/board"
	"github.com/zjrosen/foreman/internal/cachemanager"
	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/log"
)

// Class buckets a quality total. A boundary total takes the lower class.
type Class string

const (
	ClassEmpty     Class = "empty"
	ClassChaotic   Class = "chaotic"
	ClassBasic     Class = "basic"
	ClassGood      Class = "good"
	ClassExcellent Class = "excellent"
)

// Subscore weights.
const (
	weightDescriptions = 0.25
	weightLabels       = 0.20
	weightEstimates    = 0.25
	weightPriorities   = 0.15
	weightDependencies = 0.15
)

// DefaultTTL bounds how stale a cached snapshot may get.
const DefaultTTL = 5 * time.Second

// Score is one quality reading of a board.
type Score struct {
	Descriptions float64 `json:"descriptions"`
	Labels       float64 `json:"labels"`
	Estimates    float64 `json:"estimates"`
	Priorities   float64 `json:"priorities"`
	Dependencies float64 `json:"dependencies"`
	Total        float64 `json:"total"`
	Class        Class   `json:"class"`
	TaskCount    int     `json:"task_count"`
}

// Analyze scores a snapshot. An empty snapshot classifies as empty with
// no meaningful subscores.
func Analyze(snap *domain.ProjectSnapshot) Score {
	n := snap.Len()
	if n == 0 {
		return Score{Class: ClassEmpty}
	}

	var described, labeled, estimated, linked int
	priorityCounts := make(map[domain.Priority]int, 4)
	for _, t := range snap.Tasks {
		if len(t.Description) >= 50 {
			described++
		}
		if len(t.Labels) >= 2 {
			labeled++
		}
		if t.EstimatedHours > 0 {
			estimated++
		}
		if len(t.Dependencies) > 0 || len(snap.Dependents(t.ID)) > 0 {
			linked++
		}
		priorityCounts[t.Priority]++
	}

	modal := 0
	for _, c := range priorityCounts {
		if c > modal {
			modal = c
		}
	}

	s := Score{
		Descriptions: frac(described, n),
		Labels:       frac(labeled, n),
		Estimates:    frac(estimated, n),
		Priorities:   max(0, 1-frac(modal, n)),
		Dependencies: frac(linked, n),
		TaskCount:    n,
	}
	s.Total = weightDescriptions*s.Descriptions +
		weightLabels*s.Labels +
		weightEstimates*s.Estimates +
		weightPriorities*s.Priorities +
		weightDependencies*s.Dependencies
	s.Class = classify(s.Total)
	return s
}

func frac(part, total int) float64 { return float64(part) / float64(total) }

func classify(total float64) Class {
	switch {
	case total <= 0.3:
		return ClassChaotic
	case total <= 0.6:
		return ClassBasic
	case total <= 0.8:
		return ClassGood
	default:
		return ClassExcellent
	}
}

// Analyzer captures snapshots from a board and caches them briefly.
// Everything else in the engine works from fresh captures; only quality
// and status reads tolerate this TTL of staleness.
type Analyzer struct {
	board board.Client
	cache cachemanager.CacheManager[string, *domain.ProjectSnapshot]
	key   string
	ttl   time.Duration
}

// New builds an analyzer for one board. boardKey distinguishes cache
// entries when several analyzers share a process.
func New(b board.Client, boardKey string, ttl time.Duration) *Analyzer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Analyzer{
		board: b,
		cache: cachemanager.NewInMemoryCacheManager[string, *domain.ProjectSnapshot]("analyzer", ttl, time.Minute),
		key:   boardKey,
		ttl:   ttl,
	}
}

// Snapshot returns the cached capture, refreshing from the board when
// the TTL has lapsed.
func (a *Analyzer) Snapshot(ctx context.Context) (*domain.ProjectSnapshot, error) {
	if snap, ok := a.cache.Get(ctx, a.key); ok {
		return snap, nil
	}
	tasks, err := a.board.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	snap := domain.NewSnapshot(tasks)
	a.cache.Set(ctx, a.key, snap, a.ttl)
	log.Debug(log.CatCache, "Snapshot refreshed", "board", a.key, "tasks", snap.Len())
	return snap, nil
}

// Quality scores the current snapshot.
func (a *Analyzer) Quality(ctx context.Context) (Score, error) {
	snap, err := a.Snapshot(ctx)
	if err != nil {
		return Score{}, err
	}
	return Analyze(snap), nil
}

// Invalidate drops the cached snapshot. The board watcher calls this on
// file change so the next read recaptures.
func (a *Analyzer) Invalidate() {
	_ = a.cache.Delete(context.Background(), a.key)
}
