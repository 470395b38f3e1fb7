package ledger

import "time"

// Default lease bounds. A lease never expires before Floor or survives
// past Ceiling regardless of the task estimate.
const (
	DefaultFloor   = time.Hour
	DefaultCeiling = 24 * time.Hour
)

// Policy derives the stale-lease TTL for an assignment. The default is
// twice the task's estimated hours, clamped to [Floor, Ceiling];
// StaleAfter, when set, overrides the estimate-derived value but still
// respects the bounds.
type Policy struct {
	StaleAfter time.Duration
	Floor      time.Duration
	Ceiling    time.Duration
}

// DefaultPolicy returns the estimate-derived policy with standard bounds.
func DefaultPolicy() Policy {
	return Policy{Floor: DefaultFloor, Ceiling: DefaultCeiling}
}

// TTL computes the lease duration for a task with the given estimate.
// Tasks without an estimate get the floor.
func (p Policy) TTL(estimatedHours float64) time.Duration {
	floor, ceiling := p.Floor, p.Ceiling
	if floor <= 0 {
		floor = DefaultFloor
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}

	ttl := p.StaleAfter
	if ttl <= 0 {
		if estimatedHours > 0 {
			ttl = time.Duration(2 * estimatedHours * float64(time.Hour))
		} else {
			ttl = floor
		}
	}

	if ttl < floor {
		return floor
	}
	if ttl > ceiling {
		return ceiling
	}
	return ttl
}
