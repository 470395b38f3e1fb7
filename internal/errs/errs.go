// Package errs defines the coordinator's error taxonomy.
//
// Every failure that crosses a component boundary is classifiable into a
// machine-readable kind. The tool surface renders kinds to agents as
// `error_kind`; the retry helpers recover transient failures locally and
// surface everything else.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// Error kinds rendered to agents in tool responses.
const (
	KindTransient        = "transient"
	KindPermanent        = "permanent"
	KindNotFound         = "not_found"
	KindUnavailable      = "unavailable"
	KindAgentState       = "agent_state"
	KindCyclicPlan       = "cyclic_plan"
	KindSafetyViolation  = "safety_violation"
	KindNoSuchAssignment = "no_such_assignment"
	KindDuplicateAgent   = "duplicate_agent"
	KindInvalidStatus    = "invalid_status"
	KindTimeout          = "timeout"
)

// TransientError wraps a failure that is expected to succeed on retry:
// network timeouts, 5xx responses from the board, AI rate limits.
type TransientError struct {
	Op  string
	Err error
	// RetryAfter carries a server-requested wait, when known.
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retriable.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// PermanentError wraps a failure that retrying cannot fix: 4xx responses,
// schema violations, malformed input.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retriable.
func Permanent(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Op: op, Err: err}
}

// NotFoundError reports a missing resource. It classifies as permanent.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// NotFound constructs a NotFoundError for the named resource.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ErrUnavailable marks an AI backend that cannot serve requests right now.
// Callers fall back to deterministic paths rather than failing.
var ErrUnavailable = errors.New("ai backend unavailable")

// AgentStateError reports a tool call that is illegal for the agent's
// current position in the session state machine.
type AgentStateError struct {
	AgentID string
	State   string
	Op      string
}

func (e *AgentStateError) Error() string {
	return fmt.Sprintf("agent %q cannot %s while %s", e.AgentID, e.Op, e.State)
}

// CyclicPlanError reports a dependency cycle that survived repair.
// Cycle holds the task ids along the cycle, in order.
type CyclicPlanError struct {
	Cycle []string
}

func (e *CyclicPlanError) Error() string {
	return fmt.Sprintf("plan contains an unrepairable cycle: %s", strings.Join(e.Cycle, " -> "))
}

// SafetyViolationError reports a plan that breaks an ordering invariant.
type SafetyViolationError struct {
	Rule   string
	TaskID string
	Detail string
}

func (e *SafetyViolationError) Error() string {
	return fmt.Sprintf("safety rule %s violated by task %q: %s", e.Rule, e.TaskID, e.Detail)
}

// NoSuchAssignmentError reports a progress or blocker report for an
// (agent, task) pair with no live ledger entry.
type NoSuchAssignmentError struct {
	AgentID string
	TaskID  string
}

func (e *NoSuchAssignmentError) Error() string {
	return fmt.Sprintf("no live assignment of task %q to agent %q", e.TaskID, e.AgentID)
}

// DuplicateAgentError reports a second registration for a live agent id.
type DuplicateAgentError struct {
	AgentID string
}

func (e *DuplicateAgentError) Error() string {
	return fmt.Sprintf("agent %q is already registered", e.AgentID)
}

// InvalidStatusError reports an unrecognized status value in a report.
type InvalidStatusError struct {
	Status string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid status %q", e.Status)
}

// TimeoutError reports a deadline exceeded with in-flight work rolled back.
type TimeoutError struct {
	Op      string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Elapsed)
}

// IsTransient reports whether err should be retried. Explicit
// classification wins; unclassified network failures are treated as
// transient so that a flaky board connection does not leak permanent
// failures to agents.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return false
}

// IsPermanent reports whether err is explicitly non-retriable.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsNotFound reports whether err names a missing resource.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsUnavailable reports whether err means the AI backend cannot serve.
// Deadline expiry on an AI call counts: the caller falls back rather
// than failing the surrounding operation.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// Kind maps err onto its machine-readable kind. Unrecognized errors are
// reported as permanent so callers never retry blindly.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}

	var (
		te  *TransientError
		nf  *NotFoundError
		pe  *PermanentError
		ase *AgentStateError
		cpe *CyclicPlanError
		sve *SafetyViolationError
		nse *NoSuchAssignmentError
		dae *DuplicateAgentError
		ise *InvalidStatusError
		toe *TimeoutError
	)
	switch {
	case errors.As(err, &toe):
		return KindTimeout
	case errors.As(err, &ase):
		return KindAgentState
	case errors.As(err, &cpe):
		return KindCyclicPlan
	case errors.As(err, &sve):
		return KindSafetyViolation
	case errors.As(err, &nse):
		return KindNoSuchAssignment
	case errors.As(err, &dae):
		return KindDuplicateAgent
	case errors.As(err, &ise):
		return KindInvalidStatus
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	case errors.As(err, &nf):
		return KindNotFound
	case errors.As(err, &te):
		return KindTransient
	case errors.As(err, &pe):
		return KindPermanent
	default:
		return KindPermanent
	}
}
