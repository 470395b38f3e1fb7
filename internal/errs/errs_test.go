package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"transient", Transient("list_tasks", errors.New("503")), KindTransient},
		{"permanent", Permanent("create_task", errors.New("422")), KindPermanent},
		{"not found", NotFound("task", "t-42"), KindNotFound},
		{"unavailable", fmt.Errorf("scoring: %w", ErrUnavailable), KindUnavailable},
		{"agent state", &AgentStateError{AgentID: "a1", State: "working", Op: "request_next_task"}, KindAgentState},
		{"cyclic plan", &CyclicPlanError{Cycle: []string{"t1", "t2", "t1"}}, KindCyclicPlan},
		{"safety", &SafetyViolationError{Rule: "I1", TaskID: "t9"}, KindSafetyViolation},
		{"no such assignment", &NoSuchAssignmentError{AgentID: "a1", TaskID: "t1"}, KindNoSuchAssignment},
		{"duplicate agent", &DuplicateAgentError{AgentID: "a1"}, KindDuplicateAgent},
		{"invalid status", &InvalidStatusError{Status: "paused"}, KindInvalidStatus},
		{"timeout", &TimeoutError{Op: "update_task", Elapsed: time.Second}, KindTimeout},
		{"deadline exceeded", context.DeadlineExceeded, KindTimeout},
		{"unclassified", errors.New("mystery"), KindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestKind_WrappedErrors(t *testing.T) {
	// Classification must survive fmt.Errorf wrapping.
	err := fmt.Errorf("publishing plan: %w", &SafetyViolationError{Rule: "I2", TaskID: "t3"})
	require.Equal(t, KindSafetyViolation, Kind(err))

	err = fmt.Errorf("board: %w", Transient("move_task", errors.New("gateway timeout")))
	require.Equal(t, KindTransient, Kind(err))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit transient", Transient("x", errors.New("y")), true},
		{"explicit permanent", Permanent("x", errors.New("y")), false},
		{"not found", NotFound("task", "t1"), false},
		{"net timeout", &net.DNSError{IsTimeout: true}, true},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"conn reset wrapped", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"plain error", errors.New("nope"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransient_PermanentWinsOverNetHeuristic(t *testing.T) {
	// An explicitly permanent wrapper around a network error must not retry.
	err := Permanent("create_task", &net.DNSError{IsTimeout: true})
	require.False(t, IsTransient(err))
}

func TestIsUnavailable(t *testing.T) {
	require.True(t, IsUnavailable(ErrUnavailable))
	require.True(t, IsUnavailable(fmt.Errorf("parse_prd: %w", ErrUnavailable)))
	require.True(t, IsUnavailable(context.DeadlineExceeded))
	require.False(t, IsUnavailable(errors.New("other")))
	require.False(t, IsUnavailable(nil))
}

func TestIsNotFound(t *testing.T) {
	require.True(t, IsNotFound(NotFound("task", "t1")))
	require.True(t, IsNotFound(fmt.Errorf("update: %w", NotFound("task", "t1"))))
	require.False(t, IsNotFound(Permanent("x", errors.New("y"))))
}

func TestErrorMessages(t *testing.T) {
	require.Equal(t, `task "t-1" not found`, NotFound("task", "t-1").Error())
	require.Equal(t, `agent "a1" cannot request_next_task while working`,
		(&AgentStateError{AgentID: "a1", State: "working", Op: "request_next_task"}).Error())
	require.Equal(t, "plan contains an unrepairable cycle: a -> b -> a",
		(&CyclicPlanError{Cycle: []string{"a", "b", "a"}}).Error())
	require.Equal(t, `no live assignment of task "t1" to agent "a1"`,
		(&NoSuchAssignmentError{AgentID: "a1", TaskID: "t1"}).Error())
}
