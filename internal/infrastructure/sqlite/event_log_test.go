package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zjrosen/foreman/internal/events"
	"github.com/zjrosen/foreman/internal/pubsub"
)

func TestEventLog_AppendAndRecent(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "foreman.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	el := NewEventLog(db)
	ctx := context.Background()

	first := events.New(events.TypeAgentRegistered, "agent-1", "", "role=worker")
	second := events.New(events.TypeTaskAssigned, "agent-1", "task-001", "")
	second.OccurredAt = first.OccurredAt.Add(time.Second)

	require.NoError(t, el.Append(ctx, first))
	require.NoError(t, el.Append(ctx, second))

	recent, err := el.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, events.TypeTaskAssigned, recent[0].Type, "newest first")
	require.Equal(t, "task-001", recent[0].TaskID)
	require.Equal(t, events.TypeAgentRegistered, recent[1].Type)
}

func TestEventLog_AttachPersistsBrokerEvents(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "foreman.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	el := NewEventLog(db)
	broker := pubsub.NewBroker[events.Event]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	el.Attach(ctx, broker)

	broker.Publish(events.New(events.TypeLeaseExpired, "agent-1", "task-001", "lease 7"))

	require.Eventually(t, func() bool {
		recent, err := el.Recent(context.Background(), 1)
		return err == nil && len(recent) == 1
	}, 2*time.Second, 10*time.Millisecond)

	recent, err := el.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, events.TypeLeaseExpired, recent[0].Type)
}
