package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/zjrosen/foreman/internal/events"
	"github.com/zjrosen/foreman/internal/log"
	"github.com/zjrosen/foreman/internal/pubsub"
)

// EventLog is the durable sink for coordination events. It exists for
// post-crash forensics; nothing in the request path reads it.
type EventLog struct {
	db *DB
}

// NewEventLog wires the sink to an open database.
func NewEventLog(db *DB) *EventLog {
	return &EventLog{db: db}
}

// Append persists one event.
func (l *EventLog) Append(ctx context.Context, e events.Event) error {
	_, err := l.db.conn.ExecContext(ctx,
		`INSERT INTO events (id, type, agent_id, task_id, detail, occurred_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.AgentID, e.TaskID, e.Detail, e.OccurredAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (l *EventLog) Recent(ctx context.Context, limit int) ([]events.Event, error) {
	rows, err := l.db.conn.QueryContext(ctx,
		`SELECT id, type, agent_id, task_id, detail, occurred_at FROM events
		 ORDER BY occurred_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []events.Event
	for rows.Next() {
		var (
			e  events.Event
			ts int64
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.AgentID, &e.TaskID, &e.Detail, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.OccurredAt = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Attach subscribes to the broker and persists every event until ctx is
// done. A persist failure is logged and the event dropped; durability of
// the forensic log never gates the operation that produced the event.
func (l *EventLog) Attach(ctx context.Context, broker *pubsub.Broker[events.Event]) {
	ch := broker.Subscribe(ctx)
	go func() {
		for ev := range ch {
			if err := l.Append(ctx, ev.Payload); err != nil {
				log.ErrorErr(log.CatDB, "Event persist failed", err, "type", ev.Payload.Type)
			}
		}
	}()
}
