package postgres

import (
	"context"
	"time"

	"github.com/and161185/keypad-relay/internal/model"
)

// EventRepo implements EventRepository using PostgreSQL.
type EventRepo struct{ db *DB }

// NewEventRepo constructs an event repository.
func NewEventRepo(db *DB) *EventRepo { return &EventRepo{db: db} }

// Append inserts one event row.
func (r *EventRepo) Append(ctx context.Context, e model.Event) error {
	const q = `
INSERT INTO events (user_key, component, value, event_time)
VALUES ($1, $2, $3, $4)`
	_, err := r.db.Pool.Exec(ctx, q, e.UserKey, e.Component, e.Value, e.EventTime)
	return err
}

// Recent returns the newest events for the exact (component, user_key) pair.
func (r *EventRepo) Recent(ctx context.Context, component, userKey string, limit int) ([]model.Event, error) {
	const q = `
SELECT user_key, component, value, event_time
FROM events
WHERE component=$1 AND user_key=$2
ORDER BY event_time DESC, id DESC
LIMIT $3`
	rows, err := r.db.Pool.Query(ctx, q, component, userKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Event{}
	for rows.Next() {
		var (
			e  model.Event
			ts time.Time
		)
		if err := rows.Scan(&e.UserKey, &e.Component, &e.Value, &ts); err != nil {
			return nil, err
		}
		e.EventTime = ts.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
