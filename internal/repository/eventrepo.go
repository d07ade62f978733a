package repository

import (
	"context"

	"github.com/and161185/keypad-relay/internal/model"
)

// EventRepository is the append-only event log.
type EventRepository interface {
	// Append inserts a single event.
	Append(ctx context.Context, e model.Event) error
	// Recent returns up to limit events for (component, userKey), newest first.
	Recent(ctx context.Context, component, userKey string, limit int) ([]model.Event, error)
}
