// Package model defines domain entities used by services and repositories.
package model

import "time"

// Well-known event components queried by the panel.
const (
	ComponentFrontDoor = "FRONT_DOOR"
	ComponentState     = "STATE"
)

// User binds a platform account to the capability token issued at enrollment.
type User struct {
	UserKey   string // opaque, unique; the only credential devices present
	Account   string // platform-issued account id
	CreatedAt time.Time
}

// Event is a single append-only log entry.
type Event struct {
	UserKey   string
	Component string
	Value     string
	EventTime time.Time // assigned by the server on append
}

// Record exposes the event as a flat property list for external encoding.
func (e Event) Record() Record {
	return Record{
		{Name: "user_key", Value: String(e.UserKey)},
		{Name: "component", Value: String(e.Component)},
		{Name: "value", Value: String(e.Value)},
		{Name: "event_time", Value: Timestamp(e.EventTime)},
	}
}
