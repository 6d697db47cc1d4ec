package telemetry

import (
	"context"
	"time"
)

// Event is a single telemetry record: an RPC outcome or an auth-core event.
type Event struct {
	UserID    string
	EventType string
	Source    string
	Metadata  []byte // JSON
	CreatedAt time.Time
}

// EventEmitter emits telemetry events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}
