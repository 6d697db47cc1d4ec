package domain

import "time"

// AuditLog represents an audit event.
type AuditLog struct {
	ID        string
	UserID    string // empty when the actor is unknown (e.g. login_failure)
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
