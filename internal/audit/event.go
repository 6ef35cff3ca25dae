// Package audit records security-relevant occurrences: authentication
// failures, filtered requests, and configuration reloads.
//
// Events carry counts and identifiers, never document field values. The
// enforcement layer's indistinguishability guarantee extends to the audit
// trail: an event must not let an operator-readable log become a side channel
// for protected content.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event
type EventType string

const (
	EventTypeAuthFailure  EventType = "auth_failure"
	EventTypeAccessScoped EventType = "access_scoped"
	EventTypeConfigReload EventType = "config_reload"
	EventTypeIndexChange  EventType = "index_change"
	EventTypeStartup      EventType = "system_startup"
	EventTypeShutdown     EventType = "system_shutdown"
)

// Event is one audit record.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	EventID   string    `json:"event_id"`
	RequestID string    `json:"request_id,omitempty"`

	Principal string `json:"principal,omitempty"`
	Index     string `json:"index,omitempty"`
	Operation string `json:"operation,omitempty"`

	// FilterKind is the effective-filter outcome (unrestricted, predicate,
	// deny_all) for access_scoped events.
	FilterKind string `json:"filter_kind,omitempty"`
	// Suppressed is how many candidate documents the filter removed from the
	// response. A count only; the documents themselves are never logged.
	Suppressed int `json:"suppressed,omitempty"`

	Detail string `json:"detail,omitempty"`
}

func newEventID() string {
	return uuid.NewString()
}
