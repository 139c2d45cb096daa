package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization decisions
	EventTypeAccessCheck  EventType = "authz.access_check"
	EventTypeAccessDenied EventType = "authz.access_denied"

	// Permission mutations
	EventTypePermissionGrant   EventType = "authz.permission_grant"
	EventTypePermissionRevoke  EventType = "authz.permission_revoke"
	EventTypePermissionReplace EventType = "authz.permission_replace"

	// Securable lifecycle
	EventTypeObjectDelete    EventType = "authz.object_delete"
	EventTypePrincipalDelete EventType = "authz.principal_delete"

	// Hierarchy analysis
	EventTypeHierarchyDiff EventType = "authz.hierarchy_diff"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event represents a single audit log entry
type Event struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Subject of the operation
	Principal string `json:"principal,omitempty"`
	Object    string `json:"object,omitempty"`

	// Permissions involved, sorted where it matters
	Permissions []string `json:"permissions,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates an event with an id and timestamp populated.
func NewEvent(eventType EventType, status EventStatus) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		Metadata:  make(map[string]interface{}),
	}
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter represents filters for searching recorded audit events
type SearchFilter struct {
	EventTypes []EventType
	Status     *EventStatus
	Principal  string
	Object     string

	StartTime *time.Time
	EndTime   *time.Time

	Limit int
}

func (f SearchFilter) matches(e *Event) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if e.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Status != nil && e.Status != *f.Status {
		return false
	}
	if f.Principal != "" && e.Principal != f.Principal {
		return false
	}
	if f.Object != "" && e.Object != f.Object {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}
