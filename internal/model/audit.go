package model

import "time"

// Action names a state-changing operation recorded in the audit trail.
type Action string

const (
	ActionUpload       Action = "upload"
	ActionAssignOwner  Action = "assign_owner"
	ActionUpdateField  Action = "update_field"
	ActionUpdateFlag   Action = "update_required"
	ActionHandoff      Action = "handoff"
	ActionFill         Action = "fill"
	ActionSkip         Action = "skip"
	ActionFinalize     Action = "finalize"
	ActionArchive      Action = "archive"
	ActionSessionJoin  Action = "session_join"
	ActionSessionLeave Action = "session_leave"
)

// AuditEntry is one append-only audit row.
type AuditEntry struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	FieldID    string    `json:"fieldId,omitempty"`
	Action     Action    `json:"action"`
	OldValue   *string   `json:"oldValue,omitempty"`
	NewValue   *string   `json:"newValue,omitempty"`
	Actor      string    `json:"actor"`
	Timestamp  time.Time `json:"timestamp"`
}

// Ptr returns a pointer to s, for the optional audit values.
func Ptr(s string) *string {
	return &s
}
