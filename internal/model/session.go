package model

import (
	"time"

	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
)

// SessionState is the connection state of a collaboration session.
type SessionState string

const (
	SessionConnecting SessionState = "connecting"
	SessionActive     SessionState = "active"
	SessionInactive   SessionState = "inactive"
)

// CollaborationSession is one participant's live connection to a document.
type CollaborationSession struct {
	ID           string       `json:"id"`
	DocumentID   string       `json:"documentId"`
	Participant  string       `json:"participant"`
	Party        forms.Owner  `json:"party"`
	State        SessionState `json:"state"`
	ConnectedAt  time.Time    `json:"connectedAt"`
	LastActivity time.Time    `json:"lastActivity"`
}

// Active reports whether the session is still relaying events.
func (s *CollaborationSession) Active() bool {
	return s.State != SessionInactive
}

// IdleSince reports whether the session has been quiet for longer than
// timeout at now.
func (s *CollaborationSession) IdleSince(now time.Time, timeout time.Duration) bool {
	return s.Active() && now.Sub(s.LastActivity) > timeout
}
