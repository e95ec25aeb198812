// Package store persists documents, audit entries and collaboration sessions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/a3tai/mcp-pdf-formfill/internal/model"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
)

// ErrNotFound is returned when a document or session does not exist.
var ErrNotFound = errors.New("store: not found")

// Repository is the CRUD surface the engine needs. Audit entries are
// append-only: there is no update or delete.
type Repository interface {
	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	UpdateDocument(ctx context.Context, doc *model.Document) error
	ListDocuments(ctx context.Context) ([]*model.Document, error)

	AppendAudit(ctx context.Context, entries ...model.AuditEntry) error
	ListAudit(ctx context.Context, documentID string) ([]model.AuditEntry, error)

	SaveSession(ctx context.Context, s *model.CollaborationSession) error
	GetSession(ctx context.Context, id string) (*model.CollaborationSession, error)
	ListSessions(ctx context.Context, documentID string) ([]*model.CollaborationSession, error)
	ListActiveSessions(ctx context.Context) ([]*model.CollaborationSession, error)

	Ping(ctx context.Context) error
	Close() error
}

// documentBody is the JSON column holding a document's field state.
type documentBody struct {
	Fields         []forms.FieldDescriptor `json:"fields"`
	Annotations    []model.AnnotationValue `json:"annotations"`
	FieldUpdatedAt map[string]time.Time    `json:"fieldUpdatedAt,omitempty"`
	Metadata       map[string]string       `json:"metadata,omitempty"`
}

func encodeBody(doc *model.Document) ([]byte, error) {
	b, err := json.Marshal(documentBody{
		Fields:         doc.Fields,
		Annotations:    doc.Annotations,
		FieldUpdatedAt: doc.FieldUpdatedAt,
		Metadata:       doc.Metadata,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "store: encode document %s", doc.ID)
	}
	return b, nil
}

func decodeBody(doc *model.Document, data []byte) error {
	var body documentBody
	if err := json.Unmarshal(data, &body); err != nil {
		return eris.Wrapf(err, "store: decode document %s", doc.ID)
	}
	doc.Fields = body.Fields
	doc.Annotations = body.Annotations
	doc.FieldUpdatedAt = body.FieldUpdatedAt
	doc.Metadata = body.Metadata
	return nil
}

// New opens the repository selected by driver: "memory", "sqlite" or
// "postgres".
func New(ctx context.Context, driver, dsn string) (Repository, error) {
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(ctx, dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	}
	return nil, eris.Errorf("store: unknown driver %q", driver)
}
