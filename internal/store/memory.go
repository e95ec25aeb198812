package store

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/a3tai/mcp-pdf-formfill/internal/model"
)

// Memory is an in-process Repository. Values are copied on the way in and
// out so callers never share state with the store.
type Memory struct {
	mu        sync.RWMutex
	documents map[string]*model.Document
	audit     map[string][]model.AuditEntry
	sessions  map[string]*model.CollaborationSession
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		documents: make(map[string]*model.Document),
		audit:     make(map[string][]model.AuditEntry),
		sessions:  make(map[string]*model.CollaborationSession),
	}
}

func (m *Memory) CreateDocument(_ context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.documents[doc.ID]; exists {
		return eris.Errorf("store: document %s already exists", doc.ID)
	}
	m.documents[doc.ID] = doc.Clone()
	return nil
}

func (m *Memory) GetDocument(_ context.Context, id string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "document %s", id)
	}
	return doc.Clone(), nil
}

func (m *Memory) UpdateDocument(_ context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[doc.ID]; !ok {
		return eris.Wrapf(ErrNotFound, "document %s", doc.ID)
	}
	m.documents[doc.ID] = doc.Clone()
	return nil
}

func (m *Memory) ListDocuments(_ context.Context) ([]*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Document, 0, len(m.documents))
	for _, doc := range m.documents {
		out = append(out, doc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) AppendAudit(_ context.Context, entries ...model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.audit[e.DocumentID] = append(m.audit[e.DocumentID], e)
	}
	return nil
}

func (m *Memory) ListAudit(_ context.Context, documentID string) ([]model.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.AuditEntry(nil), m.audit[documentID]...), nil
}

func (m *Memory) SaveSession(_ context.Context, s *model.CollaborationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.sessions[s.ID] = &c
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*model.CollaborationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "session %s", id)
	}
	c := *s
	return &c, nil
}

func (m *Memory) ListSessions(_ context.Context, documentID string) ([]*model.CollaborationSession, error) {
	return m.filterSessions(func(s *model.CollaborationSession) bool { return s.DocumentID == documentID }), nil
}

func (m *Memory) ListActiveSessions(_ context.Context) ([]*model.CollaborationSession, error) {
	return m.filterSessions(func(s *model.CollaborationSession) bool { return s.Active() }), nil
}

func (m *Memory) filterSessions(keep func(*model.CollaborationSession) bool) []*model.CollaborationSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.CollaborationSession
	for _, s := range m.sessions {
		if keep(s) {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
