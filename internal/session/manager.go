// Package session relays live field edits between the parties working on a
// document. Field mutations are serialized per document; broadcasts are
// best effort and a reconnecting client re-syncs with RequestState.
package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-pdf-formfill/internal/lock"
	"github.com/a3tai/mcp-pdf-formfill/internal/metrics"
	"github.com/a3tai/mcp-pdf-formfill/internal/model"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-formfill/internal/realtime"
	"github.com/a3tai/mcp-pdf-formfill/internal/store"
)

var (
	ErrUnknownSession      = errors.New("session: unknown session")
	ErrUnknownField        = errors.New("session: unknown field")
	ErrUnsupportedProperty = errors.New("session: unsupported property")
)

// Field properties accepted by UpdateField.
const (
	PropertyValue    = "value"
	PropertyRequired = "required"
)

// DefaultTimeout is the inactivity window after which the sweeper closes a
// session.
const DefaultTimeout = time.Hour

// FieldUpdate is a single property change sent by a session. FieldID is a
// field descriptor ID or a positioned annotation's logical name.
type FieldUpdate struct {
	FieldID  string `json:"fieldId"`
	Property string `json:"property"`
	Value    string `json:"value"`
}

// FieldState is one entry of a state snapshot.
type FieldState struct {
	Value     string    `json:"value"`
	Required  bool      `json:"required"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Snapshot is the authoritative field state of a document.
type Snapshot struct {
	DocumentID string                `json:"documentId"`
	Status     model.Status          `json:"status"`
	Fields     map[string]FieldState `json:"fields"`
}

// Session is a live connection. Events delivers what other sessions of the
// same document publish; it is closed on disconnect.
type Session struct {
	info   model.CollaborationSession
	sub    realtime.Subscription
	events chan realtime.Event
	mu     sync.Mutex
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.info.ID }

// Info returns a copy of the session record.
func (s *Session) Info() model.CollaborationSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Events returns the session's inbound event stream.
func (s *Session) Events() <-chan realtime.Event { return s.events }

// Manager owns the live sessions of this process.
type Manager struct {
	repo    store.Repository
	channel realtime.Channel
	locks   *lock.Keyed
	metrics *metrics.Metrics
	log     *zap.Logger
	timeout time.Duration
	buffer  int
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout sets the inactivity window.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithBuffer sets the per-session outbound buffer.
func WithBuffer(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.buffer = n
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager. locks must be shared with every other
// writer of document state.
func NewManager(repo store.Repository, channel realtime.Channel, locks *lock.Keyed, opts ...Option) *Manager {
	m := &Manager{
		repo:     repo,
		channel:  channel,
		locks:    locks,
		log:      zap.L(),
		timeout:  DefaultTimeout,
		buffer:   64,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens a session for participant on documentID and joins the
// document's broadcast group.
func (m *Manager) Connect(ctx context.Context, documentID, participant string, party forms.Owner) (*Session, error) {
	if !party.Valid() {
		return nil, eris.Errorf("session: invalid party %q", party)
	}
	if _, err := m.repo.GetDocument(ctx, documentID); err != nil {
		return nil, eris.Wrapf(err, "session: connect to %s", documentID)
	}

	now := m.now()
	s := &Session{
		info: model.CollaborationSession{
			ID:           uuid.NewString(),
			DocumentID:   documentID,
			Participant:  participant,
			Party:        party,
			State:        model.SessionConnecting,
			ConnectedAt:  now,
			LastActivity: now,
		},
		events: make(chan realtime.Event, m.buffer),
	}
	if err := m.repo.SaveSession(ctx, &s.info); err != nil {
		return nil, eris.Wrap(err, "session: save")
	}

	sub, err := m.channel.Subscribe(ctx, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "session: subscribe to %s", documentID)
	}
	s.sub = sub
	s.info.State = model.SessionActive
	if err := m.repo.SaveSession(ctx, &s.info); err != nil {
		_ = sub.Close()
		return nil, eris.Wrap(err, "session: save")
	}

	m.mu.Lock()
	m.sessions[s.info.ID] = s
	m.mu.Unlock()
	go m.relay(s)
	m.metrics.SessionOpened()

	m.audit(ctx, model.AuditEntry{DocumentID: documentID, Action: model.ActionSessionJoin, Actor: participant, Timestamp: now})
	m.publish(ctx, realtime.Event{
		Type:        realtime.EventUserJoined,
		DocumentID:  documentID,
		Sender:      s.info.ID,
		Participant: participant,
		Value:       string(party),
		Timestamp:   now,
	})
	m.log.Info("session connected",
		zap.String("session", s.info.ID),
		zap.String("document", documentID),
		zap.String("party", string(party)))
	return s, nil
}

// relay forwards channel events to the session, skipping its own and
// dropping when the session's buffer is full.
func (m *Manager) relay(s *Session) {
	defer close(s.events)
	for ev := range s.sub.Events() {
		if ev.Sender == s.info.ID {
			continue
		}
		select {
		case s.events <- ev:
		default:
			m.metrics.IncDropped()
			m.log.Debug("session buffer full, dropping event",
				zap.String("session", s.info.ID),
				zap.String("type", string(ev.Type)),
				zap.String("field", ev.FieldID))
		}
	}
}

// UpdateField persists a property change, audits it with the prior value
// and broadcasts it to the other sessions. Last writer wins.
func (m *Manager) UpdateField(ctx context.Context, sessionID string, u FieldUpdate) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	if u.Property == "" {
		u.Property = PropertyValue
	}
	if u.Property != PropertyValue && u.Property != PropertyRequired {
		return eris.Wrapf(ErrUnsupportedProperty, "property %q", u.Property)
	}
	info := s.Info()
	now := m.now()

	var cleared []model.FieldChange
	err = m.locks.With(ctx, info.DocumentID, func() error {
		doc, err := m.repo.GetDocument(ctx, info.DocumentID)
		if err != nil {
			return eris.Wrapf(err, "session: load %s", info.DocumentID)
		}
		if !doc.Editable() {
			return eris.Wrapf(model.ErrNotEditable, "document %s is %s", doc.ID, doc.Status)
		}
		old, err := apply(doc, u, now)
		if err != nil {
			return err
		}
		if u.Property == PropertyValue {
			cleared = doc.ClearRadioSiblings(doc.Field(u.FieldID), now)
		}
		action := model.ActionUpdateField
		if u.Property == PropertyRequired {
			action = model.ActionUpdateFlag
		}
		entries := []model.AuditEntry{{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			FieldID:    u.FieldID,
			Action:     action,
			OldValue:   model.Ptr(old),
			NewValue:   model.Ptr(u.Value),
			Actor:      info.Participant,
			Timestamp:  now,
		}}
		for _, ch := range cleared {
			entries = append(entries, model.AuditEntry{
				ID:         uuid.NewString(),
				DocumentID: doc.ID,
				FieldID:    ch.Key,
				Action:     model.ActionUpdateField,
				OldValue:   model.Ptr(ch.OldValue),
				NewValue:   model.Ptr(ch.NewValue),
				Actor:      info.Participant,
				Timestamp:  now,
			})
		}
		if err := m.repo.AppendAudit(ctx, entries...); err != nil {
			return eris.Wrap(err, "session: audit")
		}
		return eris.Wrapf(m.repo.UpdateDocument(ctx, doc), "session: save %s", doc.ID)
	})
	if err != nil {
		return err
	}

	m.touch(ctx, s, now)
	m.publish(ctx, realtime.Event{
		Type:        realtime.EventFieldUpdate,
		DocumentID:  info.DocumentID,
		Sender:      sessionID,
		Participant: info.Participant,
		FieldID:     u.FieldID,
		Property:    u.Property,
		Value:       u.Value,
		Timestamp:   now,
	})
	for _, ch := range cleared {
		m.publish(ctx, realtime.Event{
			Type:        realtime.EventFieldUpdate,
			DocumentID:  info.DocumentID,
			Sender:      sessionID,
			Participant: info.Participant,
			FieldID:     ch.Key,
			Property:    PropertyValue,
			Value:       ch.NewValue,
			Timestamp:   now,
		})
	}
	return nil
}

// apply mutates doc and returns the previous value of the property.
func apply(doc *model.Document, u FieldUpdate, now time.Time) (string, error) {
	if f := doc.Field(u.FieldID); f != nil {
		switch u.Property {
		case PropertyRequired:
			old := strconv.FormatBool(f.Required)
			f.Required = forms.ParseBool(u.Value)
			doc.Touch(f.ID, now)
			return old, nil
		default:
			old := f.Value
			f.Value = u.Value
			doc.Touch(f.ID, now)
			return old, nil
		}
	}
	if a := doc.Annotation(u.FieldID); a != nil {
		var old string
		switch u.Property {
		case PropertyRequired:
			old = strconv.FormatBool(a.Required)
			a.Required = forms.ParseBool(u.Value)
		default:
			old = a.Value
			a.Value = u.Value
			a.UpdatedAt = now
		}
		doc.Touch(a.LogicalName, now)
		return old, nil
	}
	return "", eris.Wrapf(ErrUnknownField, "field %q in document %s", u.FieldID, doc.ID)
}

// Focus relays a focus or blur event for presence display. Nothing is
// persisted.
func (m *Manager) Focus(ctx context.Context, sessionID, fieldID string, focused bool) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	info := s.Info()
	typ := realtime.EventFieldBlur
	if focused {
		typ = realtime.EventFieldFocus
	}
	now := m.now()
	m.touch(ctx, s, now)
	m.publish(ctx, realtime.Event{
		Type:        typ,
		DocumentID:  info.DocumentID,
		Sender:      sessionID,
		Participant: info.Participant,
		FieldID:     fieldID,
		Timestamp:   now,
	})
	return nil
}

// RequestState returns the current field values with their last update
// times. Reads are not serialized behind writers.
func (m *Manager) RequestState(ctx context.Context, sessionID string) (*Snapshot, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	info := s.Info()
	doc, err := m.repo.GetDocument(ctx, info.DocumentID)
	if err != nil {
		return nil, eris.Wrapf(err, "session: load %s", info.DocumentID)
	}
	m.touch(ctx, s, m.now())
	return SnapshotOf(doc), nil
}

// SnapshotOf builds the state snapshot of doc.
func SnapshotOf(doc *model.Document) *Snapshot {
	snap := &Snapshot{
		DocumentID: doc.ID,
		Status:     doc.Status,
		Fields:     make(map[string]FieldState, len(doc.Fields)+len(doc.Annotations)),
	}
	for _, f := range doc.Fields {
		snap.Fields[f.ID] = FieldState{Value: f.Value, Required: f.Required, UpdatedAt: doc.FieldUpdatedAt[f.ID]}
	}
	for _, a := range doc.Annotations {
		snap.Fields[a.LogicalName] = FieldState{Value: a.Value, Required: a.Required, UpdatedAt: doc.FieldUpdatedAt[a.LogicalName]}
	}
	return snap
}

// Disconnect stops relaying to the session and marks it inactive. Document
// state is never touched.
func (m *Manager) Disconnect(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return eris.Wrapf(ErrUnknownSession, "id %s", sessionID)
	}
	m.close(ctx, s, m.now())
	return nil
}

func (m *Manager) close(ctx context.Context, s *Session, now time.Time) {
	_ = s.sub.Close()

	s.mu.Lock()
	s.info.State = model.SessionInactive
	info := s.info
	s.mu.Unlock()

	if err := m.repo.SaveSession(ctx, &info); err != nil {
		m.log.Warn("failed to persist session state", zap.String("session", info.ID), zap.Error(err))
	}
	m.metrics.SessionClosed()
	m.audit(ctx, model.AuditEntry{DocumentID: info.DocumentID, Action: model.ActionSessionLeave, Actor: info.Participant, Timestamp: now})
	m.publish(ctx, realtime.Event{
		Type:        realtime.EventUserLeft,
		DocumentID:  info.DocumentID,
		Sender:      info.ID,
		Participant: info.Participant,
		Timestamp:   now,
	})
	m.log.Info("session closed", zap.String("session", info.ID), zap.String("document", info.DocumentID))
}

// Sweep closes every session idle for longer than the timeout at now,
// including records left active by other processes. It returns how many
// sessions were closed.
func (m *Manager) Sweep(ctx context.Context, now time.Time) int {
	closed := 0

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		s.mu.Lock()
		stale := s.info.IdleSince(now, m.timeout)
		s.mu.Unlock()
		if stale {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for _, s := range idle {
		m.close(ctx, s, now)
		closed++
	}

	persisted, err := m.repo.ListActiveSessions(ctx)
	if err != nil {
		m.log.Warn("sweep: list sessions", zap.Error(err))
		return closed
	}
	for _, rec := range persisted {
		if !rec.IdleSince(now, m.timeout) {
			continue
		}
		m.mu.Lock()
		_, live := m.sessions[rec.ID]
		m.mu.Unlock()
		if live {
			continue
		}
		rec.State = model.SessionInactive
		if err := m.repo.SaveSession(ctx, rec); err != nil {
			m.log.Warn("sweep: save session", zap.String("session", rec.ID), zap.Error(err))
			continue
		}
		closed++
	}
	if closed > 0 {
		m.log.Info("swept idle sessions", zap.Int("count", closed))
	}
	return closed
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep(ctx, m.now())
		}
	}
}

// Close disconnects every live session.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, s := range all {
		m.close(ctx, s, m.now())
	}
}

// Sessions lists the live sessions attached to documentID.
func (m *Manager) Sessions(documentID string) []model.CollaborationSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CollaborationSession
	for _, s := range m.sessions {
		if info := s.Info(); info.DocumentID == documentID {
			out = append(out, info)
		}
	}
	return out
}

// Poll returns up to limit buffered events for the session without waiting.
// Polling counts as activity, so a participant that only listens is not
// swept as idle.
func (m *Manager) Poll(ctx context.Context, sessionID string, limit int) ([]realtime.Event, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	m.touch(ctx, s, m.now())
	return drain(s.Events(), limit), nil
}

func drain(ch <-chan realtime.Event, limit int) []realtime.Event {
	var out []realtime.Event
	for len(out) < limit {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
	return out
}

func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownSession, "id %s", id)
	}
	return s, nil
}

func (m *Manager) touch(ctx context.Context, s *Session, now time.Time) {
	s.mu.Lock()
	s.info.LastActivity = now
	info := s.info
	s.mu.Unlock()
	if err := m.repo.SaveSession(ctx, &info); err != nil {
		m.log.Warn("failed to persist session activity", zap.String("session", info.ID), zap.Error(err))
	}
}

func (m *Manager) publish(ctx context.Context, ev realtime.Event) {
	if err := m.channel.Publish(ctx, ev); err != nil {
		m.log.Warn("broadcast failed",
			zap.String("document", ev.DocumentID),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
		return
	}
	m.metrics.IncBroadcast(string(ev.Type))
}

func (m *Manager) audit(ctx context.Context, e model.AuditEntry) {
	e.ID = uuid.NewString()
	if err := m.repo.AppendAudit(ctx, e); err != nil {
		m.log.Warn("failed to append audit entry",
			zap.String("document", e.DocumentID),
			zap.String("action", string(e.Action)),
			zap.Error(err))
	}
}
