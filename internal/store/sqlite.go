package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/a3tai/mcp-pdf-formfill/internal/model"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'draft',
	original_file TEXT NOT NULL DEFAULT '',
	output_file   TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL DEFAULT '{}',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_entries (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	document_id TEXT NOT NULL,
	field_id    TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	old_value   TEXT,
	new_value   TEXT,
	actor       TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_document ON audit_entries(document_id, seq);

CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	document_id   TEXT NOT NULL,
	participant   TEXT NOT NULL,
	party         TEXT NOT NULL,
	state         TEXT NOT NULL,
	connected_at  INTEGER NOT NULL,
	last_activity INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_document ON sessions(document_id);
CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
`

// SQLite is a Repository backed by a single SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path with WAL
// journaling and applies the schema. ":memory:" gives a private in-memory
// database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, eris.New("store: sqlite path is required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "store: open sqlite")
	}
	// Single writer; also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables if they do not exist.
func (s *SQLite) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return eris.Wrap(err, "store: migrate sqlite")
	}
	return nil
}

func (s *SQLite) CreateDocument(ctx context.Context, doc *model.Document) error {
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, name, status, original_file, output_file, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Name, string(doc.Status), doc.OriginalFile, doc.OutputFile, string(body),
		doc.CreatedAt.UnixNano(), doc.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return eris.Wrapf(err, "store: create document %s", doc.ID)
	}
	return nil
}

func (s *SQLite) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, original_file, output_file, body, created_at, updated_at
		FROM documents WHERE id = ?`, id)
	doc, err := scanSQLiteDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "document %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: get document %s", id)
	}
	return doc, nil
}

func (s *SQLite) UpdateDocument(ctx context.Context, doc *model.Document) error {
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET name = ?, status = ?, original_file = ?, output_file = ?, body = ?, updated_at = ?
		WHERE id = ?`,
		doc.Name, string(doc.Status), doc.OriginalFile, doc.OutputFile, string(body), doc.UpdatedAt.UnixNano(), doc.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "store: update document %s", doc.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return eris.Wrapf(ErrNotFound, "document %s", doc.ID)
	}
	return nil
}

func (s *SQLite) ListDocuments(ctx context.Context) ([]*model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, status, original_file, output_file, body, created_at, updated_at
		FROM documents ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "store: list documents")
	}
	defer rows.Close()

	var out []*model.Document
	for rows.Next() {
		doc, err := scanSQLiteDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan document")
		}
		out = append(out, doc)
	}
	return out, eris.Wrap(rows.Err(), "store: list documents")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteDocument(row scanner) (*model.Document, error) {
	var (
		doc                  model.Document
		status, body         string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&doc.ID, &doc.Name, &status, &doc.OriginalFile, &doc.OutputFile, &body, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	doc.Status = model.Status(status)
	doc.CreatedAt = time.Unix(0, createdAt).UTC()
	doc.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if err := decodeBody(&doc, []byte(body)); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *SQLite) AppendAudit(ctx context.Context, entries ...model.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "store: begin audit")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO audit_entries (id, document_id, field_id, action, old_value, new_value, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "store: prepare audit")
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID, e.DocumentID, e.FieldID, string(e.Action),
			nullString(e.OldValue), nullString(e.NewValue), e.Actor, e.Timestamp.UnixNano()); err != nil {
			return eris.Wrapf(err, "store: append audit %s", e.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "store: commit audit")
}

func (s *SQLite) ListAudit(ctx context.Context, documentID string) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, field_id, action, old_value, new_value, actor, created_at
		FROM audit_entries WHERE document_id = ? ORDER BY seq`, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "store: list audit %s", documentID)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var (
			e          model.AuditEntry
			action     string
			oldV, newV sql.NullString
			ts         int64
		)
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.FieldID, &action, &oldV, &newV, &e.Actor, &ts); err != nil {
			return nil, eris.Wrap(err, "store: scan audit")
		}
		e.Action = model.Action(action)
		e.OldValue = stringPtr(oldV)
		e.NewValue = stringPtr(newV)
		e.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "store: list audit")
}

func (s *SQLite) SaveSession(ctx context.Context, sess *model.CollaborationSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, document_id, participant, party, state, connected_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, last_activity = excluded.last_activity`,
		sess.ID, sess.DocumentID, sess.Participant, string(sess.Party), string(sess.State),
		sess.ConnectedAt.UnixNano(), sess.LastActivity.UnixNano(),
	)
	if err != nil {
		return eris.Wrapf(err, "store: save session %s", sess.ID)
	}
	return nil
}

func (s *SQLite) GetSession(ctx context.Context, id string) (*model.CollaborationSession, error) {
	sessions, err := s.querySessions(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "session %s", id)
	}
	return sessions[0], nil
}

func (s *SQLite) ListSessions(ctx context.Context, documentID string) ([]*model.CollaborationSession, error) {
	return s.querySessions(ctx, `WHERE document_id = ?`, documentID)
}

func (s *SQLite) ListActiveSessions(ctx context.Context) ([]*model.CollaborationSession, error) {
	return s.querySessions(ctx, `WHERE state != ?`, string(model.SessionInactive))
}

func (s *SQLite) querySessions(ctx context.Context, where string, args ...any) ([]*model.CollaborationSession, error) {
	q := strings.Join([]string{
		`SELECT id, document_id, participant, party, state, connected_at, last_activity FROM sessions`,
		where, `ORDER BY connected_at`,
	}, " ")
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: query sessions")
	}
	defer rows.Close()

	var out []*model.CollaborationSession
	for rows.Next() {
		var (
			sess              model.CollaborationSession
			party, state      string
			connected, active int64
		)
		if err := rows.Scan(&sess.ID, &sess.DocumentID, &sess.Participant, &party, &state, &connected, &active); err != nil {
			return nil, eris.Wrap(err, "store: scan session")
		}
		sess.Party = forms.Owner(party)
		sess.State = model.SessionState(state)
		sess.ConnectedAt = time.Unix(0, connected).UTC()
		sess.LastActivity = time.Unix(0, active).UTC()
		out = append(out, &sess)
	}
	return out, eris.Wrap(rows.Err(), "store: query sessions")
}

func (s *SQLite) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "store: ping sqlite")
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
