package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/a3tai/mcp-pdf-formfill/internal/model"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
)

// Pool is the subset of *pgxpool.Pool the Postgres store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresSchema creates the tables used by Postgres.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'draft',
	original_file TEXT NOT NULL DEFAULT '',
	output_file   TEXT NOT NULL DEFAULT '',
	body          JSONB NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_entries (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	document_id TEXT NOT NULL,
	field_id    TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	old_value   TEXT,
	new_value   TEXT,
	actor       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_document ON audit_entries(document_id, seq);

CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	document_id   TEXT NOT NULL,
	participant   TEXT NOT NULL,
	party         TEXT NOT NULL,
	state         TEXT NOT NULL,
	connected_at  TIMESTAMPTZ NOT NULL,
	last_activity TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_document ON sessions(document_id);
`

// Postgres is a Repository backed by PostgreSQL through pgx.
type Postgres struct {
	pool Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool Pool) *Postgres {
	return &Postgres{pool: pool}
}

// OpenPostgres connects with pgxpool and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, eris.New("store: postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "store: connect postgres")
	}
	s := NewPostgres(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables if they do not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, PostgresSchema); err != nil {
		return eris.Wrap(err, "store: migrate postgres")
	}
	return nil
}

func (s *Postgres) CreateDocument(ctx context.Context, doc *model.Document) error {
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (id, name, status, original_file, output_file, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ID, doc.Name, string(doc.Status), doc.OriginalFile, doc.OutputFile, body, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "store: create document %s", doc.ID)
	}
	return nil
}

func (s *Postgres) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, status, original_file, output_file, body, created_at, updated_at
		FROM documents WHERE id = $1`, id)
	doc, err := scanPostgresDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "document %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: get document %s", id)
	}
	return doc, nil
}

func (s *Postgres) UpdateDocument(ctx context.Context, doc *model.Document) error {
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET name = $2, status = $3, original_file = $4, output_file = $5, body = $6, updated_at = $7
		WHERE id = $1`,
		doc.ID, doc.Name, string(doc.Status), doc.OriginalFile, doc.OutputFile, body, doc.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "store: update document %s", doc.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "document %s", doc.ID)
	}
	return nil
}

func (s *Postgres) ListDocuments(ctx context.Context) ([]*model.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, status, original_file, output_file, body, created_at, updated_at
		FROM documents ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "store: list documents")
	}
	defer rows.Close()

	var out []*model.Document
	for rows.Next() {
		doc, err := scanPostgresDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan document")
		}
		out = append(out, doc)
	}
	return out, eris.Wrap(rows.Err(), "store: list documents")
}

func scanPostgresDocument(row pgx.Row) (*model.Document, error) {
	var (
		doc    model.Document
		status string
		body   []byte
	)
	if err := row.Scan(&doc.ID, &doc.Name, &status, &doc.OriginalFile, &doc.OutputFile, &body, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Status = model.Status(status)
	if err := decodeBody(&doc, body); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Postgres) AppendAudit(ctx context.Context, entries ...model.AuditEntry) error {
	for _, e := range entries {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO audit_entries (id, document_id, field_id, action, old_value, new_value, actor, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.DocumentID, e.FieldID, string(e.Action), e.OldValue, e.NewValue, e.Actor, e.Timestamp,
		)
		if err != nil {
			return eris.Wrapf(err, "store: append audit %s", e.ID)
		}
	}
	return nil
}

func (s *Postgres) ListAudit(ctx context.Context, documentID string) ([]model.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, field_id, action, old_value, new_value, actor, created_at
		FROM audit_entries WHERE document_id = $1 ORDER BY seq`, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "store: list audit %s", documentID)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var (
			e      model.AuditEntry
			action string
		)
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.FieldID, &action, &e.OldValue, &e.NewValue, &e.Actor, &e.Timestamp); err != nil {
			return nil, eris.Wrap(err, "store: scan audit")
		}
		e.Action = model.Action(action)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "store: list audit")
}

func (s *Postgres) SaveSession(ctx context.Context, sess *model.CollaborationSession) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, document_id, participant, party, state, connected_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, last_activity = EXCLUDED.last_activity`,
		sess.ID, sess.DocumentID, sess.Participant, string(sess.Party), string(sess.State),
		sess.ConnectedAt, sess.LastActivity,
	)
	if err != nil {
		return eris.Wrapf(err, "store: save session %s", sess.ID)
	}
	return nil
}

const sessionColumns = `SELECT id, document_id, participant, party, state, connected_at, last_activity FROM sessions`

func (s *Postgres) GetSession(ctx context.Context, id string) (*model.CollaborationSession, error) {
	sessions, err := s.querySessions(ctx, sessionColumns+` WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "session %s", id)
	}
	return sessions[0], nil
}

func (s *Postgres) ListSessions(ctx context.Context, documentID string) ([]*model.CollaborationSession, error) {
	return s.querySessions(ctx, sessionColumns+` WHERE document_id = $1 ORDER BY connected_at`, documentID)
}

func (s *Postgres) ListActiveSessions(ctx context.Context) ([]*model.CollaborationSession, error) {
	return s.querySessions(ctx, sessionColumns+` WHERE state <> $1 ORDER BY connected_at`, string(model.SessionInactive))
}

func (s *Postgres) querySessions(ctx context.Context, q string, args ...any) ([]*model.CollaborationSession, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: query sessions")
	}
	defer rows.Close()

	var out []*model.CollaborationSession
	for rows.Next() {
		var (
			sess         model.CollaborationSession
			party, state string
			connected    time.Time
			active       time.Time
		)
		if err := rows.Scan(&sess.ID, &sess.DocumentID, &sess.Participant, &party, &state, &connected, &active); err != nil {
			return nil, eris.Wrap(err, "store: scan session")
		}
		sess.Party = forms.Owner(party)
		sess.State = model.SessionState(state)
		sess.ConnectedAt = connected
		sess.LastActivity = active
		out = append(out, &sess)
	}
	return out, eris.Wrap(rows.Err(), "store: query sessions")
}

func (s *Postgres) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "store: ping postgres")
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
