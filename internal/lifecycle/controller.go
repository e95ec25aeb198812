// Package lifecycle drives a document from upload to archive:
//
//	draft -> in_progress -> completed -> archived
//
// Every mutation runs under the document's lock, shared with the session
// manager, so field writes are serialized per document.
package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-pdf-formfill/internal/blob"
	"github.com/a3tai/mcp-pdf-formfill/internal/lock"
	"github.com/a3tai/mcp-pdf-formfill/internal/mapping"
	"github.com/a3tai/mcp-pdf-formfill/internal/metrics"
	"github.com/a3tai/mcp-pdf-formfill/internal/model"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-formfill/internal/store"
)

var (
	ErrInvalidTransition = errors.New("lifecycle: invalid status transition")
	// ErrReadOnly is returned for field mutations of a completed or archived
	// document.
	ErrReadOnly     = model.ErrNotEditable
	ErrNotOwner     = errors.New("lifecycle: field belongs to the other party")
	ErrOwnerLocked  = errors.New("lifecycle: field already has a value")
	ErrNotHandedOff = errors.New("lifecycle: document has not been handed off")
	ErrUnknownField = errors.New("lifecycle: unknown field")
	ErrTooLarge     = errors.New("lifecycle: file too large")
)

var validTransitions = map[model.Status][]model.Status{
	model.StatusDraft:      {model.StatusInProgress},
	model.StatusInProgress: {model.StatusInProgress, model.StatusCompleted},
	model.StatusCompleted:  {model.StatusArchived},
}

func canTransition(from, to model.Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Controller implements the document lifecycle over a repository and a
// blob store.
type Controller struct {
	repo        store.Repository
	blobs       blob.Store
	locks       *lock.Keyed
	table       *mapping.Table
	filler      *forms.Filler
	metrics     *metrics.Metrics
	log         *zap.Logger
	now         func() time.Time
	maxFileSize int64
}

// Option configures a Controller.
type Option func(*Controller)

// WithTable sets the mapping table. The embedded default table is used
// otherwise.
func WithTable(t *mapping.Table) Option {
	return func(c *Controller) { c.table = t }
}

func WithFiller(f *forms.Filler) Option {
	return func(c *Controller) { c.filler = f }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithMaxFileSize rejects uploads larger than n bytes. Zero disables the
// check.
func WithMaxFileSize(n int64) Option {
	return func(c *Controller) { c.maxFileSize = n }
}

// NewController wires a controller. locks must be the same instance the
// session manager uses.
func NewController(repo store.Repository, blobs blob.Store, locks *lock.Keyed, opts ...Option) *Controller {
	c := &Controller{
		repo:  repo,
		blobs: blobs,
		locks: locks,
		log:   zap.L(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.table == nil {
		c.table = mapping.DefaultTable()
	}
	if c.filler == nil {
		c.filler = forms.NewFiller(forms.WithLogger(c.log))
	}
	return c
}

// Table returns the mapping table in use.
func (c *Controller) Table() *mapping.Table { return c.table }

// Upload detects the form fields of data, applies the table's owner and
// required settings, seeds the positioned annotations and stores the
// original bytes. Detection failures are fatal and nothing is persisted.
func (c *Controller) Upload(ctx context.Context, name string, data []byte) (*model.Document, error) {
	if c.maxFileSize > 0 && int64(len(data)) > c.maxFileSize {
		return nil, eris.Wrapf(ErrTooLarge, "%d bytes exceeds %d", len(data), c.maxFileSize)
	}

	fields, err := forms.Detect(data)
	c.metrics.ObserveDetection(err)
	if err != nil {
		return nil, err
	}
	pages, err := forms.PageCount(data)
	if err != nil {
		return nil, err
	}

	overridden := c.table.ApplyOverrides(fields)
	if stale := c.table.Validate(fields, pages); len(stale) > 0 {
		for _, s := range stale {
			c.log.Warn("stale mapping", zap.String("document", name), zap.String("problem", s.String()))
		}
	}

	now := c.now()
	id := uuid.NewString()
	doc := &model.Document{
		ID:           id,
		Name:         name,
		Status:       model.StatusDraft,
		OriginalFile: blob.OriginalKey(id),
		Fields:       fields,
		Metadata: map[string]string{
			model.MetaPageCount: strconv.Itoa(pages),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, a := range c.table.PositionedAnnotations() {
		// An annotation the fill could never place would otherwise block
		// finalize, or silently drop its value.
		if !mapping.PageInRange(a.Page, pages) {
			c.log.Warn("annotation page out of range, not seeded",
				zap.String("document", name),
				zap.String("annotation", a.LogicalName),
				zap.Int("page", a.Page),
				zap.Int("pages", pages))
			continue
		}
		doc.Annotations = append(doc.Annotations, model.AnnotationValue{PositionedAnnotation: a})
	}

	if err := c.blobs.Create(ctx, doc.OriginalFile, data); err != nil {
		return nil, eris.Wrap(err, "lifecycle: store original")
	}
	if err := c.repo.CreateDocument(ctx, doc); err != nil {
		return nil, eris.Wrap(err, "lifecycle: create document")
	}
	c.appendAudit(ctx, model.AuditEntry{
		DocumentID: id,
		Action:     model.ActionUpload,
		NewValue:   model.Ptr(name),
		Actor:      "system",
		Timestamp:  now,
	})

	c.log.Info("document uploaded",
		zap.String("document", id),
		zap.String("name", name),
		zap.Int("fields", len(fields)),
		zap.Int("mapped", overridden),
		zap.Int("annotations", len(doc.Annotations)))
	return doc, nil
}

// AssignOwners records explicit owner assignments keyed by field ID or
// annotation name and moves a draft to in_progress. A field that already
// has a value keeps its owner.
func (c *Controller) AssignOwners(ctx context.Context, docID string, overrides map[string]forms.Owner) (*model.Document, error) {
	var out *model.Document
	err := c.mutate(ctx, docID, func(doc *model.Document, now time.Time) ([]model.AuditEntry, error) {
		if !doc.Editable() {
			return nil, eris.Wrapf(ErrReadOnly, "document %s is %s", doc.ID, doc.Status)
		}
		var entries []model.AuditEntry
		for _, key := range sortedKeys(overrides) {
			owner := overrides[key]
			if !owner.Valid() {
				return nil, eris.Errorf("lifecycle: invalid owner %q for %s", owner, key)
			}
			old, err := assignOwner(doc, key, owner)
			if err != nil {
				return nil, err
			}
			if old == owner {
				continue
			}
			entries = append(entries, model.AuditEntry{
				DocumentID: doc.ID,
				FieldID:    key,
				Action:     model.ActionAssignOwner,
				OldValue:   model.Ptr(string(old)),
				NewValue:   model.Ptr(string(owner)),
				Actor:      "system",
				Timestamp:  now,
			})
		}
		if doc.Status == model.StatusDraft {
			doc.Status = model.StatusInProgress
		}
		doc.UpdatedAt = now
		out = doc
		return entries, nil
	})
	return out, err
}

func assignOwner(doc *model.Document, key string, owner forms.Owner) (forms.Owner, error) {
	if f := doc.Field(key); f != nil {
		old := f.Owner
		if old != owner && hasValue(f) {
			return "", eris.Wrapf(ErrOwnerLocked, "field %s", f.SourceIdentifier)
		}
		f.Owner = owner
		f.OwnerSource = forms.OwnerExplicit
		return old, nil
	}
	if a := doc.Annotation(key); a != nil {
		old := a.Owner
		if old != owner && strings.TrimSpace(a.Value) != "" {
			return "", eris.Wrapf(ErrOwnerLocked, "annotation %s", key)
		}
		a.Owner = owner
		return old, nil
	}
	return "", eris.Wrapf(ErrUnknownField, "%q", key)
}

// SubmitResult reports what a submission wrote and what it skipped.
type SubmitResult struct {
	Document *model.Document      `json:"document"`
	Written  []string             `json:"written"`
	Skipped  []forms.SkippedField `json:"skipped,omitempty"`
}

// Submit writes values keyed by logical name on behalf of party. Names that
// resolve to nothing and fields owned by the other party are skipped and
// reported; neither is an error. partyB may only submit after handoff.
func (c *Controller) Submit(ctx context.Context, docID string, party forms.Owner, values map[string]string) (*SubmitResult, error) {
	if !party.Valid() {
		return nil, eris.Errorf("lifecycle: invalid party %q", party)
	}
	res := &SubmitResult{}
	err := c.mutate(ctx, docID, func(doc *model.Document, now time.Time) ([]model.AuditEntry, error) {
		if !doc.Editable() {
			return nil, eris.Wrapf(ErrReadOnly, "document %s is %s", doc.ID, doc.Status)
		}
		if party == forms.PartyB && !doc.HandedOff() {
			return nil, eris.Wrapf(ErrNotHandedOff, "document %s", doc.ID)
		}

		annotations := doc.PositionedAnnotations()
		resolver := mapping.NewResolver(c.table, doc.Fields, annotations...)
		misses := 0
		var entries []model.AuditEntry
		for _, name := range sortedKeys(values) {
			targets, err := resolver.ResolveInput(name, values[name])
			if err != nil {
				if !forms.IsKind(err, forms.KindResolutionMiss) {
					return nil, err
				}
				misses++
				res.Skipped = append(res.Skipped, forms.SkippedField{LogicalName: name, Reason: err.Error()})
				continue
			}
			for _, t := range targets {
				if owner := targetOwner(t); owner != party {
					res.Skipped = append(res.Skipped, forms.SkippedField{
						Identifier:  t.Identifier(),
						LogicalName: name,
						Reason:      ErrNotOwner.Error(),
					})
					continue
				}
				res.Written = append(res.Written, t.Identifier())
				entries = append(entries, changeEntries(doc.ID, party, now, write(doc, t, now))...)
			}
		}
		c.metrics.AddResolutionMisses(misses)
		if doc.Status == model.StatusDraft {
			doc.Status = model.StatusInProgress
		}
		res.Document = doc
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SetField writes one field or annotation by ID on behalf of party.
func (c *Controller) SetField(ctx context.Context, docID string, party forms.Owner, fieldID, value string) (*model.Document, error) {
	var out *model.Document
	err := c.mutate(ctx, docID, func(doc *model.Document, now time.Time) ([]model.AuditEntry, error) {
		if !doc.Editable() {
			return nil, eris.Wrapf(ErrReadOnly, "document %s is %s", doc.ID, doc.Status)
		}
		if party == forms.PartyB && !doc.HandedOff() {
			return nil, eris.Wrapf(ErrNotHandedOff, "document %s", doc.ID)
		}
		var t forms.Target
		if f := doc.Field(fieldID); f != nil {
			t = forms.Target{LogicalName: f.SourceIdentifier, Field: f, Value: value}
		} else if a := doc.Annotation(fieldID); a != nil {
			t = forms.Target{LogicalName: a.LogicalName, Annotation: &a.PositionedAnnotation, Value: value}
		} else {
			return nil, eris.Wrapf(ErrUnknownField, "%q", fieldID)
		}
		if targetOwner(t) != party {
			return nil, eris.Wrapf(ErrNotOwner, "field %s", t.Identifier())
		}
		changes := write(doc, t, now)
		if doc.Status == model.StatusDraft {
			doc.Status = model.StatusInProgress
		}
		out = doc
		return changeEntries(doc.ID, party, now, changes), nil
	})
	return out, err
}

func targetOwner(t forms.Target) forms.Owner {
	if t.Field != nil {
		return t.Field.Owner
	}
	return t.Annotation.Owner
}

// write stores t's value in doc and returns every value it changed: the
// target first, then any radio kids it switched off. Annotation targets may
// point at a copy, so they are looked up by name.
func write(doc *model.Document, t forms.Target, now time.Time) []model.FieldChange {
	if t.Field != nil {
		change := model.FieldChange{Key: t.Field.ID, OldValue: t.Field.Value, NewValue: t.Value}
		t.Field.Value = t.Value
		doc.Touch(t.Field.ID, now)
		return append([]model.FieldChange{change}, doc.ClearRadioSiblings(t.Field, now)...)
	}
	a := doc.Annotation(t.Annotation.LogicalName)
	change := model.FieldChange{Key: a.LogicalName, OldValue: a.Value, NewValue: t.Value}
	a.Value = t.Value
	a.UpdatedAt = now
	doc.Touch(a.LogicalName, now)
	return []model.FieldChange{change}
}

func changeEntries(docID string, party forms.Owner, now time.Time, changes []model.FieldChange) []model.AuditEntry {
	entries := make([]model.AuditEntry, 0, len(changes))
	for _, ch := range changes {
		entries = append(entries, model.AuditEntry{
			DocumentID: docID,
			FieldID:    ch.Key,
			Action:     model.ActionUpdateField,
			OldValue:   model.Ptr(ch.OldValue),
			NewValue:   model.Ptr(ch.NewValue),
			Actor:      string(party),
			Timestamp:  now,
		})
	}
	return entries
}

// Handoff passes the document from partyA to partyB. partyA's required
// fields must be complete.
func (c *Controller) Handoff(ctx context.Context, docID string) (*model.Document, error) {
	var out *model.Document
	err := c.mutate(ctx, docID, func(doc *model.Document, now time.Time) ([]model.AuditEntry, error) {
		if !doc.Editable() {
			return nil, eris.Wrapf(ErrReadOnly, "document %s is %s", doc.ID, doc.Status)
		}
		if doc.HandedOff() {
			return nil, eris.Wrapf(ErrInvalidTransition, "document %s already handed off", doc.ID)
		}
		if missing := doc.MissingRequiredFor(forms.PartyA); len(missing) > 0 {
			return nil, forms.NewValidationFailure(missing)
		}
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]string)
		}
		doc.Metadata[model.MetaHandedOff] = "true"
		if doc.Status == model.StatusDraft {
			doc.Status = model.StatusInProgress
		}
		doc.UpdatedAt = now
		out = doc
		return []model.AuditEntry{{
			DocumentID: doc.ID,
			Action:     model.ActionHandoff,
			OldValue:   model.Ptr(string(forms.PartyA)),
			NewValue:   model.Ptr(string(forms.PartyB)),
			Actor:      string(forms.PartyA),
			Timestamp:  now,
		}}, nil
	})
	return out, err
}

// FinalizeResult is the outcome of a successful finalize.
type FinalizeResult struct {
	Document    *model.Document      `json:"document"`
	OutputKey   string               `json:"outputKey"`
	FilledCount int                  `json:"filledCount"`
	Skipped     []forms.SkippedField `json:"skipped,omitempty"`
}

// Finalize checks that every required field has a value, fills the
// original and stores the output. A missing value fails with a
// ValidationFailure naming the fields and leaves the document in_progress.
func (c *Controller) Finalize(ctx context.Context, docID string) (*FinalizeResult, error) {
	res := &FinalizeResult{}
	err := c.mutate(ctx, docID, func(doc *model.Document, now time.Time) ([]model.AuditEntry, error) {
		if doc.ReadOnly() {
			return nil, eris.Wrapf(ErrReadOnly, "document %s is archived", doc.ID)
		}
		if !canTransition(doc.Status, model.StatusCompleted) {
			return nil, eris.Wrapf(ErrInvalidTransition, "%s -> %s", doc.Status, model.StatusCompleted)
		}
		if missing := doc.MissingRequired(); len(missing) > 0 {
			c.metrics.IncFinalization("validation_failure")
			return nil, forms.NewValidationFailure(missing)
		}

		filled, err := c.fill(ctx, doc)
		if err != nil {
			return nil, err
		}
		key := blob.OutputKey(doc.ID)
		if err := c.blobs.Put(ctx, key, filled.Output); err != nil {
			return nil, eris.Wrap(err, "lifecycle: store output")
		}

		doc.OutputFile = key
		doc.Status = model.StatusCompleted
		doc.UpdatedAt = now
		res.Document = doc
		res.OutputKey = key
		res.FilledCount = filled.FilledCount
		res.Skipped = filled.Skipped
		c.metrics.IncFinalization("completed")

		entries := make([]model.AuditEntry, 0, len(filled.Outcomes)+1)
		for _, o := range filled.Outcomes {
			e := model.AuditEntry{
				DocumentID: doc.ID,
				FieldID:    o.Identifier,
				Action:     model.ActionFill,
				NewValue:   model.Ptr(o.Value),
				Actor:      "system",
				Timestamp:  now,
			}
			if o.Err != nil {
				e.Action = model.ActionSkip
				e.NewValue = model.Ptr(o.Err.Error())
			}
			entries = append(entries, e)
		}
		entries = append(entries, model.AuditEntry{
			DocumentID: doc.ID,
			Action:     model.ActionFinalize,
			OldValue:   model.Ptr(string(model.StatusInProgress)),
			NewValue:   model.Ptr(string(model.StatusCompleted)),
			Actor:      "system",
			Timestamp:  now,
		})
		c.log.Info("document finalized",
			zap.String("document", doc.ID),
			zap.Int("filled", filled.FilledCount),
			zap.Int("skipped", len(filled.Skipped)))
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Render fills the original with the current values and returns the result
// without changing any state.
func (c *Controller) Render(ctx context.Context, docID string) (*forms.FillResult, error) {
	doc, err := c.Document(ctx, docID)
	if err != nil {
		return nil, err
	}
	return c.fill(ctx, doc)
}

func (c *Controller) fill(ctx context.Context, doc *model.Document) (*forms.FillResult, error) {
	original, err := c.blobs.Get(ctx, doc.OriginalFile)
	if err != nil {
		return nil, eris.Wrapf(err, "lifecycle: load original of %s", doc.ID)
	}
	start := time.Now()
	res, err := c.filler.Fill(original, Targets(doc))
	if err != nil {
		return nil, err
	}
	c.metrics.ObserveFill(res, time.Since(start))
	return res, nil
}

// Targets lists the fill targets for doc's current values. Toggles are
// included once written so that unchecking is applied; text-like fields and
// annotations only when non-blank.
func Targets(doc *model.Document) []forms.Target {
	var targets []forms.Target
	for i := range doc.Fields {
		f := &doc.Fields[i]
		if f.Type.IsToggle() {
			if _, touched := doc.FieldUpdatedAt[f.ID]; !touched && !forms.ParseBool(f.Value) {
				continue
			}
		} else if strings.TrimSpace(f.Value) == "" {
			continue
		}
		targets = append(targets, forms.Target{LogicalName: f.SourceIdentifier, Field: f, Value: f.Value})
	}
	for i := range doc.Annotations {
		a := &doc.Annotations[i]
		if strings.TrimSpace(a.Value) == "" {
			continue
		}
		targets = append(targets, forms.Target{LogicalName: a.LogicalName, Annotation: &a.PositionedAnnotation, Value: a.Value})
	}
	return targets
}

// PageText extracts the plain text of one page of the original upload. It
// reads without taking the document lock.
func (c *Controller) PageText(ctx context.Context, docID string, page int) (string, error) {
	doc, err := c.Document(ctx, docID)
	if err != nil {
		return "", err
	}
	data, err := c.blobs.Get(ctx, doc.OriginalFile)
	if err != nil {
		return "", eris.Wrapf(err, "lifecycle: load original of %s", doc.ID)
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", eris.Wrap(err, "lifecycle: open original")
	}
	if page < 1 || page > r.NumPage() {
		return "", eris.Errorf("lifecycle: page %d out of range 1-%d", page, r.NumPage())
	}
	p := r.Page(page)
	if p.V.IsNull() {
		return "", eris.Errorf("lifecycle: page %d is empty", page)
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return "", eris.Wrapf(err, "lifecycle: extract text of page %d", page)
	}
	return text, nil
}

// Output returns the filled PDF of a completed or archived document.
func (c *Controller) Output(ctx context.Context, docID string) ([]byte, error) {
	doc, err := c.Document(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.OutputFile == "" {
		return nil, eris.Wrapf(ErrInvalidTransition, "document %s has not been finalized", doc.ID)
	}
	data, err := c.blobs.Get(ctx, doc.OutputFile)
	if err != nil {
		return nil, eris.Wrapf(err, "lifecycle: load output of %s", doc.ID)
	}
	return data, nil
}

// Archive moves a completed document to archived. Archived documents
// reject every further mutation.
func (c *Controller) Archive(ctx context.Context, docID string) (*model.Document, error) {
	var out *model.Document
	err := c.mutate(ctx, docID, func(doc *model.Document, now time.Time) ([]model.AuditEntry, error) {
		if doc.ReadOnly() {
			return nil, eris.Wrapf(ErrReadOnly, "document %s is archived", doc.ID)
		}
		if !canTransition(doc.Status, model.StatusArchived) {
			return nil, eris.Wrapf(ErrInvalidTransition, "%s -> %s", doc.Status, model.StatusArchived)
		}
		old := doc.Status
		doc.Status = model.StatusArchived
		doc.UpdatedAt = now
		out = doc
		return []model.AuditEntry{{
			DocumentID: doc.ID,
			Action:     model.ActionArchive,
			OldValue:   model.Ptr(string(old)),
			NewValue:   model.Ptr(string(model.StatusArchived)),
			Actor:      "system",
			Timestamp:  now,
		}}, nil
	})
	return out, err
}

// Document returns the current state of a document.
func (c *Controller) Document(ctx context.Context, docID string) (*model.Document, error) {
	doc, err := c.repo.GetDocument(ctx, docID)
	if err != nil {
		return nil, eris.Wrapf(err, "lifecycle: load %s", docID)
	}
	return doc, nil
}

// Documents lists every document.
func (c *Controller) Documents(ctx context.Context) ([]*model.Document, error) {
	docs, err := c.repo.ListDocuments(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "lifecycle: list documents")
	}
	return docs, nil
}

// Audit returns a document's audit trail in append order.
func (c *Controller) Audit(ctx context.Context, docID string) ([]model.AuditEntry, error) {
	entries, err := c.repo.ListAudit(ctx, docID)
	if err != nil {
		return nil, eris.Wrapf(err, "lifecycle: audit of %s", docID)
	}
	return entries, nil
}

// mutate loads docID under its lock, applies fn and persists the document
// together with fn's audit entries. Nothing is saved when fn fails. The
// audit entries are written first, so a saved change always has its entry;
// an entry whose save then failed records an attempted change.
func (c *Controller) mutate(ctx context.Context, docID string, fn func(*model.Document, time.Time) ([]model.AuditEntry, error)) error {
	return c.locks.With(ctx, docID, func() error {
		doc, err := c.repo.GetDocument(ctx, docID)
		if err != nil {
			return eris.Wrapf(err, "lifecycle: load %s", docID)
		}
		now := c.now()
		entries, err := fn(doc, now)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			for i := range entries {
				entries[i].ID = uuid.NewString()
			}
			if err := c.repo.AppendAudit(ctx, entries...); err != nil {
				return eris.Wrapf(err, "lifecycle: audit %s", docID)
			}
		}
		if err := c.repo.UpdateDocument(ctx, doc); err != nil {
			return eris.Wrapf(err, "lifecycle: save %s", docID)
		}
		return nil
	})
}

func (c *Controller) appendAudit(ctx context.Context, e model.AuditEntry) {
	e.ID = uuid.NewString()
	if err := c.repo.AppendAudit(ctx, e); err != nil {
		c.log.Warn("failed to append audit entry",
			zap.String("document", e.DocumentID),
			zap.String("action", string(e.Action)),
			zap.Error(err))
	}
}

func hasValue(f *forms.FieldDescriptor) bool {
	if f.Type.IsToggle() {
		return forms.ParseBool(f.Value)
	}
	return strings.TrimSpace(f.Value) != ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
