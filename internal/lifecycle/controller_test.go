package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-formfill/internal/blob"
	"github.com/a3tai/mcp-pdf-formfill/internal/lock"
	"github.com/a3tai/mcp-pdf-formfill/internal/mapping"
	"github.com/a3tai/mcp-pdf-formfill/internal/metrics"
	"github.com/a3tai/mcp-pdf-formfill/internal/model"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms/formtest"
	"github.com/a3tai/mcp-pdf-formfill/internal/store"
)

const testTable = `
fields:
  first_name: {source: "first_name", page: 1, type: text, owner: partyA, required: true}
  email:      {source: "email2", page: 1, type: email, owner: partyA}
  signature3: {source: "signature3", page: 1, type: signature, owner: partyB, required: true}
groups:
  dwelling_type:
    page: 1
    type: checkbox
    owner: partyA
    options:
      house: "House"
      apartment: "Apartment"
annotations:
  printed_name: {page: 2, rect: {x: 315, y: 277, w: 230, h: 25}, owner: partyB}
`

func testForm() []byte {
	return formtest.Letter(2).
		PageText(1, "Energy Assistance Application").
		AddText("first_name", 1, [4]float64{72, 700, 272, 720}).
		AddText("email2", 1, [4]float64{320, 700, 540, 720}).
		Add(formtest.Widget{Name: "House", Kind: formtest.Checkbox, Rect: [4]float64{72, 600, 84, 612}}).
		Add(formtest.Widget{Name: "Apartment", Kind: formtest.Checkbox, Rect: [4]float64{120, 600, 132, 612}}).
		Add(formtest.Widget{Name: "signature3", Kind: formtest.Signature, Rect: [4]float64{320, 100, 540, 130}}).
		Bytes()
}

type fixture struct {
	ctrl    *Controller
	repo    *store.Memory
	blobs   *blob.FSStore
	metrics *metrics.Metrics
	now     time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	table, err := mapping.ParseTable([]byte(testTable))
	require.NoError(t, err)
	blobs, err := blob.NewFSStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	f := &fixture{
		repo:    store.NewMemory(),
		blobs:   blobs,
		metrics: metrics.New(prometheus.NewRegistry()),
		now:     time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC),
	}
	opts = append([]Option{
		WithTable(table),
		WithMetrics(f.metrics),
		WithClock(func() time.Time { return f.now }),
	}, opts...)
	f.ctrl = NewController(f.repo, f.blobs, lock.NewKeyed(), opts...)
	return f
}

func (f *fixture) upload(t *testing.T) *model.Document {
	t.Helper()
	doc, err := f.ctrl.Upload(context.Background(), "application.pdf", testForm())
	require.NoError(t, err)
	return doc
}

func fieldBySource(t *testing.T, doc *model.Document, src string) *forms.FieldDescriptor {
	t.Helper()
	for i := range doc.Fields {
		if doc.Fields[i].SourceIdentifier == src {
			return &doc.Fields[i]
		}
	}
	t.Fatalf("no field %q", src)
	return nil
}

func actions(t *testing.T, f *fixture, docID string) []model.Action {
	t.Helper()
	entries, err := f.ctrl.Audit(context.Background(), docID)
	require.NoError(t, err)
	out := make([]model.Action, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func TestController_Upload(t *testing.T) {
	f := newFixture(t)
	doc := f.upload(t)

	assert.Equal(t, model.StatusDraft, doc.Status)
	assert.Len(t, doc.Fields, 5)
	assert.Equal(t, "2", doc.Metadata[model.MetaPageCount])
	assert.Equal(t, blob.OriginalKey(doc.ID), doc.OriginalFile)

	first := fieldBySource(t, doc, "first_name")
	assert.Equal(t, forms.PartyA, first.Owner)
	assert.Equal(t, forms.OwnerExplicit, first.OwnerSource)
	assert.True(t, first.Required)
	assert.Equal(t, forms.PartyB, fieldBySource(t, doc, "signature3").Owner)

	require.Len(t, doc.Annotations, 1)
	assert.Equal(t, "printed_name", doc.Annotations[0].LogicalName)
	assert.Equal(t, forms.PartyB, doc.Annotations[0].Owner)

	stored, err := f.blobs.Get(context.Background(), doc.OriginalFile)
	require.NoError(t, err)
	assert.Equal(t, testForm(), stored)
	assert.Equal(t, []model.Action{model.ActionUpload}, actions(t, f, doc.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Detections.WithLabelValues("ok")))
}

func TestController_UploadSkipsAnnotationOffDocument(t *testing.T) {
	table, err := mapping.ParseTable([]byte(testTable + `  affidavit: {page: 5, rect: {x: 72, y: 100, w: 200, h: 20}, owner: partyB, required: true}
`))
	require.NoError(t, err)
	f := newFixture(t, WithTable(table))
	doc := f.upload(t)

	assert.NotNil(t, doc.Annotation("printed_name"))
	assert.Nil(t, doc.Annotation("affidavit"))
	assert.NotContains(t, doc.MissingRequired(), "affidavit")

	var offDocument []string
	for _, p := range table.Validate(doc.Fields, 2) {
		if p.Kind == mapping.ProblemPageOutOfRange {
			offDocument = append(offDocument, p.LogicalName)
		}
	}
	assert.Equal(t, []string{"affidavit"}, offDocument)
}

func TestController_UploadRejectsNonForm(t *testing.T) {
	f := newFixture(t)
	pdf := formtest.Letter(1).AddText("x", 1, [4]float64{72, 700, 272, 720}).WithoutAcroForm().Bytes()

	_, err := f.ctrl.Upload(context.Background(), "scan.pdf", pdf)
	require.Error(t, err)
	assert.True(t, forms.IsKind(err, forms.KindDetectionFailure))

	docs, err := f.ctrl.Documents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestController_UploadTooLarge(t *testing.T) {
	f := newFixture(t, WithMaxFileSize(10))
	_, err := f.ctrl.Upload(context.Background(), "big.pdf", testForm())
	assert.True(t, errors.Is(err, ErrTooLarge))
}

func TestController_TwoPartyFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t)

	res, err := f.ctrl.Submit(ctx, doc.ID, forms.PartyA, map[string]string{
		"first_name":    "John",
		"dwelling_type": "house",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Skipped)
	assert.ElementsMatch(t, []string{"House", "Apartment", "first_name"}, res.Written)
	assert.Equal(t, model.StatusInProgress, res.Document.Status)

	_, err = f.ctrl.Handoff(ctx, doc.ID)
	require.NoError(t, err)

	res, err = f.ctrl.Submit(ctx, doc.ID, forms.PartyB, map[string]string{
		"signature3":   "John Doe",
		"printed_name": "John Doe",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Skipped)

	final, err := f.ctrl.Finalize(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, final.Document.Status)
	assert.Equal(t, blob.OutputKey(doc.ID), final.OutputKey)
	// first_name, both dwelling checkboxes, signature3, printed_name
	assert.Equal(t, 5, final.FilledCount)
	assert.Empty(t, final.Skipped)

	out, err := f.ctrl.Output(ctx, doc.ID)
	require.NoError(t, err)
	fields, err := forms.Detect(out)
	require.NoError(t, err)
	values := map[string]string{}
	for _, fd := range fields {
		values[fd.SourceIdentifier] = fd.Value
	}
	assert.Equal(t, "John", values["first_name"])
	assert.Equal(t, "true", values["House"])
	assert.Equal(t, "false", values["Apartment"])
	assert.Empty(t, values["signature3"])

	overlays, err := forms.ReadAnnotations(out)
	require.NoError(t, err)
	require.Len(t, overlays, 2)
	sigRect := fieldBySource(t, doc, "signature3").Rect
	var sawSignature, sawPrinted bool
	for _, o := range overlays {
		assert.Equal(t, "John Doe", o.Contents)
		if o.Page == 1 && sigRect.Contains(o.Rect) {
			sawSignature = true
		}
		if o.Page == 2 && o.Rect == (forms.Rect{X: 315, Y: 277, W: 230, H: 25}) {
			sawPrinted = true
		}
	}
	assert.True(t, sawSignature, "signature overlay inside signature3")
	assert.True(t, sawPrinted, "printed_name at its table rect")

	got := actions(t, f, doc.ID)
	assert.Equal(t, model.ActionUpload, got[0])
	assert.Contains(t, got, model.ActionHandoff)
	assert.Contains(t, got, model.ActionFill)
	assert.Equal(t, model.ActionFinalize, got[len(got)-1])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Finalizations.WithLabelValues("completed")))
}

func TestController_FinalizeValidationFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t)

	_, err := f.ctrl.Submit(ctx, doc.ID, forms.PartyA, map[string]string{"first_name": "John"})
	require.NoError(t, err)

	_, err = f.ctrl.Finalize(ctx, doc.ID)
	require.Error(t, err)
	assert.True(t, forms.IsKind(err, forms.KindValidationFailure))
	var ee *forms.EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, []string{"signature3"}, ee.Fields)
	assert.True(t, ee.Recoverable())

	after, err := f.ctrl.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, after.Status)
	assert.Empty(t, after.OutputFile)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Finalizations.WithLabelValues("validation_failure")))
}

func TestController_SubmitSkipsMissesAndForeignFields(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t)

	res, err := f.ctrl.Submit(ctx, doc.ID, forms.PartyA, map[string]string{
		"first_name": "John",
		"signature3": "Forged",
		"nickname":   "JJ",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first_name"}, res.Written)
	require.Len(t, res.Skipped, 2)
	reasons := map[string]string{}
	for _, s := range res.Skipped {
		reasons[s.LogicalName] = s.Reason
	}
	assert.Equal(t, ErrNotOwner.Error(), reasons["signature3"])
	assert.Contains(t, reasons["nickname"], "RESOLUTION_MISS")
	assert.Empty(t, fieldBySource(t, res.Document, "signature3").Value)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ResolutionMisses))
}

func TestController_ExactMatchNeverCrossAssigns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t)

	// "email" maps to "email2"; the near-miss "email_2" must not resolve.
	res, err := f.ctrl.Submit(ctx, doc.ID, forms.PartyA, map[string]string{"email_2": "x@example.com"})
	require.NoError(t, err)
	assert.Empty(t, res.Written)
	assert.Empty(t, fieldBySource(t, res.Document, "email2").Value)
}

func TestController_PartyBWaitsForHandoff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t)

	_, err := f.ctrl.Submit(ctx, doc.ID, forms.PartyB, map[string]string{"signature3": "John Doe"})
	assert.True(t, errors.Is(err, ErrNotHandedOff))

	_, err = f.ctrl.Handoff(ctx, doc.ID)
	assert.True(t, forms.IsKind(err, forms.KindValidationFailure), "partyA's required fields are empty")

	_, err = f.ctrl.Submit(ctx, doc.ID, forms.PartyA, map[string]string{"first_name": "John"})
	require.NoError(t, err)
	handed, err := f.ctrl.Handoff(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, handed.HandedOff())

	_, err = f.ctrl.Handoff(ctx, doc.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestController_SetField(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t)
	first := fieldBySource(t, doc, "first_name")

	updated, err := f.ctrl.SetField(ctx, doc.ID, forms.PartyA, first.ID, "Jane")
	require.NoError(t, err)
	assert.Equal(t, "Jane", updated.Field(first.ID).Value)
	assert.Equal(t, f.now, updated.FieldUpdatedAt[first.ID])

	sig := fieldBySource(t, doc, "signature3")
	_, err = f.ctrl.SetField(ctx, doc.ID, forms.PartyA, sig.ID, "x")
	assert.True(t, errors.Is(err, ErrNotOwner))

	_, err = f.ctrl.SetField(ctx, doc.ID, forms.PartyA, "nope", "x")
	assert.True(t, errors.Is(err, ErrUnknownField))

	entries, err := f.ctrl.Audit(ctx, doc.ID)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, model.ActionUpdateField, last.Action)
	assert.Equal(t, first.ID, last.FieldID)
	assert.Equal(t, "", *last.OldValue)
	assert.Equal(t, "Jane", *last.NewValue)
}

func TestController_SetFieldRadioKeepsOneSelected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pdf := formtest.Letter(1).
		AddRadio(formtest.Radio{Name: "fuel", Kids: []formtest.RadioKid{
			{Export: "gas", Rect: [4]float64{72, 550, 84, 562}},
			{Export: "oil", Rect: [4]float64{120, 550, 132, 562}},
		}}).
		Bytes()
	doc, err := f.ctrl.Upload(ctx, "fuel.pdf", pdf)
	require.NoError(t, err)

	kids := make(map[string]string)
	for _, fd := range doc.Fields {
		kids[fd.ExportValue] = fd.ID
	}
	require.Len(t, kids, 2)
	_, err = f.ctrl.AssignOwners(ctx, doc.ID, map[string]forms.Owner{
		kids["gas"]: forms.PartyA,
		kids["oil"]: forms.PartyA,
	})
	require.NoError(t, err)

	_, err = f.ctrl.SetField(ctx, doc.ID, forms.PartyA, kids["gas"], "true")
	require.NoError(t, err)
	updated, err := f.ctrl.SetField(ctx, doc.ID, forms.PartyA, kids["oil"], "true")
	require.NoError(t, err)
	assert.Equal(t, "false", updated.Field(kids["gas"]).Value)
	assert.Equal(t, "true", updated.Field(kids["oil"]).Value)

	stored, err := f.ctrl.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "false", stored.Field(kids["gas"]).Value)

	entries, err := f.ctrl.Audit(ctx, doc.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(entries), 2)
	selected, cleared := entries[len(entries)-2], entries[len(entries)-1]
	assert.Equal(t, kids["oil"], selected.FieldID)
	assert.Equal(t, "true", *selected.NewValue)
	assert.Equal(t, model.ActionUpdateField, cleared.Action)
	assert.Equal(t, kids["gas"], cleared.FieldID)
	assert.Equal(t, "true", *cleared.OldValue)
	assert.Equal(t, "false", *cleared.NewValue)
	assert.Equal(t, string(forms.PartyA), cleared.Actor)
}

type failingAudit struct {
	*store.Memory
}

func (failingAudit) AppendAudit(context.Context, ...model.AuditEntry) error {
	return errors.New("audit log unavailable")
}

func TestController_AuditFailureLeavesDocumentUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t)
	first := fieldBySource(t, doc, "first_name")

	ctrl := NewController(failingAudit{f.repo}, f.blobs, lock.NewKeyed(),
		WithTable(f.ctrl.Table()),
		WithClock(func() time.Time { return f.now }))
	_, err := ctrl.SetField(ctx, doc.ID, forms.PartyA, first.ID, "Jane")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit log unavailable")

	stored, err := f.repo.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Field(first.ID).Value)
	assert.Equal(t, model.StatusDraft, stored.Status)
}

func TestController_AssignOwners(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t)
	email := fieldBySource(t, doc, "email2")
	first := fieldBySource(t, doc, "first_name")

	updated, err := f.ctrl.AssignOwners(ctx, doc.ID, map[string]forms.Owner{
		email.ID:       forms.PartyB,
		"printed_name": forms.PartyA,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, updated.Status)
	assert.Equal(t, forms.PartyB, updated.Field(email.ID).Owner)
	assert.Equal(t, forms.PartyA, updated.Annotation("printed_name").Owner)

	_, err = f.ctrl.Submit(ctx, doc.ID, forms.PartyA, map[string]string{"first_name": "John"})
	require.NoError(t, err)
	_, err = f.ctrl.AssignOwners(ctx, doc.ID, map[string]forms.Owner{first.ID: forms.PartyB})
	assert.True(t, errors.Is(err, ErrOwnerLocked))

	_, err = f.ctrl.AssignOwners(ctx, doc.ID, map[string]forms.Owner{"missing": forms.PartyA})
	assert.True(t, errors.Is(err, ErrUnknownField))
	_, err = f.ctrl.AssignOwners(ctx, doc.ID, map[string]forms.Owner{first.ID: "partyC"})
	assert.Error(t, err)

	assert.Contains(t, actions(t, f, doc.ID), model.ActionAssignOwner)
}

func TestController_ArchiveIsReadOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t)

	_, err := f.ctrl.Archive(ctx, doc.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition), "draft cannot be archived")

	_, err = f.ctrl.Submit(ctx, doc.ID, forms.PartyA, map[string]string{"first_name": "John"})
	require.NoError(t, err)
	_, err = f.ctrl.Handoff(ctx, doc.ID)
	require.NoError(t, err)
	_, err = f.ctrl.Submit(ctx, doc.ID, forms.PartyB, map[string]string{"signature3": "John Doe"})
	require.NoError(t, err)
	_, err = f.ctrl.Finalize(ctx, doc.ID)
	require.NoError(t, err)

	_, err = f.ctrl.Submit(ctx, doc.ID, forms.PartyB, map[string]string{"signature3": "Other"})
	assert.True(t, errors.Is(err, ErrReadOnly), "completed documents are not editable")

	archived, err := f.ctrl.Archive(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, archived.ReadOnly())

	_, err = f.ctrl.Finalize(ctx, doc.ID)
	assert.True(t, errors.Is(err, ErrReadOnly))
	_, err = f.ctrl.Archive(ctx, doc.ID)
	assert.True(t, errors.Is(err, ErrReadOnly))
	_, err = f.ctrl.AssignOwners(ctx, doc.ID, map[string]forms.Owner{"printed_name": forms.PartyA})
	assert.True(t, errors.Is(err, ErrReadOnly))

	out, err := f.ctrl.Output(ctx, doc.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestController_RenderDoesNotChangeState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t)
	_, err := f.ctrl.Submit(ctx, doc.ID, forms.PartyA, map[string]string{"first_name": "John"})
	require.NoError(t, err)
	before, err := f.ctrl.Document(ctx, doc.ID)
	require.NoError(t, err)

	res, err := f.ctrl.Render(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilledCount)
	assert.NotEmpty(t, res.Output)

	after, err := f.ctrl.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = f.ctrl.Output(ctx, doc.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestController_PageText(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t)

	text, err := f.ctrl.PageText(ctx, doc.ID, 1)
	require.NoError(t, err)
	assert.Contains(t, text, "Assistance")

	_, err = f.ctrl.PageText(ctx, doc.ID, 3)
	assert.Error(t, err)
}

func TestController_UnknownDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.ctrl.Submit(ctx, "missing", forms.PartyA, map[string]string{"a": "b"})
	assert.True(t, errors.Is(err, store.ErrNotFound))
	_, err = f.ctrl.Finalize(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestTargets(t *testing.T) {
	doc := &model.Document{
		Fields: []forms.FieldDescriptor{
			{ID: "t", SourceIdentifier: "name", Type: forms.TypeText, Value: "John"},
			{ID: "blank", SourceIdentifier: "blank", Type: forms.TypeText, Value: "  "},
			{ID: "c1", SourceIdentifier: "pre", Type: forms.TypeCheckbox, Value: "true"},
			{ID: "c2", SourceIdentifier: "untouched", Type: forms.TypeCheckbox, Value: "false"},
			{ID: "c3", SourceIdentifier: "cleared", Type: forms.TypeCheckbox, Value: "false"},
		},
		Annotations: []model.AnnotationValue{
			{PositionedAnnotation: forms.PositionedAnnotation{LogicalName: "note"}, Value: "hi"},
			{PositionedAnnotation: forms.PositionedAnnotation{LogicalName: "empty"}},
		},
		FieldUpdatedAt: map[string]time.Time{"c3": time.Now()},
	}

	var ids []string
	for _, tg := range Targets(doc) {
		ids = append(ids, tg.Identifier())
	}
	assert.Equal(t, []string{"name", "pre", "cleared", "note"}, ids)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, canTransition(model.StatusDraft, model.StatusInProgress))
	assert.True(t, canTransition(model.StatusInProgress, model.StatusInProgress))
	assert.True(t, canTransition(model.StatusInProgress, model.StatusCompleted))
	assert.True(t, canTransition(model.StatusCompleted, model.StatusArchived))
	assert.False(t, canTransition(model.StatusDraft, model.StatusCompleted))
	assert.False(t, canTransition(model.StatusArchived, model.StatusInProgress))
	assert.False(t, canTransition(model.StatusCompleted, model.StatusInProgress))
}
