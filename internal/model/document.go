// Package model holds the persisted state of a two-party form document.
package model

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
)

// Status is a document's lifecycle state.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusArchived   Status = "archived"
)

// Metadata keys written by the lifecycle controller.
const (
	MetaPageCount = "page_count"
	MetaHandedOff = "handed_off"
	MetaTable     = "mapping_table"
)

// AnnotationValue is a positioned annotation together with its current value.
type AnnotationValue struct {
	forms.PositionedAnnotation
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Document is an uploaded form and everything entered into it so far.
type Document struct {
	ID           string                  `json:"id"`
	Name         string                  `json:"name"`
	Status       Status                  `json:"status"`
	OriginalFile string                  `json:"originalFile"`
	OutputFile   string                  `json:"outputFile,omitempty"`
	Fields       []forms.FieldDescriptor `json:"fields"`
	Annotations  []AnnotationValue       `json:"annotations"`
	// FieldUpdatedAt records the last write per field ID or annotation name.
	FieldUpdatedAt map[string]time.Time `json:"fieldUpdatedAt,omitempty"`
	Metadata       map[string]string    `json:"metadata,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

// ErrNotEditable is returned when field state of a completed or archived
// document is mutated.
var ErrNotEditable = errors.New("document is not editable")

// ReadOnly reports whether the document rejects mutation.
func (d *Document) ReadOnly() bool {
	return d.Status == StatusArchived
}

// Editable reports whether field values may still change.
func (d *Document) Editable() bool {
	return d.Status == StatusDraft || d.Status == StatusInProgress
}

// HandedOff reports whether partyA has passed the document to partyB.
func (d *Document) HandedOff() bool {
	return d.Metadata[MetaHandedOff] == "true"
}

// Field returns the descriptor with the given ID, or nil.
func (d *Document) Field(id string) *forms.FieldDescriptor {
	for i := range d.Fields {
		if d.Fields[i].ID == id {
			return &d.Fields[i]
		}
	}
	return nil
}

// Annotation returns the positioned annotation with the given logical name,
// or nil.
func (d *Document) Annotation(name string) *AnnotationValue {
	for i := range d.Annotations {
		if d.Annotations[i].LogicalName == name {
			return &d.Annotations[i]
		}
	}
	return nil
}

// PositionedAnnotations returns the bare annotations for resolution.
func (d *Document) PositionedAnnotations() []forms.PositionedAnnotation {
	out := make([]forms.PositionedAnnotation, len(d.Annotations))
	for i, a := range d.Annotations {
		out[i] = a.PositionedAnnotation
	}
	return out
}

// Touch records a write to key at t.
func (d *Document) Touch(key string, t time.Time) {
	if d.FieldUpdatedAt == nil {
		d.FieldUpdatedAt = make(map[string]time.Time)
	}
	d.FieldUpdatedAt[key] = t
	d.UpdatedAt = t
}

// FieldChange is one value written to a field or annotation.
type FieldChange struct {
	Key      string
	OldValue string
	NewValue string
}

// ClearRadioSiblings deselects the other kids of selected's radio group so
// at most one stays on. It does nothing unless selected is a radio kid that
// is now on, and returns one change per kid it switched off.
func (d *Document) ClearRadioSiblings(selected *forms.FieldDescriptor, t time.Time) []FieldChange {
	if selected == nil || selected.Type != forms.TypeRadio || !forms.ParseBool(selected.Value) {
		return nil
	}
	var out []FieldChange
	for i := range d.Fields {
		f := &d.Fields[i]
		if f.ID == selected.ID || f.Type != forms.TypeRadio || f.SourceIdentifier != selected.SourceIdentifier {
			continue
		}
		if !forms.ParseBool(f.Value) {
			continue
		}
		out = append(out, FieldChange{Key: f.ID, OldValue: f.Value, NewValue: "false"})
		f.Value = "false"
		d.Touch(f.ID, t)
	}
	return out
}

// MissingRequired lists the required fields and annotations that still have
// no value, sorted. Toggle widgets sharing a name count as one field that is
// satisfied when any member is checked.
func (d *Document) MissingRequired() []string {
	return d.missingRequired(func(forms.Owner) bool { return true })
}

// MissingRequiredFor is MissingRequired restricted to owner's fields.
func (d *Document) MissingRequiredFor(owner forms.Owner) []string {
	return d.missingRequired(func(o forms.Owner) bool { return o == owner })
}

func (d *Document) missingRequired(include func(forms.Owner) bool) []string {
	missing := make(map[string]bool)
	checked := make(map[string]bool)

	for _, f := range d.Fields {
		if f.Type.IsToggle() {
			if forms.ParseBool(f.Value) {
				checked[f.SourceIdentifier] = true
			}
			if f.Required && include(f.Owner) {
				missing[f.SourceIdentifier] = true
			}
			continue
		}
		if f.Required && include(f.Owner) && isBlank(f.Value) {
			missing[f.SourceIdentifier] = true
		}
	}
	for name := range checked {
		delete(missing, name)
	}
	for _, a := range d.Annotations {
		if a.Required && include(a.Owner) && isBlank(a.Value) {
			missing[a.LogicalName] = true
		}
	}

	out := make([]string, 0, len(missing))
	for name := range missing {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	c := *d
	c.Fields = make([]forms.FieldDescriptor, len(d.Fields))
	for i, f := range d.Fields {
		f.Options = append([]string(nil), f.Options...)
		c.Fields[i] = f
	}
	c.Annotations = append([]AnnotationValue(nil), d.Annotations...)
	if d.FieldUpdatedAt != nil {
		c.FieldUpdatedAt = make(map[string]time.Time, len(d.FieldUpdatedAt))
		for k, v := range d.FieldUpdatedAt {
			c.FieldUpdatedAt[k] = v
		}
	}
	if d.Metadata != nil {
		c.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
