package mapping

import (
	"fmt"
	"math"
	"sort"

	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
)

// ProblemKind classifies a stale table entry.
type ProblemKind string

const (
	ProblemMissing      ProblemKind = "missing"
	ProblemPageMismatch ProblemKind = "page_mismatch"
	ProblemTypeMismatch ProblemKind = "type_mismatch"
	ProblemRectMismatch ProblemKind = "rect_mismatch"
	ProblemCollision    ProblemKind = "collision"
	ProblemGroupMissing ProblemKind = "group_missing"
	// ProblemPageOutOfRange is an annotation placed on a page the document
	// does not have.
	ProblemPageOutOfRange ProblemKind = "page_out_of_range"
)

// rectTolerance is how far, in points, a widget centre may drift from the
// table's expected rect before the entry is reported.
const rectTolerance = 10.0

// StaleMapping is one table entry that no longer matches the document.
type StaleMapping struct {
	LogicalName string      `json:"logicalName"`
	Source      string      `json:"source,omitempty"`
	Kind        ProblemKind `json:"kind"`
	Detail      string      `json:"detail"`
}

func (s StaleMapping) String() string {
	if s.Source != "" {
		return fmt.Sprintf("%s (%s) %s: %s", s.LogicalName, s.Source, s.Kind, s.Detail)
	}
	return fmt.Sprintf("%s %s: %s", s.LogicalName, s.Kind, s.Detail)
}

// Validate cross-checks every entry against a detection result. pages is the
// document's page count; zero skips the annotation page check.
func (t *Table) Validate(fields []forms.FieldDescriptor, pages int) []StaleMapping {
	byName := make(map[string][]forms.FieldDescriptor)
	for _, f := range fields {
		byName[f.SourceIdentifier] = append(byName[f.SourceIdentifier], f)
	}

	var out []StaleMapping
	for _, name := range sortedKeys(t.Fields) {
		m := t.Fields[name]
		out = append(out, checkWidget(name, m.Source, m.Page, m.Type, m.Rect, byName[m.Source], ProblemMissing)...)
	}
	for _, name := range sortedKeys(t.Groups) {
		g := t.Groups[name]
		for _, option := range sortedKeys(g.Options) {
			src := g.Options[option]
			out = append(out, checkWidget(name+"="+option, src, g.Page, g.Type, nil, byName[src], ProblemGroupMissing)...)
		}
	}
	for _, name := range sortedKeys(t.Annotations) {
		if a := t.Annotations[name]; pages > 0 && !PageInRange(a.Page, pages) {
			out = append(out, StaleMapping{
				LogicalName: name,
				Kind:        ProblemPageOutOfRange,
				Detail:      fmt.Sprintf("page %d out of range (document has %d)", a.Page, pages),
			})
		}
		if detected := byName[name]; len(detected) > 0 {
			out = append(out, StaleMapping{
				LogicalName: name,
				Kind:        ProblemCollision,
				Detail:      fmt.Sprintf("annotation name is also a widget on page %d", detected[0].Page),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LogicalName != out[j].LogicalName {
			return out[i].LogicalName < out[j].LogicalName
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func checkWidget(name, src string, page int, typ forms.SemanticType, rect *forms.Rect,
	candidates []forms.FieldDescriptor, missing ProblemKind) []StaleMapping {
	if len(candidates) == 0 {
		return []StaleMapping{{LogicalName: name, Source: src, Kind: missing, Detail: "no widget with this name"}}
	}

	if page > 0 {
		var onPage []forms.FieldDescriptor
		for _, c := range candidates {
			if c.Page == page {
				onPage = append(onPage, c)
			}
		}
		if len(onPage) == 0 {
			return []StaleMapping{{LogicalName: name, Source: src, Kind: ProblemPageMismatch,
				Detail: fmt.Sprintf("expected page %d, found page %d", page, candidates[0].Page)}}
		}
		candidates = onPage
	}

	var out []StaleMapping
	if typ != "" && !anyType(candidates, typ) {
		out = append(out, StaleMapping{LogicalName: name, Source: src, Kind: ProblemTypeMismatch,
			Detail: fmt.Sprintf("expected %s, found %s", typ, candidates[0].Type)})
	}
	if rect != nil {
		nearest := math.Inf(1)
		for _, c := range candidates {
			if d := centerDistance(c.Rect, *rect); d < nearest {
				nearest = d
			}
		}
		if nearest > rectTolerance {
			out = append(out, StaleMapping{LogicalName: name, Source: src, Kind: ProblemRectMismatch,
				Detail: fmt.Sprintf("nearest widget is %.1fpt from the expected position", nearest)})
		}
	}
	return out
}

// anyType reports whether some field is compatible with typ. Text-like and
// signature widgets may be refined into one another by the table; toggles
// must match exactly.
func anyType(fields []forms.FieldDescriptor, typ forms.SemanticType) bool {
	for _, f := range fields {
		if f.Type == typ || (!f.Type.IsToggle() && !typ.IsToggle()) {
			return true
		}
	}
	return false
}

// ValidatePDF detects the fields of pdf and validates the table against them.
func ValidatePDF(t *Table, pdf []byte) ([]StaleMapping, error) {
	fields, err := forms.Detect(pdf)
	if err != nil {
		return nil, err
	}
	pages, err := forms.PageCount(pdf)
	if err != nil {
		return nil, err
	}
	return t.Validate(fields, pages), nil
}

// PageInRange reports whether the 1-based page exists in a document of
// pages pages.
func PageInRange(page, pages int) bool {
	return page >= 1 && page <= pages
}
