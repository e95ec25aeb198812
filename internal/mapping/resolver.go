package mapping

import (
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
)

// Source records which lookup produced a resolution.
type Source string

const (
	FromTable      Source = "table"
	FromDirect     Source = "direct"
	FromGroup      Source = "group"
	FromAnnotation Source = "annotation"
)

// Resolved is the result of an exact lookup. Fields holds every widget that
// answers to the name (several for radio kids); Annotation is set instead
// for positioned annotations.
type Resolved struct {
	LogicalName string
	Source      Source
	Fields      []*forms.FieldDescriptor
	Annotation  *forms.PositionedAnnotation
}

// Resolver answers lookups against one document's detected fields.
type Resolver struct {
	table       *Table
	byName      map[string][]*forms.FieldDescriptor
	annotations map[string]*forms.PositionedAnnotation
	log         *zap.Logger
}

// NewResolver indexes fields for exact lookup. The resolver keeps pointers
// into fields, so targets it returns refer to the caller's descriptors.
// Annotations default to the table's entries when none are given.
func NewResolver(table *Table, fields []forms.FieldDescriptor, annotations ...forms.PositionedAnnotation) *Resolver {
	if table == nil {
		table = &Table{}
	}
	r := &Resolver{
		table:       table,
		byName:      make(map[string][]*forms.FieldDescriptor, len(fields)),
		annotations: make(map[string]*forms.PositionedAnnotation),
		log:         zap.L(),
	}
	for i := range fields {
		f := &fields[i]
		r.byName[f.SourceIdentifier] = append(r.byName[f.SourceIdentifier], f)
	}
	if annotations == nil {
		annotations = table.PositionedAnnotations()
	}
	for i := range annotations {
		a := &annotations[i]
		r.annotations[a.LogicalName] = a
	}
	return r
}

// Resolve looks name up, in order, in the table's field entries, among the
// detected source identifiers, among group names and in the annotation
// table. Matching is exact; a name found nowhere is a ResolutionMiss.
func (r *Resolver) Resolve(name string) (*Resolved, error) {
	if m, ok := r.table.Fields[name]; ok {
		candidates := r.pick(r.byName[m.Source], m.Page, m.Rect)
		if len(candidates) == 0 {
			r.log.Warn("mapped widget not present in document",
				zap.String("logical_name", name), zap.String("source", m.Source))
			return nil, forms.NewResolutionMiss(name)
		}
		return &Resolved{LogicalName: name, Source: FromTable, Fields: candidates}, nil
	}

	if candidates := r.byName[name]; len(candidates) > 0 {
		return &Resolved{LogicalName: name, Source: FromDirect, Fields: candidates}, nil
	}

	if g, ok := r.table.Groups[name]; ok {
		var fields []*forms.FieldDescriptor
		for _, value := range sortedKeys(g.Options) {
			fields = append(fields, r.pick(r.byName[g.Options[value]], g.Page, nil)...)
		}
		if len(fields) > 0 {
			return &Resolved{LogicalName: name, Source: FromGroup, Fields: fields}, nil
		}
	}

	if a, ok := r.annotations[name]; ok {
		return &Resolved{LogicalName: name, Source: FromAnnotation, Annotation: a}, nil
	}

	r.log.Debug("resolution miss", zap.String("logical_name", name))
	return nil, forms.NewResolutionMiss(name)
}

// ResolveInput turns one application input into fill targets. Group inputs
// expand to every option: the chosen one(s) get "true", the rest "false".
// A comma-separated value selects several options of a multi group. Radio
// widgets may be addressed by export value.
func (r *Resolver) ResolveInput(name, value string) ([]forms.Target, error) {
	if g, ok := r.table.Groups[name]; ok {
		if _, shadowed := r.table.Fields[name]; !shadowed {
			return r.resolveGroup(name, g, value)
		}
	}

	res, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	if res.Annotation != nil {
		return []forms.Target{{LogicalName: name, Annotation: res.Annotation, Value: value}}, nil
	}
	if len(res.Fields) > 1 && res.Fields[0].Type == forms.TypeRadio {
		return r.resolveRadio(name, res.Fields, value)
	}
	return []forms.Target{{LogicalName: name, Field: res.Fields[0], Value: value}}, nil
}

func (r *Resolver) resolveGroup(name string, g Group, value string) ([]forms.Target, error) {
	chosen := make(map[string]bool)
	for _, v := range splitChoice(value, g.Multi) {
		if contains(g.Ignore, v) {
			continue
		}
		if _, ok := g.Options[v]; !ok {
			r.log.Warn("unknown group option", zap.String("group", name), zap.String("value", v))
			return nil, forms.NewResolutionMiss(name + "=" + v)
		}
		chosen[v] = true
	}

	var targets []forms.Target
	for _, option := range sortedKeys(g.Options) {
		src := g.Options[option]
		candidates := r.pick(r.byName[src], g.Page, nil)
		if len(candidates) == 0 {
			if chosen[option] {
				r.log.Warn("selected group option has no widget",
					zap.String("group", name), zap.String("option", option), zap.String("source", src))
				return nil, forms.NewResolutionMiss(name + "=" + option)
			}
			r.log.Debug("group option has no widget",
				zap.String("group", name), zap.String("option", option), zap.String("source", src))
			continue
		}
		v := "false"
		if chosen[option] {
			v = "true"
		}
		for _, f := range candidates {
			targets = append(targets, forms.Target{LogicalName: name, Field: f, Value: v})
		}
	}
	return targets, nil
}

// resolveRadio addresses the kids of one radio field. The value names an
// export value, or is boolean-ish when the group has a single member.
func (r *Resolver) resolveRadio(name string, kids []*forms.FieldDescriptor, value string) ([]forms.Target, error) {
	selected := -1
	for i, k := range kids {
		if k.ExportValue == value {
			selected = i
			break
		}
	}
	if selected < 0 && strings.TrimSpace(value) != "" && !isFalse(value) {
		return nil, forms.NewResolutionMiss(name + "=" + value)
	}
	targets := make([]forms.Target, 0, len(kids))
	for i, k := range kids {
		v := "false"
		if i == selected {
			v = "true"
		}
		targets = append(targets, forms.Target{LogicalName: name, Field: k, Value: v})
	}
	return targets, nil
}

// pick narrows same-named widgets to the expected page and, when a rect is
// given, to the single widget closest to it.
func (r *Resolver) pick(candidates []*forms.FieldDescriptor, page int, rect *forms.Rect) []*forms.FieldDescriptor {
	if page > 0 {
		var onPage []*forms.FieldDescriptor
		for _, c := range candidates {
			if c.Page == page {
				onPage = append(onPage, c)
			}
		}
		if len(onPage) > 0 {
			candidates = onPage
		}
	}
	if rect == nil || len(candidates) < 2 {
		return candidates
	}
	best, bestDist := candidates[0], math.Inf(1)
	for _, c := range candidates {
		if d := centerDistance(c.Rect, *rect); d < bestDist {
			best, bestDist = c, d
		}
	}
	return []*forms.FieldDescriptor{best}
}

func centerDistance(a, b forms.Rect) float64 {
	ax, ay := a.Center()
	bx, by := b.Center()
	return math.Hypot(ax-bx, ay-by)
}

func splitChoice(value string, multi bool) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if !multi {
		return []string{value}
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func isFalse(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "0", "no", "off":
		return true
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
