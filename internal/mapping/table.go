// Package mapping resolves application-level input names to concrete form
// widgets and positioned annotations by exact lookup in a static table.
package mapping

import (
	"bytes"
	_ "embed"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
)

//go:embed default_table.yaml
var defaultTableYAML []byte

// FieldMapping binds a logical name to a widget's source identifier. Page,
// Type and Rect are expectations used for validation and, when several
// widgets share a name, for choosing between them.
type FieldMapping struct {
	Source   string             `yaml:"source" json:"source"`
	Page     int                `yaml:"page,omitempty" json:"page,omitempty"`
	Type     forms.SemanticType `yaml:"type,omitempty" json:"type,omitempty"`
	Owner    forms.Owner        `yaml:"owner,omitempty" json:"owner,omitempty"`
	Required bool               `yaml:"required,omitempty" json:"required,omitempty"`
	Rect     *forms.Rect        `yaml:"rect,omitempty" json:"rect,omitempty"`
}

// Group is a one-of-many (or, with Multi, some-of-many) input whose chosen
// value selects a target widget. Options maps input values to source
// identifiers. Values listed in Ignore are accepted without writing anything.
type Group struct {
	Page     int                `yaml:"page,omitempty" json:"page,omitempty"`
	Type     forms.SemanticType `yaml:"type,omitempty" json:"type,omitempty"`
	Owner    forms.Owner        `yaml:"owner,omitempty" json:"owner,omitempty"`
	Required bool               `yaml:"required,omitempty" json:"required,omitempty"`
	Multi    bool               `yaml:"multi,omitempty" json:"multi,omitempty"`
	Options  map[string]string  `yaml:"options" json:"options"`
	Ignore   []string           `yaml:"ignore,omitempty" json:"ignore,omitempty"`
}

// AnnotationMapping places a value that has no widget at an absolute
// rectangle.
type AnnotationMapping struct {
	Page     int         `yaml:"page" json:"page"`
	Rect     forms.Rect  `yaml:"rect" json:"rect"`
	Owner    forms.Owner `yaml:"owner" json:"owner"`
	Required bool        `yaml:"required,omitempty" json:"required,omitempty"`
	FontSize float64     `yaml:"fontSize,omitempty" json:"fontSize,omitempty"`
}

// Table is the hand-maintained mapping configuration.
type Table struct {
	Fields      map[string]FieldMapping      `yaml:"fields" json:"fields"`
	Groups      map[string]Group             `yaml:"groups,omitempty" json:"groups,omitempty"`
	Annotations map[string]AnnotationMapping `yaml:"annotations,omitempty" json:"annotations,omitempty"`
}

// DefaultTable returns the embedded table for the energy assistance
// application form.
func DefaultTable() *Table {
	t, err := ParseTable(defaultTableYAML)
	if err != nil {
		panic(eris.Wrap(err, "mapping: embedded default table"))
	}
	return t
}

// LoadTable reads a YAML table from path. An empty path yields the default
// table.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "mapping: read table %s", path)
	}
	t, err := ParseTable(data)
	if err != nil {
		return nil, eris.Wrapf(err, "mapping: table %s", path)
	}
	return t, nil
}

// ParseTable decodes a YAML table, rejecting unknown keys, and checks it.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, eris.Wrap(err, "mapping: decode table")
	}
	if err := t.Check(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Check verifies the table is internally consistent. A name may only be
// claimed once across fields, groups and annotations, and an annotation may
// not share its name with any source identifier the table maps to a widget.
func (t *Table) Check() error {
	var problems []string
	sources := make(map[string]string)

	for _, name := range sortedKeys(t.Fields) {
		m := t.Fields[name]
		if strings.TrimSpace(m.Source) == "" {
			problems = append(problems, "field "+name+": empty source")
		}
		if m.Type != "" && !m.Type.Valid() {
			problems = append(problems, "field "+name+": unknown type "+string(m.Type))
		}
		if m.Owner != "" && !m.Owner.Valid() {
			problems = append(problems, "field "+name+": unknown owner "+string(m.Owner))
		}
		sources[m.Source] = "field " + name
	}

	for _, name := range sortedKeys(t.Groups) {
		g := t.Groups[name]
		if _, dup := t.Fields[name]; dup {
			problems = append(problems, "group "+name+": also defined as a field")
		}
		if len(g.Options) == 0 {
			problems = append(problems, "group "+name+": no options")
		}
		if g.Type != "" && !g.Type.IsToggle() {
			problems = append(problems, "group "+name+": type must be checkbox or radio")
		}
		if g.Owner != "" && !g.Owner.Valid() {
			problems = append(problems, "group "+name+": unknown owner "+string(g.Owner))
		}
		for _, value := range sortedKeys(g.Options) {
			src := g.Options[value]
			if _, dup := t.Fields[src]; dup {
				problems = append(problems, "group "+name+": option "+value+" reuses field name "+src)
			}
			sources[src] = "group " + name
		}
	}

	for _, name := range sortedKeys(t.Annotations) {
		a := t.Annotations[name]
		if _, dup := t.Fields[name]; dup {
			problems = append(problems, "annotation "+name+": also defined as a field")
		}
		if _, dup := t.Groups[name]; dup {
			problems = append(problems, "annotation "+name+": also defined as a group")
		}
		if owner, dup := sources[name]; dup {
			problems = append(problems, "annotation "+name+": collides with source identifier of "+owner)
		}
		if a.Page < 1 {
			problems = append(problems, "annotation "+name+": page must be >= 1")
		}
		if a.Rect.Empty() {
			problems = append(problems, "annotation "+name+": empty rect")
		}
		if !a.Owner.Valid() {
			problems = append(problems, "annotation "+name+": unknown owner "+string(a.Owner))
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("mapping: invalid table: %s", strings.Join(problems, "; "))
	}
	return nil
}

// PositionedAnnotations returns the annotation entries ordered by page and
// name.
func (t *Table) PositionedAnnotations() []forms.PositionedAnnotation {
	out := make([]forms.PositionedAnnotation, 0, len(t.Annotations))
	for name, a := range t.Annotations {
		out = append(out, forms.PositionedAnnotation{
			LogicalName: name,
			Page:        a.Page,
			Rect:        a.Rect,
			Owner:       a.Owner,
			Required:    a.Required,
			FontSize:    a.FontSize,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Page != out[j].Page {
			return out[i].Page < out[j].Page
		}
		return out[i].LogicalName < out[j].LogicalName
	})
	return out
}

// ApplyOverrides records the table's owner and required settings on the
// detected fields as explicit assignments, and refines the semantic type of
// non-toggle widgets (a text widget the table calls a signature is rendered
// as one). It returns the number of fields changed.
func (t *Table) ApplyOverrides(fields []forms.FieldDescriptor) int {
	type override struct {
		page     int
		typ      forms.SemanticType
		owner    forms.Owner
		required bool
	}
	bySource := make(map[string]override)
	for _, m := range t.Fields {
		bySource[m.Source] = override{m.Page, m.Type, m.Owner, m.Required}
	}
	for _, g := range t.Groups {
		for _, src := range g.Options {
			bySource[src] = override{g.Page, "", g.Owner, g.Required}
		}
	}

	n := 0
	for i := range fields {
		o, ok := bySource[fields[i].SourceIdentifier]
		if !ok || (o.page > 0 && o.page != fields[i].Page) {
			continue
		}
		if o.owner != "" {
			fields[i].Owner = o.owner
			fields[i].OwnerSource = forms.OwnerExplicit
		}
		if o.required {
			fields[i].Required = true
		}
		if o.typ != "" && !o.typ.IsToggle() && !fields[i].Type.IsToggle() {
			fields[i].Type = o.typ
		}
		n++
	}
	return n
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
