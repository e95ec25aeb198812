package forms

import "strings"

// SemanticType is the application-level kind of a form field.
type SemanticType string

// Semantic types produced by detection.
const (
	TypeText      SemanticType = "text"
	TypeEmail     SemanticType = "email"
	TypeTel       SemanticType = "tel"
	TypeDate      SemanticType = "date"
	TypeTextarea  SemanticType = "textarea"
	TypeCheckbox  SemanticType = "checkbox"
	TypeRadio     SemanticType = "radio"
	TypeSelect    SemanticType = "select"
	TypeSignature SemanticType = "signature"
)

// Valid reports whether t is one of the known semantic types.
func (t SemanticType) Valid() bool {
	switch t {
	case TypeText, TypeEmail, TypeTel, TypeDate, TypeTextarea,
		TypeCheckbox, TypeRadio, TypeSelect, TypeSignature:
		return true
	}
	return false
}

// IsTextLike reports whether values of this type are written as the widget value.
func (t SemanticType) IsTextLike() bool {
	switch t {
	case TypeText, TypeEmail, TypeTel, TypeDate, TypeTextarea, TypeSelect:
		return true
	}
	return false
}

// IsToggle reports whether the type is a checked/unchecked button.
func (t SemanticType) IsToggle() bool {
	return t == TypeCheckbox || t == TypeRadio
}

// Owner identifies which party supplies a field's value.
type Owner string

const (
	PartyA Owner = "partyA"
	PartyB Owner = "partyB"
)

// Valid reports whether o names one of the two parties.
func (o Owner) Valid() bool {
	return o == PartyA || o == PartyB
}

// Other returns the opposite party.
func (o Owner) Other() Owner {
	if o == PartyA {
		return PartyB
	}
	return PartyA
}

// OwnerSource records how a field's owner was decided.
type OwnerSource string

const (
	OwnerFromKeyword  OwnerSource = "keyword"
	OwnerFromPosition OwnerSource = "position"
	OwnerExplicit     OwnerSource = "explicit"
)

// Rect is an axis-aligned rectangle in PDF user space (origin lower-left).
type Rect struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	W float64 `json:"w" yaml:"w"`
	H float64 `json:"h" yaml:"h"`
}

// RectFromCorners normalizes two opposite corners into a Rect.
func RectFromCorners(x1, y1, x2, y2 float64) Rect {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	return Rect{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// Center returns the rectangle's midpoint.
func (r Rect) Center() (float64, float64) {
	return r.X + r.W/2, r.Y + r.H/2
}

// Contains reports whether o lies entirely within r.
func (r Rect) Contains(o Rect) bool {
	const eps = 0.01
	return o.X >= r.X-eps && o.Y >= r.Y-eps &&
		o.X+o.W <= r.X+r.W+eps && o.Y+o.H <= r.Y+r.H+eps
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Styling is the visual configuration read from a widget's default appearance.
type Styling struct {
	FontFamily string  `json:"fontFamily"`
	FontSize   float64 `json:"fontSize"`
	Color      string  `json:"color"`
	MaxLength  int     `json:"maxLength,omitempty"`
	Multiline  bool    `json:"multiline,omitempty"`
}

// DefaultStyling mirrors what most viewers assume when /DA is absent.
func DefaultStyling() Styling {
	return Styling{
		FontFamily: "Helvetica",
		FontSize:   12,
		Color:      "#000000",
	}
}

// FieldDescriptor describes one interactive widget. Geometry never changes
// after detection; only Value (and ownership/required metadata) is mutated.
type FieldDescriptor struct {
	ID               string       `json:"id"`
	SourceIdentifier string       `json:"sourceIdentifier"`
	Type             SemanticType `json:"semanticType"`
	Page             int          `json:"page"`
	Rect             Rect         `json:"rect"`
	Required         bool         `json:"required"`
	ReadOnly         bool         `json:"readOnly,omitempty"`
	Owner            Owner        `json:"owner"`
	OwnerSource      OwnerSource  `json:"ownerSource"`
	Value            string       `json:"value"`
	ExportValue      string       `json:"exportValue,omitempty"`
	Options          []string     `json:"options,omitempty"`
	Styling          Styling      `json:"styling"`
}

// PositionedAnnotation is a field with no backing widget, placed at fixed
// page coordinates from a hand-maintained table.
type PositionedAnnotation struct {
	LogicalName string  `json:"logicalName"`
	Page        int     `json:"page"`
	Rect        Rect    `json:"rect"`
	Owner       Owner   `json:"owner"`
	Required    bool    `json:"required"`
	FontSize    float64 `json:"fontSize,omitempty"`
}

// Target is a resolved (identifier, value) pair handed to the Fill Engine.
// Exactly one of Field and Annotation is set.
type Target struct {
	LogicalName string
	Field       *FieldDescriptor
	Annotation  *PositionedAnnotation
	Value       string
}

// Identifier returns the name used when reporting on the target.
func (t Target) Identifier() string {
	switch {
	case t.Field != nil:
		return t.Field.SourceIdentifier
	case t.Annotation != nil:
		return t.Annotation.LogicalName
	}
	return t.LogicalName
}

// ParseBool interprets boolean-ish input (true, 1, yes, on; case-insensitive).
func ParseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}
