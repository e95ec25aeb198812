package forms

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/font"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"go.uber.org/zap"
)

// FontProvider reports whether a font can be used for rendering.
type FontProvider interface {
	Available(baseFont string) bool
}

// FontProviderFunc adapts a function to FontProvider.
type FontProviderFunc func(baseFont string) bool

// Available implements FontProvider.
func (f FontProviderFunc) Available(baseFont string) bool { return f(baseFont) }

// CoreFonts accepts the 14 standard Type 1 fonts every viewer carries.
var CoreFonts FontProvider = FontProviderFunc(font.IsCoreFont)

// SkippedField is a target that could not be written.
type SkippedField struct {
	Identifier  string `json:"identifier"`
	LogicalName string `json:"logicalName,omitempty"`
	Reason      string `json:"reason"`
}

// FieldOutcome records what happened to one non-empty target.
type FieldOutcome struct {
	Identifier  string
	LogicalName string
	Value       string
	Filled      bool
	// Font is the typeface used for overlay text (signatures, annotations).
	Font string
	Err  error
}

// FillResult is the output of a fill pass.
type FillResult struct {
	Output      []byte
	FilledCount int
	Skipped     []SkippedField
	Outcomes    []FieldOutcome
}

// Filler writes values into a PDF.
type Filler struct {
	fonts FontProvider
	log   *zap.Logger
}

// FillerOption configures a Filler.
type FillerOption func(*Filler)

// WithFontProvider overrides the font availability check used by the
// signature renderer.
func WithFontProvider(p FontProvider) FillerOption {
	return func(f *Filler) { f.fonts = p }
}

// WithLogger sets the logger used for per-field diagnostics.
func WithLogger(l *zap.Logger) FillerOption {
	return func(f *Filler) { f.log = l }
}

// NewFiller creates a Filler using the standard core fonts.
func NewFiller(opts ...FillerOption) *Filler {
	f := &Filler{fonts: CoreFonts}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = zap.L()
	}
	return f
}

// Fill is shorthand for NewFiller().Fill.
func Fill(pdf []byte, targets []Target) (*FillResult, error) {
	return NewFiller().Fill(pdf, targets)
}

// Fill applies every target with a non-empty value. A failing target is
// recorded in Skipped and never aborts the pass; only an unreadable input or
// a failure to serialize the result is returned as an error. The output is
// produced once, after all targets are processed.
func (f *Filler) Fill(pdf []byte, targets []Target) (*FillResult, error) {
	l, err := loadLayout(pdf, false)
	if err != nil {
		return nil, err
	}

	byName := make(map[string][]*widgetInfo, len(l.widgets))
	for _, w := range l.widgets {
		byName[w.name] = append(byName[w.name], w)
	}

	res := &FillResult{}
	textWritten := false
	for _, t := range targets {
		if strings.TrimSpace(t.Value) == "" {
			continue
		}
		out := f.apply(l, byName, t)
		res.Outcomes = append(res.Outcomes, out)
		if out.Err != nil {
			f.log.Warn("field skipped",
				zap.String("field", out.Identifier),
				zap.String("logical_name", t.LogicalName),
				zap.Error(out.Err),
			)
			res.Skipped = append(res.Skipped, SkippedField{
				Identifier:  out.Identifier,
				LogicalName: t.LogicalName,
				Reason:      out.Err.Error(),
			})
			continue
		}
		res.FilledCount++
		if t.Field != nil && t.Field.Type.IsTextLike() {
			textWritten = true
		}
	}

	if textWritten && l.acroForm != nil {
		l.acroForm["NeedAppearances"] = types.Boolean(true)
	}

	var buf bytes.Buffer
	if err := api.WriteContext(l.ctx, &buf); err != nil {
		return nil, fmt.Errorf("failed to write filled PDF: %w", err)
	}
	res.Output = buf.Bytes()
	return res, nil
}

// apply writes one target, converting panics from malformed structures into
// a FillFailure for that target only.
func (f *Filler) apply(l *layout, byName map[string][]*widgetInfo, t Target) (out FieldOutcome) {
	out = FieldOutcome{Identifier: t.Identifier(), LogicalName: t.LogicalName, Value: t.Value}
	defer func() {
		if r := recover(); r != nil {
			out.Filled = false
			out.Err = NewFillFailure(out.Identifier, fmt.Errorf("panic: %v", r))
		}
	}()

	var err error
	switch {
	case t.Annotation != nil:
		out.Font, err = f.fillAnnotation(l, t.Annotation, t.Value)
	case t.Field != nil:
		out.Font, err = f.fillField(l, byName, t.Field, t.Value)
	default:
		err = errors.New("target has neither field nor annotation")
	}
	if err != nil {
		out.Err = NewFillFailure(out.Identifier, err)
		return out
	}
	out.Filled = true
	return out
}

func (f *Filler) fillField(l *layout, byName map[string][]*widgetInfo, fd *FieldDescriptor, value string) (string, error) {
	w, err := locateWidget(byName, fd)
	if err != nil {
		return "", err
	}
	if fd.ReadOnly {
		return "", errors.New("field is read-only")
	}

	switch fd.Type {
	case TypeSignature:
		return f.renderSignature(l, w.page, w.rect, fd.SourceIdentifier, value)
	case TypeCheckbox:
		return "", setCheckbox(l, w, ParseBool(value))
	case TypeRadio:
		return "", setRadio(l, w, fd.ExportValue, value)
	default:
		setText(w, value)
		return "", nil
	}
}

// locateWidget finds the widget a descriptor was detected from. Widgets
// sharing a name (radio members, repeated fields) are told apart by page
// and geometry.
func locateWidget(byName map[string][]*widgetInfo, fd *FieldDescriptor) (*widgetInfo, error) {
	candidates := byName[fd.SourceIdentifier]
	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("no widget named %q", fd.SourceIdentifier)
	case 1:
		return candidates[0], nil
	}
	for _, w := range candidates {
		if w.page.number == fd.Page && w.rect.Contains(fd.Rect) && fd.Rect.Contains(w.rect) {
			return w, nil
		}
	}
	for _, w := range candidates {
		if w.page.number == fd.Page {
			return w, nil
		}
	}
	return candidates[0], nil
}

func setText(w *widgetInfo, value string) {
	w.field["V"] = encodeText(value)
	// Stale appearances would keep showing the old value.
	delete(w.widget, "AP")
}

func setCheckbox(l *layout, w *widgetInfo, on bool) error {
	export, err := l.onState(w.widget)
	if err != nil {
		return err
	}
	if export == "" {
		export = "Yes"
	}
	state := types.Name("Off")
	if on {
		state = types.Name(export)
	}
	w.field["V"] = state
	w.widget["AS"] = state
	return nil
}

// setRadio selects or clears one member of a radio group. The value may be
// boolean-ish or name an export value directly.
func setRadio(l *layout, w *widgetInfo, export, value string) error {
	own, err := l.onState(w.widget)
	if err != nil {
		return err
	}
	if export == "" {
		export = own
	}
	if export == "" {
		return errors.New("radio member has no export value")
	}

	on := ParseBool(value) || value == export
	group := w.field

	if !on {
		if current := l.name(group, "V"); current == export {
			group["V"] = types.Name("Off")
		}
		w.widget["AS"] = types.Name("Off")
		return nil
	}

	group["V"] = types.Name(export)
	kidsObj, found := group.Find("Kids")
	if !found {
		w.widget["AS"] = types.Name(export)
		return nil
	}
	kids, err := l.ctx.DereferenceArray(kidsObj)
	if err != nil {
		return fmt.Errorf("unreadable radio kids: %w", err)
	}
	for _, kidObj := range kids {
		kid, err := l.ctx.DereferenceDict(kidObj)
		if err != nil || kid == nil {
			continue
		}
		state, _ := l.onState(kid)
		if state == export {
			kid["AS"] = types.Name(export)
		} else {
			kid["AS"] = types.Name("Off")
		}
	}
	return nil
}

// encodeText produces a PDF text string: an escaped literal for printable
// ASCII, UTF-16BE hex otherwise.
func encodeText(s string) types.Object {
	ascii := true
	for _, r := range s {
		if r > 0x7e || (r < 0x20 && r != '\n' && r != '\r' && r != '\t') {
			ascii = false
			break
		}
	}
	if ascii {
		return types.StringLiteral(escapeLiteral([]byte(s)))
	}
	var b strings.Builder
	b.WriteString("FEFF")
	for _, u := range utf16.Encode([]rune(s)) {
		fmt.Fprintf(&b, "%04X", u)
	}
	return types.HexLiteral(b.String())
}

func escapeLiteral(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		switch c {
		case '\\', '(', ')':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
