package forms

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"go.uber.org/zap"
)

// Field flag bits (PDF 32000-1, table 221 and following).
const (
	flagReadOnly   = 1 << 0
	flagRequired   = 1 << 1
	flagMultiline  = 1 << 12
	flagRadio      = 1 << 15
	flagPushbutton = 1 << 16
)

var fieldNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:mcp-pdf-formfill:field"))

var (
	partyAKeywords = []string{"applicant", "resident", "tenant"}
	partyBKeywords = []string{"signature", "sign", "owner", "landlord", "manager"}
)

// Detector enumerates the interactive widgets of a PDF.
type Detector struct {
	log *zap.Logger
}

// NewDetector creates a detector. A nil logger uses the global zap logger.
func NewDetector(log *zap.Logger) *Detector {
	if log == nil {
		log = zap.L()
	}
	return &Detector{log: log}
}

// Detect is shorthand for NewDetector(nil).Detect.
func Detect(pdf []byte) ([]FieldDescriptor, error) {
	return NewDetector(nil).Detect(pdf)
}

// Detect returns exactly one FieldDescriptor per widget annotation, in page
// order. Any unparseable page or widget fails the whole document.
func (d *Detector) Detect(pdf []byte) ([]FieldDescriptor, error) {
	l, err := loadLayout(pdf, true)
	if err != nil {
		return nil, err
	}

	defaultStyle := DefaultStyling()
	if daObj, found := l.acroForm.Find("DA"); found {
		if da, ok := l.str(daObj); ok {
			defaultStyle = parseDA(da, defaultStyle)
		}
	}

	fields := make([]FieldDescriptor, 0, len(l.widgets))
	for _, w := range l.widgets {
		fd := d.describe(l, w, defaultStyle)
		d.log.Debug("detected field",
			zap.String("name", fd.SourceIdentifier),
			zap.String("type", string(fd.Type)),
			zap.Int("page", fd.Page),
			zap.String("owner", string(fd.Owner)),
		)
		fields = append(fields, fd)
	}
	return fields, nil
}

func (d *Detector) describe(l *layout, w *widgetInfo, defaultStyle Styling) FieldDescriptor {
	fd := FieldDescriptor{
		ID:               FieldID(w.page.number, w.index, w.name),
		SourceIdentifier: w.name,
		Type:             semanticType(w.ft, w.flags, w.name),
		Page:             w.page.number,
		Rect:             w.rect,
		Required:         w.flags&flagRequired != 0,
		ReadOnly:         w.flags&flagReadOnly != 0,
	}
	if w.ft == "Btn" && w.flags&flagPushbutton != 0 {
		fd.ReadOnly = true
	}
	fd.Owner, fd.OwnerSource = DefaultOwner(w.name, w.rect, w.page.width)

	fd.Styling = defaultStyle
	if daObj, ok := l.inherited(w.widget, "DA"); ok {
		if da, ok := l.str(daObj); ok {
			fd.Styling = parseDA(da, fd.Styling)
		}
	}
	if fd.Type == TypeTextarea {
		fd.Styling.Multiline = true
	}
	if maxLenObj, ok := l.inherited(w.field, "MaxLen"); ok {
		if maxLen, err := l.ctx.DereferenceInteger(maxLenObj); err == nil && maxLen != nil {
			fd.Styling.MaxLength = int(*maxLen)
		}
	}

	switch fd.Type {
	case TypeCheckbox, TypeRadio:
		export, err := l.onState(w.widget)
		if err != nil {
			d.log.Warn("unreadable appearance states", zap.String("name", w.name), zap.Error(err))
		}
		if export == "" && fd.Type == TypeCheckbox {
			export = "Yes"
		}
		fd.ExportValue = export
		fd.Value = toggleValue(l, w, export)
		if fd.Type == TypeRadio {
			fd.Options = radioExports(l, w)
		}
	case TypeSelect:
		fd.Options = choiceOptions(l, w.field)
		fd.Value = textValue(l, w.field)
	case TypeSignature:
		// Signatures are rendered as overlays, never read back from /V.
	default:
		fd.Value = textValue(l, w.field)
	}
	return fd
}

// FieldID derives the stable synthetic key of a widget.
func FieldID(page, index int, name string) string {
	return uuid.NewSHA1(fieldNamespace, []byte(fmt.Sprintf("%d/%d/%s", page, index, name))).String()
}

// semanticType maps the low-level kind code and flags to a SemanticType,
// refining text widgets by their name.
func semanticType(ft string, flags int, name string) SemanticType {
	switch ft {
	case "Btn":
		if flags&flagRadio != 0 {
			return TypeRadio
		}
		return TypeCheckbox
	case "Ch":
		return TypeSelect
	case "Sig":
		return TypeSignature
	}

	if flags&flagMultiline != 0 {
		return TypeTextarea
	}
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "email"):
		return TypeEmail
	case strings.Contains(lower, "phone"), strings.Contains(lower, "tel"):
		return TypeTel
	case strings.Contains(lower, "date"):
		return TypeDate
	case strings.Contains(lower, "sign"):
		return TypeSignature
	}
	return TypeText
}

// DefaultOwner applies the two-tier ownership heuristic: name keywords
// first, then horizontal position on the page.
func DefaultOwner(name string, rect Rect, pageWidth float64) (Owner, OwnerSource) {
	lower := strings.ToLower(name)
	for _, kw := range partyAKeywords {
		if strings.Contains(lower, kw) {
			return PartyA, OwnerFromKeyword
		}
	}
	for _, kw := range partyBKeywords {
		if strings.Contains(lower, kw) {
			return PartyB, OwnerFromKeyword
		}
	}
	if cx, _ := rect.Center(); pageWidth > 0 && cx >= pageWidth/2 {
		return PartyB, OwnerFromPosition
	}
	return PartyA, OwnerFromPosition
}

func textValue(l *layout, field types.Dict) string {
	vObj, ok := l.inherited(field, "V")
	if !ok {
		return ""
	}
	if s, ok := l.str(vObj); ok {
		return s
	}
	if arr, err := l.ctx.DereferenceArray(vObj); err == nil {
		var values []string
		for _, item := range arr {
			if s, ok := l.str(item); ok {
				values = append(values, s)
			}
		}
		return strings.Join(values, ",")
	}
	return ""
}

func toggleValue(l *layout, w *widgetInfo, export string) string {
	if export == "" {
		return ""
	}
	state := l.name(w.widget, "AS")
	if state == "" {
		if vObj, ok := l.inherited(w.field, "V"); ok {
			if n, err := l.ctx.DereferenceName(vObj, model.V10, nil); err == nil {
				state = string(n)
			}
		}
	}
	if state == export {
		return "true"
	}
	return ""
}

func radioExports(l *layout, w *widgetInfo) []string {
	kidsObj, found := w.field.Find("Kids")
	if !found {
		return nil
	}
	kids, err := l.ctx.DereferenceArray(kidsObj)
	if err != nil {
		return nil
	}
	var exports []string
	for _, kidObj := range kids {
		kid, err := l.ctx.DereferenceDict(kidObj)
		if err != nil || kid == nil {
			continue
		}
		if s, err := l.onState(kid); err == nil && s != "" {
			exports = append(exports, s)
		}
	}
	return exports
}

// choiceOptions returns display values; options may be strings or
// [export display] pairs.
func choiceOptions(l *layout, field types.Dict) []string {
	optObj, ok := l.inherited(field, "Opt")
	if !ok {
		return nil
	}
	optArray, err := l.ctx.DereferenceArray(optObj)
	if err != nil {
		return nil
	}
	var options []string
	for _, opt := range optArray {
		if s, ok := l.str(opt); ok {
			options = append(options, s)
		} else if arr, err := l.ctx.DereferenceArray(opt); err == nil && len(arr) >= 2 {
			if display, ok := l.str(arr[1]); ok {
				options = append(options, display)
			}
		}
	}
	return options
}

var daFontNames = map[string]string{
	"Helv": "Helvetica",
	"HeBo": "Helvetica-Bold",
	"TiRo": "Times-Roman",
	"TiIt": "Times-Italic",
	"Cour": "Courier",
	"ZaDb": "ZapfDingbats",
}

// parseDA reads font, size and colour operators from a default appearance
// string. Unset values keep those of base.
func parseDA(da string, base Styling) Styling {
	s := base
	parts := strings.Fields(da)
	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "Tf":
			if i >= 2 {
				name := strings.TrimPrefix(parts[i-2], "/")
				if full, ok := daFontNames[name]; ok {
					name = full
				}
				if name != "" {
					s.FontFamily = name
				}
				// Size 0 means auto-size.
				if size, err := strconv.ParseFloat(parts[i-1], 64); err == nil && size > 0 {
					s.FontSize = size
				}
			}
		case "rg":
			if i >= 3 {
				r, _ := strconv.ParseFloat(parts[i-3], 64)
				g, _ := strconv.ParseFloat(parts[i-2], 64)
				b, _ := strconv.ParseFloat(parts[i-1], 64)
				s.Color = hexColor(r, g, b)
			}
		case "g":
			if i >= 1 {
				gray, _ := strconv.ParseFloat(parts[i-1], 64)
				s.Color = hexColor(gray, gray, gray)
			}
		}
	}
	return s
}

func hexColor(r, g, b float64) string {
	clamp := func(v float64) int {
		switch {
		case v <= 0:
			return 0
		case v >= 1:
			return 255
		}
		return int(v*255 + 0.5)
	}
	return fmt.Sprintf("#%02x%02x%02x", clamp(r), clamp(g), clamp(b))
}
