package forms

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

// SignatureFonts is the ordered list of script-like faces tried for
// signature overlays before falling back to PlainFont.
var SignatureFonts = []string{"Times-Italic", "Helvetica-Oblique", "Courier-Oblique"}

// PlainFont is the last-resort face. It is always used when reached.
const PlainFont = "Helvetica"

// DefaultAnnotationFontSize applies to positioned annotations without an
// explicit size.
const DefaultAnnotationFontSize = 11

var (
	signatureColor = [3]float64{0, 0, 0.8}
	textColor      = [3]float64{0, 0, 0}
)

// OverlayAnnotation is a free-text annotation read back from a document.
type OverlayAnnotation struct {
	Name     string
	Page     int
	Rect     Rect
	Contents string
	Font     string
	FontSize float64
}

type overlay struct {
	name     string
	page     *pageInfo
	rect     Rect
	text     string
	encoded  [][]byte
	face     string
	size     float64
	color    [3]float64
	baseline float64
}

// renderSignature draws value inside rect, trying each signature face in
// order. Unavailable or unusable faces are skipped; the plain face always
// renders, substituting characters it cannot encode.
func (f *Filler) renderSignature(l *layout, page *pageInfo, rect Rect, name, value string) (string, error) {
	size := math.Max(10, math.Min(rect.H-2, 14))
	base := overlay{
		name:     name,
		page:     page,
		rect:     rect,
		text:     value,
		size:     size,
		color:    signatureColor,
		baseline: 3,
	}

	for _, face := range SignatureFonts {
		if !f.fonts.Available(face) {
			f.log.Debug("signature font unavailable", zap.String("field", name), zap.String("font", face))
			continue
		}
		lines, err := encodeWinAnsi(value, false)
		if err != nil {
			f.log.Debug("signature font cannot encode value",
				zap.String("field", name), zap.String("font", face), zap.Error(err))
			continue
		}
		o := base
		o.face, o.encoded = face, lines
		if err := addOverlay(l, o); err != nil {
			f.log.Warn("signature render attempt failed",
				zap.String("field", name), zap.String("font", face), zap.Error(err))
			continue
		}
		return face, nil
	}

	f.log.Info("signature rendered with plain font", zap.String("field", name))
	lines, _ := encodeWinAnsi(value, true)
	o := base
	o.face, o.encoded = PlainFont, lines
	return PlainFont, addOverlay(l, o)
}

// fillAnnotation places a positioned annotation's value at its exact rect.
func (f *Filler) fillAnnotation(l *layout, a *PositionedAnnotation, value string) (string, error) {
	if a.Page < 1 || a.Page > len(l.pages) {
		return "", fmt.Errorf("page %d out of range (document has %d)", a.Page, len(l.pages))
	}
	if a.Rect.Empty() {
		return "", errors.New("annotation rectangle has no area")
	}
	size := a.FontSize
	if size <= 0 {
		size = DefaultAnnotationFontSize
	}
	lines, _ := encodeWinAnsi(value, true)
	err := addOverlay(l, overlay{
		name:     a.LogicalName,
		page:     l.pages[a.Page-1],
		rect:     a.Rect,
		text:     value,
		encoded:  lines,
		face:     PlainFont,
		size:     size,
		color:    textColor,
		baseline: math.Max(2, a.Rect.H-size-2),
	})
	return PlainFont, err
}

// addOverlay appends a FreeText annotation with its own appearance stream to
// the page. Existing annotations are never modified.
func addOverlay(l *layout, o overlay) error {
	fontRef, err := l.ctx.IndRefForNewObject(types.Dict{
		"Type":     types.Name("Font"),
		"Subtype":  types.Name("Type1"),
		"BaseFont": types.Name(o.face),
		"Encoding": types.Name("WinAnsiEncoding"),
	})
	if err != nil {
		return fmt.Errorf("font object: %w", err)
	}

	sd := types.NewStreamDict(types.Dict{
		"Type":      types.Name("XObject"),
		"Subtype":   types.Name("Form"),
		"BBox":      numberArray(0, 0, o.rect.W, o.rect.H),
		"Resources": types.Dict{"Font": types.Dict{"F0": *fontRef}},
	}, 0, nil, nil, nil)
	sd.Content = appearanceContent(o)
	if err := sd.Encode(); err != nil {
		return fmt.Errorf("encode appearance: %w", err)
	}
	apRef, err := l.ctx.IndRefForNewObject(sd)
	if err != nil {
		return fmt.Errorf("appearance object: %w", err)
	}

	annot := types.Dict{
		"Type":     types.Name("Annot"),
		"Subtype":  types.Name("FreeText"),
		"Rect":     numberArray(o.rect.X, o.rect.Y, o.rect.X+o.rect.W, o.rect.Y+o.rect.H),
		"Contents": encodeText(o.text),
		"NM":       types.StringLiteral(escapeLiteral([]byte(o.name))),
		"DA": types.StringLiteral(fmt.Sprintf("/%s %s Tf %s %s %s rg",
			o.face, num(o.size), num(o.color[0]), num(o.color[1]), num(o.color[2]))),
		"F":      types.Integer(4),
		"Border": types.Array{types.Integer(0), types.Integer(0), types.Integer(0)},
		"AP":     types.Dict{"N": *apRef},
	}
	annotRef, err := l.ctx.IndRefForNewObject(annot)
	if err != nil {
		return fmt.Errorf("annotation object: %w", err)
	}

	var annots types.Array
	if existing, found := o.page.dict.Find("Annots"); found {
		arr, err := l.ctx.DereferenceArray(existing)
		if err != nil {
			return fmt.Errorf("page annotations: %w", err)
		}
		annots = append(annots, arr...)
	}
	o.page.dict["Annots"] = append(annots, *annotRef)
	return nil
}

func appearanceContent(o overlay) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "q %s %s %s rg BT /F0 %s Tf %s TL 3 %s Td",
		num(o.color[0]), num(o.color[1]), num(o.color[2]),
		num(o.size), num(o.size*1.2), num(o.baseline))
	for i, line := range o.encoded {
		if i > 0 {
			b.WriteString(" T*")
		}
		fmt.Fprintf(&b, " (%s) Tj", escapeLiteral(line))
	}
	b.WriteString(" ET Q")
	return []byte(b.String())
}

// encodeWinAnsi converts text to WinAnsiEncoding, one slice per line. With
// lossy set, unencodable runes become '?'; otherwise they are an error.
func encodeWinAnsi(text string, lossy bool) ([][]byte, error) {
	var lines [][]byte
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		out := make([]byte, 0, len(line))
		for _, r := range line {
			c, ok := charmap.Windows1252.EncodeRune(r)
			if !ok {
				if !lossy {
					return nil, fmt.Errorf("character %q not representable", r)
				}
				c = '?'
			}
			out = append(out, c)
		}
		lines = append(lines, out)
	}
	return lines, nil
}

func numberArray(fs ...float64) types.Array {
	arr := make(types.Array, len(fs))
	for i, f := range fs {
		arr[i] = types.Float(f)
	}
	return arr
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ReadAnnotations returns every free-text annotation in the document, in
// page order.
func ReadAnnotations(pdf []byte) ([]OverlayAnnotation, error) {
	l, err := loadLayout(pdf, false)
	if err != nil {
		return nil, err
	}

	var out []OverlayAnnotation
	for _, p := range l.pages {
		annotsObj, found := p.dict.Find("Annots")
		if !found {
			continue
		}
		annots, err := l.ctx.DereferenceArray(annotsObj)
		if err != nil {
			return nil, newDetectionError(p.number, "unparseable Annots", err)
		}
		for _, obj := range annots {
			d, err := l.ctx.DereferenceDict(obj)
			if err != nil || d == nil || l.name(d, "Subtype") != "FreeText" {
				continue
			}
			oa := OverlayAnnotation{Page: p.number}
			if nm, found := d.Find("NM"); found {
				oa.Name, _ = l.str(nm)
			}
			if c, found := d.Find("Contents"); found {
				oa.Contents, _ = l.str(c)
			}
			if r, found := d.Find("Rect"); found {
				if nums, err := l.numbers(r); err == nil && len(nums) == 4 {
					oa.Rect = RectFromCorners(nums[0], nums[1], nums[2], nums[3])
				}
			}
			if da, found := d.Find("DA"); found {
				if s, ok := l.str(da); ok {
					style := parseDA(s, Styling{})
					oa.Font, oa.FontSize = style.FontFamily, style.FontSize
				}
			}
			out = append(out, oa)
		}
	}
	return out, nil
}

// PageCount returns the number of pages in the document.
func PageCount(pdf []byte) (int, error) {
	l, err := loadLayout(pdf, false)
	if err != nil {
		return 0, err
	}
	return len(l.pages), nil
}
