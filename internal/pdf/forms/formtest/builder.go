// Package formtest builds small AcroForm PDFs in memory for tests.
package formtest

import (
	"bytes"
	"fmt"
	"strings"
)

// Kind selects the widget flavour written by the builder.
type Kind int

const (
	Text Kind = iota
	Multiline
	Checkbox
	Choice
	Signature
	Pushbutton
)

// Field flag bits used by the builder.
const (
	FlagReadOnly   = 1 << 0
	FlagRequired   = 1 << 1
	FlagMultiline  = 1 << 12
	FlagNoToggle   = 1 << 14
	FlagRadio      = 1 << 15
	FlagPushbutton = 1 << 16
	FlagCombo      = 1 << 17
)

// Widget describes one terminal field with a single merged widget annotation.
type Widget struct {
	Name string
	Kind Kind
	// Page is 1-based.
	Page int
	// Rect is [llx lly urx ury].
	Rect    [4]float64
	Flags   int
	Value   string
	Options []string
	// Export is the on-state name for checkboxes; defaults to "Yes".
	Export string
	DA     string
	MaxLen int
	// Parent, when set, nests the widget under a non-terminal field of that name.
	Parent string

	OmitRect         bool
	BadRect          bool
	BrokenAppearance bool
}

// RadioKid is one member of a radio group.
type RadioKid struct {
	Export string
	Rect   [4]float64
}

// Radio describes a radio group whose kids are widgets on the same page.
type Radio struct {
	Name     string
	Page     int
	Flags    int
	Selected string
	Kids     []RadioKid
}

type page struct {
	w, h float64
	text string
}

// Builder accumulates pages and fields and serializes them to PDF bytes.
type Builder struct {
	pages      []page
	widgets    []Widget
	radios     []Radio
	noAcroForm bool
}

// New returns a builder with no pages.
func New() *Builder {
	return &Builder{}
}

// Letter returns a builder with n US-Letter pages.
func Letter(n int) *Builder {
	b := New()
	for i := 0; i < n; i++ {
		b.Page(612, 792)
	}
	return b
}

// Page appends a page of the given size.
func (b *Builder) Page(w, h float64) *Builder {
	b.pages = append(b.pages, page{w: w, h: h, text: fmt.Sprintf("Page %d", len(b.pages)+1)})
	return b
}

// PageText replaces the visible text drawn on page n (1-based).
func (b *Builder) PageText(n int, text string) *Builder {
	b.pages[n-1].text = text
	return b
}

// Add appends a terminal field.
func (b *Builder) Add(w Widget) *Builder {
	if w.Page == 0 {
		w.Page = 1
	}
	b.widgets = append(b.widgets, w)
	return b
}

// AddText is shorthand for a single-line text field.
func (b *Builder) AddText(name string, page int, rect [4]float64) *Builder {
	return b.Add(Widget{Name: name, Kind: Text, Page: page, Rect: rect})
}

// AddRadio appends a radio group.
func (b *Builder) AddRadio(r Radio) *Builder {
	if r.Page == 0 {
		r.Page = 1
	}
	b.radios = append(b.radios, r)
	return b
}

// WithoutAcroForm omits the catalog's /AcroForm entry while keeping widgets.
func (b *Builder) WithoutAcroForm() *Builder {
	b.noAcroForm = true
	return b
}

// WidgetCount returns the number of widget annotations the output will contain.
func (b *Builder) WidgetCount() int {
	n := len(b.widgets)
	for _, r := range b.radios {
		n += len(r.Kids)
	}
	return n
}

type objects struct {
	bodies []string
}

func (o *objects) reserve() int {
	o.bodies = append(o.bodies, "")
	return len(o.bodies)
}

func (o *objects) set(n int, body string) {
	o.bodies[n-1] = body
}

func (o *objects) add(body string) int {
	n := o.reserve()
	o.set(n, body)
	return n
}

func ref(n int) string {
	return fmt.Sprintf("%d 0 R", n)
}

func stream(dict, content string) string {
	return fmt.Sprintf("<< %s /Length %d >>\nstream\n%s\nendstream", dict, len(content), content)
}

func literal(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return "(" + r.Replace(s) + ")"
}

func rectArray(r [4]float64) string {
	return fmt.Sprintf("[%g %g %g %g]", r[0], r[1], r[2], r[3])
}

func refs(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = ref(n)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Bytes serializes the document with a classic cross-reference table.
func (b *Builder) Bytes() []byte {
	if len(b.pages) == 0 {
		b.Page(612, 792)
	}

	o := &objects{}
	catalog := o.reserve()
	pagesRoot := o.reserve()
	acro := o.reserve()
	helv := o.add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	onAP := o.add(stream("/Type /XObject /Subtype /Form /BBox [0 0 12 12]", "0 g 2 2 8 8 re f"))
	offAP := o.add(stream("/Type /XObject /Subtype /Form /BBox [0 0 12 12]", ""))

	pageRefs := make([]int, len(b.pages))
	for i := range b.pages {
		pageRefs[i] = o.reserve()
	}
	annots := make([][]int, len(b.pages))
	var fields []int

	for _, w := range b.widgets {
		pageRef := pageRefs[w.Page-1]
		var parentRef int
		if w.Parent != "" {
			parentRef = o.reserve()
		}
		n := o.add(widgetDict(w, pageRef, parentRef, onAP, offAP))
		annots[w.Page-1] = append(annots[w.Page-1], n)
		if parentRef != 0 {
			o.set(parentRef, fmt.Sprintf("<< /T %s /Kids [%s] >>", literal(w.Parent), ref(n)))
			fields = append(fields, parentRef)
		} else {
			fields = append(fields, n)
		}
	}

	for _, r := range b.radios {
		pageRef := pageRefs[r.Page-1]
		parent := o.reserve()
		var kids []int
		for _, k := range r.Kids {
			as := "/Off"
			if k.Export == r.Selected {
				as = "/" + k.Export
			}
			n := o.add(fmt.Sprintf(
				"<< /Type /Annot /Subtype /Widget /Parent %s /P %s /F 4 /Rect %s /AS %s /AP << /N << /%s %s /Off %s >> >> >>",
				ref(parent), ref(pageRef), rectArray(k.Rect), as, k.Export, ref(onAP), ref(offAP)))
			kids = append(kids, n)
			annots[r.Page-1] = append(annots[r.Page-1], n)
		}
		v := "/Off"
		if r.Selected != "" {
			v = "/" + r.Selected
		}
		o.set(parent, fmt.Sprintf("<< /FT /Btn /Ff %d /T %s /V %s /Kids %s >>",
			FlagRadio|FlagNoToggle|r.Flags, literal(r.Name), v, refs(kids)))
		fields = append(fields, parent)
	}

	for i, p := range b.pages {
		content := fmt.Sprintf("BT /F1 12 Tf 72 %g Td %s Tj ET", p.h-72, literal(p.text))
		c := o.add(stream("", content))
		dict := fmt.Sprintf("<< /Type /Page /Parent %s /MediaBox [0 0 %g %g] /Resources << /Font << /F1 %s >> >> /Contents %s",
			ref(pagesRoot), p.w, p.h, ref(helv), ref(c))
		if len(annots[i]) > 0 {
			dict += " /Annots " + refs(annots[i])
		}
		o.set(pageRefs[i], dict+" >>")
	}

	o.set(pagesRoot, fmt.Sprintf("<< /Type /Pages /Kids %s /Count %d >>", refs(pageRefs), len(pageRefs)))
	o.set(acro, fmt.Sprintf("<< /Fields %s /DA (/Helv 0 Tf 0 g) /DR << /Font << /Helv %s >> >> >>",
		refs(fields), ref(helv)))
	if b.noAcroForm {
		o.set(catalog, fmt.Sprintf("<< /Type /Catalog /Pages %s >>", ref(pagesRoot)))
	} else {
		o.set(catalog, fmt.Sprintf("<< /Type /Catalog /Pages %s /AcroForm %s >>", ref(pagesRoot), ref(acro)))
	}

	return serialize(o.bodies)
}

func widgetDict(w Widget, pageRef, parentRef, onAP, offAP int) string {
	var d strings.Builder
	d.WriteString("<< /Type /Annot /Subtype /Widget /F 4")
	fmt.Fprintf(&d, " /T %s /P %s", literal(w.Name), ref(pageRef))
	if parentRef != 0 {
		fmt.Fprintf(&d, " /Parent %s", ref(parentRef))
	}
	switch {
	case w.OmitRect:
	case w.BadRect:
		fmt.Fprintf(&d, " /Rect [%g %g %g]", w.Rect[0], w.Rect[1], w.Rect[2])
	default:
		fmt.Fprintf(&d, " /Rect %s", rectArray(w.Rect))
	}

	flags := w.Flags
	switch w.Kind {
	case Text, Multiline:
		d.WriteString(" /FT /Tx")
		if w.Kind == Multiline {
			flags |= FlagMultiline
		}
		if w.Value != "" {
			fmt.Fprintf(&d, " /V %s", literal(w.Value))
		}
		if w.MaxLen > 0 {
			fmt.Fprintf(&d, " /MaxLen %d", w.MaxLen)
		}
	case Checkbox, Pushbutton:
		d.WriteString(" /FT /Btn")
		if w.Kind == Pushbutton {
			flags |= FlagPushbutton
		}
		export := w.Export
		if export == "" {
			export = "Yes"
		}
		state := "/Off"
		if w.Value != "" && w.Value != "false" {
			state = "/" + export
		}
		fmt.Fprintf(&d, " /V %s /AS %s", state, state)
		if w.BrokenAppearance {
			d.WriteString(" /AP << /N 42 >>")
		} else {
			fmt.Fprintf(&d, " /AP << /N << /%s %s /Off %s >> >>", export, ref(onAP), ref(offAP))
		}
	case Choice:
		d.WriteString(" /FT /Ch")
		flags |= FlagCombo
		opts := make([]string, len(w.Options))
		for i, opt := range w.Options {
			opts[i] = literal(opt)
		}
		fmt.Fprintf(&d, " /Opt [%s]", strings.Join(opts, " "))
		if w.Value != "" {
			fmt.Fprintf(&d, " /V %s", literal(w.Value))
		}
	case Signature:
		d.WriteString(" /FT /Sig")
	}
	if flags != 0 {
		fmt.Fprintf(&d, " /Ff %d", flags)
	}
	if w.DA != "" {
		fmt.Fprintf(&d, " /DA %s", literal(w.DA))
	}
	d.WriteString(" >>")
	return d.String()
}

func serialize(bodies []string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, len(bodies))
	for i, body := range bodies {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(bodies)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(bodies)+1, xref)
	return buf.Bytes()
}
