package forms

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

const maxTreeDepth = 64

// pageInfo is one leaf of the page tree.
type pageInfo struct {
	number int
	dict   types.Dict
	width  float64
	height float64
}

// widgetInfo is one widget annotation together with its terminal field.
type widgetInfo struct {
	index  int
	page   *pageInfo
	widget types.Dict
	field  types.Dict
	name   string
	ft     string
	flags  int
	rect   Rect
}

// layout is the parsed page/widget structure of a document.
type layout struct {
	ctx      *model.Context
	acroForm types.Dict
	pages    []*pageInfo
	widgets  []*widgetInfo
}

func readContext(pdf []byte) (*model.Context, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(pdf), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF context: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("failed to ensure page count: %w", err)
	}
	return ctx, nil
}

// loadLayout parses the document and walks every page and widget. Any
// structural problem is a DetectionFailure; nothing partial is returned.
func loadLayout(pdf []byte, requireAcroForm bool) (*layout, error) {
	ctx, err := readContext(pdf)
	if err != nil {
		return nil, newDetectionError(0, "unreadable PDF", err)
	}

	rootDict, err := ctx.Catalog()
	if err != nil {
		return nil, newDetectionError(0, "missing catalog", err)
	}

	l := &layout{ctx: ctx}

	if acroFormObj, found := rootDict.Find("AcroForm"); found {
		acroFormDict, err := ctx.DereferenceDict(acroFormObj)
		if err != nil {
			return nil, newDetectionError(0, "malformed AcroForm", err)
		}
		l.acroForm = acroFormDict
	}
	if requireAcroForm && l.acroForm == nil {
		return nil, newDetectionError(0, "document has no interactive form (AcroForm)", nil)
	}

	pagesObj, found := rootDict.Find("Pages")
	if !found {
		return nil, newDetectionError(0, "missing page tree", nil)
	}
	if err := l.walkPages(pagesObj, nil, 0); err != nil {
		return nil, err
	}

	for _, p := range l.pages {
		if err := l.collectWidgets(p); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *layout) walkPages(nodeObj types.Object, inheritedBox []float64, depth int) error {
	page := len(l.pages) + 1
	if depth > maxTreeDepth {
		return newDetectionError(page, "page tree too deep", nil)
	}

	node, err := l.ctx.DereferenceDict(nodeObj)
	if err != nil || node == nil {
		return newDetectionError(page, "unparseable page tree node", err)
	}

	box := inheritedBox
	if mb, found := node.Find("MediaBox"); found {
		nums, err := l.numbers(mb)
		if err != nil || len(nums) != 4 {
			return newDetectionError(page, "invalid MediaBox", err)
		}
		box = nums
	}

	kidsObj, hasKids := node.Find("Kids")
	if !hasKids {
		if t := node.NameEntry("Type"); t != nil && *t != "Page" {
			return newDetectionError(page, fmt.Sprintf("unexpected page tree node type %q", *t), nil)
		}
		info := &pageInfo{number: page, dict: node, width: 612, height: 792}
		if len(box) == 4 {
			r := RectFromCorners(box[0], box[1], box[2], box[3])
			info.width, info.height = r.W, r.H
		}
		l.pages = append(l.pages, info)
		return nil
	}

	kids, err := l.ctx.DereferenceArray(kidsObj)
	if err != nil {
		return newDetectionError(page, "unparseable page Kids", err)
	}
	for _, kid := range kids {
		if err := l.walkPages(kid, box, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (l *layout) collectWidgets(p *pageInfo) error {
	annotsObj, found := p.dict.Find("Annots")
	if !found {
		return nil
	}
	annots, err := l.ctx.DereferenceArray(annotsObj)
	if err != nil {
		return newDetectionError(p.number, "unparseable Annots", err)
	}

	for _, annotObj := range annots {
		annot, err := l.ctx.DereferenceDict(annotObj)
		if err != nil {
			return newDetectionError(p.number, "unparseable annotation", err)
		}
		if annot == nil || l.name(annot, "Subtype") != "Widget" {
			continue
		}

		w := &widgetInfo{index: len(l.widgets), page: p, widget: annot}

		rectObj, found := annot.Find("Rect")
		if !found {
			return newDetectionError(p.number, "widget without Rect", nil)
		}
		nums, err := l.numbers(rectObj)
		if err != nil || len(nums) != 4 {
			return newDetectionError(p.number, "widget with invalid Rect", err)
		}
		w.rect = RectFromCorners(nums[0], nums[1], nums[2], nums[3])

		w.field = annot
		if _, hasT := annot.Find("T"); !hasT {
			if parentObj, found := annot.Find("Parent"); found {
				if parent, err := l.ctx.DereferenceDict(parentObj); err == nil && parent != nil {
					w.field = parent
				}
			}
		}

		w.name = l.fullName(w.field)
		if w.name == "" {
			w.name = fmt.Sprintf("widget_%d", w.index)
		}
		if ftObj, ok := l.inherited(w.field, "FT"); ok {
			if ft, err := l.ctx.DereferenceName(ftObj, model.V10, nil); err == nil {
				w.ft = string(ft)
			}
		}
		if ffObj, ok := l.inherited(w.field, "Ff"); ok {
			if ff, err := l.ctx.DereferenceInteger(ffObj); err == nil && ff != nil {
				w.flags = int(*ff)
			}
		}

		l.widgets = append(l.widgets, w)
	}
	return nil
}

// fullName joins the partial names of a field and its ancestors with ".".
func (l *layout) fullName(field types.Dict) string {
	var parts []string
	d := field
	for depth := 0; d != nil && depth < maxTreeDepth; depth++ {
		if tObj, found := d.Find("T"); found {
			if t, err := l.ctx.DereferenceStringOrHexLiteral(tObj, model.V10, nil); err == nil && t != "" {
				parts = append([]string{t}, parts...)
			}
		}
		parentObj, found := d.Find("Parent")
		if !found {
			break
		}
		parent, err := l.ctx.DereferenceDict(parentObj)
		if err != nil {
			break
		}
		d = parent
	}
	return strings.Join(parts, ".")
}

// inherited looks key up on d and then on its ancestors.
func (l *layout) inherited(d types.Dict, key string) (types.Object, bool) {
	for depth := 0; d != nil && depth < maxTreeDepth; depth++ {
		if obj, found := d.Find(key); found {
			return obj, true
		}
		parentObj, found := d.Find("Parent")
		if !found {
			return nil, false
		}
		parent, err := l.ctx.DereferenceDict(parentObj)
		if err != nil {
			return nil, false
		}
		d = parent
	}
	return nil, false
}

func (l *layout) name(d types.Dict, key string) string {
	obj, found := d.Find(key)
	if !found {
		return ""
	}
	n, err := l.ctx.DereferenceName(obj, model.V10, nil)
	if err != nil {
		return ""
	}
	return string(n)
}

func (l *layout) str(obj types.Object) (string, bool) {
	s, err := l.ctx.DereferenceStringOrHexLiteral(obj, model.V10, nil)
	if err != nil {
		return "", false
	}
	return s, true
}

func (l *layout) numbers(obj types.Object) ([]float64, error) {
	arr, err := l.ctx.DereferenceArray(obj)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(arr))
	for _, o := range arr {
		f, err := l.ctx.DereferenceNumber(o)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// appearanceStates returns the keys of the widget's /AP /N dictionary.
// A present but non-dictionary /N is reported as an error.
func (l *layout) appearanceStates(widget types.Dict) ([]string, error) {
	apObj, found := widget.Find("AP")
	if !found {
		return nil, nil
	}
	ap, err := l.ctx.DereferenceDict(apObj)
	if err != nil {
		return nil, fmt.Errorf("malformed appearance dictionary: %w", err)
	}
	if ap == nil {
		return nil, errors.New("empty appearance dictionary")
	}
	nObj, found := ap.Find("N")
	if !found {
		return nil, nil
	}
	n, err := l.ctx.DereferenceDict(nObj)
	if err != nil {
		return nil, fmt.Errorf("malformed normal appearance: %w", err)
	}
	states := make([]string, 0, len(n))
	for k := range n {
		states = append(states, k)
	}
	return states, nil
}

// onState returns the widget's non-Off appearance state name.
func (l *layout) onState(widget types.Dict) (string, error) {
	states, err := l.appearanceStates(widget)
	if err != nil {
		return "", err
	}
	for _, s := range states {
		if s != "Off" {
			return s, nil
		}
	}
	return "", nil
}
