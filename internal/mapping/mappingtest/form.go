// Package mappingtest builds PDFs whose widgets match a mapping table.
package mappingtest

import (
	"sort"

	"github.com/a3tai/mcp-pdf-formfill/internal/mapping"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms/formtest"
)

// Form returns a builder with one widget for every field entry and group
// option of t, laid out in rows on the page each entry expects. The page
// count covers every field and annotation page.
func Form(t *mapping.Table) *formtest.Builder {
	pages := 1
	for _, m := range t.Fields {
		pages = max(pages, m.Page)
	}
	for _, g := range t.Groups {
		pages = max(pages, g.Page)
	}
	for _, a := range t.Annotations {
		pages = max(pages, a.Page)
	}

	b := formtest.Letter(pages)
	rows := make(map[int]int)
	next := func(page int) [4]float64 {
		if page < 1 {
			page = 1
		}
		i := rows[page]
		rows[page]++
		col := float64(i % 2)
		row := float64(i / 2)
		x := 40 + col*290
		y := 740 - row*28
		return [4]float64{x, y, x + 240, y + 20}
	}

	names := make([]string, 0, len(t.Fields))
	for name := range t.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := t.Fields[name]
		w := formtest.Widget{Name: m.Source, Page: max(m.Page, 1), Rect: next(m.Page)}
		switch m.Type {
		case forms.TypeSignature:
			w.Kind = formtest.Signature
		case forms.TypeTextarea:
			w.Kind = formtest.Multiline
		case forms.TypeCheckbox:
			w.Kind = formtest.Checkbox
		case forms.TypeSelect:
			w.Kind = formtest.Choice
		}
		if m.Rect != nil {
			w.Rect = [4]float64{m.Rect.X, m.Rect.Y, m.Rect.X + m.Rect.W, m.Rect.Y + m.Rect.H}
		}
		b.Add(w)
	}

	groups := make([]string, 0, len(t.Groups))
	for name := range t.Groups {
		groups = append(groups, name)
	}
	sort.Strings(groups)
	for _, name := range groups {
		g := t.Groups[name]
		options := make([]string, 0, len(g.Options))
		for option := range g.Options {
			options = append(options, option)
		}
		sort.Strings(options)
		for _, option := range options {
			rect := next(g.Page)
			rect[2], rect[3] = rect[0]+12, rect[1]+12
			if g.Type == forms.TypeRadio {
				b.AddRadio(formtest.Radio{Name: g.Options[option], Page: max(g.Page, 1),
					Kids: []formtest.RadioKid{{Export: option, Rect: rect}}})
				continue
			}
			b.Add(formtest.Widget{Name: g.Options[option], Kind: formtest.Checkbox, Page: max(g.Page, 1), Rect: rect})
		}
	}
	return b
}
