package mapping_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-formfill/internal/mapping"
	"github.com/a3tai/mcp-pdf-formfill/internal/mapping/mappingtest"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms/formtest"
)

func detect(t *testing.T, b *formtest.Builder) []forms.FieldDescriptor {
	t.Helper()
	fields, err := forms.Detect(b.Bytes())
	require.NoError(t, err)
	return fields
}

func TestResolve_ExactMatchOnly(t *testing.T) {
	table, err := mapping.ParseTable([]byte(`
fields:
  authorization_date:   {source: "Date", page: 1, type: date}
  owner_signature_date: {source: "Date_2", page: 1, type: date}
`))
	require.NoError(t, err)

	fields := detect(t, formtest.Letter(1).
		AddText("Date_2", 1, [4]float64{320, 100, 470, 120}).
		AddText("Date", 1, [4]float64{72, 300, 222, 320}))
	r := mapping.NewResolver(table, fields)

	res, err := r.Resolve("authorization_date")
	require.NoError(t, err)
	require.Len(t, res.Fields, 1)
	assert.Equal(t, "Date", res.Fields[0].SourceIdentifier)
	assert.Equal(t, 72.0, res.Fields[0].Rect.X)
	assert.Equal(t, mapping.FromTable, res.Source)

	res, err = r.Resolve("owner_signature_date")
	require.NoError(t, err)
	assert.Equal(t, "Date_2", res.Fields[0].SourceIdentifier)

	for _, name := range []string{"date", "Dat", "authorization", "DATE"} {
		_, err := r.Resolve(name)
		assert.True(t, forms.IsKind(err, forms.KindResolutionMiss), "%q should miss, got %v", name, err)
	}
}

func TestResolve_Order(t *testing.T) {
	table, err := mapping.ParseTable([]byte(`
fields:
  first: {source: "first_name2"}
annotations:
  affidavit_name: {page: 1, rect: {x: 100, y: 100, w: 200, h: 20}, owner: partyB}
`))
	require.NoError(t, err)

	fields := detect(t, formtest.Letter(1).
		AddText("first_name2", 1, [4]float64{72, 700, 272, 720}).
		AddText("city", 1, [4]float64{72, 650, 272, 670}))
	r := mapping.NewResolver(table, fields)

	tests := []struct {
		name   string
		source mapping.Source
	}{
		{"first", mapping.FromTable},
		{"city", mapping.FromDirect},
		{"first_name2", mapping.FromDirect},
		{"affidavit_name", mapping.FromAnnotation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.source, res.Source)
		})
	}

	res, err := r.Resolve("affidavit_name")
	require.NoError(t, err)
	require.NotNil(t, res.Annotation)
	assert.Empty(t, res.Fields)
	assert.Equal(t, forms.PartyB, res.Annotation.Owner)
}

func TestResolve_MappedWidgetMissing(t *testing.T) {
	table, err := mapping.ParseTable([]byte(`
fields:
  first: {source: "first_name2"}
`))
	require.NoError(t, err)

	r := mapping.NewResolver(table, detect(t, formtest.Letter(1).AddText("other", 1, [4]float64{72, 700, 272, 720})))
	_, err = r.Resolve("first")
	require.Error(t, err)

	var ee *forms.EngineError
	require.ErrorAs(t, err, &ee)
	assert.True(t, ee.Recoverable())
	assert.Equal(t, []string{"first"}, ee.Fields)
}

func TestResolve_SameNameDisambiguatedByPageAndRect(t *testing.T) {
	table, err := mapping.ParseTable([]byte(`
fields:
  applicant_date: {source: "Date", page: 2, rect: {x: 72, y: 100, w: 150, h: 20}}
  owner_date:     {source: "Date", page: 2, rect: {x: 320, y: 100, w: 150, h: 20}}
  cover_date:     {source: "Date", page: 1}
`))
	require.NoError(t, err)

	fields := detect(t, formtest.Letter(2).
		AddText("Date", 1, [4]float64{72, 700, 222, 720}).
		AddText("Date", 2, [4]float64{320, 100, 470, 120}).
		AddText("Date", 2, [4]float64{72, 100, 222, 120}))
	r := mapping.NewResolver(table, fields)

	tests := []struct {
		name  string
		page  int
		wantX float64
	}{
		{"applicant_date", 2, 72},
		{"owner_date", 2, 320},
		{"cover_date", 1, 72},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve(tt.name)
			require.NoError(t, err)
			require.Len(t, res.Fields, 1)
			assert.Equal(t, tt.page, res.Fields[0].Page)
			assert.Equal(t, tt.wantX, res.Fields[0].Rect.X)
		})
	}
}

func TestResolveInput_Groups(t *testing.T) {
	table := mapping.DefaultTable()
	fields := detect(t, mappingtest.Form(table))
	r := mapping.NewResolver(table, fields)

	values := func(targets []forms.Target) map[string]string {
		out := make(map[string]string)
		for _, tg := range targets {
			out[tg.Identifier()] = tg.Value
		}
		return out
	}

	targets, err := r.ResolveInput("heating_fuel", "natural_gas")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"Electric Heat (Radio Button)": "false",
		"Gas Heat (Radio Button)":      "true",
		"Oil Heat (Radio Button)":      "false",
		"Propane Heat (Radio Button)":  "false",
	}, values(targets))

	targets, err = r.ResolveInput("utility_program", "bill_forgiveness, electric_discount")
	require.NoError(t, err)
	got := values(targets)
	assert.Equal(t, "true", got["Bill Forgiveness Program (Checkbox)"])
	assert.Equal(t, "true", got["Elec Discount4 (Checkbox)"])
	assert.Equal(t, "false", got["Low Income Program (Checkbox)"])
	assert.Len(t, got, 5)

	targets, err = r.ResolveInput("qualification_option", "option_a")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Multifam4 (Checkbox)": "false"}, values(targets))
	for _, tg := range targets {
		assert.Equal(t, "qualification_option", tg.LogicalName)
	}

	_, err = r.ResolveInput("dwelling_type", "castle")
	assert.True(t, forms.IsKind(err, forms.KindResolutionMiss))
}

func TestResolveInput_RadioByExportValue(t *testing.T) {
	fields := detect(t, formtest.Letter(1).AddRadio(formtest.Radio{Name: "fuel", Kids: []formtest.RadioKid{
		{Export: "gas", Rect: [4]float64{72, 550, 84, 562}},
		{Export: "oil", Rect: [4]float64{120, 550, 132, 562}},
	}}))
	r := mapping.NewResolver(&mapping.Table{}, fields)

	targets, err := r.ResolveInput("fuel", "oil")
	require.NoError(t, err)
	require.Len(t, targets, 2)
	for _, tg := range targets {
		if tg.Field.ExportValue == "oil" {
			assert.Equal(t, "true", tg.Value)
		} else {
			assert.Equal(t, "false", tg.Value)
		}
	}

	_, err = r.ResolveInput("fuel", "coal")
	assert.True(t, forms.IsKind(err, forms.KindResolutionMiss))
}

func TestResolveInput_TargetsShareCallerDescriptors(t *testing.T) {
	fields := detect(t, formtest.Letter(1).AddText("city", 1, [4]float64{72, 650, 272, 670}))
	r := mapping.NewResolver(&mapping.Table{}, fields)

	targets, err := r.ResolveInput("city", "Hartford")
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Same(t, &fields[0], targets[0].Field)
	assert.Equal(t, "Hartford", targets[0].Value)
}

func TestResolveInput_DefaultTableFillsEndToEnd(t *testing.T) {
	table := mapping.DefaultTable()
	pdf := mappingtest.Form(table).Bytes()
	fields, err := forms.Detect(pdf)
	require.NoError(t, err)
	table.ApplyOverrides(fields)
	r := mapping.NewResolver(table, fields)

	inputs := map[string]string{
		"first_name":                       "John",
		"applicant_signature":              "John Doe",
		"dwelling_type":                    "apartment",
		"printed_name_affidavit":           "John Doe",
		"household_member_names_no_income": "Jane Doe\nJimmy Doe",
	}
	var targets []forms.Target
	for name, value := range inputs {
		ts, err := r.ResolveInput(name, value)
		require.NoError(t, err, name)
		targets = append(targets, ts...)
	}

	res, err := forms.Fill(pdf, targets)
	require.NoError(t, err)
	assert.Empty(t, res.Skipped)
	// first_name, signature, three dwelling checkboxes, two annotations
	assert.Equal(t, 7, res.FilledCount)

	annots, err := forms.ReadAnnotations(res.Output)
	require.NoError(t, err)
	byName := make(map[string]forms.OverlayAnnotation)
	for _, a := range annots {
		byName[a.Name] = a
	}
	printed := byName["printed_name_affidavit"]
	assert.Equal(t, 5, printed.Page)
	assert.Equal(t, forms.Rect{X: 315, Y: 277, W: 230, H: 25}, printed.Rect)
	assert.Equal(t, 9.0, byName["household_member_names_no_income"].FontSize)
	assert.Contains(t, byName, "signature3")
}
