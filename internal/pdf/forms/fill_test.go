package forms

import (
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms/formtest"
)

func detectByName(t *testing.T, pdf []byte) map[string]FieldDescriptor {
	t.Helper()
	fields, err := Detect(pdf)
	require.NoError(t, err)
	out := make(map[string]FieldDescriptor, len(fields))
	for _, f := range fields {
		out[f.SourceIdentifier] = f
	}
	return out
}

func targetFor(fd FieldDescriptor, value string) Target {
	f := fd
	return Target{LogicalName: fd.SourceIdentifier, Field: &f, Value: value}
}

func TestFill_FirstNameAndSignatureScenario(t *testing.T) {
	pdf := formtest.Letter(1).
		AddText("first_name", 1, [4]float64{72, 700, 272, 720}).
		Add(formtest.Widget{Name: "signature3", Kind: formtest.Signature, Rect: [4]float64{320, 100, 540, 130}}).
		Bytes()
	fields := detectByName(t, pdf)
	require.Equal(t, TypeText, fields["first_name"].Type)
	require.Equal(t, TypeSignature, fields["signature3"].Type)

	res, err := Fill(pdf, []Target{
		targetFor(fields["first_name"], "John"),
		targetFor(fields["signature3"], "John Doe"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.FilledCount)
	assert.Empty(t, res.Skipped)

	after := detectByName(t, res.Output)
	assert.Equal(t, "John", after["first_name"].Value)
	assert.Empty(t, after["signature3"].Value, "signature must not be stored as widget value")

	overlays, err := ReadAnnotations(res.Output)
	require.NoError(t, err)
	require.Len(t, overlays, 1)
	assert.Equal(t, "John Doe", overlays[0].Contents)
	assert.Equal(t, 1, overlays[0].Page)
	assert.True(t, fields["signature3"].Rect.Contains(overlays[0].Rect))
	assert.Equal(t, "Times-Italic", overlays[0].Font)
}

func TestFill_TextRoundTrip(t *testing.T) {
	pdf := formtest.Letter(1).
		AddText("name", 1, [4]float64{72, 700, 272, 720}).
		AddText("city", 1, [4]float64{72, 650, 272, 670}).
		Add(formtest.Widget{Name: "notes", Kind: formtest.Multiline, Rect: [4]float64{72, 400, 540, 600}}).
		Add(formtest.Widget{Name: "county", Kind: formtest.Choice, Rect: [4]float64{300, 700, 400, 720},
			Options: []string{"Hartford", "Tolland"}}).
		Bytes()
	fields := detectByName(t, pdf)

	values := map[string]string{
		"name":   "Zoë Ångström",
		"city":   `New (Haven) \ CT`,
		"notes":  "line one\nline two",
		"county": "Tolland",
	}
	var targets []Target
	for name, v := range values {
		targets = append(targets, targetFor(fields[name], v))
	}

	res, err := Fill(pdf, targets)
	require.NoError(t, err)
	assert.Equal(t, len(values), res.FilledCount)

	after := detectByName(t, res.Output)
	for name, want := range values {
		assert.Equal(t, want, after[name].Value, name)
	}
}

func TestFill_GeometryPreserved(t *testing.T) {
	pdf := mixedFormPDF().Bytes()
	before, err := Detect(pdf)
	require.NoError(t, err)

	var targets []Target
	for _, f := range before {
		switch f.Type {
		case TypeCheckbox, TypeRadio:
			targets = append(targets, targetFor(f, "yes"))
		default:
			targets = append(targets, targetFor(f, "value"))
		}
	}
	res, err := Fill(pdf, targets)
	require.NoError(t, err)

	after, err := Detect(res.Output)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].SourceIdentifier, after[i].SourceIdentifier)
		assert.Equal(t, before[i].Page, after[i].Page)
		assert.InDelta(t, before[i].Rect.X, after[i].Rect.X, 0.001)
		assert.InDelta(t, before[i].Rect.Y, after[i].Rect.Y, 0.001)
		assert.InDelta(t, before[i].Rect.W, after[i].Rect.W, 0.001)
		assert.InDelta(t, before[i].Rect.H, after[i].Rect.H, 0.001)
	}
}

func TestFill_MalformedFieldIsSkipped(t *testing.T) {
	pdf := formtest.Letter(1).
		AddText("a", 1, [4]float64{72, 700, 200, 720}).
		AddText("b", 1, [4]float64{72, 670, 200, 690}).
		AddText("c", 1, [4]float64{72, 640, 200, 660}).
		Add(formtest.Widget{Name: "broken_box", Kind: formtest.Checkbox, Rect: [4]float64{72, 600, 84, 612},
			BrokenAppearance: true}).
		Bytes()
	fields := detectByName(t, pdf)

	res, err := Fill(pdf, []Target{
		targetFor(fields["a"], "1"),
		targetFor(fields["broken_box"], "yes"),
		targetFor(fields["b"], "2"),
		targetFor(fields["c"], "3"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.FilledCount)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "broken_box", res.Skipped[0].Identifier)
	assert.NotEmpty(t, res.Skipped[0].Reason)

	after := detectByName(t, res.Output)
	assert.Equal(t, "1", after["a"].Value)
	assert.Equal(t, "3", after["c"].Value)
}

func TestFill_UnknownWidgetAndEmptyValues(t *testing.T) {
	pdf := formtest.Letter(1).AddText("a", 1, [4]float64{72, 700, 200, 720}).Bytes()
	fields := detectByName(t, pdf)

	ghost := FieldDescriptor{SourceIdentifier: "ghost", Type: TypeText, Page: 1}
	res, err := Fill(pdf, []Target{
		targetFor(fields["a"], "   "),
		{LogicalName: "ghost", Field: &ghost, Value: "boo"},
		{LogicalName: "nothing", Value: "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.FilledCount)
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "ghost", res.Skipped[0].Identifier)
	assert.Equal(t, "nothing", res.Skipped[1].Identifier)
	assert.Len(t, res.Outcomes, 2, "empty values produce no outcome")
}

func TestFill_ReadOnlyIsSkipped(t *testing.T) {
	pdf := formtest.Letter(1).
		Add(formtest.Widget{Name: "reset", Kind: formtest.Pushbutton, Rect: [4]float64{72, 700, 120, 720}}).
		Bytes()
	fields := detectByName(t, pdf)

	res, err := Fill(pdf, []Target{targetFor(fields["reset"], "on")})
	require.NoError(t, err)
	assert.Equal(t, 0, res.FilledCount)
	require.Len(t, res.Skipped, 1)
	assert.Contains(t, res.Skipped[0].Reason, "read-only")
}

func TestFill_Checkbox(t *testing.T) {
	pdf := formtest.Letter(1).
		Add(formtest.Widget{Name: "yes_box", Kind: formtest.Checkbox, Rect: [4]float64{72, 700, 84, 712}}).
		Add(formtest.Widget{Name: "off_box", Kind: formtest.Checkbox, Rect: [4]float64{72, 650, 84, 662},
			Export: "On", Value: "true"}).
		Bytes()
	fields := detectByName(t, pdf)
	require.Equal(t, "true", fields["off_box"].Value)

	res, err := Fill(pdf, []Target{
		targetFor(fields["yes_box"], "YES"),
		targetFor(fields["off_box"], "off"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.FilledCount)

	after := detectByName(t, res.Output)
	assert.Equal(t, "true", after["yes_box"].Value)
	assert.Empty(t, after["off_box"].Value)
}

func TestFill_RadioSelectsOneMember(t *testing.T) {
	pdf := formtest.Letter(1).
		AddRadio(formtest.Radio{Name: "fuel", Selected: "gas", Kids: []formtest.RadioKid{
			{Export: "gas", Rect: [4]float64{72, 550, 84, 562}},
			{Export: "oil", Rect: [4]float64{120, 550, 132, 562}},
			{Export: "electric", Rect: [4]float64{168, 550, 180, 562}},
		}}).
		Bytes()
	fields, err := Detect(pdf)
	require.NoError(t, err)
	require.Len(t, fields, 3)

	var oil FieldDescriptor
	for _, f := range fields {
		if f.ExportValue == "oil" {
			oil = f
		}
	}
	require.Equal(t, "oil", oil.ExportValue)

	res, err := Fill(pdf, []Target{targetFor(oil, "true")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilledCount)

	after, err := Detect(res.Output)
	require.NoError(t, err)
	selected := 0
	for _, f := range after {
		if f.Value == "true" {
			selected++
			assert.Equal(t, "oil", f.ExportValue)
		}
	}
	assert.Equal(t, 1, selected)
}

func TestFill_SignatureFontFallback(t *testing.T) {
	pdf := formtest.Letter(1).
		Add(formtest.Widget{Name: "owner_signature", Kind: formtest.Signature, Rect: [4]float64{72, 100, 300, 124}}).
		Bytes()
	fields := detectByName(t, pdf)
	sig := fields["owner_signature"]

	tests := []struct {
		name     string
		fonts    FontProvider
		value    string
		wantFont string
	}{
		{"primary", CoreFonts, "Pat Doe", "Times-Italic"},
		{"primary and secondary unavailable",
			FontProviderFunc(func(f string) bool { return f == "Courier-Oblique" || f == PlainFont }),
			"Pat Doe", "Courier-Oblique"},
		{"no script font available", FontProviderFunc(func(string) bool { return false }), "Pat Doe", PlainFont},
		{"value not encodable", CoreFonts, "李雷", PlainFont},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewFiller(WithFontProvider(tt.fonts)).Fill(pdf, []Target{targetFor(sig, tt.value)})
			require.NoError(t, err)
			assert.Equal(t, 1, res.FilledCount)
			assert.Empty(t, res.Skipped)
			require.Len(t, res.Outcomes, 1)
			assert.Equal(t, tt.wantFont, res.Outcomes[0].Font)

			overlays, err := ReadAnnotations(res.Output)
			require.NoError(t, err)
			require.Len(t, overlays, 1)
			assert.Equal(t, tt.value, overlays[0].Contents)
			assert.Equal(t, tt.wantFont, overlays[0].Font)
			assert.True(t, sig.Rect.Contains(overlays[0].Rect))
			assert.Equal(t, 14.0, overlays[0].FontSize)
		})
	}
}

func TestFill_PositionedAnnotation(t *testing.T) {
	pdf := formtest.Letter(2).AddText("a", 1, [4]float64{72, 700, 200, 720}).Bytes()

	affidavit := &PositionedAnnotation{
		LogicalName: "printed_name_affidavit",
		Page:        2,
		Rect:        Rect{X: 315, Y: 277, W: 230, H: 25},
		Owner:       PartyB,
	}
	outOfRange := &PositionedAnnotation{LogicalName: "nowhere", Page: 9, Rect: Rect{W: 10, H: 10}}

	res, err := Fill(pdf, []Target{
		{LogicalName: affidavit.LogicalName, Annotation: affidavit, Value: "Robin Roe"},
		{LogicalName: outOfRange.LogicalName, Annotation: outOfRange, Value: "lost"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilledCount)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "nowhere", res.Skipped[0].Identifier)

	overlays, err := ReadAnnotations(res.Output)
	require.NoError(t, err)
	require.Len(t, overlays, 1)
	got := overlays[0]
	assert.Equal(t, "printed_name_affidavit", got.Name)
	assert.Equal(t, 2, got.Page)
	assert.Equal(t, "Robin Roe", got.Contents)
	assert.Equal(t, PlainFont, got.Font)
	assert.Equal(t, float64(DefaultAnnotationFontSize), got.FontSize)
	assert.InDelta(t, 315, got.Rect.X, 0.001)
	assert.InDelta(t, 277, got.Rect.Y, 0.001)
	assert.InDelta(t, 230, got.Rect.W, 0.001)
	assert.InDelta(t, 25, got.Rect.H, 0.001)

	// Widgets are untouched by annotations.
	after := detectByName(t, res.Output)
	assert.Len(t, after, 1)
}

func TestFill_UnreadableInput(t *testing.T) {
	res, err := Fill([]byte("garbage"), nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, IsKind(err, KindDetectionFailure))
}

func TestPageCount(t *testing.T) {
	n, err := PageCount(formtest.Letter(3).Bytes())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestEngineError(t *testing.T) {
	err := NewValidationFailure([]string{"zip1", "signature3"})
	assert.Equal(t, "[VALIDATION_FAILURE] required fields are empty: zip1, signature3", err.Error())
	assert.True(t, err.Recoverable())
	assert.True(t, IsKind(err, KindValidationFailure))
	assert.False(t, IsKind(nil, KindValidationFailure))
	assert.Equal(t, KindUnknown, KindOf(assert.AnError))
}

func TestEncodeText(t *testing.T) {
	assert.Equal(t, types.StringLiteral("Ada"), encodeText("Ada"))
	assert.Equal(t, types.HexLiteral("FEFF00E9"), encodeText("é"))
	// Characters outside the BMP become a surrogate pair.
	assert.Equal(t, types.HexLiteral("FEFF0041D83DDE00"), encodeText("A\U0001F600"))
}
