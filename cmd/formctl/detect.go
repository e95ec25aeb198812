package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
)

var detectFormat string

// detectResult is the JSON shape printed by detect --format json.
type detectResult struct {
	FilePath    string                       `json:"file_path"`
	FieldCount  int                          `json:"field_count"`
	Fields      []forms.FieldDescriptor      `json:"fields"`
	Annotations []forms.PositionedAnnotation `json:"annotations,omitempty"`
}

var detectCmd = &cobra.Command{
	Use:   "detect <pdf_file>",
	Short: "List the interactive fields of a PDF form",
	Long: "Detects every widget of the form with its semantic type, page, rectangle and default owner. " +
		"Owner and required settings from the mapping table are applied, as on upload.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if detectFormat != "text" && detectFormat != "json" {
			return eris.Errorf("unsupported output format: %s", detectFormat)
		}
		res, err := detect(args[0])
		if err != nil {
			return err
		}
		if detectFormat == "json" {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		printDetected(cmd.OutOrStdout(), res)
		return nil
	},
}

func init() {
	detectCmd.Flags().StringVar(&detectFormat, "format", "text", "Output format: text, json")
	rootCmd.AddCommand(detectCmd)
}

func detect(path string) (*detectResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, eris.Wrap(err, "resolve path")
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	table, err := loadTable()
	if err != nil {
		return nil, err
	}

	fields, err := forms.NewDetector(zap.L().Named("detect")).Detect(data)
	if err != nil {
		return nil, err
	}
	table.ApplyOverrides(fields)
	return &detectResult{
		FilePath:    absPath,
		FieldCount:  len(fields),
		Fields:      fields,
		Annotations: table.PositionedAnnotations(),
	}, nil
}

func printDetected(w io.Writer, res *detectResult) {
	if res.FieldCount == 0 {
		fmt.Fprintln(w, "⚠️  The form has an AcroForm but no widgets")
		return
	}

	fmt.Fprintf(w, "✅ Detected %d form fields\n\n", res.FieldCount)
	for i, f := range res.Fields {
		fmt.Fprintf(w, "[%d] %s\n", i+1, f.SourceIdentifier)
		fmt.Fprintf(w, "    Type: %s\n", f.Type)
		fmt.Fprintf(w, "    Page: %d\n", f.Page)
		fmt.Fprintf(w, "    Position: (%.1f, %.1f) %.1fx%.1f\n", f.Rect.X, f.Rect.Y, f.Rect.W, f.Rect.H)
		fmt.Fprintf(w, "    Owner: %s (%s)\n", f.Owner, f.OwnerSource)
		if f.Value != "" {
			fmt.Fprintf(w, "    Value: %s\n", f.Value)
		}
		if f.ExportValue != "" {
			fmt.Fprintf(w, "    Export: %s\n", f.ExportValue)
		}

		var properties []string
		if f.Required {
			properties = append(properties, "Required")
		}
		if f.ReadOnly {
			properties = append(properties, "ReadOnly")
		}
		if len(properties) > 0 {
			fmt.Fprintf(w, "    Properties: %v\n", properties)
		}
		if len(f.Options) > 0 {
			fmt.Fprintf(w, "    Options: %v\n", f.Options)
		}
		if f.Styling.MaxLength > 0 {
			fmt.Fprintf(w, "    Max Length: %d\n", f.Styling.MaxLength)
		}
		fmt.Fprintln(w)
	}

	if len(res.Annotations) > 0 {
		fmt.Fprintf(w, "📌 %d positioned annotation(s) from the mapping table\n", len(res.Annotations))
		for _, a := range res.Annotations {
			fmt.Fprintf(w, "  • %s (page %d, %s)\n", a.LogicalName, a.Page, a.Owner)
		}
	}
}
