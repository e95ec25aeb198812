package main

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/a3tai/mcp-pdf-formfill/internal/mapping"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
)

var (
	fillOutput string
	fillValues string
	fillSet    []string
)

var fillCmd = &cobra.Command{
	Use:   "fill <pdf_file>",
	Short: "Fill a PDF form from logical names",
	Long: "Resolves each logical name against the mapping table and the detected fields, " +
		"then writes the values into the form. Names that resolve to nothing are reported and skipped; " +
		"ownership and required fields are not checked.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := collectValues(fillValues, fillSet)
		if err != nil {
			return err
		}
		if len(values) == 0 {
			return eris.New("no values given: use --values or --set")
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}
		table, err := loadTable()
		if err != nil {
			return err
		}

		res, misses, err := fill(table, data, values)
		if err != nil {
			return err
		}
		if err := os.WriteFile(fillOutput, res.Output, 0o600); err != nil {
			return eris.Wrapf(err, "write %s", fillOutput)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✅ Filled %d field(s) into %s\n", res.FilledCount, fillOutput)
		for _, name := range misses {
			fmt.Fprintf(out, "  ✗ %s: not resolved, skipped\n", name)
		}
		for _, sk := range res.Skipped {
			fmt.Fprintf(out, "  ✗ %s: %s\n", sk.Identifier, sk.Reason)
		}
		return nil
	},
}

func init() {
	fillCmd.Flags().StringVarP(&fillOutput, "output", "o", "filled.pdf", "Where to write the filled PDF")
	fillCmd.Flags().StringVar(&fillValues, "values", "", "YAML or JSON file mapping logical names to values")
	fillCmd.Flags().StringArrayVar(&fillSet, "set", nil, "name=value pair; repeatable, overrides --values")
	rootCmd.AddCommand(fillCmd)
}

// collectValues merges the values file with --set pairs. Lists become
// comma-separated strings so multi-select groups can be given as YAML lists.
func collectValues(path string, pairs []string) (map[string]string, error) {
	values := make(map[string]string)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "read values %s", path)
		}
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, eris.Wrapf(err, "decode values %s", path)
		}
		for k, v := range raw {
			values[k] = scalar(v)
		}
	}
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, eris.Errorf("invalid --set %q: want name=value", p)
		}
		values[name] = value
	}
	return values, nil
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = scalar(e)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}

// fill resolves values in name order and runs one fill pass. Unresolvable
// names are returned, not treated as errors.
func fill(table *mapping.Table, data []byte, values map[string]string) (*forms.FillResult, []string, error) {
	log := zap.L().Named("fill")
	fields, err := forms.NewDetector(log).Detect(data)
	if err != nil {
		return nil, nil, err
	}
	table.ApplyOverrides(fields)
	resolver := mapping.NewResolver(table, fields)

	var targets []forms.Target
	var misses []string
	for _, name := range slices.Sorted(maps.Keys(values)) {
		ts, err := resolver.ResolveInput(name, values[name])
		if err != nil {
			if forms.IsKind(err, forms.KindResolutionMiss) {
				misses = append(misses, name)
				continue
			}
			return nil, nil, err
		}
		targets = append(targets, ts...)
	}

	res, err := forms.NewFiller(forms.WithLogger(log)).Fill(data, targets)
	if err != nil {
		return nil, nil, err
	}
	return res, misses, nil
}
