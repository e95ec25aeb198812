package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/a3tai/mcp-pdf-formfill/internal/mapping"
)

var validateCmd = &cobra.Command{
	Use:   "validate <pdf_file>",
	Short: "Check the mapping table against a PDF",
	Long: "Reports mapping entries whose widget is missing, on another page, of another type or moved, " +
		"and annotation names that collide with widget names. Exits non-zero when anything is stale.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}
		table, err := loadTable()
		if err != nil {
			return err
		}

		problems, err := mapping.ValidatePDF(table, data)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(problems) == 0 {
			fmt.Fprintln(out, "✅ Mapping table matches the form")
			return nil
		}
		fmt.Fprintf(out, "❌ %d stale mapping(s):\n", len(problems))
		for _, p := range problems {
			fmt.Fprintf(out, "  • %s\n", p)
		}
		return eris.Errorf("%d stale mapping(s)", len(problems))
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
