package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-pdf-formfill/internal/config"
	"github.com/a3tai/mcp-pdf-formfill/internal/mapping"
)

var (
	logLevel    string
	mappingPath string
)

var rootCmd = &cobra.Command{
	Use:   "formctl",
	Short: "Inspect and fill PDF forms from the command line",
	Long: "Detects the interactive fields of a PDF form, checks a mapping table against it " +
		"and fills it from a values file, without running the MCP server.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.InitLogger(config.LogConfig{Level: logLevel, Format: config.LogFormatConsole}); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&mappingPath, "mapping", "", "Mapping table YAML (defaults to the embedded table)")
}

func loadTable() (*mapping.Table, error) {
	return mapping.LoadTable(mappingPath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
