package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/parcelworks/legacyconv/internal/convert"
)

var (
	analyzeFormat string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Analyze a legacy data file",
	Long: `Detect the file's format, infer its schema, and show a short sample
of rows. This is the first step of a conversion: review the inferred
columns and types before suggesting mappings.`,
	Example: `  # Analyze a file
  legacyconv analyze assessments_1987.dat

  # Machine-readable output
  legacyconv analyze parcels.dbf --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVarP(&analyzeFormat, "format", "f", "table", "Output format (table, json, yaml)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", path)
	}
	log.Info("Analyzing file", "file", path)

	engine, cleanup, err := buildEngine(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := engine.Analyze(cmd.Context(), path)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	switch analyzeFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(result)
	default:
		printAnalysis(result)
		return nil
	}
}

func printAnalysis(result *convert.AnalyzeResult) {
	fmt.Println(headerStyle.Render("File"))
	fmt.Printf("  %s (%d bytes)\n", result.FileName, result.FileSize)
	fmt.Printf("  Detected format: %s\n", result.DetectedFormat)
	if result.EstimatedRows > 0 {
		fmt.Printf("  Estimated rows:  %d\n", result.EstimatedRows)
	}
	fmt.Println()

	fmt.Println(headerStyle.Render("Format scores"))
	names := make([]string, 0, len(result.FormatScores))
	for name := range result.FormatScores {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return result.FormatScores[names[i]] > result.FormatScores[names[j]]
	})
	for _, name := range names {
		fmt.Printf("  %-16s %.2f\n", name, result.FormatScores[name])
	}
	fmt.Println()

	if result.Schema == nil {
		fmt.Println(warnStyle.Render("No reader available for this format; schema not inferred."))
		return
	}

	fmt.Println(headerStyle.Render("Inferred schema"))
	fmt.Printf("  %-24s %-10s %-9s %s\n", "COLUMN", "TYPE", "NULLABLE", "SAMPLE")
	for _, col := range result.Schema.Columns {
		sample := ""
		if len(col.SampleValues) > 0 {
			sample = col.SampleValues[0]
		}
		nullable := ""
		if col.Nullable {
			nullable = "yes"
		}
		fmt.Printf("  %-24s %-10s %-9s %s\n", col.Name, col.Type, nullable, sample)
	}

	if len(result.SampleRows) > 0 {
		fmt.Printf("\n%s\n", headerStyle.Render(fmt.Sprintf("Sample rows (%d)", len(result.SampleRows))))
		for i, row := range result.SampleRows {
			fmt.Printf("  %d: %v\n", i, row)
		}
	}
}
