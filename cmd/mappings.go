package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/parcelworks/legacyconv/internal/mapper"
	"github.com/parcelworks/legacyconv/internal/schema"
)

var (
	mappingsTable   string
	mappingsOut     string
	mappingsAILevel int
)

var mappingsCmd = &cobra.Command{
	Use:   "mappings <file>",
	Short: "Suggest column mappings for a file",
	Long: `Infer the file's schema and propose mappings onto the target table
using the field-category catalog and, when configured, the AI backend.
Each mapping carries a confidence score; review and edit the saved YAML
before converting.`,
	Example: `  # Suggest mappings to the parcels table
  legacyconv mappings assessments.csv --table parcels --db-dsn target.db

  # Save them for editing, with AI assistance disabled
  legacyconv mappings assessments.csv --table parcels --db-dsn target.db \
      --ai-level 0 --out mappings.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runMappings,
}

func init() {
	rootCmd.AddCommand(mappingsCmd)

	mappingsCmd.Flags().StringVarP(&mappingsTable, "table", "t", "", "Target table name")
	mappingsCmd.Flags().StringVarP(&mappingsOut, "out", "o", "", "Write mappings to this YAML file")
	mappingsCmd.Flags().IntVar(&mappingsAILevel, "ai-level", 2, "AI assistance level (0-3)")

	if err := mappingsCmd.MarkFlagRequired("table"); err != nil {
		log.Fatalf("Failed to mark table flag required: %v", err)
	}
}

func runMappings(cmd *cobra.Command, args []string) error {
	path := args[0]

	engine, cleanup, err := buildEngine(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer cleanup()

	mappings, err := engine.SuggestMappings(cmd.Context(), path, mappingsTable, mappingsAILevel)
	if err != nil {
		return fmt.Errorf("mapping suggestion failed: %w", err)
	}
	if len(mappings) == 0 {
		fmt.Println(warnStyle.Render("No mappings could be suggested; map columns manually."))
		return nil
	}

	printMappings(mappings)

	if mappingsOut != "" {
		if err := saveMappings(mappingsOut, mappings); err != nil {
			return err
		}
		log.Info("Mappings saved", "path", mappingsOut)
	}
	return nil
}

func printMappings(mappings []schema.ColumnMapping) {
	fmt.Println(headerStyle.Render("Suggested mappings"))
	fmt.Printf("  %-20s %-20s %-9s %-8s %-10s %-5s %s\n",
		"SOURCE", "TARGET", "TYPE", "REQUIRED", "CONFIDENCE", "AI", "AUTO-APPLY")
	for _, mp := range mappings {
		required := ""
		if mp.Required {
			required = "yes"
		}
		aiFlag := ""
		if mp.AISuggested {
			aiFlag = "yes"
		}
		auto := ""
		if mapper.AutoApply(mappingsAILevel, mp) {
			auto = "yes"
		}
		fmt.Printf("  %-20s %-20s %-9s %-8s %-10.2f %-5s %s\n",
			mp.SourceColumn, mp.TargetColumn, mp.DataType, required, mp.Confidence, aiFlag, auto)
	}
}

func saveMappings(path string, mappings []schema.ColumnMapping) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	defer enc.Close()
	if err := enc.Encode(mappings); err != nil {
		return fmt.Errorf("failed to write mappings: %w", err)
	}
	return nil
}

func loadMappings(path string) ([]schema.ColumnMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mappings file: %w", err)
	}
	var mappings []schema.ColumnMapping
	if err := yaml.Unmarshal(data, &mappings); err != nil {
		return nil, fmt.Errorf("failed to parse mappings file: %w", err)
	}
	return mappings, nil
}
