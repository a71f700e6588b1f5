package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/parcelworks/legacyconv/internal/convert"
	"github.com/parcelworks/legacyconv/internal/writer"
)

var (
	convertTable         string
	convertSourceFormat  string
	convertMappingsFile  string
	convertBatchSize     int
	convertValidateOnly  bool
	convertCreateMissing bool
	convertIDColumn      string
	convertDateFormat    string
	convertEncoding      string
	convertThreshold     float64
	convertAILevel       int
	convertTxMode        string
	convertStash         bool
)

var convertCmd = &cobra.Command{
	Use:   "convert <file>",
	Short: "Convert a legacy data file into the target database",
	Long: `Run the full pipeline: validate the mapping set, then stream the file
batch by batch through transformation and validation into the target
table. The conversion stops early if the running error rate exceeds the
threshold. An HTML audit report is written either way.`,
	Example: `  # Convert with saved mappings
  legacyconv convert assessments.csv --table parcels \
      --mappings mappings.yaml --db-dsn target.db

  # Dry run: validate without writing
  legacyconv convert assessments.csv --table parcels \
      --mappings mappings.yaml --db-dsn target.db --validate-only

  # Row-level transactions and a strict error budget
  legacyconv convert parcels.dbf --table parcels --mappings mappings.yaml \
      --db-dsn target.db --tx-mode row --error-threshold 0.01`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringVarP(&convertTable, "table", "t", "", "Target table name")
	convertCmd.Flags().StringVar(&convertSourceFormat, "source-format", "", "Source format (default: auto-detect)")
	convertCmd.Flags().StringVarP(&convertMappingsFile, "mappings", "m", "", "Mappings YAML file")
	convertCmd.Flags().IntVar(&convertBatchSize, "batch-size", convert.DefaultBatchSize, "Rows per batch")
	convertCmd.Flags().BoolVar(&convertValidateOnly, "validate-only", false, "Validate the mapping set without writing")
	convertCmd.Flags().BoolVar(&convertCreateMissing, "create-missing-columns", false, "Create the target table from the mapping types if absent")
	convertCmd.Flags().StringVar(&convertIDColumn, "id-column", "", "Natural-key column in the target table")
	convertCmd.Flags().StringVar(&convertDateFormat, "date-format", "", "Source date layout (default ISO)")
	convertCmd.Flags().StringVar(&convertEncoding, "encoding", convert.DefaultEncoding, "Source text encoding")
	convertCmd.Flags().Float64Var(&convertThreshold, "error-threshold", convert.DefaultErrorThreshold, "Error-rate circuit breaker in [0,1]")
	convertCmd.Flags().IntVar(&convertAILevel, "ai-level", convert.DefaultAssistanceLevel, "AI assistance level (0-3)")
	convertCmd.Flags().StringVar(&convertTxMode, "tx-mode", string(writer.ModeBatch), "Transaction mode (single, batch, row)")
	convertCmd.Flags().BoolVar(&convertStash, "stash-source", false, "Keep a copy of the source file with the conversion state")

	if err := convertCmd.MarkFlagRequired("table"); err != nil {
		log.Fatalf("Failed to mark table flag required: %v", err)
	}
}

func runConvert(cmd *cobra.Command, args []string) error {
	file := args[0]

	engine, cleanup, err := buildEngine(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := convert.Config{
		SourceFormat:         convertSourceFormat,
		TargetSchema:         convertTable,
		BatchSize:            convertBatchSize,
		ValidateOnly:         convertValidateOnly,
		CreateMissingColumns: convertCreateMissing,
		IDColumn:             convertIDColumn,
		DateFormat:           convertDateFormat,
		Encoding:             convertEncoding,
		ErrorThreshold:       convertThreshold,
		AIAssistanceLevel:    convertAILevel,
		TransactionMode:      writer.TransactionMode(convertTxMode),
	}

	if convertMappingsFile != "" {
		mappings, err := loadMappings(convertMappingsFile)
		if err != nil {
			return err
		}
		cfg.Mappings = mappings
	}

	if cfg.SourceFormat == "" {
		scores := engine.DetectFormat(cmd.Context(), file)
		best, bestScore := "", 0.0
		for format, score := range scores {
			if score > bestScore {
				best, bestScore = format, score
			}
		}
		cfg.SourceFormat = best
		log.Info("Auto-detected source format", "format", best, "confidence", bestScore)
	}

	id, err := engine.Start(file, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("Conversion started: %s\n", id)

	if convertStash {
		if stored, err := engine.StashSource(id, file); err != nil {
			log.Warn("Could not stash source file", "error", err)
		} else {
			log.Debug("Source file stashed", "path", stored)
		}
	}

	engine.Wait(id)
	snap, ok := engine.Status(id)
	if !ok {
		return fmt.Errorf("conversion %s disappeared", id)
	}
	printSnapshot(snap)

	if snap.Status == convert.StatusFailed {
		return fmt.Errorf("conversion failed: %s", snap.Message)
	}
	return nil
}

func printSnapshot(snap convert.Snapshot) {
	fmt.Println(headerStyle.Render("Conversion " + snap.ID))
	fmt.Printf("  Status:    %s\n", snap.Status)
	if snap.Message != "" {
		fmt.Printf("  Message:   %s\n", snap.Message)
	}
	fmt.Printf("  Total:     %d\n", snap.Total)
	fmt.Printf("  Success:   %d\n", snap.Success)
	fmt.Printf("  Errors:    %d\n", snap.Errors)
	fmt.Printf("  Warnings:  %d\n", snap.Warnings)
	fmt.Printf("  Duration:  %s\n", snap.Duration().Round(time.Millisecond))
	if snap.ReportPath != "" {
		fmt.Printf("  Report:    %s\n", snap.ReportPath)
	}

	shown := snap.ErrorIssues
	if len(shown) > 5 {
		shown = shown[:5]
	}
	for _, issue := range shown {
		fmt.Println(warnStyle.Render(fmt.Sprintf("  row %d %s: %s", issue.Row, issue.Column, issue.Message)))
	}
}
