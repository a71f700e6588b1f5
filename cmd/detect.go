package cmd

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/parcelworks/legacyconv/internal/formats"
)

var detectCmd = &cobra.Command{
	Use:   "detect <file>",
	Short: "Detect the format of a legacy data file",
	Long: `Score candidate formats for a file using extension hints, content
heuristics, and binary magic bytes. When an AI backend is configured it
is consulted for low-confidence files.`,
	Example: `  # Detect a file's format
  legacyconv detect assessments_1987.dat

  # With debug output showing the individual signals
  legacyconv detect parcels.dbf --verbose`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	path := args[0]
	log.Debug("Detecting format", "file", path)

	detector := formats.NewDetector(buildSuggester(cmd.Context()))
	scores := detector.Detect(cmd.Context(), path)

	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return scores[names[i]] > scores[names[j]] })

	fmt.Println(headerStyle.Render("Format confidence"))
	for _, name := range names {
		fmt.Printf("  %-16s %.2f\n", name, scores[name])
	}
	return nil
}
