package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parcelworks/legacyconv/internal/formats"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported source formats",
	RunE:  runFormats,
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}

func runFormats(cmd *cobra.Command, args []string) error {
	fmt.Println(headerStyle.Render("Supported formats"))
	for _, name := range formats.DefaultRegistry().Names() {
		fmt.Printf("  %s\n", name)
	}
	return nil
}
