package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parcelworks/legacyconv/internal/convert"
)

var statusCmd = &cobra.Command{
	Use:   "status [conversion-id]",
	Short: "Show conversion results",
	Long: `Without an id, list all conversions recorded in the store. With an id,
show the persisted result of that conversion.`,
	Example: `  # List conversions
  legacyconv status

  # Show one conversion
  legacyconv status 3f1c9a4e-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := convert.NewStore(viper.GetString("store_dir"))
	if err != nil {
		return err
	}

	if len(args) == 0 {
		ids, err := store.List()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No conversions recorded.")
			return nil
		}
		fmt.Println(headerStyle.Render("Conversions"))
		for _, id := range ids {
			line := "  " + id
			if snap, err := store.LoadSnapshot(id); err == nil {
				line += fmt.Sprintf("  %s  %d/%d rows", snap.Status, snap.Success, snap.Total)
			} else {
				line += "  (no result recorded)"
			}
			fmt.Println(line)
		}
		return nil
	}

	snap, err := store.LoadSnapshot(args[0])
	if err != nil {
		return err
	}
	printSnapshot(snap)
	return nil
}
