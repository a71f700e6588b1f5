package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parcelworks/legacyconv/internal/convert"
)

var reportCmd = &cobra.Command{
	Use:   "report <conversion-id>",
	Short: "Show where a conversion's audit report lives",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	store, err := convert.NewStore(viper.GetString("store_dir"))
	if err != nil {
		return err
	}

	path := store.ReportPath(args[0])
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no report for conversion %s", args[0])
	}
	fmt.Println(path)
	return nil
}
