package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parcelworks/legacyconv/internal/writer"
)

var tablesDescribe string

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List or describe target database tables",
	Example: `  # List tables
  legacyconv tables --db-dsn target.db

  # Describe one table
  legacyconv tables --db-dsn target.db --describe parcels`,
	RunE: runTables,
}

func init() {
	rootCmd.AddCommand(tablesCmd)

	tablesCmd.Flags().StringVarP(&tablesDescribe, "describe", "d", "", "Describe this table instead of listing")
}

func runTables(cmd *cobra.Command, args []string) error {
	dsn := viper.GetString("target.dsn")
	if dsn == "" {
		return fmt.Errorf("target database DSN is required (--db-dsn)")
	}
	w, err := writer.NewSQLWriter(viper.GetString("target.driver"), dsn)
	if err != nil {
		return err
	}
	defer w.Close()

	if tablesDescribe == "" {
		tables, err := w.ListTables(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(headerStyle.Render("Target tables"))
		for _, name := range tables {
			fmt.Printf("  %s\n", name)
		}
		return nil
	}

	target, err := w.GetTargetSchema(cmd.Context(), tablesDescribe)
	if err != nil {
		return err
	}
	fmt.Println(headerStyle.Render("Table " + target.Name))
	fmt.Printf("  %-24s %-18s %s\n", "COLUMN", "TYPE", "NULLABLE")
	for _, col := range target.Columns {
		nullable := "yes"
		if !col.Nullable {
			nullable = "no"
		}
		fmt.Printf("  %-24s %-18s %s\n", col.Name, col.SQLType, nullable)
	}
	if len(target.PrimaryKeys) > 0 {
		fmt.Printf("  Primary key: %v\n", target.PrimaryKeys)
	}
	for _, fk := range target.ForeignKeys {
		fmt.Printf("  Foreign key: %s -> %s(%s)\n", fk.Column, fk.RefTable, fk.RefColumn)
	}
	return nil
}
