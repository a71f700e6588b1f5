package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parcelworks/legacyconv/internal/ai"
	"github.com/parcelworks/legacyconv/internal/convert"
	"github.com/parcelworks/legacyconv/internal/formats"
	"github.com/parcelworks/legacyconv/internal/knowledge"
	"github.com/parcelworks/legacyconv/internal/mapper"
	"github.com/parcelworks/legacyconv/internal/writer"
)

var (
	cfgFile string
	verbose bool

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#2D9574")).
			PaddingLeft(2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#D08770"))
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "legacyconv",
	Short: "Legacy assessment data conversion tool",
	Long: titleStyle.Render(`
🗂  legacyconv - Legacy Data Conversion Engine

Detect the format of legacy property-assessment files, infer their
schemas, map columns onto your target tables, and stream the data in
with validation and a full audit report.
`),
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.legacyconv.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("store-dir", ".legacyconv", "directory for conversion state and reports")
	rootCmd.PersistentFlags().String("db-driver", "sqlite3", "target database driver (sqlite3, postgres, mysql)")
	rootCmd.PersistentFlags().String("db-dsn", "", "target database connection string")
	rootCmd.PersistentFlags().String("catalog", "", "custom field-category catalog (YAML)")

	for flag, key := range map[string]string{
		"verbose":   "verbose",
		"store-dir": "store_dir",
		"db-driver": "target.driver",
		"db-dsn":    "target.dsn",
		"catalog":   "catalog",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			log.Fatalf("Failed to bind %s flag: %v", flag, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".legacyconv")
	}

	viper.SetEnvPrefix("LEGACYCONV")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	// Setup logger
	log.SetLevel(log.InfoLevel)
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
}

// buildSuggester returns the configured AI backend, or nil when no API
// key is set.
func buildSuggester(ctx context.Context) ai.Suggester {
	apiKey := viper.GetString("ai.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	suggester, err := ai.NewGemini(ctx, apiKey, viper.GetString("ai.model"))
	if err != nil {
		log.Warn("AI backend unavailable; continuing without it", "error", err)
		return nil
	}
	return suggester
}

func buildCatalog() (*knowledge.Catalog, error) {
	catalog, err := knowledge.Load(viper.GetString("catalog"))
	if err != nil {
		return nil, fmt.Errorf("failed to load category catalog: %w", err)
	}
	return catalog, nil
}

// buildEngine wires the full conversion stack. The target writer is
// only opened when needDB is set; file-only commands skip it. The
// returned cleanup closes whatever was opened.
func buildEngine(ctx context.Context, needDB bool) (*convert.Engine, func(), error) {
	catalog, err := buildCatalog()
	if err != nil {
		return nil, nil, err
	}

	store, err := convert.NewStore(viper.GetString("store_dir"))
	if err != nil {
		return nil, nil, err
	}

	suggester := buildSuggester(ctx)
	var formatSuggester formats.FormatSuggester
	var mappingSuggester mapper.MappingSuggester
	if suggester != nil {
		formatSuggester = suggester
		mappingSuggester = suggester
	}

	var target writer.TargetWriter
	cleanup := func() {}
	if needDB {
		dsn := viper.GetString("target.dsn")
		if dsn == "" {
			return nil, nil, fmt.Errorf("target database DSN is required (--db-dsn)")
		}
		sqlWriter, err := writer.NewSQLWriter(viper.GetString("target.driver"), dsn)
		if err != nil {
			return nil, nil, err
		}
		target = sqlWriter
		cleanup = func() {
			if err := sqlWriter.Close(); err != nil {
				log.Debug("Failed to close target database", "error", err)
			}
		}
	}

	engine := convert.NewEngine(
		formats.DefaultRegistry(),
		formats.NewDetector(formatSuggester),
		mapper.New(catalog, mappingSuggester),
		target,
		store,
	)
	return engine, cleanup, nil
}
