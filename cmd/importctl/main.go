package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/issueimport/internal/config"
	"github.com/JonMunkholm/issueimport/internal/logging"
)

var (
	envFile    string
	outputJSON bool
	verbose    bool

	cfg *config.Config
)

// fileFlags are shared by preview and import.
type fileFlags struct {
	file      string
	project   string
	user      string
	delimiter string
	quote     string
	encoding  string
}

func (f *fileFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.file, "file", "", "CSV file to import (required)")
	cmd.Flags().StringVar(&f.project, "project", "", "project name or ID (required)")
	cmd.Flags().StringVar(&f.user, "user", "", "login of the acting user (required)")
	cmd.Flags().StringVar(&f.delimiter, "delimiter", ",", "field separator")
	cmd.Flags().StringVar(&f.quote, "quote", `"`, "quote character")
	cmd.Flags().StringVar(&f.encoding, "encoding", "UTF-8", "text encoding of the file")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("user")
}

var importFlags struct {
	fileFlags
	mappings       []string
	uniqueField    string
	update         bool
	otherProjects  bool
	updateClosed   bool
	ignoreMissing  bool
	notify         bool
	addCategories  bool
	addVersions    bool
	useAnonymous   bool
	defaultTracker string
}

var previewFlags fileFlags

var gcOlderThan time.Duration

var rootCmd = &cobra.Command{
	Use:   "importctl",
	Short: "Bulk ticket import tool",
	Long: `A CLI for importing tickets from CSV files.

It runs the same upload and commit steps as the web service against the
database configured through the environment (DATABASE_DRIVER, DATABASE_URL,
SQLITE_PATH).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Overload(envFile); err != nil {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
		} else {
			_ = godotenv.Load()
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		level := "warn"
		if verbose {
			level = cfg.Logging.Level
		}
		logging.Setup(level, cfg.Logging.Format)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Upload and commit a CSV file",
	Long: `Create or update tickets from a CSV file.

Columns are mapped with repeated --map Column=attribute flags; without any,
the suggested mapping from the header names is used. Rows that fail are
listed with their line number and reasons.`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show headers, sample rows and the suggested mapping",
	Long:  `Upload a CSV file and print what the mapping step would offer. The upload stays pending until an import replaces it or it expires.`,
	Args:  cobra.NoArgs,
	RunE:  runPreview,
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove uploads that were never committed",
	Args:  cobra.NoArgs,
	RunE:  runGC,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create missing database tables",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "env file to load (default is .env when present)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at the configured LOG_LEVEL instead of warn")

	importFlags.register(importCmd)
	f := importCmd.Flags()
	f.StringArrayVar(&importFlags.mappings, "map", nil, "column mapping as Column=attribute (repeatable)")
	f.StringVar(&importFlags.uniqueField, "unique-field", "", "column holding the unique key used for matching")
	f.BoolVar(&importFlags.update, "update", false, "update matched tickets instead of creating new ones")
	f.BoolVar(&importFlags.otherProjects, "update-other-project", false, "allow updating tickets of other projects")
	f.BoolVar(&importFlags.updateClosed, "update-closed", false, "allow updating closed tickets")
	f.BoolVar(&importFlags.ignoreMissing, "ignore-missing", false, "skip rows whose unique key matches no ticket")
	f.BoolVar(&importFlags.notify, "notify", false, "send ticket notifications")
	f.BoolVar(&importFlags.addCategories, "add-categories", false, "create missing categories")
	f.BoolVar(&importFlags.addVersions, "add-versions", false, "create missing versions")
	f.BoolVar(&importFlags.useAnonymous, "use-anonymous", false, "use the anonymous user for unknown logins")
	f.StringVar(&importFlags.defaultTracker, "default-tracker", "", "tracker name for rows without one")

	previewFlags.register(previewCmd)

	gcCmd.Flags().DurationVar(&gcOlderThan, "older-than", 0, "remove uploads older than this (default IMPORT_BATCH_RETENTION)")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
