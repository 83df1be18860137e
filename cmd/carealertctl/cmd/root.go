// Package cmd contains the CLI commands for carealertctl.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/carealert/internal/classifier"
)

var (
	// Used for flags
	verbose   bool
	output    string
	rulesFile string
	dbPath    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "carealertctl",
	Short: "CareAlert - symptom triage tooling",
	Long: `carealertctl classifies symptom text, checks rule tables, and inspects
the alert log written by carealert-server.

Examples:
  # Classify a single report
  carealertctl classify "severe chest pain since this morning"

  # Classify one report per line from a file
  carealertctl classify < reports.txt

  # Validate a custom rule table
  carealertctl rules check ./rules.yaml

  # List unacknowledged high-severity alerts
  carealertctl alerts list --db /var/lib/carealert/alerts.db --severity-min 4 --unacked

  # Export the last week as CSV
  carealertctl alerts export --db alerts.db --from 2025-03-01 --format csv`,
	SilenceUsage: true,
	// Run when no subcommand is specified
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json, plain)")
	rootCmd.PersistentFlags().StringVar(&rulesFile, "rules", "", "rule table file (default: built-in rules)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", os.Getenv("CAREALERT_DB"), "SQLite alert log (env CAREALERT_DB)")
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// GetOutput returns the output format.
func GetOutput() string {
	return output
}

// PrintVerbose prints a message to stderr only if verbose mode is enabled.
func PrintVerbose(cmd *cobra.Command, format string, args ...any) {
	if verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
	}
}

// loadTable returns the rule table selected by --rules.
func loadTable() (*classifier.Table, error) {
	if rulesFile == "" {
		return classifier.DefaultTable(), nil
	}
	return classifier.LoadTableFromFile(rulesFile)
}

func writeLine(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format+"\n", args...)
}
