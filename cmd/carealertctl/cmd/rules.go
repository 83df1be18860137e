package cmd

import (
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/carealert/internal/classifier"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect classifier rule tables",
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Validate a rule table",
	Long: `Load and validate a rule table, reporting the first error found.
Without a file argument the table selected by --rules is checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			rulesFile = args[0]
		}
		table, err := loadTable()
		if err != nil {
			return err
		}
		source := rulesFile
		if source == "" {
			source = "built-in"
		}
		writeLine(cmd.OutOrStdout(), "%s: ok (%d rules, %d enabled, %d modifiers)",
			source, len(table.Rules), table.EnabledRules(), len(table.Modifiers))
		return nil
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules in precedence order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := loadTable()
		if err != nil {
			return err
		}
		return printRules(cmd, table)
	},
}

func init() {
	rulesCmd.AddCommand(rulesCheckCmd, rulesListCmd)
	rootCmd.AddCommand(rulesCmd)
}

func printRules(cmd *cobra.Command, table *classifier.Table) error {
	out := cmd.OutOrStdout()
	if GetOutput() == "json" {
		return writeJSON(out, table)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	writeLine(w, "#\tRULE\tTYPE\tSEVERITY\tENABLED\tPATTERNS")
	for i, r := range table.Rules {
		writeLine(w, "%d\t%s\t%s\t%s\t%t\t%d", i+1, r.Name, r.SymptomType, severityLabel(r.Severity), r.IsEnabled(), len(r.Patterns))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(table.Modifiers) > 0 {
		writeLine(out, "")
		headerColor.Fprintln(out, "Modifiers:")
		for _, m := range table.Modifiers {
			writeLine(out, "  %-12s %+d  %s", m.Name, m.Delta, strings.Join(m.Patterns, " | "))
		}
	}
	return nil
}
