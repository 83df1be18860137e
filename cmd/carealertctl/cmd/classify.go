package cmd

import (
	"bufio"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/good-yellow-bee/carealert/internal/classifier"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [text...]",
	Short: "Classify symptom text",
	Long: `Classify symptom text with the active rule table without storing anything.

With arguments, they are joined into one report. Without arguments, each
non-empty line of standard input is classified as a separate report.

Examples:
  carealertctl classify "mild headache since lunch"
  carealertctl classify --rules ./rules.yaml -o json < reports.txt`,
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

// classification pairs a report with its result for output.
type classification struct {
	Text string `json:"text"`
	classifier.Result
}

func runClassify(cmd *cobra.Command, args []string) error {
	table, err := loadTable()
	if err != nil {
		return err
	}
	c := classifier.New(table)

	var texts []string
	if len(args) > 0 {
		texts = []string{strings.Join(args, " ")}
	} else {
		in := cmd.InOrStdin()
		if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return goerr.New("no symptom text given; pass it as arguments or pipe it on stdin")
		}
		if texts, err = readLines(in); err != nil {
			return err
		}
	}

	results := make([]classification, 0, len(texts))
	for _, text := range texts {
		res, err := c.Classify(text)
		if err != nil {
			return err
		}
		results = append(results, classification{Text: text, Result: res})
	}
	PrintVerbose(cmd, "classified %d report(s) with %d enabled rules", len(results), table.EnabledRules())

	out := cmd.OutOrStdout()
	switch GetOutput() {
	case "json":
		if len(results) == 1 {
			return writeJSON(out, results[0])
		}
		return writeJSON(out, results)
	case "plain":
		for _, r := range results {
			writeLine(out, "%s\t%d\t%s", r.SymptomType, r.Severity, r.Text)
		}
		return nil
	default:
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		writeLine(w, "TYPE\tSEVERITY\tRULE\tMODIFIERS\tTEXT")
		for _, r := range results {
			rule := r.Rule
			if rule == "" {
				rule = "-"
			}
			writeLine(w, "%s\t%s\t%s\t%s\t%s", r.SymptomType, severityLabel(r.Severity), rule,
				strings.Join(r.Modifiers, ","), truncate(r.Text, 60))
		}
		return w.Flush()
	}
}

// readLines returns the non-blank lines of r.
func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, goerr.Wrap(err, "read reports")
	}
	if len(lines) == 0 {
		return nil, goerr.New("no symptom text on stdin")
	}
	return lines, nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
