package cmd

import (
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/carealert/internal/export"
	"github.com/good-yellow-bee/carealert/internal/models"
	"github.com/good-yellow-bee/carealert/internal/trends"
)

var trendsFormat string

var trendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Summarise the alert log",
	Long: `Print trend statistics for the alert log: the 24 hour count, average
severity, symptom histogram, and hourly activity. The alert filter flags of
"alerts list" apply.`,
	Args: cobra.NoArgs,
	RunE: runTrends,
}

func init() {
	trendsCmd.Flags().IntVar(&alertsSeverityMin, "severity-min", models.SeverityMin, "minimum severity (1-5)")
	trendsCmd.Flags().IntVar(&alertsSeverityMax, "severity-max", models.SeverityMax, "maximum severity (1-5)")
	trendsCmd.Flags().StringVarP(&alertsType, "type", "t", "", "symptom type")
	trendsCmd.Flags().StringVar(&alertsFrom, "from", "", "detected on or after (YYYY-MM-DD or RFC3339)")
	trendsCmd.Flags().StringVar(&alertsTo, "to", "", "detected on or before (YYYY-MM-DD or RFC3339)")
	trendsCmd.Flags().StringVar(&trendsFormat, "format", "", "write the snapshot as csv or json instead of a table")
	rootCmd.AddCommand(trendsCmd)
}

func runTrends(cmd *cobra.Command, args []string) error {
	eng, closeFn, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	state, err := filterState()
	if err != nil {
		return err
	}
	snap, err := eng.Trends(state)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if trendsFormat != "" {
		format, err := export.ParseFormat(trendsFormat)
		if err != nil {
			return err
		}
		return export.NewExporter(format, out).ExportTrends(snap)
	}
	if GetOutput() == "json" {
		return writeJSON(out, snap)
	}
	return printTrends(cmd, snap)
}

func printTrends(cmd *cobra.Command, s trends.Snapshot) error {
	out := cmd.OutOrStdout()

	headerColor.Fprintln(out, "Alert Trends")
	writeLine(out, "============")
	writeLine(out, "Total alerts:     %s", humanize.Comma(int64(s.Total)))
	writeLine(out, "Last 24 hours:    %s", humanize.Comma(int64(s.Count24h)))
	writeLine(out, "Critical:         %s", humanize.Comma(int64(s.Critical)))
	writeLine(out, "Average severity: %.1f", s.AvgSeverity)
	writeLine(out, "Unacknowledged:   %s", humanize.Comma(int64(s.Unacknowledged)))
	if b, ok := s.MostCommonBucket(); ok {
		writeLine(out, "Most common:      %s (%d%%)", b.SymptomType, b.Percent)
	} else {
		writeLine(out, "Most common:      -")
	}
	writeLine(out, "")

	if len(s.Histogram) > 0 {
		headerColor.Fprintln(out, "By symptom type:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		writeLine(w, "  TYPE\tCOUNT\t%%")
		for _, b := range s.Histogram {
			writeLine(w, "  %s\t%d\t%d%%", b.SymptomType, b.Count, b.Percent)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		writeLine(out, "")
	}

	if IsVerbose() {
		headerColor.Fprintln(out, "Hourly (last 24h):")
		peak := 0
		for _, slot := range s.Hourly {
			peak = max(peak, slot.Count)
		}
		for _, slot := range s.Hourly {
			bar := ""
			if peak > 0 {
				bar = strings.Repeat("#", slot.Count*30/peak)
			}
			writeLine(out, "  %s %4d %s", slot.Start.Local().Format("Jan 02 15:04"), slot.Count, bar)
		}
	}
	return nil
}
