package cmd

import (
	"context"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/carealert/internal/classifier"
	"github.com/good-yellow-bee/carealert/internal/engine"
	"github.com/good-yellow-bee/carealert/internal/export"
	"github.com/good-yellow-bee/carealert/internal/filter"
	"github.com/good-yellow-bee/carealert/internal/models"
	"github.com/good-yellow-bee/carealert/internal/storage"
	"github.com/good-yellow-bee/carealert/internal/store"
)

var (
	alertsSeverityMin int
	alertsSeverityMax int
	alertsType        string
	alertsFrom        string
	alertsTo          string
	alertsQuery       string
	alertsUnacked     bool
	alertsLimit       int
	exportFormat      string
	exportTo          string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect the alert log",
	Long: `Read the SQLite alert log written by carealert-server.

Filters combine with AND. --query takes a filter expression over the fields
type, severity, text, acknowledged, detected_at, and rule.`,
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts, newest first",
	Args:  cobra.NoArgs,
	RunE:  runAlertsList,
}

var alertsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export alerts as CSV or JSON",
	Long: `Export the filtered alerts in insertion order.

Examples:
  carealertctl alerts export --db alerts.db --format csv --export-to march.csv --from 2025-03-01 --to 2025-03-31`,
	Args: cobra.NoArgs,
	RunE: runAlertsExport,
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an alert in the log",
	Long: `Mark an alert acknowledged directly in the alert log. A running server
does not see the change until it restarts; prefer the API when one is up.`,
	Args: cobra.ExactArgs(1),
	RunE: runAlertsAck,
}

func init() {
	for _, c := range []*cobra.Command{alertsListCmd, alertsExportCmd} {
		c.Flags().IntVar(&alertsSeverityMin, "severity-min", models.SeverityMin, "minimum severity (1-5)")
		c.Flags().IntVar(&alertsSeverityMax, "severity-max", models.SeverityMax, "maximum severity (1-5)")
		c.Flags().StringVarP(&alertsType, "type", "t", "", "symptom type")
		c.Flags().StringVar(&alertsFrom, "from", "", "detected on or after (YYYY-MM-DD or RFC3339)")
		c.Flags().StringVar(&alertsTo, "to", "", "detected on or before (YYYY-MM-DD or RFC3339)")
		c.Flags().StringVarP(&alertsQuery, "query", "q", "", "filter expression")
		c.Flags().BoolVar(&alertsUnacked, "unacked", false, "only unacknowledged alerts")
	}
	alertsListCmd.Flags().IntVarP(&alertsLimit, "limit", "n", 50, "maximum alerts to show (0 = all)")
	alertsExportCmd.Flags().StringVar(&exportFormat, "format", "json", "export format (json, csv)")
	alertsExportCmd.Flags().StringVar(&exportTo, "export-to", "", "export file path (default: stdout)")

	alertsCmd.AddCommand(alertsListCmd, alertsExportCmd, alertsAckCmd)
	rootCmd.AddCommand(alertsCmd)
}

// openLog opens the alert log named by --db and loads it into a store.
// The returned close function releases the database.
func openLog(ctx context.Context) (*store.Store, func(), error) {
	if dbPath == "" {
		return nil, nil, goerr.New("no alert log given; set --db or CAREALERT_DB")
	}
	if _, err := os.Stat(dbPath); err != nil {
		return nil, nil, goerr.Wrap(err, "alert log not found", goerr.V("path", dbPath))
	}

	db := storage.NewSQLiteStorage(dbPath)
	if err := db.Open(); err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	s := store.New(&store.Options{Backend: db.Alerts()})
	if _, err := s.Load(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return s, func() { _ = db.Close() }, nil
}

// openEngine wraps the loaded log in an engine so the CLI filters and
// summarises exactly as the server does.
func openEngine(ctx context.Context) (*engine.Engine, func(), error) {
	s, closeFn, err := openLog(ctx)
	if err != nil {
		return nil, nil, err
	}
	table, err := loadTable()
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return engine.New(classifier.New(table), s, nil, nil), closeFn, nil
}

func filterState() (filter.State, error) {
	v := url.Values{}
	v.Set("severity_min", strconv.Itoa(alertsSeverityMin))
	v.Set("severity_max", strconv.Itoa(alertsSeverityMax))
	v.Set("symptom_type", alertsType)
	v.Set("from", alertsFrom)
	v.Set("to", alertsTo)
	return filter.FromValues(v)
}

func searchAlerts(cmd *cobra.Command) ([]models.Alert, error) {
	eng, closeFn, err := openEngine(cmd.Context())
	if err != nil {
		return nil, err
	}
	defer closeFn()

	state, err := filterState()
	if err != nil {
		return nil, err
	}
	alerts, err := eng.Search(state, alertsQuery)
	if err != nil {
		return nil, err
	}
	if alertsUnacked {
		kept := alerts[:0]
		for _, a := range alerts {
			if !a.Acknowledged {
				kept = append(kept, a)
			}
		}
		alerts = kept
	}
	PrintVerbose(cmd, "%d of %d alerts match", len(alerts), len(eng.Alerts()))
	return alerts, nil
}

func runAlertsList(cmd *cobra.Command, args []string) error {
	alerts, err := searchAlerts(cmd)
	if err != nil {
		return err
	}

	// Newest first, the order an operator scans in.
	newest := make([]models.Alert, 0, len(alerts))
	for i := len(alerts) - 1; i >= 0; i-- {
		newest = append(newest, alerts[i])
	}
	total := len(newest)
	if alertsLimit > 0 && len(newest) > alertsLimit {
		newest = newest[:alertsLimit]
	}

	out := cmd.OutOrStdout()
	switch GetOutput() {
	case "json":
		return writeJSON(out, newest)
	case "plain":
		for _, a := range newest {
			writeLine(out, "%s\t%s\t%s\t%d\t%t", a.ID, a.DetectedAt.UTC().Format(time.RFC3339), a.SymptomType, a.SeverityScore, a.Acknowledged)
		}
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	writeLine(w, "ID\tDETECTED\tTYPE\tSEVERITY\tACK\tTEXT")
	for _, a := range newest {
		ack := "no"
		if a.Acknowledged {
			ack = "yes"
		}
		writeLine(w, "%s\t%s\t%s\t%s\t%s\t%s", a.ID, humanize.Time(a.DetectedAt), a.SymptomType,
			severityLabel(a.SeverityScore), ack, truncate(a.SymptomText, 50))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if total > len(newest) {
		writeLine(out, "... %s more (use --limit 0 to show all)", humanize.Comma(int64(total-len(newest))))
	}
	return nil
}

func runAlertsExport(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}
	alerts, err := searchAlerts(cmd)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if exportTo != "" {
		f, err := os.Create(exportTo)
		if err != nil {
			return goerr.Wrap(err, "create export file", goerr.V("path", exportTo))
		}
		defer f.Close()
		w = f
	}

	if err := export.NewExporter(format, w).ExportAlerts(alerts); err != nil {
		return err
	}
	if exportTo != "" {
		PrintVerbose(cmd, "exported %s alerts to %s", humanize.Comma(int64(len(alerts))), exportTo)
	}
	return nil
}

func runAlertsAck(cmd *cobra.Command, args []string) error {
	s, closeFn, err := openLog(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	if err := s.Acknowledge(cmd.Context(), args[0]); err != nil {
		return err
	}
	writeLine(cmd.OutOrStdout(), "acknowledged %s", args[0])
	return nil
}
