// Package intake feeds transcribed symptom reports from a spool file into
// the triage engine. The speech-to-text service appends one report per
// line, either as plain text or as a JSON object with a "text" field.
package intake

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"

	"github.com/m-mizutani/goerr/v2"

	"github.com/good-yellow-bee/carealert/internal/errs"
	"github.com/good-yellow-bee/carealert/internal/logging"
	"github.com/good-yellow-bee/carealert/internal/models"
)

// Reporter records one symptom report.
type Reporter interface {
	Report(ctx context.Context, text string) (models.Alert, error)
}

// Entry is one transcribed report.
type Entry struct {
	Text string `json:"text" masq:"secret"`
	// Source identifies the intake channel, e.g. a kiosk or call line.
	Source string `json:"source,omitempty"`
}

// ParseLine decodes a spool line. Blank lines and lines starting with '#'
// are skipped (ok is false). A line starting with '{' must be a JSON Entry.
func ParseLine(line string) (entry Entry, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Entry{}, false, nil
	}
	if !strings.HasPrefix(line, "{") {
		return Entry{Text: line}, true, nil
	}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return Entry{}, false, errs.InvalidInput("malformed spool entry", goerr.V("error", err.Error()))
	}
	return entry, true, nil
}

// Stats tracks intake statistics using atomic operations for lock-free access.
type Stats struct {
	Lines     atomic.Int64
	Reported  atomic.Int64
	Rejected  atomic.Int64
	Malformed atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Lines     int64 `json:"lines"`
	Reported  int64 `json:"reported"`
	Rejected  int64 `json:"rejected"`
	Malformed int64 `json:"malformed"`
}

// Intake reports every line appended to a spool.
type Intake struct {
	spool    *Spool
	reporter Reporter
	stats    Stats
}

// New creates an intake over the spool at path.
func New(path string, r Reporter, opts *SpoolOptions) (*Intake, error) {
	spool, err := NewSpool(path, opts)
	if err != nil {
		return nil, err
	}
	return &Intake{spool: spool, reporter: r}, nil
}

// Run follows the spool until ctx is cancelled.
func (in *Intake) Run(ctx context.Context) error {
	logger := logging.From(ctx).With("component", "intake", "spool", in.spool.Path())
	ctx = logging.With(ctx, logger)
	logger.Info("following transcript spool")

	return in.spool.Run(ctx, func(line string) {
		in.handle(ctx, line)
	})
}

// Close stops following the spool.
func (in *Intake) Close() error {
	return in.spool.Close()
}

func (in *Intake) handle(ctx context.Context, line string) {
	logger := logging.From(ctx)
	in.stats.Lines.Add(1)

	entry, ok, err := ParseLine(line)
	if err != nil {
		in.stats.Malformed.Add(1)
		logger.Warn("skipping spool line", logging.ErrAttr(err))
		return
	}
	if !ok {
		return
	}

	if entry.Source != "" {
		ctx = logging.With(ctx, logger.With("source", entry.Source))
	}
	if _, err := in.reporter.Report(ctx, entry.Text); err != nil {
		in.stats.Rejected.Add(1)
		logging.From(ctx).Warn("spool report rejected", logging.ErrAttr(err))
		return
	}
	in.stats.Reported.Add(1)
}

// Stats returns a snapshot of intake statistics.
func (in *Intake) Stats() StatsSnapshot {
	return StatsSnapshot{
		Lines:     in.stats.Lines.Load(),
		Reported:  in.stats.Reported.Load(),
		Rejected:  in.stats.Rejected.Load(),
		Malformed: in.stats.Malformed.Load(),
	}
}
