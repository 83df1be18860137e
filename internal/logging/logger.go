// Package logging builds the slog loggers used by both binaries.
//
// Patient symptom text is redacted from every log record: alert structs carry
// a masq "secret" tag on the text field, and bare attributes named
// symptom_text or prefixed with secret_ are masked as well.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/m-mizutani/clog"
	"github.com/m-mizutani/clog/hooks"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/masq"
)

// Format selects the handler used by New.
type Format int

const (
	FormatConsole Format = iota + 1
	FormatJSON
)

// ParseFormat maps a config string to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "console", "text":
		return FormatConsole, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("unknown log format %q", s)
	}
}

// ParseLevel maps a config string to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

var (
	mu            sync.Mutex
	defaultLogger = slog.Default()
)

// Default returns the process-wide logger.
func Default() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(logger *slog.Logger) {
	mu.Lock()
	defaultLogger = logger
	mu.Unlock()
}

// Quiet discards all logging. Used by CLI commands that print to stdout.
func Quiet() {
	SetDefault(slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func redactor() func(groups []string, a slog.Attr) slog.Attr {
	return masq.New(
		masq.WithTag("secret"),
		masq.WithFieldPrefix("secret_"),
		masq.WithFieldName("symptom_text"),
		masq.WithFieldName("text"),
		masq.WithFieldName("Authorization"),
	)
}

// goerrCompact renders goerr values without a stack trace.
func goerrCompact(_ []string, attr slog.Attr) *clog.HandleAttr {
	gerr, ok := attr.Value.Any().(*goerr.Error)
	if !ok {
		return nil
	}
	attrs := []any{slog.String("message", gerr.Error())}
	for k, v := range gerr.Values() {
		attrs = append(attrs, slog.Any(k, v))
	}
	group := slog.Group(attr.Key, attrs...)
	return &clog.HandleAttr{NewAttr: &group}
}

// New creates a logger writing to w.
func New(w io.Writer, level slog.Level, format Format, stacktrace bool) *slog.Logger {
	filter := redactor()

	switch format {
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: filter,
		}))

	case FormatConsole:
		attrHook := goerrCompact
		if stacktrace {
			attrHook = hooks.GoErr()
		}
		return slog.New(clog.New(
			clog.WithWriter(w),
			clog.WithLevel(level),
			clog.WithReplaceAttr(filter),
			clog.WithAttrHook(attrHook),
			clog.WithColorMap(&clog.ColorMap{
				Level: map[slog.Level]*color.Color{
					slog.LevelDebug: color.New(color.FgHiBlack),
					slog.LevelInfo:  color.New(color.FgGreen, color.Bold),
					slog.LevelWarn:  color.New(color.FgYellow, color.Bold),
					slog.LevelError: color.New(color.FgRed, color.Bold),
				},
				LevelDefault: color.New(color.FgBlue),
				Time:         color.New(color.FgWhite),
				Message:      color.New(color.FgHiWhite),
				AttrKey:      color.New(color.FgCyan),
				AttrValue:    color.New(color.FgHiWhite),
			}),
		))

	default:
		panic(fmt.Sprintf("unsupported log format: %d", format))
	}
}

// ErrAttr wraps err as the conventional "error" attribute.
func ErrAttr(err error) slog.Attr { return slog.Any("error", err) }
