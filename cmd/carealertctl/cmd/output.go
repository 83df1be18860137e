package cmd

import (
	"encoding/json"
	"io"

	"github.com/fatih/color"

	"github.com/good-yellow-bee/carealert/internal/models"
)

var (
	headerColor   = color.New(color.FgBlue, color.Bold)
	criticalColor = color.New(color.FgRed, color.Bold)
	urgentColor   = color.New(color.FgYellow, color.Bold)
	routineColor  = color.New(color.FgGreen)
)

// severityLabel renders a severity score, coloured by urgency when the
// output is a terminal.
func severityLabel(severity int) string {
	switch {
	case severity >= models.SeverityMax:
		return criticalColor.Sprintf("%d", severity)
	case severity >= models.SeverityCritical:
		return urgentColor.Sprintf("%d", severity)
	default:
		return routineColor.Sprintf("%d", severity)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
