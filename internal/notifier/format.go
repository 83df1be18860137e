package notifier

import (
	"fmt"
	"strings"

	"github.com/good-yellow-bee/carealert/internal/models"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// headline is the one-line summary shared by all channels.
func headline(msg Message) string {
	label := symptomLabel(msg.SymptomType)
	switch msg.Event {
	case EventResolved:
		return fmt.Sprintf("%s CareAlert %s: %s", "✅", msg.Reason, label)
	default:
		prefix := "CareAlert"
		if msg.Critical {
			prefix = "CRITICAL CareAlert"
		}
		return fmt.Sprintf("%s %s: %s (severity %d)", severityEmoji(msg.Severity), prefix, label, msg.Severity)
	}
}

// symptomLabel turns chest_pain into "Chest pain".
func symptomLabel(t models.SymptomType) string {
	s := strings.ReplaceAll(string(t), "_", " ")
	if s == "" {
		return "Unknown"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// severityEmoji returns an emoji for the severity score.
func severityEmoji(severity int) string {
	switch {
	case severity >= 5:
		return "\U0001F534" // red circle
	case severity == 4:
		return "\U0001F7E0" // orange circle
	case severity == 3:
		return "\U0001F7E1" // yellow circle
	case severity >= 1:
		return "\U0001F7E2" // green circle
	default:
		return "⚪" // white circle
	}
}

// severityColor returns a hex attachment color for the severity score.
func severityColor(severity int) string {
	switch {
	case severity >= 5:
		return "#d32f2f"
	case severity == 4:
		return "#f57c00"
	case severity == 3:
		return "#fbc02d"
	default:
		return "#388e3c"
	}
}

// truncate truncates a string to max bytes with ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
