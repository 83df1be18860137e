package alerts

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxTextLength bounds a single symptom report.
const MaxTextLength = 4000

// ValidateText checks a symptom report body before classification.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("text is required")
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return errors.New("text must be 4000 characters or less")
	}
	return nil
}
