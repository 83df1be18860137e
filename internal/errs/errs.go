// Package errs defines the error taxonomy shared by the triage core.
//
// Errors are goerr values carrying a tag; callers branch on the tag with the
// Is* helpers rather than on message text.
package errs

import (
	"github.com/m-mizutani/goerr/v2"
)

var (
	// TagInvalidInput marks empty or malformed symptom reports and alerts.
	TagInvalidInput = goerr.NewTag("invalid_input")
	// TagInvalidFilter marks filter states or query expressions that cannot be applied.
	TagInvalidFilter = goerr.NewTag("invalid_filter")
	// TagNotFound marks lookups of unknown alert ids.
	TagNotFound = goerr.NewTag("not_found")
	// TagConflict marks an append that reuses an existing alert id.
	TagConflict = goerr.NewTag("conflict")
	// TagStorage marks failures of the persistence backend.
	TagStorage = goerr.NewTag("storage")
	// TagRateLimit marks work dropped by a rate limiter.
	TagRateLimit = goerr.NewTag("rate_limit")
)

// InvalidInput returns an InvalidInputError.
func InvalidInput(msg string, opts ...goerr.Option) error {
	return goerr.New(msg, append(opts, goerr.T(TagInvalidInput))...)
}

// InvalidFilter returns an InvalidFilterError.
func InvalidFilter(msg string, opts ...goerr.Option) error {
	return goerr.New(msg, append(opts, goerr.T(TagInvalidFilter))...)
}

// NotFound returns a NotFoundError for the given alert id.
func NotFound(id string) error {
	return goerr.New("alert not found", goerr.V("alert_id", id), goerr.T(TagNotFound))
}

// Conflict returns an error for a duplicate alert id.
func Conflict(id string) error {
	return goerr.New("alert id already exists", goerr.V("alert_id", id), goerr.T(TagConflict))
}

// Storage wraps a persistence failure.
func Storage(err error, msg string, opts ...goerr.Option) error {
	return goerr.Wrap(err, msg, append(opts, goerr.T(TagStorage))...)
}

// RateLimited returns an error for work dropped by a rate limiter.
func RateLimited(msg string, opts ...goerr.Option) error {
	return goerr.New(msg, append(opts, goerr.T(TagRateLimit))...)
}

// IsInvalidInput reports whether err is an InvalidInputError.
func IsInvalidInput(err error) bool { return goerr.HasTag(err, TagInvalidInput) }

// IsInvalidFilter reports whether err is an InvalidFilterError.
func IsInvalidFilter(err error) bool { return goerr.HasTag(err, TagInvalidFilter) }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool { return goerr.HasTag(err, TagNotFound) }

// IsConflict reports whether err is a duplicate id error.
func IsConflict(err error) bool { return goerr.HasTag(err, TagConflict) }

// IsStorage reports whether err came from the persistence backend.
func IsStorage(err error) bool { return goerr.HasTag(err, TagStorage) }

// IsRateLimited reports whether err was produced by a rate limiter.
func IsRateLimited(err error) bool { return goerr.HasTag(err, TagRateLimit) }
