package search

import (
	"fmt"

	"github.com/archiveforge/docscrawler/pkg/failure"
)

// SearchErrorCause classifies a search-coordinator-local failure for
// observability; it is distinct from the job-level not_found/ok contract a
// caller sees (§6).
type SearchErrorCause string

const (
	ErrCauseJobNotFound    SearchErrorCause = "job not found"
	ErrCauseBadSelector    SearchErrorCause = "invalid css selector"
	ErrCauseIndexUnreadable SearchErrorCause = "index unreadable"
)

// SearchError is the classified error this package returns; selector and
// not-found failures are never retryable.
type SearchError struct {
	Message   string
	Retryable bool
	Cause     SearchErrorCause
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search error: %s: %s", e.Cause, e.Message)
}

func (e *SearchError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}
