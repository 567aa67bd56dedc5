package indexwriter

import (
	"fmt"

	"github.com/archiveforge/docscrawler/internal/metadata"
	"github.com/archiveforge/docscrawler/pkg/failure"
)

type IndexErrorCause string

const (
	ErrCauseOpenFailed  IndexErrorCause = "failed to open index file"
	ErrCauseWriteFailed IndexErrorCause = "failed to append index record"
	ErrCauseSyncFailed  IndexErrorCause = "failed to fsync index file"
	ErrCauseMarshal     IndexErrorCause = "failed to marshal index record"
)

type IndexError struct {
	Message   string
	Retryable bool
	Cause     IndexErrorCause
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index error: %s", e.Cause)
}

func (e *IndexError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// mapIndexErrorToMetadataCause maps indexwriter-local error semantics to the
// canonical metadata.ErrorCause table. Observational only.
func mapIndexErrorToMetadataCause(err *IndexError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseOpenFailed, ErrCauseWriteFailed, ErrCauseSyncFailed:
		return metadata.CauseStorageFailure
	case ErrCauseMarshal:
		return metadata.CauseInvariantViolation
	default:
		return metadata.CauseUnknown
	}
}
