package indexwriter

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/archiveforge/docscrawler/internal/metadata"
	"github.com/archiveforge/docscrawler/pkg/failure"
)

/*
Responsibilities

- Append one line-delimited JSON record per finalised fetch attempt
- Serialise concurrent writers within a process with one mutex per file
- fsync exactly once, at job end, not per record

The writer never reorders or rewrites a record once appended (§4.4, I2).
*/

// Writer is a job's append-only index file. One Writer exists per job and
// is exclusively owned by it for its lifetime.
type Writer struct {
	metadataSink metadata.MetadataSink

	mu   sync.Mutex
	file *os.File
	path string
}

// Open creates (or truncates) the index file at path. A job always starts a
// fresh index; it never appends to a pre-existing file from a prior run.
func Open(metadataSink metadata.MetadataSink, path string) (*Writer, failure.ClassifiedError) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, &IndexError{Message: err.Error(), Retryable: false, Cause: ErrCauseOpenFailed}
	}
	return &Writer{metadataSink: metadataSink, file: f, path: path}, nil
}

// Append writes one record as a single LF-terminated JSON line. Safe for
// concurrent use; callers need not serialise their own calls.
func (w *Writer) Append(rec Record) failure.ClassifiedError {
	line, err := json.Marshal(rec)
	if err != nil {
		classified := &IndexError{Message: err.Error(), Retryable: false, Cause: ErrCauseMarshal}
		w.recordError(classified, rec)
		return classified
	}
	line = append(line, '\n')

	w.mu.Lock()
	_, writeErr := w.file.Write(line)
	w.mu.Unlock()

	if writeErr != nil {
		classified := &IndexError{Message: writeErr.Error(), Retryable: true, Cause: ErrCauseWriteFailed}
		w.recordError(classified, rec)
		return classified
	}
	return nil
}

func (w *Writer) recordError(err *IndexError, rec Record) {
	w.metadataSink.RecordError(
		time.Now(),
		"indexwriter",
		"Writer.Append",
		mapIndexErrorToMetadataCause(err),
		err.Error(),
		[]metadata.Attribute{metadata.NewAttr(metadata.AttrURL, rec.CanonicalURL)},
	)
}

// Close fsyncs the index file exactly once and closes it. It is the only
// point at which the job's index is guaranteed durable (§5: "fsync at job
// end, not per record").
func (w *Writer) Close() failure.ClassifiedError {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Sync(); err != nil {
		return &IndexError{Message: err.Error(), Retryable: false, Cause: ErrCauseSyncFailed}
	}
	if err := w.file.Close(); err != nil {
		return &IndexError{Message: err.Error(), Retryable: false, Cause: ErrCauseSyncFailed}
	}
	return nil
}

// Path returns the index file's path, for callers that need to open it for
// reading afterward (the search coordinator, primarily).
func (w *Writer) Path() string {
	return w.path
}
