package metadata

import (
	"io"
	"os"
	"time"

	"github.com/go-logfmt/logfmt"
)

/*
Metadata Collected
- Fetch timestamps
- HTTP status codes
- Content hashes
- Crawl depth

Logging Goals
- Debuggable crawl behavior
- Post-run auditability
- Failure diagnostics

Structured logging is preferred.

Allowed:
- Primitive values
- Timestamps
- URLs (as values, not objects with behavior)
- Hashes
- Status codes
- Durations
- Identifiers (page ID, crawl ID)
*/

// MetadataSink is the narrow write-side contract every pipeline package logs
// through. It never returns an error: recording observability data must
// never become a reason to fail a fetch.
type MetadataSink interface {
	RecordFetch(fetchUrl string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int)
	RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, errorString string, attrs []Attribute)
	RecordArtifact(kind ArtifactKind, path string, attrs []Attribute)
	RecordAssetFetch(assetUrl string, httpStatus int, duration time.Duration, retryCount int)
}

// CrawlFinalizer records the one-time, terminal summary of a completed job.
// It is distinct from MetadataSink because it is called exactly once, after
// the fetch loop has drained (I6), never mid-crawl.
type CrawlFinalizer interface {
	RecordFinalCrawlStats(totalPages, totalErrors, totalAssets int, duration time.Duration)
}

// Recorder is the default MetadataSink/CrawlFinalizer implementation: it
// writes one logfmt line per event to an io.Writer (typically stderr).
type Recorder struct {
	out io.Writer
}

// NewRecorder returns a Recorder writing to w. A nil w defaults to os.Stderr.
func NewRecorder(w io.Writer) *Recorder {
	if w == nil {
		w = os.Stderr
	}
	return &Recorder{out: w}
}

var _ MetadataSink = (*Recorder)(nil)
var _ CrawlFinalizer = (*Recorder)(nil)

func (r *Recorder) RecordFetch(fetchUrl string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int) {
	r.emit(
		"event", "fetch",
		"url", fetchUrl,
		"http_status", httpStatus,
		"duration_ms", duration.Milliseconds(),
		"content_type", contentType,
		"retry_count", retryCount,
		"depth", crawlDepth,
	)
}

func (r *Recorder) RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, errorString string, attrs []Attribute) {
	kvs := []interface{}{
		"event", "error",
		"time", observedAt.Format(time.RFC3339Nano),
		"package", packageName,
		"action", action,
		"cause", causeString(cause),
		"error", errorString,
	}
	for _, a := range attrs {
		kvs = append(kvs, string(a.Key), a.Value)
	}
	r.emit(kvs...)
}

func (r *Recorder) RecordArtifact(kind ArtifactKind, path string, attrs []Attribute) {
	kvs := []interface{}{
		"event", "artifact",
		"kind", string(kind),
		"path", path,
	}
	for _, a := range attrs {
		kvs = append(kvs, string(a.Key), a.Value)
	}
	r.emit(kvs...)
}

func (r *Recorder) RecordAssetFetch(assetUrl string, httpStatus int, duration time.Duration, retryCount int) {
	r.emit(
		"event", "asset_fetch",
		"url", assetUrl,
		"http_status", httpStatus,
		"duration_ms", duration.Milliseconds(),
		"retry_count", retryCount,
	)
}

func (r *Recorder) RecordFinalCrawlStats(totalPages, totalErrors, totalAssets int, duration time.Duration) {
	r.emit(
		"event", "crawl_finished",
		"total_pages", totalPages,
		"total_errors", totalErrors,
		"total_assets", totalAssets,
		"duration_ms", duration.Milliseconds(),
	)
}

func (r *Recorder) emit(keyvals ...interface{}) {
	enc := logfmt.NewEncoder(r.out)
	if err := enc.EncodeKeyvals(keyvals...); err != nil {
		return
	}
	_ = enc.EndRecord()
}

func causeString(c ErrorCause) string {
	switch c {
	case CauseNetworkFailure:
		return "network_failure"
	case CausePolicyDisallow:
		return "policy_disallow"
	case CauseContentInvalid:
		return "content_invalid"
	case CauseStorageFailure:
		return "storage_failure"
	case CauseInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// NoopSink discards every event. Useful in tests and in components that
// genuinely have nothing to log.
type NoopSink struct{}

var _ MetadataSink = (*NoopSink)(nil)
var _ CrawlFinalizer = (*NoopSink)(nil)

func (n *NoopSink) RecordFetch(string, int, time.Duration, string, int, int)              {}
func (n *NoopSink) RecordError(time.Time, string, string, ErrorCause, string, []Attribute) {}
func (n *NoopSink) RecordArtifact(ArtifactKind, string, []Attribute)                       {}
func (n *NoopSink) RecordAssetFetch(string, int, time.Duration, int)                       {}
func (n *NoopSink) RecordFinalCrawlStats(int, int, int, time.Duration)                     {}
