package fetcher

import (
	"net/url"
	"time"
)

// Status is the fetch-attempt outcome a Fetcher reports. It deliberately
// mirrors the subset of the index's fetch_status enum that a fetcher itself
// can determine; "skipped" and the robots/SSRF-policy statuses are decided
// upstream of the fetcher and never appear here.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusFailedRequest Status = "failed_request"
	StatusFailedPaywall Status = "failed_paywall"
	StatusFailedTooBig  Status = "failed_toobig"
	StatusFailedOther   Status = "failed_other"
)

// Request is the single contract shared by both fetcher variants.
type Request struct {
	URL url.URL

	// TargetPath is the local path the path mapper chose for URL. AllowedBase
	// bounds it: a TargetPath resolving outside AllowedBase must be refused
	// before any write is attempted.
	TargetPath  string
	AllowedBase string

	// Force exists for observability only; the engine decides whether to
	// call the fetcher at all when a target file already exists. A fetcher
	// always performs the fetch and always overwrites when asked.
	Force bool

	Timeout     time.Duration
	MaxBodySize int64
	UserAgent   string
}

// Result is the outcome of one fetch attempt.
type Result struct {
	Status        Status
	HTTPStatus    int
	ContentHash   string
	ContentType   string
	DetectedLinks []string
	ErrorMessage  string
	FetchedAt     time.Time
}
