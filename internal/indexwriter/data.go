package indexwriter

// FetchStatus is the terminal outcome of one URL's fetch attempt, recorded
// exactly once per attempted URL (I2).
type FetchStatus string

const (
	StatusSuccess        FetchStatus = "success"
	StatusSkipped        FetchStatus = "skipped"
	StatusFailedRequest  FetchStatus = "failed_request"
	StatusFailedRobots   FetchStatus = "failed_robots"
	StatusFailedPaywall  FetchStatus = "failed_paywall"
	StatusFailedSSRF     FetchStatus = "failed_ssrf"
	StatusFailedTooBig   FetchStatus = "failed_toobig"
	StatusFailedOther    FetchStatus = "failed_other"
)

// maxErrorMessageBytes bounds error_message per the data model: "truncated
// to 2000 bytes".
const maxErrorMessageBytes = 2000

// Record is one line of a job's index file. Field names are chosen to
// marshal exactly onto the documented JSON keys.
type Record struct {
	OriginalURL  string      `json:"original_url"`
	CanonicalURL string      `json:"canonical_url"`
	LocalPath    string      `json:"local_path"`
	ContentHash  *string     `json:"content_hash"`
	FetchStatus  FetchStatus `json:"fetch_status"`
	HTTPStatus   *int        `json:"http_status"`
	ErrorMessage *string     `json:"error_message"`
}

// NewRecord builds a Record, truncating errorMessage to maxErrorMessageBytes
// and normalising empty optional fields to nil so they marshal as JSON null.
func NewRecord(originalURL, canonicalURL, localPath string, contentHash *string, status FetchStatus, httpStatus *int, errorMessage string) Record {
	var errMsgPtr *string
	if errorMessage != "" {
		truncated := errorMessage
		if len(truncated) > maxErrorMessageBytes {
			truncated = truncated[:maxErrorMessageBytes]
		}
		errMsgPtr = &truncated
	}
	return Record{
		OriginalURL:  originalURL,
		CanonicalURL: canonicalURL,
		LocalPath:    localPath,
		ContentHash:  contentHash,
		FetchStatus:  status,
		HTTPStatus:   httpStatus,
		ErrorMessage: errMsgPtr,
	}
}
