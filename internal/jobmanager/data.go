// Package jobmanager implements §4.9: admission, background execution, and
// status tracking for crawl and repo-acquisition jobs. It knows nothing
// about how a job actually runs — callers provide a Runnable per descriptor
// — so the same admit/dispatch/status machinery serves every job kind.
package jobmanager

import (
	"context"
	"time"
)

// Kind is the job descriptor's kind discriminator (§6: kind ∈ {web,
// browser, repo}).
type Kind string

const (
	KindWeb     Kind = "web"
	KindBrowser Kind = "browser"
	KindRepo    Kind = "repo"
)

// Status is a job's lifecycle state. A job starts in StatusPending, moves
// to StatusRunning once its worker goroutine starts, and ends in exactly
// one of StatusCompleted or StatusFailed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// maxErrorDetailBytes bounds the captured top-level error, mirroring the
// index writer's own truncation rule for error_message.
const maxErrorDetailBytes = 2000

// Descriptor is the admission request for one job (§6's job submission
// shape, kind-agnostic at this layer).
type Descriptor struct {
	Kind Kind
	// ID is the caller-supplied identifier, if any; empty means the
	// manager generates one. It is sanitised to the allowed alphabet
	// before use either way.
	ID string
}

// Runnable is the single contract a job's actual work satisfies: invoke,
// then let the manager capture the outcome. crawlengine.Engine and a repo
// acquirer both already expose exactly this shape.
type Runnable interface {
	Run(ctx context.Context) error
}

// Snapshot is a point-in-time status read (§6's job status response).
type Snapshot struct {
	ID         string
	Kind       Kind
	Status     Status
	StartTime  *time.Time
	EndTime    *time.Time
	Message    string
	ErrorDetail string
}

// job is the manager's internal record; Snapshot is the read-only view of
// it handed to callers.
type job struct {
	id     string
	kind   Kind
	status Status

	startTime *time.Time
	endTime   *time.Time
	message   string
	errDetail string

	cancel context.CancelFunc
}

func (j *job) snapshot() Snapshot {
	return Snapshot{
		ID:          j.id,
		Kind:        j.kind,
		Status:      j.status,
		StartTime:   j.startTime,
		EndTime:     j.endTime,
		Message:     j.message,
		ErrorDetail: j.errDetail,
	}
}
