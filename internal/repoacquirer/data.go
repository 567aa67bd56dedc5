// Package repoacquirer implements §12.3's kind=repo stub: clone a git
// repository shallowly, copy one subtree of it into a job's content root,
// and emit one index row per copied file. It is the repo-job counterpart to
// crawlengine.Engine — both satisfy jobmanager.Runnable so the job manager's
// dispatch logic never branches on kind.
package repoacquirer

import (
	"context"
	"fmt"

	"github.com/archiveforge/docscrawler/internal/indexwriter"
	"github.com/archiveforge/docscrawler/internal/metadata"
)

// Request is one repo job's parameters (§6: repo_url, doc_subpath, force).
type Request struct {
	RepoURL    string
	DocSubpath string
	// ContentRoot is the job's content root directory, matching the
	// crawl engine's use of config.Config.ContentRoot — copied files land
	// under ContentRoot/<repo-derived-authority>/.
	ContentRoot string
	// Force controls whether an already-populated destination directory is
	// wiped and re-copied (true) or left as-is with a skipped index row per
	// pre-existing file (false), mirroring the crawl engine's own
	// skip-if-exists default.
	Force bool
}

// CommandRunner abstracts invoking an external process, so tests can
// substitute a fake rather than actually shelling out to git.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) error
}

// ErrEmptyRepoURL is returned by Run when Request.RepoURL is empty.
var ErrEmptyRepoURL = fmt.Errorf("repoacquirer: repo_url is required")

// Acquirer is the §12.3 stub. A fresh Acquirer is constructed per job, the
// same lifecycle convention crawlengine.Engine uses.
type Acquirer struct {
	req          Request
	metadataSink metadata.MetadataSink
	indexWriter  *indexwriter.Writer
	runner       CommandRunner
}

// New builds an Acquirer with the production CommandRunner (a real git
// invocation via os/exec).
func New(req Request, metadataSink metadata.MetadataSink, indexWriter *indexwriter.Writer) *Acquirer {
	return NewWithRunner(req, metadataSink, indexWriter, execCommandRunner{})
}

// NewWithRunner builds an Acquirer from an explicit CommandRunner, for tests
// that fake out the git invocation.
func NewWithRunner(req Request, metadataSink metadata.MetadataSink, indexWriter *indexwriter.Writer, runner CommandRunner) *Acquirer {
	return &Acquirer{req: req, metadataSink: metadataSink, indexWriter: indexWriter, runner: runner}
}

var _ interface {
	Run(ctx context.Context) error
} = (*Acquirer)(nil)
