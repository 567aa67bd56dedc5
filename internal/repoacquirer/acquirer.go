package repoacquirer

import (
	"context"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/archiveforge/docscrawler/internal/indexwriter"
	"github.com/archiveforge/docscrawler/internal/metadata"
	"github.com/archiveforge/docscrawler/pkg/fileutil"
	"github.com/archiveforge/docscrawler/pkg/hashutil"
	"github.com/archiveforge/docscrawler/pkg/pathutil"
)

// execCommandRunner is the production CommandRunner: a real git invocation.
type execCommandRunner struct{}

func (execCommandRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.Run()
}

// Run clones Request.RepoURL into a scratch directory, copies
// Request.DocSubpath into the job's content root, and writes one index row
// per copied file. It satisfies jobmanager.Runnable.
func (a *Acquirer) Run(ctx context.Context) error {
	if a.req.RepoURL == "" {
		return ErrEmptyRepoURL
	}

	destDir := filepath.Join(a.req.ContentRoot, "repo-"+pathutil.ShortHash(a.req.RepoURL))

	if !a.req.Force {
		if entries, err := os.ReadDir(destDir); err == nil && len(entries) > 0 {
			return a.recordExisting(destDir)
		}
	}

	tmpCloneDir, err := os.MkdirTemp("", "repoacquirer-clone-*")
	if err != nil {
		a.recordError("clone", err)
		return err
	}
	defer os.RemoveAll(tmpCloneDir)

	if err := a.runner.Run(ctx, "", "git", "clone", "--depth", "1", a.req.RepoURL, tmpCloneDir); err != nil {
		a.recordError("clone", err)
		return err
	}

	srcDir := filepath.Join(tmpCloneDir, a.req.DocSubpath)
	if !fileutil.WithinBase(tmpCloneDir, srcDir) {
		err := &AcquisitionError{message: "doc_subpath escapes the cloned repository"}
		a.recordError("subtree", err)
		return err
	}

	if a.req.Force {
		os.RemoveAll(destDir)
	}
	if classified := fileutil.EnsureDir(destDir); classified != nil {
		a.recordError("mkdir", classified)
		return classified
	}

	return a.copyTree(srcDir, destDir)
}

// copyTree walks srcDir, writes each regular file to the matching path under
// destDir, and appends an index row per file.
func (a *Acquirer) copyTree(srcDir, destDir string) error {
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".git") {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		destPath := filepath.Join(destDir, rel)

		body, err := os.ReadFile(path)
		if err != nil {
			a.recordError("read", err)
			return err
		}
		if classified := fileutil.EnsureDir(filepath.Dir(destPath)); classified != nil {
			a.recordError("mkdir", classified)
			return classified
		}
		if classified := fileutil.AtomicWrite(destPath, body); classified != nil {
			a.recordError("write", classified)
			return classified
		}

		hash, hashErr := hashutil.HashBytes(body, hashutil.HashAlgoMD5)
		if hashErr != nil {
			return hashErr
		}

		originalURL := a.req.RepoURL + "#" + rel
		a.indexWriter.Append(indexwriter.NewRecord(originalURL, originalURL, destPath, &hash, indexwriter.StatusSuccess, nil, ""))
		a.metadataSink.RecordArtifact(metadata.ArtifactAsset, destPath, []metadata.Attribute{
			metadata.NewAttr(metadata.AttrPath, rel),
		})
		return nil
	})
}

// recordExisting handles the Force=false, already-populated-destination
// case: re-enumerate the files already on disk and report them as skipped,
// mirroring crawlengine's own skip-if-exists index semantics rather than
// re-cloning on every re-run of the same job id.
func (a *Acquirer) recordExisting(destDir string) error {
	return filepath.WalkDir(destDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(destDir, path)
		if err != nil {
			return err
		}
		originalURL := a.req.RepoURL + "#" + rel
		a.indexWriter.Append(indexwriter.NewRecord(originalURL, originalURL, path, nil, indexwriter.StatusSkipped, nil, ""))
		return nil
	})
}

func (a *Acquirer) recordError(action string, err error) {
	a.metadataSink.RecordError(time.Now(), "repoacquirer", action, metadata.CauseNetworkFailure, err.Error(), []metadata.Attribute{
		metadata.NewAttr(metadata.AttrURL, a.req.RepoURL),
	})
}

// AcquisitionError reports a repo-acquisition failure that isn't a plain
// os/exec or filesystem error (e.g. a doc_subpath path-traversal attempt).
type AcquisitionError struct {
	message string
}

func (e *AcquisitionError) Error() string {
	return "repoacquirer: " + e.message
}

// Close fsyncs and closes the acquirer's index writer. It satisfies
// io.Closer so jobmanager.Manager can close the writer uniformly across
// every Runnable kind once Run returns, on any path.
func (a *Acquirer) Close() error {
	return a.indexWriter.Close()
}
