package crawlengine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/archiveforge/docscrawler/internal/frontier"
	"github.com/archiveforge/docscrawler/pkg/urlutil"
	"golang.org/x/sync/errgroup"
)

// ErrStartURLFailed is returned by Run when the seed URL itself failed, or
// when no URL was either fetched successfully or served from the on-disk
// cache, per §4.5 step 5's completed/failed split.
// A job manager maps this to a failed terminal status; any other returned
// error is an operational fault (e.g. the engine was misconfigured).
var ErrStartURLFailed = fmt.Errorf("crawlengine: start URL did not complete successfully")

// Run crawls from cfg's first seed URL until the frontier drains, writing
// one terminal index row per attempted URL. It returns ErrStartURLFailed if
// the seed itself failed or was disallowed; ctx cancellation aborts the
// crawl and workers return ctx.Err().
func (e *Engine) Run(ctx context.Context) error {
	seeds := e.cfg.SeedURLs()
	if len(seeds) == 0 {
		return fmt.Errorf("crawlengine: no seed URLs configured")
	}
	seed := seeds[0]

	e.frontier.Init(e.cfg)

	canonicalSeed := urlutil.Canonicalize(seed)
	e.startAuthority = urlutil.Authority(canonicalSeed)

	admitted := e.frontier.Submit(frontier.NewCrawlAdmissionCandidate(
		seed,
		frontier.SourceSeed,
		frontier.NewDiscoveryMetadata(0, nil),
	))
	if !admitted {
		return ErrStartURLFailed
	}
	atomic.AddInt64(&e.pending, 1)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.workerCount; i++ {
		g.Go(func() error {
			return e.workerLoop(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if e.seedFailed.Load() || !e.anySucceeded.Load() {
		return ErrStartURLFailed
	}
	return nil
}

// Close fsyncs and closes the engine's index writer. It satisfies
// io.Closer so jobmanager.Manager can close the writer uniformly across
// every Runnable kind once Run returns, on any path — success, failure, or
// cancellation (§4.5 step 5, §5's fsync-at-job-end guarantee).
func (e *Engine) Close() error {
	return e.indexWriter.Close()
}

// workerLoop pulls tokens from the frontier until the crawl is fully
// drained (no pending token anywhere and the frontier is empty), or ctx is
// cancelled. A brief poll delay covers the window where the frontier is
// momentarily empty but a sibling worker still holds a token that may yet
// enqueue more work.
func (e *Engine) workerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		token, ok := e.frontier.Dequeue()
		if !ok {
			if atomic.LoadInt64(&e.pending) == 0 {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(dequeuePollDelayMs * time.Millisecond):
			}
			continue
		}

		e.process(ctx, token)
		atomic.AddInt64(&e.pending, -1)
	}
}
