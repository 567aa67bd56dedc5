package crawlengine

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/archiveforge/docscrawler/internal/fetcher"
	"github.com/archiveforge/docscrawler/internal/frontier"
	"github.com/archiveforge/docscrawler/internal/indexwriter"
	"github.com/archiveforge/docscrawler/internal/metadata"
	"github.com/archiveforge/docscrawler/pkg/failure"
	"github.com/archiveforge/docscrawler/pkg/fileutil"
	"github.com/archiveforge/docscrawler/pkg/hashutil"
	"github.com/archiveforge/docscrawler/pkg/pathutil"
	"github.com/archiveforge/docscrawler/pkg/retry"
	"github.com/archiveforge/docscrawler/pkg/ssrfguard"
	"github.com/archiveforge/docscrawler/pkg/timeutil"
	"github.com/archiveforge/docscrawler/pkg/urlutil"
)

// retryParam derives the per-attempt retry shape from the engine's config,
// mirroring the teacher scheduler's own RetryParam(cfg) helper.
func (e *Engine) retryParam() retry.RetryParam {
	return retry.NewRetryParam(
		e.cfg.BaseDelay(),
		e.cfg.Jitter(),
		e.cfg.RandomSeed(),
		e.cfg.MaxAttempt(),
		timeutil.NewBackoffParam(
			e.cfg.BackoffInitialDuration(),
			e.cfg.BackoffMultiplier(),
			e.cfg.BackoffMaxDuration(),
		),
	)
}

// process runs one CrawlToken through §4.5's pipeline (a-h), writing at most
// one terminal index row. Off-authority candidates are the sole exception:
// per step b they are dropped without a row.
func (e *Engine) process(ctx context.Context, token frontier.CrawlToken) {
	originalURL := token.URL()
	canonical := urlutil.Canonicalize(originalURL)
	isSeed := token.Depth() == 0

	// a. SSRF guard
	safe, err := ssrfguard.Check(ctx, e.resolver, canonical.Hostname())
	if err != nil || !safe {
		msg := "host resolves to a disallowed address"
		if err != nil {
			msg = err.Error()
		}
		e.emit(ctx, originalURL, canonical, "", nil, indexwriter.StatusFailedSSRF, nil, msg)
		e.recordFailure(metadata.CausePolicyDisallow, "ssrfguard.Check", canonical, msg)
		if isSeed {
			e.seedFailed.Store(true)
		}
		return
	}

	// b. authority scope check — silent drop, no index row
	authority := urlutil.Authority(canonical)
	if authority != e.startAuthority {
		return
	}

	// c. robots check
	decision, robotsErr := e.robot.Decide(ctx, canonical)
	if robotsErr != nil {
		e.emit(ctx, originalURL, canonical, "", nil, indexwriter.StatusFailedOther, nil, robotsErr.Error())
		e.recordFailure(metadata.CauseUnknown, "robots.Decide", canonical, robotsErr.Error())
		if isSeed {
			e.seedFailed.Store(true)
		}
		return
	}
	if decision.CrawlDelay != nil {
		e.rateLimiter.SetCrawlDelay(authority, *decision.CrawlDelay)
	}
	if !decision.Allowed {
		e.emit(ctx, originalURL, canonical, "", nil, indexwriter.StatusFailedRobots, nil, "disallowed by robots.txt")
		if isSeed {
			e.seedFailed.Store(true)
		}
		return
	}

	// d. path mapping; extension is guessed ahead of the fetch that would
	// otherwise reveal it, since mapping must run before fetching decides
	// whether to skip. text/html covers the overwhelming majority of a
	// documentation crawl's targets.
	relPath := pathutil.Map(authority, canonical, "text/html")
	targetPath := filepath.Join(e.cfg.ContentRoot(), relPath)
	allowedBase := e.cfg.ContentRoot()

	if !e.force {
		if links, hash, ok := e.tryServeFromCache(targetPath, canonical); ok {
			e.emit(ctx, originalURL, canonical, "", &hash, indexwriter.StatusSkipped, nil, "")
			e.anySucceeded.Store(true)
			e.enqueueLinks(ctx, links, canonical, token.Depth()+1)
			return
		}
	}

	if err := fileutil.EnsureDir(filepath.Dir(targetPath)); err != nil {
		e.emit(ctx, originalURL, canonical, "", nil, indexwriter.StatusFailedOther, nil, err.Error())
		if isSeed {
			e.seedFailed.Store(true)
		}
		return
	}

	// e. politeness delay, then mark the attempt as having begun
	if delay := e.rateLimiter.ResolveDelay(authority); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
	e.rateLimiter.MarkLastFetchAsNow(authority)

	req := fetcher.Request{
		URL:         canonical,
		TargetPath:  targetPath,
		AllowedBase: allowedBase,
		Force:       e.force,
		Timeout:     e.cfg.Timeout(),
		MaxBodySize: e.cfg.MaxBodySize(),
		UserAgent:   e.cfg.UserAgent(),
	}

	// f. acquire sem_http, fetch — retried with backoff per the job's retry
	// policy, since a transient network error here shouldn't sink the whole
	// attempt the way it would if handled solely by the outer fetch loop.
	e.semHTTP <- struct{}{}
	fetchOutcome := retry.Retry(e.retryParam(), func() (fetcher.Result, failure.ClassifiedError) {
		return e.httpFetcher.Fetch(ctx, req)
	})
	<-e.semHTTP
	result, fetchErr := fetchOutcome.Value(), fetchOutcome.Err()

	if fetchErr != nil {
		// Transport failures (including exhausted retries) are failed_request;
		// a local write or allowed-base failure is failed_other.
		status, cause := indexwriter.StatusFailedRequest, metadata.CauseNetworkFailure
		var fe *fetcher.FetchError
		if errors.As(fetchErr, &fe) && (fe.Cause == fetcher.ErrCauseWriteFailure || fe.Cause == fetcher.ErrCauseOutsideAllowedBase) {
			status, cause = indexwriter.StatusFailedOther, metadata.CauseStorageFailure
		}
		e.emit(ctx, originalURL, canonical, "", nil, status, nil, fetchErr.Error())
		e.recordFailure(cause, "HTTPFetcher.Fetch", canonical, fetchErr.Error())
		if isSeed {
			e.seedFailed.Store(true)
		}
		return
	}

	// g. JS-shell-triggered browser fallback: overwrite the http result with
	// a browser-rendered one if the heuristic fires on what was just saved.
	if result.Status == fetcher.StatusSuccess && e.cfg.BrowserFallbackEnabled() {
		if body, readErr := os.ReadFile(targetPath); readErr == nil && fetcher.IsJSShell(body, e.cfg.JSShellThreshold()) {
			e.semBrowser <- struct{}{}
			browserOutcome := retry.Retry(e.retryParam(), func() (fetcher.Result, failure.ClassifiedError) {
				return e.browserFetcher.Fetch(ctx, req)
			})
			<-e.semBrowser
			if browserOutcome.IsSuccess() {
				result = browserOutcome.Value()
			}
		}
	}

	var httpStatusPtr *int
	if result.HTTPStatus != 0 {
		hs := result.HTTPStatus
		httpStatusPtr = &hs
	}

	switch result.Status {
	case fetcher.StatusSuccess:
		hash := result.ContentHash
		e.emit(ctx, originalURL, canonical, targetPath, &hash, indexwriter.StatusSuccess, httpStatusPtr, "")
		e.anySucceeded.Store(true)
		e.rateLimiter.ResetBackoff(authority)
		if e.markdown != nil {
			e.markdown.project(ctx, canonical, targetPath, token.Depth())
		}
	case fetcher.StatusFailedRequest:
		e.rateLimiter.Backoff(authority)
		e.emit(ctx, originalURL, canonical, "", nil, indexwriter.StatusFailedRequest, httpStatusPtr, result.ErrorMessage)
		if isSeed {
			e.seedFailed.Store(true)
		}
		return
	case fetcher.StatusFailedPaywall:
		e.emit(ctx, originalURL, canonical, "", nil, indexwriter.StatusFailedPaywall, httpStatusPtr, result.ErrorMessage)
		if isSeed {
			e.seedFailed.Store(true)
		}
		return
	case fetcher.StatusFailedTooBig:
		e.emit(ctx, originalURL, canonical, "", nil, indexwriter.StatusFailedTooBig, httpStatusPtr, result.ErrorMessage)
		if isSeed {
			e.seedFailed.Store(true)
		}
		return
	default:
		e.emit(ctx, originalURL, canonical, "", nil, indexwriter.StatusFailedOther, httpStatusPtr, result.ErrorMessage)
		if isSeed {
			e.seedFailed.Store(true)
		}
		return
	}

	// h. link resolution — only reached when the switch above took the
	// success branch without returning.
	if e.cfg.MaxDepth() > 0 && token.Depth()+1 > e.cfg.MaxDepth() {
		return
	}
	e.enqueueLinks(ctx, result.DetectedLinks, canonical, token.Depth()+1)
}

// tryServeFromCache reports the existing file's detected links and content
// hash when targetPath is already present and parses as HTML; ok is false if
// the file is absent or unparsable, meaning the caller must re-fetch.
func (e *Engine) tryServeFromCache(targetPath string, base url.URL) (links []string, contentHash string, ok bool) {
	body, err := os.ReadFile(targetPath)
	if err != nil {
		return nil, "", false
	}
	links, ok = fetcher.ExtractExistingLinks(body, &base)
	if !ok {
		return nil, "", false
	}
	hash, err := hashutil.HashBytes(body, hashutil.HashAlgoMD5)
	if err != nil {
		return nil, "", false
	}
	return links, hash, true
}

// enqueueLinks resolves each detected link against source, canonicalises and
// de-duplicates it, drops anything off-authority or SSRF-unsafe, and admits
// the rest into the frontier at nextDepth. Each admission increments the
// engine's pending counter so workerLoop knows to expect a matching Dequeue.
func (e *Engine) enqueueLinks(ctx context.Context, links []string, source url.URL, nextDepth int) {
	seen := make(map[string]struct{}, len(links))
	for _, raw := range links {
		linkURL, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if !linkURL.IsAbs() {
			linkURL = source.ResolveReference(linkURL)
		}

		canonicalLink := urlutil.Canonicalize(*linkURL)
		key := canonicalLink.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if urlutil.Authority(canonicalLink) != e.startAuthority {
			continue
		}
		if safe, err := ssrfguard.Check(ctx, e.resolver, canonicalLink.Hostname()); err != nil || !safe {
			continue
		}

		admitted := e.frontier.Submit(frontier.NewCrawlAdmissionCandidate(
			*linkURL,
			frontier.SourceCrawl,
			frontier.NewDiscoveryMetadata(nextDepth, nil),
		))
		if admitted {
			atomic.AddInt64(&e.pending, 1)
		}
	}
}

// emit appends one terminal index row, recording any write failure to the
// metadata sink rather than retrying — the index writer itself does not
// tolerate retries across a torn append. It is a no-op once ctx is
// cancelled: §5's cancellation contract requires no partial rows for an
// attempt aborted mid-flight, and every call site reaches emit only after
// that attempt's outcome (success or failure) is already known.
func (e *Engine) emit(ctx context.Context, original, canonical url.URL, localPath string, contentHash *string, status indexwriter.FetchStatus, httpStatus *int, errMsg string) {
	if ctx.Err() != nil {
		return
	}
	rec := indexwriter.NewRecord(original.String(), canonical.String(), localPath, contentHash, status, httpStatus, errMsg)
	if err := e.indexWriter.Append(rec); err != nil {
		e.recordFailure(metadata.CauseStorageFailure, "indexWriter.Append", canonical, err.Error())
	}
}

func (e *Engine) recordFailure(cause metadata.ErrorCause, action string, target url.URL, msg string) {
	e.metadataSink.RecordError(time.Now(), "crawlengine", action, cause, msg, []metadata.Attribute{
		metadata.NewAttr(metadata.AttrURL, target.String()),
	})
}
