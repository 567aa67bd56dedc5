package fetcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/archiveforge/docscrawler/internal/metadata"
	"github.com/archiveforge/docscrawler/pkg/failure"
	"github.com/archiveforge/docscrawler/pkg/fileutil"
	"github.com/archiveforge/docscrawler/pkg/hashutil"
	"github.com/chromedp/chromedp"
)

/*
Responsibilities

- Drive a headless browser to navigate a URL and wait for document load
- Serialise document.documentElement.outerHTML once loaded
- Extract the same link candidates from the live DOM as the HTTP fetcher

Resource limits (§5): at most K concurrent browser contexts is enforced by
the engine's sem_browser semaphore, not by this type — BrowserFetcher itself
creates one context per call and never fans out.
*/

type BrowserFetcher struct {
	metadataSink metadata.MetadataSink
	allocatorCtx context.Context
}

// NewBrowserFetcher builds a BrowserFetcher sharing one chromedp allocator
// context across calls, so each Fetch only pays the cost of a fresh browser
// tab rather than a fresh browser process.
func NewBrowserFetcher(metadataSink metadata.MetadataSink, allocatorCtx context.Context) *BrowserFetcher {
	if allocatorCtx == nil {
		allocatorCtx = context.Background()
	}
	return &BrowserFetcher{metadataSink: metadataSink, allocatorCtx: allocatorCtx}
}

var _ Fetcher = (*BrowserFetcher)(nil)

func (b *BrowserFetcher) Fetch(ctx context.Context, req Request) (Result, failure.ClassifiedError) {
	start := time.Now()

	if !fileutil.WithinBase(req.AllowedBase, req.TargetPath) {
		err := &FetchError{
			Message:   fmt.Sprintf("target path %q escapes allowed base %q", req.TargetPath, req.AllowedBase),
			Retryable: false,
			Cause:     ErrCauseOutsideAllowedBase,
		}
		b.recordError(req, err)
		return Result{}, err
	}

	result, err := b.performFetch(ctx, req)

	var contentType string
	var httpStatus int
	if err == nil {
		httpStatus = result.HTTPStatus
		contentType = result.ContentType
	}
	b.metadataSink.RecordFetch(req.URL.String(), httpStatus, time.Since(start), contentType, 0, 0)

	if err != nil {
		b.recordError(req, err)
		return Result{}, err
	}
	return result, nil
}

func (b *BrowserFetcher) recordError(req Request, err *FetchError) {
	b.metadataSink.RecordError(
		time.Now(),
		"fetcher",
		"BrowserFetcher.Fetch",
		mapFetchErrorToMetadataCause(err),
		err.Error(),
		[]metadata.Attribute{metadata.NewAttr(metadata.AttrURL, req.URL.String())},
	)
}

func (b *BrowserFetcher) performFetch(ctx context.Context, req Request) (Result, *FetchError) {
	tabCtx, cancelTab := chromedp.NewContext(b.allocatorCtx)
	defer cancelTab()

	timeoutCtx, cancelTimeout := context.WithTimeout(tabCtx, req.Timeout)
	defer cancelTimeout()

	var outerHTML string
	runErr := chromedp.Run(timeoutCtx,
		chromedp.Navigate(req.URL.String()),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &outerHTML, chromedp.ByQuery),
	)
	if runErr != nil {
		if ctx.Err() != nil || timeoutCtx.Err() != nil {
			return Result{}, &FetchError{Message: runErr.Error(), Retryable: true, Cause: ErrCauseNavigationTimeout}
		}
		return Result{Status: StatusFailedRequest, ErrorMessage: runErr.Error()}, nil
	}

	body := []byte(outerHTML)
	if int64(len(body)) > req.MaxBodySize {
		return Result{
			Status:       StatusFailedTooBig,
			ErrorMessage: fmt.Sprintf("rendered body exceeds max size of %d bytes", req.MaxBodySize),
		}, nil
	}

	doc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(outerHTML))
	if parseErr != nil {
		return Result{Status: StatusFailedOther, ErrorMessage: parseErr.Error()}, nil
	}

	if isPaywall(strings.ToLower(outerHTML), hasPasswordField(doc)) {
		return Result{Status: StatusFailedPaywall}, nil
	}

	links := detectLinks(doc, &req.URL)

	hash, hashErr := hashutil.HashBytes(body, hashutil.HashAlgoMD5)
	if hashErr != nil {
		return Result{}, &FetchError{Message: hashErr.Error(), Retryable: false, Cause: ErrCauseWriteFailure}
	}
	if writeErr := fileutil.AtomicWrite(req.TargetPath, body); writeErr != nil {
		return Result{}, &FetchError{Message: writeErr.Error(), Retryable: true, Cause: ErrCauseWriteFailure}
	}

	return Result{
		Status:        StatusSuccess,
		HTTPStatus:    200,
		ContentHash:   hash,
		ContentType:   "text/html",
		DetectedLinks: links,
		FetchedAt:     time.Now(),
	}, nil
}
