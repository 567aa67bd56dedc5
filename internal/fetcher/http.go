package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/archiveforge/docscrawler/internal/metadata"
	"github.com/archiveforge/docscrawler/pkg/failure"
	"github.com/archiveforge/docscrawler/pkg/fileutil"
	"github.com/archiveforge/docscrawler/pkg/hashutil"
)

/*
Responsibilities

- Stream one HTTP response, enforcing the max-body-size cap mid-stream
- Decode HTML, compute a hash, write it atomically on 2xx
- Extract candidate links and classify paywall/JS-shell signals

The fetcher never parses content beyond what §4.3 asks for; it returns
bytes, metadata, and a status, nothing else.
*/

type HTTPFetcher struct {
	metadataSink metadata.MetadataSink
	httpClient   *http.Client
}

func NewHTTPFetcher(metadataSink metadata.MetadataSink) *HTTPFetcher {
	return &HTTPFetcher{
		metadataSink: metadataSink,
		httpClient:   &http.Client{},
	}
}

var _ Fetcher = (*HTTPFetcher)(nil)

func (h *HTTPFetcher) Fetch(ctx context.Context, req Request) (Result, failure.ClassifiedError) {
	start := time.Now()

	if !fileutil.WithinBase(req.AllowedBase, req.TargetPath) {
		err := &FetchError{
			Message:   fmt.Sprintf("target path %q escapes allowed base %q", req.TargetPath, req.AllowedBase),
			Retryable: false,
			Cause:     ErrCauseOutsideAllowedBase,
		}
		h.recordError(req, err)
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	result, err := h.performFetch(ctx, req)

	var contentType string
	var httpStatus int
	if err == nil {
		httpStatus = result.HTTPStatus
		contentType = result.ContentType
	}
	h.metadataSink.RecordFetch(req.URL.String(), httpStatus, time.Since(start), contentType, 0, 0)

	if err != nil {
		h.recordError(req, err)
		return Result{}, err
	}
	return result, nil
}

func (h *HTTPFetcher) recordError(req Request, err *FetchError) {
	h.metadataSink.RecordError(
		time.Now(),
		"fetcher",
		"HTTPFetcher.Fetch",
		mapFetchErrorToMetadataCause(err),
		err.Error(),
		[]metadata.Attribute{metadata.NewAttr(metadata.AttrURL, req.URL.String())},
	)
}

func (h *HTTPFetcher) performFetch(ctx context.Context, req Request) (Result, *FetchError) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL.String(), nil)
	if err != nil {
		return Result{}, &FetchError{Message: err.Error(), Retryable: false, Cause: ErrCauseNetworkFailure}
	}
	httpReq.Header.Set("User-Agent", req.UserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, &FetchError{Message: err.Error(), Retryable: true, Cause: ErrCauseNetworkFailure}
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, req.MaxBodySize+1)
	body, readErr := io.ReadAll(limited)
	if readErr != nil {
		return Result{}, &FetchError{Message: readErr.Error(), Retryable: true, Cause: ErrCauseReadResponseBodyError}
	}
	if int64(len(body)) > req.MaxBodySize {
		return Result{
			Status:       StatusFailedTooBig,
			HTTPStatus:   resp.StatusCode,
			ErrorMessage: fmt.Sprintf("body exceeds max size of %d bytes", req.MaxBodySize),
		}, nil
	}

	contentType := resp.Header.Get("Content-Type")

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return Result{
			Status:       StatusFailedRequest,
			HTTPStatus:   resp.StatusCode,
			ContentType:  contentType,
			ErrorMessage: fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode),
		}, nil
	}

	decoded, decodeErr := decodeHTML(body, contentType)
	if decodeErr != nil {
		return Result{
			Status:       StatusFailedOther,
			HTTPStatus:   resp.StatusCode,
			ContentType:  contentType,
			ErrorMessage: decodeErr.Error(),
		}, nil
	}

	doc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(decoded))
	if parseErr != nil {
		return Result{
			Status:       StatusFailedOther,
			HTTPStatus:   resp.StatusCode,
			ContentType:  contentType,
			ErrorMessage: parseErr.Error(),
		}, nil
	}

	if isPaywall(strings.ToLower(decoded), hasPasswordField(doc)) {
		return Result{
			Status:      StatusFailedPaywall,
			HTTPStatus:  resp.StatusCode,
			ContentType: contentType,
		}, nil
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
		HTTPStatus:    resp.StatusCode,
		ContentHash:   hash,
		ContentType:   contentType,
		DetectedLinks: links,
		FetchedAt:     time.Now(),
	}, nil
}
