package crawlengine_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/archiveforge/docscrawler/internal/config"
	"github.com/archiveforge/docscrawler/internal/crawlengine"
	"github.com/archiveforge/docscrawler/internal/fetcher"
	"github.com/archiveforge/docscrawler/internal/frontier"
	"github.com/archiveforge/docscrawler/internal/indexwriter"
	"github.com/archiveforge/docscrawler/internal/metadata"
	"github.com/archiveforge/docscrawler/internal/robots"
	"github.com/archiveforge/docscrawler/pkg/failure"
	"github.com/archiveforge/docscrawler/pkg/hashutil"
	"github.com/archiveforge/docscrawler/pkg/limiter"
	"github.com/archiveforge/docscrawler/pkg/pathutil"
	"github.com/archiveforge/docscrawler/pkg/ssrfguard"
	"github.com/archiveforge/docscrawler/pkg/urlutil"
)

// allowAllRobots serves a robots.txt that permits everything.
func allowAllRobots(mux *http.ServeMux) {
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow:\n"))
	})
}

// localhostURL rewrites an httptest server's 127.0.0.1 URL to use the
// "localhost" hostname, so ssrfguard.Check takes the resolver path instead
// of its IP-literal shortcut (which always rejects loopback addresses).
func localhostURL(t *testing.T, raw string) url.URL {
	t.Helper()
	rewritten := strings.Replace(raw, "127.0.0.1", "localhost", 1)
	u, err := url.Parse(rewritten)
	if err != nil {
		t.Fatalf("invalid url %q: %v", rewritten, err)
	}
	return *u
}

// fakeResolver reports every host as resolving to a single fixed address,
// standing in for DNS so tests control SSRF outcomes deterministically.
type fakeResolver struct {
	safe bool
}

func (f fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	if !f.safe {
		return nil, nil
	}
	return []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}, nil
}

var _ ssrfguard.Resolver = fakeResolver{}

func newTestConfig(t *testing.T, seed url.URL, contentRoot string) config.Config {
	t.Helper()
	cfg := config.Config{}
	cfg.WithSeedUrls([]url.URL{seed}).
		WithUserAgent("docscrawler-test").
		WithTimeout(5 * time.Second).
		WithMaxBodySize(1 << 20).
		WithContentRoot(contentRoot).
		WithSemHTTP(4).
		WithSemBrowser(1).
		WithMaxAttempt(1).
		WithBaseDelay(0).
		WithJitter(0)
	return cfg
}

func newEngine(t *testing.T, cfg config.Config, httpFetcher, browserFetcher fetcher.Fetcher, indexPath string, resolver ssrfguard.Resolver) (*crawlengine.Engine, *indexwriter.Writer) {
	t.Helper()
	sink := &metadata.NoopSink{}
	w, err := indexwriter.Open(sink, indexPath)
	if err != nil {
		t.Fatalf("indexwriter.Open: %v", err)
	}
	robot := robots.NewRobot(sink, cfg.UserAgent(), nil)
	rl := limiter.NewConcurrentRateLimiter()
	eng := crawlengine.NewEngineWithDeps(cfg, sink, w, robot, httpFetcher, browserFetcher, rl, resolver, frontier.NewCrawlFrontier())
	return eng, w
}

func readIndex(t *testing.T, path string) []indexwriter.Record {
	t.Helper()
	recs, err := indexwriter.ReadAll(path)
	if err != nil {
		t.Fatalf("indexwriter.ReadAll: %v", err)
	}
	return recs
}

// noopBrowserFetcher is a Fetcher that is never expected to be called; it
// fails the test if it is.
type noopBrowserFetcher struct{ t *testing.T }

func (n noopBrowserFetcher) Fetch(ctx context.Context, req fetcher.Request) (fetcher.Result, failure.ClassifiedError) {
	n.t.Fatalf("browser fetcher unexpectedly invoked for %s", req.URL.String())
	return fetcher.Result{}, nil
}

func TestEngine_Run_SuccessfulSinglePageCrawl(t *testing.T) {
	mux := http.NewServeMux()
	allowAllRobots(mux)
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>hello</p></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	seed := localhostURL(t, srv.URL+"/page")
	dir := t.TempDir()
	cfg := newTestConfig(t, seed, filepath.Join(dir, "content"))

	eng, w := newEngine(t, cfg, fetcher.NewHTTPFetcher(&metadata.NoopSink{}), noopBrowserFetcher{t}, filepath.Join(dir, "index.jsonl"), fakeResolver{safe: true})
	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	recs := readIndex(t, w.Path())
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d: %+v", len(recs), recs)
	}
	if recs[0].FetchStatus != indexwriter.StatusSuccess {
		t.Fatalf("expected success, got %s", recs[0].FetchStatus)
	}
	if recs[0].LocalPath == "" {
		t.Fatalf("expected a local path to be recorded")
	}
	if _, err := os.Stat(recs[0].LocalPath); err != nil {
		t.Fatalf("expected fetched file on disk: %v", err)
	}
}

func TestEngine_Run_DepthLimitedCrawl(t *testing.T) {
	mux := http.NewServeMux()
	allowAllRobots(mux)
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="/b">b</a></body></html>`))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="/c">c</a></body></html>`))
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>leaf</body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	seed := localhostURL(t, srv.URL+"/a")
	dir := t.TempDir()
	cfg := newTestConfig(t, seed, filepath.Join(dir, "content"))
	cfg.WithMaxDepth(1)

	eng, w := newEngine(t, cfg, fetcher.NewHTTPFetcher(&metadata.NoopSink{}), noopBrowserFetcher{t}, filepath.Join(dir, "index.jsonl"), fakeResolver{safe: true})
	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	w.Close()

	recs := readIndex(t, w.Path())
	if len(recs) != 2 {
		t.Fatalf("expected 2 records (a, b), got %d: %+v", len(recs), recs)
	}
	for _, rec := range recs {
		if strings.HasSuffix(rec.OriginalURL, "/c") {
			t.Fatalf("depth-2 page /c should never have been fetched: %+v", rec)
		}
	}
}

func TestEngine_Run_RobotsDisallowedSeedFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /\n"))
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>hi</body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	seed := localhostURL(t, srv.URL+"/page")
	dir := t.TempDir()
	cfg := newTestConfig(t, seed, filepath.Join(dir, "content"))

	eng, w := newEngine(t, cfg, fetcher.NewHTTPFetcher(&metadata.NoopSink{}), noopBrowserFetcher{t}, filepath.Join(dir, "index.jsonl"), fakeResolver{safe: true})
	err := eng.Run(context.Background())
	if err != crawlengine.ErrStartURLFailed {
		t.Fatalf("expected ErrStartURLFailed, got %v", err)
	}
	w.Close()

	recs := readIndex(t, w.Path())
	if len(recs) != 1 || recs[0].FetchStatus != indexwriter.StatusFailedRobots {
		t.Fatalf("expected a single failed_robots record, got %+v", recs)
	}
}

func TestEngine_Run_SSRFRejectedSeedFails(t *testing.T) {
	mux := http.NewServeMux()
	allowAllRobots(mux)
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>hi</body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	seed := localhostURL(t, srv.URL+"/page")
	dir := t.TempDir()
	cfg := newTestConfig(t, seed, filepath.Join(dir, "content"))

	eng, w := newEngine(t, cfg, fetcher.NewHTTPFetcher(&metadata.NoopSink{}), noopBrowserFetcher{t}, filepath.Join(dir, "index.jsonl"), fakeResolver{safe: false})
	err := eng.Run(context.Background())
	if err != crawlengine.ErrStartURLFailed {
		t.Fatalf("expected ErrStartURLFailed, got %v", err)
	}
	w.Close()

	recs := readIndex(t, w.Path())
	if len(recs) != 1 || recs[0].FetchStatus != indexwriter.StatusFailedSSRF {
		t.Fatalf("expected a single failed_ssrf record, got %+v", recs)
	}
}

func TestEngine_Run_OffAuthorityLinkDroppedSilently(t *testing.T) {
	var otherWasHit bool
	var mu sync.Mutex
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		otherWasHit = true
		mu.Unlock()
	}))
	defer other.Close()

	mux := http.NewServeMux()
	allowAllRobots(mux)
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="` + other.URL + `/x">external</a></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	seed := localhostURL(t, srv.URL+"/a")
	dir := t.TempDir()
	cfg := newTestConfig(t, seed, filepath.Join(dir, "content"))

	eng, w := newEngine(t, cfg, fetcher.NewHTTPFetcher(&metadata.NoopSink{}), noopBrowserFetcher{t}, filepath.Join(dir, "index.jsonl"), fakeResolver{safe: true})
	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	w.Close()

	recs := readIndex(t, w.Path())
	if len(recs) != 1 {
		t.Fatalf("expected exactly 1 record (the off-authority link must be dropped silently, no row), got %d: %+v", len(recs), recs)
	}
	mu.Lock()
	defer mu.Unlock()
	if otherWasHit {
		t.Fatalf("off-authority host should never be fetched")
	}
}

func TestEngine_Run_SkipIfExistsReEnqueuesCachedLinks(t *testing.T) {
	mux := http.NewServeMux()
	allowAllRobots(mux)
	var bFetches atomic.Int32
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="/b">b</a></body></html>`))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		bFetches.Add(1)
		w.Write([]byte(`<html><body>leaf</body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	seed := localhostURL(t, srv.URL+"/a")
	dir := t.TempDir()
	contentRoot := filepath.Join(dir, "content")
	cfg := newTestConfig(t, seed, contentRoot)

	// First run populates the cache on disk.
	eng1, w1 := newEngine(t, cfg, fetcher.NewHTTPFetcher(&metadata.NoopSink{}), noopBrowserFetcher{t}, filepath.Join(dir, "index1.jsonl"), fakeResolver{safe: true})
	if err := eng1.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	w1.Close()
	firstFetches := bFetches.Load()

	// Second run, force=false, over the same content root: the seed is
	// already on disk and should be served from cache, with /b still
	// discovered via the cached page's links.
	eng2, w2 := newEngine(t, cfg, fetcher.NewHTTPFetcher(&metadata.NoopSink{}), noopBrowserFetcher{t}, filepath.Join(dir, "index2.jsonl"), fakeResolver{safe: true})
	if err := eng2.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	w2.Close()

	if got := bFetches.Load(); got != firstFetches {
		t.Fatalf("expected /b to not be re-fetched over the network on the second run, got %d additional fetches", got-firstFetches)
	}

	recs := readIndex(t, w2.Path())
	if len(recs) != 2 {
		t.Fatalf("expected 2 records on the cached run (a and b both skipped), got %d: %+v", len(recs), recs)
	}
	var skipped *indexwriter.Record
	for i := range recs {
		if recs[i].FetchStatus == indexwriter.StatusSkipped && recs[i].CanonicalURL == urlutil.Canonicalize(seed).String() {
			skipped = &recs[i]
		}
	}
	if skipped == nil {
		t.Fatalf("expected the cached seed to be recorded as skipped: %+v", recs)
	}

	canonicalSeed := urlutil.Canonicalize(seed)
	relPath := pathutil.Map(urlutil.Authority(canonicalSeed), canonicalSeed, "text/html")
	cachedBody, err := os.ReadFile(filepath.Join(contentRoot, relPath))
	if err != nil {
		t.Fatalf("reading cached file: %v", err)
	}
	wantHash, err := hashutil.HashBytes(cachedBody, hashutil.HashAlgoMD5)
	if err != nil {
		t.Fatalf("HashBytes: %v", err)
	}
	if skipped.ContentHash == nil || *skipped.ContentHash != wantHash {
		t.Fatalf("expected skipped record's content_hash to match the cached file's MD5, got %+v, want %s", skipped.ContentHash, wantHash)
	}
}

// scriptedFetcher returns results from a caller-supplied function and
// writes the given body to disk first, mirroring how a real Fetcher always
// persists bytes before reporting success.
type scriptedFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(calls int, req fetcher.Request) (body []byte, result fetcher.Result, err failure.ClassifiedError)
}

func (s *scriptedFetcher) Fetch(ctx context.Context, req fetcher.Request) (fetcher.Result, failure.ClassifiedError) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()

	body, result, err := s.fn(n, req)
	if err != nil {
		return result, err
	}
	if body != nil {
		if writeErr := os.MkdirAll(filepath.Dir(req.TargetPath), 0755); writeErr != nil {
			t := &fetcher.FetchError{Message: writeErr.Error(), Retryable: false, Cause: fetcher.ErrCauseWriteFailure}
			return fetcher.Result{}, t
		}
		if writeErr := os.WriteFile(req.TargetPath, body, 0644); writeErr != nil {
			t := &fetcher.FetchError{Message: writeErr.Error(), Retryable: false, Cause: fetcher.ErrCauseWriteFailure}
			return fetcher.Result{}, t
		}
	}
	return result, nil
}

func TestEngine_Run_JSShellTriggersBrowserFallback(t *testing.T) {
	mux := http.NewServeMux()
	allowAllRobots(mux)
	// No /page handler: the actual network fetch is scripted, not real.
	srv := httptest.NewServer(mux)
	defer srv.Close()

	seed := localhostURL(t, srv.URL+"/page")
	dir := t.TempDir()
	cfg := newTestConfig(t, seed, filepath.Join(dir, "content"))
	cfg.WithBrowserFallbackEnabled(true).WithJSShellThreshold(40)

	shellBody := []byte(`<html><body><div id="root"></div></body></html>`)
	renderedBody := []byte(`<html><body><p>fully rendered content here</p></body></html>`)

	httpFetcher := &scriptedFetcher{
		fn: func(calls int, req fetcher.Request) ([]byte, fetcher.Result, failure.ClassifiedError) {
			return shellBody, fetcher.Result{Status: fetcher.StatusSuccess, HTTPStatus: 200, ContentHash: "shellhash"}, nil
		},
	}
	browserFetcher := &scriptedFetcher{
		fn: func(calls int, req fetcher.Request) ([]byte, fetcher.Result, failure.ClassifiedError) {
			return renderedBody, fetcher.Result{Status: fetcher.StatusSuccess, HTTPStatus: 200, ContentHash: "renderedhash"}, nil
		},
	}

	eng, w := newEngine(t, cfg, httpFetcher, browserFetcher, filepath.Join(dir, "index.jsonl"), fakeResolver{safe: true})
	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	w.Close()

	if browserFetcher.calls != 1 {
		t.Fatalf("expected browser fallback to fire exactly once, got %d calls", browserFetcher.calls)
	}

	recs := readIndex(t, w.Path())
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d: %+v", len(recs), recs)
	}
	if recs[0].FetchStatus != indexwriter.StatusSuccess {
		t.Fatalf("expected success, got %s", recs[0].FetchStatus)
	}
	if recs[0].ContentHash == nil || *recs[0].ContentHash != "renderedhash" {
		t.Fatalf("expected the browser-rendered result to overwrite the http result, got %+v", recs[0].ContentHash)
	}
}

// blockingFetcher waits on ctx until it is cancelled, then reports that
// cancellation as a ClassifiedError, standing in for a slow in-flight fetch
// that a jobmanager.Manager.Cancel lands on mid-request.
type blockingFetcher struct{}

func (blockingFetcher) Fetch(ctx context.Context, req fetcher.Request) (fetcher.Result, failure.ClassifiedError) {
	<-ctx.Done()
	return fetcher.Result{}, &fetcher.FetchError{Message: ctx.Err().Error(), Retryable: false, Cause: fetcher.ErrCauseNetworkFailure}
}

func TestEngine_Run_CancelledFetchWritesNoIndexRow(t *testing.T) {
	mux := http.NewServeMux()
	allowAllRobots(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	seed := localhostURL(t, srv.URL+"/page")
	dir := t.TempDir()
	cfg := newTestConfig(t, seed, filepath.Join(dir, "content"))

	eng, w := newEngine(t, cfg, blockingFetcher{}, noopBrowserFetcher{t}, filepath.Join(dir, "index.jsonl"), fakeResolver{safe: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done
	w.Close()

	recs := readIndex(t, w.Path())
	if len(recs) != 0 {
		t.Fatalf("expected no index rows for a fetch aborted by cancellation, got %d: %+v", len(recs), recs)
	}
}
