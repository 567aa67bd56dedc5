// Package crawlengine drives one job's crawl: it dequeues admitted URLs from
// a frontier, runs each through the robots/SSRF/fetch pipeline, writes one
// terminal index row per attempt, and feeds newly discovered links back into
// the frontier at the next depth.
package crawlengine

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/archiveforge/docscrawler/internal/config"
	"github.com/archiveforge/docscrawler/internal/fetcher"
	"github.com/archiveforge/docscrawler/internal/frontier"
	"github.com/archiveforge/docscrawler/internal/indexwriter"
	"github.com/archiveforge/docscrawler/internal/metadata"
	"github.com/archiveforge/docscrawler/internal/robots"
	"github.com/archiveforge/docscrawler/pkg/limiter"
	"github.com/archiveforge/docscrawler/pkg/ssrfguard"
)

const (
	defaultSemHTTP     = 10
	defaultSemBrowser  = 2
	maxSemBrowser      = 4
	dequeuePollDelayMs = 10
)

// Engine is the §4.5 crawl engine for a single job. It owns nothing beyond
// what one job needs: a fresh Engine (and its Robot, frontier, and index
// writer) is constructed per job, never shared across jobs.
type Engine struct {
	cfg          config.Config
	metadataSink metadata.MetadataSink

	robot          *robots.Robot
	httpFetcher    fetcher.Fetcher
	browserFetcher fetcher.Fetcher
	rateLimiter    *limiter.ConcurrentRateLimiter
	resolver       ssrfguard.Resolver
	indexWriter    *indexwriter.Writer
	frontier       *frontier.CrawlFrontier
	markdown       *markdownSidecar

	semHTTP     chan struct{}
	semBrowser  chan struct{}
	workerCount int

	startAuthority string
	pending        int64 // atomic: candidates admitted but not yet fully processed
	force          bool

	seedFailed   atomic.Bool
	anySucceeded atomic.Bool
}

// SetForce controls whether a target whose local file already exists is
// skipped (false, the default) or re-fetched and overwritten (true). It
// returns the Engine to allow chaining after construction, matching this
// repo's other builder-style setters.
func (e *Engine) SetForce(force bool) *Engine {
	e.force = force
	return e
}

// NewEngine builds an Engine with the production dependency set: an HTTP and
// a browser fetcher, a fresh Robot and CrawlFrontier scoped to this job, and
// net.DefaultResolver for the SSRF guard (it satisfies ssrfguard.Resolver
// directly).
func NewEngine(cfg config.Config, metadataSink metadata.MetadataSink, indexWriter *indexwriter.Writer, browserAllocator context.Context) *Engine {
	return NewEngineWithDeps(
		cfg,
		metadataSink,
		indexWriter,
		robots.NewRobot(metadataSink, cfg.UserAgent(), nil),
		fetcher.NewHTTPFetcher(metadataSink),
		fetcher.NewBrowserFetcher(metadataSink, browserAllocator),
		limiter.NewConcurrentRateLimiter(),
		net.DefaultResolver,
		frontier.NewCrawlFrontier(),
	)
}

// NewEngineWithDeps builds an Engine from explicit collaborators, for tests
// that substitute fakes (a fixed-response robots server, an in-memory
// fetcher, a resolver that never touches DNS).
func NewEngineWithDeps(
	cfg config.Config,
	metadataSink metadata.MetadataSink,
	indexWriter *indexwriter.Writer,
	robot *robots.Robot,
	httpFetcher fetcher.Fetcher,
	browserFetcher fetcher.Fetcher,
	rateLimiter *limiter.ConcurrentRateLimiter,
	resolver ssrfguard.Resolver,
	crawlFrontier *frontier.CrawlFrontier,
) *Engine {
	rateLimiter.SetBaseDelay(cfg.BaseDelay())
	rateLimiter.SetJitter(cfg.Jitter())
	rateLimiter.SetRandomSeed(cfg.RandomSeed())

	semHTTP := cfg.SemHTTP()
	if semHTTP <= 0 {
		semHTTP = defaultSemHTTP
	}
	semBrowser := cfg.SemBrowser()
	if semBrowser <= 0 {
		semBrowser = defaultSemBrowser
	}
	if semBrowser > maxSemBrowser {
		semBrowser = maxSemBrowser
	}

	workers := semHTTP
	if semBrowser > workers {
		workers = semBrowser
	}

	e := &Engine{
		cfg:            cfg,
		metadataSink:   metadataSink,
		robot:          robot,
		httpFetcher:    httpFetcher,
		browserFetcher: browserFetcher,
		rateLimiter:    rateLimiter,
		resolver:       resolver,
		indexWriter:    indexWriter,
		frontier:       crawlFrontier,
		semHTTP:        make(chan struct{}, semHTTP),
		semBrowser:     make(chan struct{}, semBrowser),
		workerCount:    workers,
	}
	if cfg.EnableMarkdownProjection() {
		e.markdown = newMarkdownSidecar(cfg, metadataSink, e.retryParam())
	}
	return e
}
