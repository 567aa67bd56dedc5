package frontier

import (
	"sync"

	"github.com/archiveforge/docscrawler/internal/config"
	"github.com/archiveforge/docscrawler/pkg/urlutil"
)

/*
Frontier Responsibilities
- Maintain BFS ordering
- Deduplicate URLs
- Track crawl depth
- Prevent infinite traversal
- Knows nothing about:
	- fetching
	- extraction
	- markdown
	- storage

It is a data structure + policy module, not a pipeline executor.
*/

// CrawlFrontier holds every admitted, not-yet-dequeued CrawlToken, ordered
// strictly by discovery depth. Every token at depth N is dequeued before
// any token at depth N+1 becomes eligible, regardless of submission order.
//
// CrawlFrontier assumes every CrawlAdmissionCandidate it receives has
// already passed robots and scope checks upstream; it only applies
// canonical deduplication and the depth/page-count limits it owns.
type CrawlFrontier struct {
	mu sync.Mutex

	maxDepth int
	maxPages int

	visited       Set[string]
	queuesByDepth map[int]*FIFOQueue[CrawlToken]
	minDepth      int // -1 when no depth has a pending token
}

// NewCrawlFrontier returns an empty frontier. Call Init before use to
// apply the crawl's depth and page limits.
func NewCrawlFrontier() *CrawlFrontier {
	return &CrawlFrontier{
		visited:       NewSet[string](),
		queuesByDepth: make(map[int]*FIFOQueue[CrawlToken]),
		minDepth:      -1,
	}
}

// Init configures the frontier's depth and page-count limits from cfg.
// A zero limit means unlimited, matching Config's zero-value semantics.
func (f *CrawlFrontier) Init(cfg config.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.maxDepth = cfg.MaxDepth()
	f.maxPages = cfg.MaxPages()
}

// Submit admits a candidate into the frontier, applying canonical
// deduplication and the configured depth/page limits. Candidates beyond
// MaxDepth, already visited, or arriving after MaxPages unique URLs have
// been admitted are silently dropped. It reports whether the candidate was
// actually admitted, so callers tracking an in-flight counter (the crawl
// engine's termination condition) know whether to expect a matching Dequeue.
func (f *CrawlFrontier) Submit(candidate CrawlAdmissionCandidate) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	depth := candidate.DiscoveryMetadata().Depth()
	if f.maxDepth > 0 && depth > f.maxDepth {
		return false
	}

	canonical := urlutil.Canonicalize(candidate.TargetURL())
	key := canonical.String()
	if f.visited.Contains(key) {
		return false
	}
	if f.maxPages > 0 && f.visited.Size() >= f.maxPages {
		return false
	}
	f.visited.Add(key)

	queue, exists := f.queuesByDepth[depth]
	if !exists {
		queue = NewFIFOQueue[CrawlToken]()
		f.queuesByDepth[depth] = queue
	}
	queue.Enqueue(NewCrawlToken(candidate.TargetURL(), depth))

	if f.minDepth == -1 || depth < f.minDepth {
		f.minDepth = depth
	}
	return true
}

// Dequeue pops the next token in BFS order, or returns false if the
// frontier holds nothing pending.
func (f *CrawlFrontier) Dequeue() (CrawlToken, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for f.minDepth != -1 {
		queue, exists := f.queuesByDepth[f.minDepth]
		if !exists || queue.Size() == 0 {
			f.advanceMinDepthLocked()
			continue
		}

		token, ok := queue.Dequeue()
		if !ok {
			f.advanceMinDepthLocked()
			continue
		}
		if queue.Size() == 0 {
			f.advanceMinDepthLocked()
		}
		return token, true
	}

	return CrawlToken{}, false
}

// advanceMinDepthLocked recomputes minDepth as the smallest depth with a
// non-empty queue, or -1 if none remain. Callers must hold f.mu.
func (f *CrawlFrontier) advanceMinDepthLocked() {
	next := -1
	for depth, queue := range f.queuesByDepth {
		if queue.Size() == 0 {
			continue
		}
		if next == -1 || depth < next {
			next = depth
		}
	}
	f.minDepth = next
}

// IsDepthExhausted reports whether no admitted tokens remain pending at
// depth. Negative depths are always reported exhausted.
func (f *CrawlFrontier) IsDepthExhausted(depth int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if depth < 0 {
		return true
	}
	queue, exists := f.queuesByDepth[depth]
	return !exists || queue.Size() == 0
}

// CurrentMinDepth returns the smallest depth with a pending token, or -1
// if the frontier is empty.
func (f *CrawlFrontier) CurrentMinDepth() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.minDepth
}

// VisitedCount returns the number of unique canonical URLs ever admitted.
// The visited set is append-only: dequeuing never shrinks it.
func (f *CrawlFrontier) VisitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.visited.Size()
}
