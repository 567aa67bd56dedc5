package robots

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/archiveforge/docscrawler/internal/metadata"
	"github.com/archiveforge/docscrawler/internal/robots/cache"
)

/*
Responsibilities

- Fetch robots.txt per host, once per job
- Cache rules for the crawl's duration
- Enforce allow/disallow rules before enqueue

Robots checks occur before a URL enters the frontier. A job owns exactly
one Robot; it is not shared across jobs.
*/

const backoffWindow = 60 * time.Second

// authorityState holds what Robot knows about one authority: either a
// parsed ruleSet, or a back-off marker recording when the last fetch
// failure happened so repeated failures aren't retried more than once
// per backoffWindow.
type authorityState struct {
	rules      ruleSet
	haveRules  bool
	lastFailAt time.Time
	haveFail   bool
}

// Robot is the per-job robots.txt policy engine. It owns the per-authority
// cache and serialises access to it with one lock per authority, per §5's
// shared-resource model.
type Robot struct {
	fetcher      *RobotsFetcher
	userAgent    string
	metadataSink metadata.MetadataSink

	mu    sync.Mutex
	state map[string]*authorityState
	locks map[string]*sync.Mutex
}

// NewRobot constructs a Robot for a single job. cacheImpl is optional; pass
// nil to disable cross-fetch caching within the fetcher itself (Robot's own
// authorityState map still holds the per-job parsed rules regardless).
func NewRobot(metadataSink metadata.MetadataSink, userAgent string, cacheImpl cache.Cache) *Robot {
	return &Robot{
		fetcher:      NewRobotsFetcher(metadataSink, userAgent, cacheImpl),
		userAgent:    userAgent,
		metadataSink: metadataSink,
		state:        make(map[string]*authorityState),
		locks:        make(map[string]*sync.Mutex),
	}
}

func (r *Robot) lockFor(authority string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[authority]
	if !ok {
		l = &sync.Mutex{}
		r.locks[authority] = l
	}
	return l
}

// Decide reports whether target may be fetched under this job's robots.txt
// policy. It fetches and parses robots.txt for target's authority at most
// once per job, except after a back-off-eligible failure, where it is
// retried at most once per backoffWindow. Decide never returns an error for
// network or server failures fetching robots.txt itself — per §4.2 those are
// treated as allow-all.
func (r *Robot) Decide(ctx context.Context, target url.URL) (Decision, *RobotsError) {
	authority := target.Host
	scheme := target.Scheme
	if scheme == "" {
		scheme = "https"
	}

	lock := r.lockFor(authority)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	st, ok := r.state[authority]
	if !ok {
		st = &authorityState{}
		r.state[authority] = st
	}
	r.mu.Unlock()

	if st.haveRules {
		return r.decide(st.rules, target), nil
	}

	if st.haveFail && time.Since(st.lastFailAt) < backoffWindow {
		return Decision{Url: target, Allowed: true, Reason: EmptyRuleSet}, nil
	}

	result, fetchErr := r.fetcher.Fetch(ctx, scheme, authority)
	if fetchErr != nil {
		st.haveFail = true
		st.lastFailAt = time.Now()
		return Decision{Url: target, Allowed: true, Reason: EmptyRuleSet}, nil
	}

	rs := MapResponseToRuleSet(result.Response, r.userAgent, result.FetchedAt)
	st.rules = rs
	st.haveRules = true
	st.haveFail = false

	return r.decide(rs, target), nil
}

func (r *Robot) decide(rs ruleSet, target url.URL) Decision {
	d := Decision{Url: target, CrawlDelay: rs.CrawlDelay()}

	if !rs.hasGroups {
		d.Allowed = true
		d.Reason = EmptyRuleSet
		return d
	}
	if !rs.matchedGroup {
		d.Allowed = true
		d.Reason = UserAgentNotMatched
		return d
	}

	path := target.Path
	if path == "" {
		path = "/"
	}
	allowed, matched := pathAllowed(rs, path)
	d.Allowed = allowed
	switch {
	case allowed && matched:
		d.Reason = AllowedByRobots
	case !allowed:
		d.Reason = DisallowedByRobots
	default:
		d.Reason = NoMatchingRules
	}
	return d
}

// pathAllowed applies the conventional robots.txt precedence: the rule
// (allow or disallow) with the longest matching prefix wins; a tie favors
// allow. matched reports whether any rule (allow or disallow) applied at all.
func pathAllowed(rs ruleSet, path string) (allowed bool, matched bool) {
	bestAllowLen := -1
	bestDisallowLen := -1

	for _, a := range rs.allowRules {
		if l := matchLen(a.prefix, path); l > bestAllowLen {
			bestAllowLen = l
		}
	}
	for _, d := range rs.disallowRules {
		if l := matchLen(d.prefix, path); l > bestDisallowLen {
			bestDisallowLen = l
		}
	}

	if bestAllowLen < 0 && bestDisallowLen < 0 {
		return true, false
	}
	if bestDisallowLen < 0 {
		return true, true
	}
	if bestAllowLen >= bestDisallowLen {
		return true, true
	}
	return false, true
}

// matchLen returns the length of prefix if it matches path (honoring a
// trailing "$" as an exact-end anchor and "*" as a wildcard), or -1 if it
// does not match.
func matchLen(prefix, path string) int {
	if prefix == "" {
		return -1
	}
	anchored := strings.HasSuffix(prefix, "$")
	pattern := strings.TrimSuffix(prefix, "$")

	segments := strings.Split(pattern, "*")
	pos := 0
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		idx := strings.Index(path[pos:], seg)
		if idx == -1 {
			return -1
		}
		if i == 0 && idx != 0 {
			return -1
		}
		pos += idx + len(seg)
	}
	if anchored && pos != len(path) {
		return -1
	}
	return len(pattern)
}
