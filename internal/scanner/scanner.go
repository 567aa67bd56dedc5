// Package scanner implements §4.6's keyword scan: a bounded-parallelism pass
// over a job's successfully-fetched files that narrows them down to the
// ones containing every requested keyword, as a substring match over
// lower-cased decoded text.
package scanner

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/archiveforge/docscrawler/internal/fetcher"
)

const (
	defaultConcurrency = 4
	defaultMaxBytes    = 5 << 20 // 5 MiB
)

// Scanner holds the tunables a job's scan runs under. A zero-value Scanner
// is usable: both fields fall back to their documented defaults.
type Scanner struct {
	Concurrency int
	MaxBytes    int64
}

// New builds a Scanner from the job's configured concurrency/byte-cap,
// falling back to the documented defaults for non-positive values.
func New(concurrency int, maxBytes int64) *Scanner {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Scanner{Concurrency: concurrency, MaxBytes: maxBytes}
}

// Scan reads each of paths up to s.MaxBytes, decodes it the same way a
// fetcher would, and reports the subset whose lower-cased text contains
// every one of keywords as a substring. A path that cannot be read or
// decoded is skipped, never failing the scan as a whole. Matching paths
// are returned in the order they appear in paths.
func (s *Scanner) Scan(ctx context.Context, paths []string, keywords []string) []string {
	if len(keywords) == 0 || len(paths) == 0 {
		return nil
	}
	lowerKeywords := make([]string, len(keywords))
	for i, kw := range keywords {
		lowerKeywords[i] = strings.ToLower(kw)
	}

	concurrency := s.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	maxBytes := s.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	sem := make(chan struct{}, concurrency)
	hits := make([]bool, len(paths))
	var wg sync.WaitGroup

loop:
	for i, path := range paths {
		select {
		case <-ctx.Done():
			break loop
		default:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, path string) {
			defer wg.Done()
			defer func() { <-sem }()
			if matchKeywords(path, maxBytes, lowerKeywords) {
				hits[i] = true
			}
		}(i, path)
	}
	wg.Wait()

	matched := make([]string, 0, len(paths))
	for i, ok := range hits {
		if ok {
			matched = append(matched, paths[i])
		}
	}
	return matched
}

// matchKeywords reads path (capped at maxBytes), decodes it, and reports
// whether every lowerKeyword occurs as a substring of the lower-cased text.
func matchKeywords(path string, maxBytes int64, lowerKeywords []string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	body, err := io.ReadAll(io.LimitReader(f, maxBytes))
	if err != nil {
		return false
	}

	text, err := fetcher.DecodeHTML(body, "")
	if err != nil {
		return false
	}
	lowerText := strings.ToLower(text)

	for _, kw := range lowerKeywords {
		if !strings.Contains(lowerText, kw) {
			return false
		}
	}
	return true
}
