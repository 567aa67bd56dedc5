package search

import (
	"context"
	"os"

	"github.com/archiveforge/docscrawler/internal/indexwriter"
	"github.com/archiveforge/docscrawler/internal/scanner"
)

// Result is one matched snippet from a search request (§6's response item
// shape).
type Result struct {
	OriginalURL     string `json:"original_url"`
	ExtractedText   string `json:"extracted_text"`
	SelectorMatched string `json:"selector_matched"`
}

// Request is one search coordinator invocation's parameters (§4.8 input).
type Request struct {
	ScanKeywords    []string
	Selector        string
	ExtractKeywords []string
}

// Coordinator runs §4.8's search pipeline over one job's index: scan, then
// structural extraction, then stable ordering.
type Coordinator struct {
	scan *scanner.Scanner
}

// NewCoordinator builds a Coordinator using scan for the keyword-narrowing
// pass. A nil scan falls back to scanner.New's defaults.
func NewCoordinator(scan *scanner.Scanner) *Coordinator {
	if scan == nil {
		scan = scanner.New(0, 0)
	}
	return &Coordinator{scan: scan}
}

// candidate pairs an index's local_path with the original_url it was
// fetched from, for success records only.
type candidate struct {
	localPath   string
	originalURL string
}

// Search runs req against the job index at indexPath. It returns
// ErrCauseJobNotFound if the index cannot be opened, ErrCauseBadSelector if
// req.Selector fails to parse against the first candidate it's tried on,
// and otherwise the ordered result list (possibly empty).
func (c *Coordinator) Search(ctx context.Context, indexPath string, req Request) ([]Result, *SearchError) {
	records, err := indexwriter.ReadAll(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &SearchError{Message: err.Error(), Cause: ErrCauseJobNotFound}
		}
		return nil, &SearchError{Message: err.Error(), Cause: ErrCauseIndexUnreadable}
	}

	var candidates []candidate
	for _, rec := range records {
		if rec.FetchStatus != indexwriter.StatusSuccess {
			continue
		}
		candidates = append(candidates, candidate{localPath: rec.LocalPath, originalURL: rec.OriginalURL})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	paths := make([]string, len(candidates))
	byPath := make(map[string]string, len(candidates)) // local path -> original url
	for i, cand := range candidates {
		paths[i] = cand.localPath
		byPath[cand.localPath] = cand.originalURL
	}

	matched := paths
	if len(req.ScanKeywords) > 0 {
		matched = c.scan.Scan(ctx, paths, req.ScanKeywords)
	}

	var results []Result
	for _, path := range matched {
		snippets, extractErr := ExtractFile(path, req.Selector, req.ExtractKeywords)
		if extractErr != nil {
			return nil, extractErr
		}
		originalURL := byPath[path]
		for _, snippet := range snippets {
			results = append(results, Result{
				OriginalURL:     originalURL,
				ExtractedText:   snippet,
				SelectorMatched: req.Selector,
			})
		}
	}
	return results, nil
}
