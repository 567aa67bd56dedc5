// Package search implements §4.7's structural extractor and §4.8's search
// coordinator: given a job's index, a CSS selector, and optional keyword
// filters, it produces the ordered list of matching text snippets a search
// request returns.
package search

import (
	"bytes"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractFile parses the HTML file at path and, for every element matching
// selector, returns its whitespace-normalised text content. If keywords is
// non-empty, only elements whose lower-cased text contains every keyword
// survive. A malformed selector is reported as *SearchError with
// ErrCauseBadSelector; a missing or unparsable file returns (nil, nil) —
// callers treat an unreadable candidate as a non-match, not a request
// failure (mirrors §4.6's skip-not-fail rule for the same class of input).
func ExtractFile(path string, selector string, keywords []string) ([]string, *SearchError) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}
	return ExtractHTML(body, selector, keywords)
}

// ExtractHTML is ExtractFile's pure counterpart, taking the document bytes
// directly; exported so the search coordinator and tests don't need a file
// on disk to exercise selector/keyword logic.
func ExtractHTML(body []byte, selector string, keywords []string) ([]string, *SearchError) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil
	}

	// goquery/cascadia panics on a malformed selector rather than returning
	// an error; §4.7 asks that this surface as a client error instead.
	sel, ok := findSafely(doc, selector)
	if !ok {
		return nil, &SearchError{Message: "malformed selector: " + selector, Cause: ErrCauseBadSelector}
	}

	lowerKeywords := make([]string, len(keywords))
	for i, kw := range keywords {
		lowerKeywords[i] = strings.ToLower(kw)
	}

	var out []string
	sel.Each(func(_ int, s *goquery.Selection) {
		text := normalizeWhitespace(s.Text())
		if text == "" {
			return
		}
		if !containsAll(strings.ToLower(text), lowerKeywords) {
			return
		}
		out = append(out, text)
	})
	return out, nil
}

func findSafely(doc *goquery.Document, selector string) (sel *goquery.Selection, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return doc.Find(selector), true
}

func containsAll(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if !strings.Contains(text, kw) {
			return false
		}
	}
	return true
}

// normalizeWhitespace collapses runs of whitespace (including newlines from
// block-level elements) into single spaces and trims the ends, matching
// §4.7's "whitespace-normalised" text content requirement.
func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
