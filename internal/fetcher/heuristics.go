package fetcher

import (
	"bytes"
	"io"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// DecodeHTML exposes the fetcher's decode-sniffing chain to callers outside
// this package — the keyword scanner, so it sees exactly the same text a
// fetcher would have computed paywall/JS-shell signals against.
func DecodeHTML(body []byte, headerContentType string) (string, error) {
	return decodeHTML(body, headerContentType)
}

// decodeHTML applies BOM, then <meta charset>, then Content-Type-header
// sniffing, in that order, falling back to UTF-8. It is shared by both
// fetcher variants so the scanner and extractor downstream always see the
// same text regardless of which variant produced the file.
func decodeHTML(body []byte, headerContentType string) (string, error) {
	reader, err := charset.NewReader(bytes.NewReader(body), headerContentType)
	if err != nil {
		return string(body), nil
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return string(body), nil
	}
	return string(decoded), nil
}

// jsShellNonWhitespaceThreshold is the default N from §4.3's JS-shell
// heuristic: fewer than this many non-whitespace text characters outside
// the single #root/#app element marks the page as a client-rendered shell.
// It equals config's jsShellThreshold default; the crawl engine passes the
// configured value to IsJSShell, and this var is not read outside the package.
var jsShellNonWhitespaceThreshold = 40

// IsJSShell exposes the JS-shell heuristic to callers outside this package
// — the crawl engine's decision to retry a successful HTTP fetch with the
// browser fetcher.
func IsJSShell(body []byte, threshold int) bool {
	return isJSShell(body, threshold)
}

// isJSShell implements §4.3's common heuristic: body shorter than 1024
// bytes, containing exactly one element with id "root" or "app", and fewer
// than threshold non-whitespace characters of text outside that element.
func isJSShell(body []byte, threshold int) bool {
	if len(body) >= 1024 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	shellRoots := doc.Find("#root, #app")
	if shellRoots.Length() != 1 {
		return false
	}
	shellRoots.Remove()

	outsideText := doc.Find("body").Text()
	nonWhitespace := 0
	for _, r := range outsideText {
		if !unicode.IsSpace(r) {
			nonWhitespace++
		}
	}
	return nonWhitespace < threshold
}

// ExtractExistingLinks re-derives the candidate link set from a file the
// fetcher already wrote on a prior attempt, for the crawl engine's
// skip-if-exists path. ok is false when body cannot be parsed as HTML,
// signalling the caller to re-fetch instead of trusting the cached file;
// a successfully parsed page with no links returns (nil, true).
func ExtractExistingLinks(body []byte, base *url.URL) (links []string, ok bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, false
	}
	return detectLinks(doc, base), true
}

// paywallSignals are the proximity-keyword pairs from §4.3's paywall/login
// heuristic. A password input field counts as a signal on its own.
var paywallSignals = []string{"sign in", "log in", "subscribe", "create account"}

// paywallProximityWindow bounds how close two signals must appear (in bytes
// of the lower-cased decoded text) to count as a paywall/login page, per the
// proximity rule this spec substitutes for the source's loosely-defined
// heuristic (§9 Open Question).
const paywallProximityWindow = 2000

// isPaywall reports whether decodedText (already lower-cased by the caller)
// shows two of the paywall/login signals within paywallProximityWindow bytes
// of each other, or contains a password input field.
func isPaywall(lowerText string, hasPasswordField bool) bool {
	if hasPasswordField {
		return true
	}

	var positions []int
	for _, sig := range paywallSignals {
		idx := 0
		for {
			found := strings.Index(lowerText[idx:], sig)
			if found == -1 {
				break
			}
			positions = append(positions, idx+found)
			idx += found + len(sig)
		}
	}
	if len(positions) < 2 {
		return false
	}

	for i := 0; i < len(positions); i++ {
		for j := i + 1; j < len(positions); j++ {
			if abs(positions[i]-positions[j]) <= paywallProximityWindow {
				return true
			}
		}
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// detectLinks extracts candidate links from a parsed goquery document: all
// anchor hrefs, all frame/script src attributes, resolved against base and
// ignoring javascript:, mailto:, and data: URLs.
func detectLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]bool)
	var out []string

	collect := func(selector, attr string) {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			val, ok := s.Attr(attr)
			if !ok || val == "" {
				return
			}
			if isIgnoredScheme(val) {
				return
			}
			resolved, err := base.Parse(val)
			if err != nil {
				return
			}
			key := resolved.String()
			if !seen[key] {
				seen[key] = true
				out = append(out, key)
			}
		})
	}

	collect("a[href]", "href")
	collect("frame[src]", "src")
	collect("iframe[src]", "src")
	collect("script[src]", "src")

	return out
}

func isIgnoredScheme(raw string) bool {
	lower := strings.ToLower(strings.TrimSpace(raw))
	return strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "data:")
}

func hasPasswordField(doc *goquery.Document) bool {
	return doc.Find("input[type='password']").Length() > 0
}
