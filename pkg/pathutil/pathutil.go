// Package pathutil maps a canonical URL to the deterministic on-disk path
// described by the path mapper: <content_root>/<authority>/<slug>-<hash>.<ext>.
package pathutil

import (
	"net/url"
	"strings"

	"github.com/archiveforge/docscrawler/pkg/hashutil"
)

const defaultSlug = "index"

// slugAlphabet mirrors what a pathvalidate-style sanitizer keeps: ASCII
// letters, digits, dot, underscore, and hyphen. Everything else becomes a
// hyphen, and runs of hyphens collapse to one.
func isSlugSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-':
		return true
	}
	return false
}

// Slug flattens a canonical URL's path into a pathvalidate-safe string for
// human browsing. It is advisory only — the hash component is what actually
// prevents two URLs from colliding to the same local path.
func Slug(u url.URL) string {
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return defaultSlug
	}

	segments := strings.Split(path, "/")
	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(sanitizeSegment(seg))
	}

	slug := collapseHyphens(b.String())
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return defaultSlug
	}
	return slug
}

func sanitizeSegment(seg string) string {
	var b strings.Builder
	for _, r := range seg {
		if isSlugSafe(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

func collapseHyphens(s string) string {
	var b strings.Builder
	prevHyphen := false
	for _, r := range s {
		if r == '-' {
			if prevHyphen {
				continue
			}
			prevHyphen = true
		} else {
			prevHyphen = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ShortHash returns a hex digest of the canonical URL string with at least
// 40 bits of entropy, suitable as the no-clobber key in the mapped path. It
// truncates a SHA-256 digest to 10 hex characters (40 bits).
func ShortHash(canonicalURL string) string {
	full, err := hashutil.HashBytes([]byte(canonicalURL), hashutil.HashAlgoSHA256)
	if err != nil {
		// HashBytes only errors on an unsupported algorithm, which
		// HashAlgoSHA256 never is.
		panic(err)
	}
	return full[:10]
}

// ExtensionForContentType maps a Content-Type header value to the file
// extension used in the mapped path, per §4.1: text/html -> .html,
// application/pdf -> .pdf, everything else -> .bin.
func ExtensionForContentType(contentType string) string {
	mediaType := contentType
	if idx := strings.IndexByte(mediaType, ';'); idx >= 0 {
		mediaType = mediaType[:idx]
	}
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))

	switch mediaType {
	case "text/html":
		return ".html"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}

// Map computes the content-root-relative path for a canonical URL, not
// including the content root itself: <authority>/<slug>-<hash>.<ext>.
func Map(authority string, canonicalURL url.URL, contentType string) string {
	slug := Slug(canonicalURL)
	hash := ShortHash(canonicalURL.String())
	ext := ExtensionForContentType(contentType)
	return authority + "/" + slug + "-" + hash + ext
}
