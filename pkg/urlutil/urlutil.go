package urlutil

import (
	"net/url"
	"strings"
)

// Canonicalize applies a deterministic normalization to a URL, producing the
// canonical form used as the sole key for the visited set, the index, and
// path mapping.
//
// The normalization follows these rules, applied in order:
//   - Scheme and host are lowercased
//   - Default ports are omitted (80 for http, 443 for https)
//   - Fragment is removed
//   - Path segments are percent-decoded then re-encoded with a canonical
//     alphabet; "." and ".." segments are resolved
//   - A trailing "/" on the path is preserved
//   - The query string is preserved verbatim (not reordered, not removed)
//
// Properties:
//   - Pure: no state, no memory
//   - Deterministic: same input always produces same output
//   - Idempotent: Canonicalize(Canonicalize(url)) == Canonicalize(url)
//   - Context-free: does not depend on crawl history
func Canonicalize(sourceUrl url.URL) url.URL {
	// Create a copy to avoid mutating the original
	canonical := sourceUrl

	// Lowercase scheme and host
	canonical.Scheme = lowerASCII(canonical.Scheme)
	canonical.Host = lowerASCII(canonical.Host)

	// Remove default port if present
	if host, port := canonical.Hostname(), canonical.Port(); port != "" {
		if (canonical.Scheme == "http" && port == "80") ||
			(canonical.Scheme == "https" && port == "443") {
			canonical.Host = host
		}
	}

	// Remove fragment (anchor)
	canonical.Fragment = ""
	canonical.RawFragment = ""

	// Resolve "." / ".." segments, percent-decode then re-encode the path.
	// Trailing "/" is a significant, preserved bit of the path.
	hadTrailingSlash := len(canonical.Path) > 1 && strings.HasSuffix(canonical.Path, "/")
	canonical.Path = cleanPath(canonical.Path)
	if hadTrailingSlash && !strings.HasSuffix(canonical.Path, "/") {
		canonical.Path += "/"
	}
	canonical.RawPath = "" // let url.URL re-derive EscapedPath from Path

	// Query string is preserved verbatim: RawQuery is left untouched. A bare
	// "?" with nothing after it carries no query and is dropped.
	canonical.ForceQuery = false

	return canonical
}

// cleanPath percent-decodes path segments, resolves "." and ".." segments,
// and re-encodes with the canonical (net/url default) escaping.
func cleanPath(p string) string {
	if p == "" {
		return p
	}

	absolute := strings.HasPrefix(p, "/")
	segments := strings.Split(p, "/")
	resolved := make([]string, 0, len(segments))

	for _, seg := range segments {
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			decoded = seg
		}
		switch decoded {
		case "", ".":
			continue
		case "..":
			if len(resolved) > 0 {
				resolved = resolved[:len(resolved)-1]
			}
		default:
			resolved = append(resolved, decoded)
		}
	}

	cleanedSegments := make([]string, len(resolved))
	for i, seg := range resolved {
		cleanedSegments[i] = (&url.URL{Path: seg}).EscapedPath()
	}

	joined := strings.Join(cleanedSegments, "/")
	if absolute {
		joined = "/" + joined
	}
	if joined == "" {
		joined = "/"
	}
	return joined
}

// Authority returns the host[:port] component of a canonical URL — the key
// used for same-authority scoping, politeness, and the robots cache.
func Authority(canonicalURL url.URL) string {
	return canonicalURL.Host
}

// lowerASCII converts ASCII characters to lowercase without allocating.
// This is faster than strings.ToLower for ASCII-only strings.
func lowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
