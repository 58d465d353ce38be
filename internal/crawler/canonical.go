package crawler

import (
	"net/url"
	"strings"
)

// trackingParams are removed from the query string during canonicalization.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"hl":           {},
}

// Canonicalize resolves raw against base and normalizes the result into the
// string used as the deduplication key for a crawl. The fragment is dropped,
// tracking query parameters are removed (remaining parameters keep their
// order), dot segments are resolved, and trailing slashes are trimmed from
// the escaped path unless the path is the root.
//
// ok is false when either URL is malformed or the result is not an absolute
// http(s) URL; callers drop such links silently.
func Canonicalize(raw, base string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}

	// Resolving an absolute reference against an empty base still removes
	// dot segments.
	b := &url.URL{}
	if !ref.IsAbs() {
		b, err = url.Parse(strings.TrimSpace(base))
		if err != nil || !b.IsAbs() {
			return "", false
		}
	}
	u := b.ResolveReference(ref)

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if u.Host == "" {
		return "", false
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = stripTrackingParams(u.RawQuery)
	u.ForceQuery = false

	escaped := u.EscapedPath()
	trimmed := strings.TrimRight(escaped, "/")
	if trimmed == "" {
		trimmed = "/"
	}
	if trimmed != escaped {
		p, err := url.PathUnescape(trimmed)
		if err != nil {
			return "", false
		}
		u.Path = p
		u.RawPath = trimmed
	}

	return u.String(), true
}

// stripTrackingParams removes tracking keys from a raw query string without
// re-encoding or reordering the remaining pairs.
func stripTrackingParams(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	kept := make([]string, 0, 4)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key := pair
		if i := strings.IndexByte(pair, '='); i >= 0 {
			key = pair[:i]
		}
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if _, drop := trackingParams[key]; drop {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}
