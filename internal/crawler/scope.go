package crawler

import (
	"net/url"
	"path"
	"strings"
)

// denyPatterns are path substrings that never lead to documentation content:
// API and auth endpoints, search and error routes, static asset directories,
// archive/binary downloads and non-reference sections.
var denyPatterns = []string{
	"/api/",
	"/auth/",
	"/oauth",
	"/login",
	"/logout",
	"/signin",
	"/signup",
	"/register",
	"/account",
	"/search",
	"/error",
	"/404",
	"/static/",
	"/assets/",
	"/_next/",
	"/images/",
	"/img/",
	"/fonts/",
	"/feed/",
	"/rss/",
	".zip",
	".tar",
	".gz",
	".tgz",
	".rar",
	".7z",
	".exe",
	".dmg",
	".pkg",
	".deb",
	".rpm",
	".msi",
	".apk",
	".iso",
	".bin",
	".jar",
	".pdf",
	"/samples/",
	"/sample/",
	"/quickstart",
	"/quickstarts/",
	"/codelabs/",
	"/blog/",
	"/changelog/",
	"/release-notes/",
}

// maxBinaryExtLen is the longest extension treated as a non-HTML resource.
const maxBinaryExtLen = 5

// InScope reports whether target may be added to the frontier of a crawl
// seeded at baseURL. It requires the same origin, the base path as prefix,
// pathFilter (when non-empty) somewhere in the path, no deny-list match and
// no short non-HTML file extension. Malformed URLs are out of scope.
func InScope(target, baseURL, pathFilter string) bool {
	u, err := url.Parse(target)
	if err != nil || !u.IsAbs() {
		return false
	}
	b, err := url.Parse(baseURL)
	if err != nil || !b.IsAbs() {
		return false
	}

	if !sameOrigin(u, b) {
		return false
	}

	p := u.Path
	if p == "" {
		p = "/"
	}

	prefix := strings.TrimRight(b.Path, "/")
	if prefix != "" && !strings.HasPrefix(p, prefix) {
		return false
	}

	if pathFilter != "" && !strings.Contains(p, pathFilter) {
		return false
	}

	lower := strings.ToLower(p)
	for _, pattern := range denyPatterns {
		if strings.Contains(lower, pattern) {
			return false
		}
	}

	if ext := strings.TrimPrefix(path.Ext(lower), "."); ext != "" {
		if ext != "html" && ext != "htm" && len(ext) <= maxBinaryExtLen {
			return false
		}
	}

	return true
}

// sameOrigin compares scheme and host (including port).
func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}
