package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// Canonicalize parses a raw URL string and returns its canonical form.
// The canonicalization rules are:
// 1. Scheme and host are lowercased.
// 2. Default ports (80 for http, 443 for https) are stripped.
// 3. The URL fragment (#...) is removed.
// 4. A trailing slash is removed, unless it's the root path.
// Returns an error if the URL is not a valid absolute HTTP/HTTPS URL.
func Canonicalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}

	// Must be an absolute URL with an HTTP or HTTPS scheme and a host
	u.Scheme = strings.ToLower(u.Scheme)
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("url must be an absolute http or https url")
	}

	// Rule 1: Scheme (above) & Host to Lowercase
	u.Host = strings.ToLower(u.Host)

	// Rule 2: Strip Default Ports
	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Hostname()
	}

	// Rule 3: Remove Fragments
	u.Fragment = ""
	u.RawFragment = ""

	// Rule 4: Trim Trailing Slash (unless it's the root)
	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	}

	return u.String(), nil
}

// Host returns the lowercased hostname of rawURL, or "" if it cannot be parsed.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SameOrigin reports whether a and b share scheme, host and port.
func SameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}

// IsArchiveHost reports whether host belongs to the web archive itself.
// Links into the archive are never checked.
func IsArchiveHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return host == "archive.org" || strings.HasSuffix(host, ".archive.org")
}

// HTTPS upgrades an http:// URL to https://. Other URLs are returned as-is.
func HTTPS(rawURL string) string {
	if len(rawURL) >= 7 && strings.EqualFold(rawURL[:7], "http://") {
		return "https://" + rawURL[7:]
	}
	return rawURL
}
