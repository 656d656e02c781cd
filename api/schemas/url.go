package schemas

import (
	"fmt"
	"net/url"
	"strings"
)

// CanonicalURL normalizes an http(s) URL to the form used for deduplication
// and visited-set tracking everywhere in the system: lowercase scheme and
// host, default ports dropped, fragment stripped, trailing slash stripped.
// Canonicalization is idempotent. Non-http(s) URLs are rejected.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
	}

	host := strings.ToLower(u.Host)
	if scheme == "http" {
		host = strings.TrimSuffix(host, ":80")
	} else {
		host = strings.TrimSuffix(host, ":443")
	}
	if host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}

	path := strings.TrimSuffix(u.EscapedPath(), "/")

	canonical := scheme + "://" + host + path
	if u.RawQuery != "" {
		canonical += "?" + u.RawQuery
	}
	return canonical, nil
}
