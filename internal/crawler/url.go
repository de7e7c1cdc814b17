package crawler

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// ErrUnsupportedScheme is returned for URLs the crawler never fetches.
var ErrUnsupportedScheme = errors.New("unsupported scheme")

var wwwPrefix = regexp.MustCompile(`^www\d*\.`)

// CanonicalKey reduces rawURL to the form used as its seen-set key. Two URLs
// with the same key are fetched at most once. The key is never fetched
// itself, so it may drop parts a server would care about (the www label,
// userinfo, fragment).
func CanonicalKey(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%q: %w", u.Scheme, ErrUnsupportedScheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("parse url %q: missing host", rawURL)
	}

	host, port := strings.ToLower(u.Hostname()), u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	host = wwwPrefix.ReplaceAllString(host, "")
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	key := url.URL{
		Scheme:  scheme,
		Host:    host,
		Path:    u.Path,
		RawPath: u.RawPath,
	}
	if key.Path == "" {
		key.Path = "/"
	}
	if u.RawQuery != "" {
		key.RawQuery = u.Query().Encode()
	}
	return key.String(), nil
}
