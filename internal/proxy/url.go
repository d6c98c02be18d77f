package proxy

import (
	"net/http"
	neturl "net/url"
	"strings"

	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// parseTarget accepts absolute http(s) URLs whose host is a syntactically
// valid domain name. IP literals and single-label hosts are refused.
// Scheme-relative URLs are taken as https.
func parseTarget(raw string) (*neturl.URL, bool) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	u, err := neturl.Parse(raw)
	if err != nil {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || is.Domain.Validate(host) != nil {
		return nil, false
	}
	return u, true
}

// publicRoot returns the proxy root as seen by the client. A configured root
// wins, then forwarding headers, then the request itself.
func publicRoot(r *http.Request, configured string) string {
	if configured != "" {
		return strings.TrimSuffix(configured, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	host := firstNonEmpty(strings.TrimSpace(r.Header.Get("X-Forwarded-Host")), r.Host)
	if i := strings.IndexByte(host, ','); i >= 0 {
		host = strings.TrimSpace(host[:i])
	}
	return scheme + "://" + host
}

// searchPath renders /search with q replaced and every other argument kept.
func searchPath(args neturl.Values, q string) string {
	out := neturl.Values{}
	for k, vs := range args {
		out[k] = append([]string(nil), vs...)
	}
	out.Set("q", q)
	return "search?" + out.Encode()
}
