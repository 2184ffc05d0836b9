// Package utils holds small request helpers shared by the HTTP surface.
package utils

import (
	"net/http"
	"net/url"
	"strings"
)

// GetDomain derives the registrable domain to scope provider cookies
// to, preferring the Origin/Referer headers and falling back to the
// request host.
func GetDomain(r *http.Request) string {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	if origin == "" {
		origin = r.Host
	}
	if origin == "" {
		return ""
	}
	if !strings.HasPrefix(origin, "http") {
		origin = "https://" + origin
	}
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		// covers "localhost" or "example.com"
		return host
	}
	// take the last two labels: "example.com"
	n := len(parts)
	return parts[n-2] + "." + parts[n-1]
}
