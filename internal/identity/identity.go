// Package identity derives the source identity that scopes rate limits,
// cached contexts, and hint sessions.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	// TabHeaderName carries the editor tab identifier.
	TabHeaderName = "X-Tab-ID"
	// TabQueryParam is the query fallback used by WebSocket clients.
	TabQueryParam = "tab_id"
	// DefaultSource is used when no usable tab identifier is supplied.
	DefaultSource = "default"
)

type contextKey int

const sourceKey contextKey = iota

var sourcePattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// SanitizeSource trims id and returns it if it is a well-formed identifier,
// otherwise DefaultSource.
func SanitizeSource(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sourcePattern.MatchString(id) {
		return DefaultSource
	}
	return id
}

// SourceFromContext extracts the source identity from the request context.
func SourceFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sourceKey).(string); ok {
		return v
	}
	return DefaultSource
}

// WithSource returns a copy of ctx carrying source.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey, SanitizeSource(source))
}

func sourceFromRequest(r *http.Request) string {
	id := r.Header.Get(TabHeaderName)
	if id == "" {
		id = r.URL.Query().Get(TabQueryParam)
	}
	return SanitizeSource(id)
}

// Middleware injects the per-tab source identity into the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), sourceKey, sourceFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IPFromRequest returns a normalized remote IP for request logging.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
