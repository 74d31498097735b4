package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSanitizeSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"tab-42", "tab-42"},
		{"  tab.1:a_b  ", "tab.1:a_b"},
		{"", DefaultSource},
		{"has space", DefaultSource},
		{"semi;colon", DefaultSource},
		{strings.Repeat("a", 128), strings.Repeat("a", 128)},
		{strings.Repeat("a", 129), DefaultSource},
	}
	for _, tt := range tests {
		if got := SanitizeSource(tt.in); got != tt.want {
			t.Errorf("SanitizeSource(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		target string
		want   string
	}{
		{"header", "tab-h", "/api/assist", "tab-h"},
		{"query", "", "/ws/assist?tab_id=tab-q", "tab-q"},
		{"header wins", "tab-h", "/ws/assist?tab_id=tab-q", "tab-h"},
		{"missing", "", "/api/assist", DefaultSource},
		{"malformed", "bad tab", "/api/assist", DefaultSource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got string
			h := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = SourceFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set(TabHeaderName, tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("source = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSourceFromContext_Default(t *testing.T) {
	t.Parallel()
	if got := SourceFromContext(context.Background()); got != DefaultSource {
		t.Errorf("SourceFromContext = %q", got)
	}
	if got := SourceFromContext(WithSource(context.Background(), "tab-9")); got != "tab-9" {
		t.Errorf("WithSource round trip = %q", got)
	}
}

func TestIPFromRequest(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	if got := IPFromRequest(req); got != "10.1.2.3" {
		t.Errorf("IPFromRequest = %q", got)
	}
	req.RemoteAddr = "pipe"
	if got := IPFromRequest(req); got != "pipe" {
		t.Errorf("IPFromRequest = %q", got)
	}
}
