package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeadersMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name        string
		cfg         SecurityHeadersConfig
		path        string
		wantHSTS    bool
		wantNoStore bool
	}{
		{"plain http api", SecurityHeadersConfig{NoStorePrefix: "/api/"}, "/api/me", false, true},
		{"https api", SecurityHeadersConfig{HSTS: true, NoStorePrefix: "/api/"}, "/api/posts", true, true},
		{"health outside prefix", SecurityHeadersConfig{HSTS: true, NoStorePrefix: "/api/"}, "/health", true, false},
		{"no prefix configured", SecurityHeadersConfig{}, "/api/me", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewSecurityHeadersMiddleware(tt.cfg)(ok).ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			h := w.Result().Header
			if h.Get("X-Content-Type-Options") != "nosniff" {
				t.Errorf("X-Content-Type-Options = %q", h.Get("X-Content-Type-Options"))
			}
			if h.Get("Content-Security-Policy") != "default-src 'none'; frame-ancestors 'none'" {
				t.Errorf("Content-Security-Policy = %q", h.Get("Content-Security-Policy"))
			}
			if got := h.Get("Strict-Transport-Security") != ""; got != tt.wantHSTS {
				t.Errorf("HSTS present = %v, want %v", got, tt.wantHSTS)
			}
			if got := h.Get("Cache-Control") == "no-store"; got != tt.wantNoStore {
				t.Errorf("no-store = %v, want %v", got, tt.wantNoStore)
			}
		})
	}
}
