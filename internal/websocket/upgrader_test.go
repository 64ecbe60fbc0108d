package websocket

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckOriginMatchesExactly(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com")

	cases := []struct {
		name   string
		origin string
		want   bool
	}{
		{"no origin header", "", true},
		{"localhost", "http://localhost:3000", true},
		{"loopback ip", "http://127.0.0.1:8080", true},
		{"configured origin", "https://app.example.com", true},
		{"unknown origin", "https://evil.com", false},
		{"localhost lookalike host", "https://localhost.evil.com", false},
		{"loopback lookalike host", "https://127.0.0.1.evil.com", false},
		{"localhost in path only", "https://evil.com/localhost", false},
		{"bare hostname", "localhost", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if got := Upgrader.CheckOrigin(req); got != tc.want {
				t.Errorf("CheckOrigin(%q) = %v, want %v", tc.origin, got, tc.want)
			}
		})
	}
}
