package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func corsTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(CORS())
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return engine
}

func TestCORSOriginMatching(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://other.example.com")
	engine := corsTestEngine()

	cases := []struct {
		name    string
		origin  string
		allowed bool
	}{
		{"localhost with port", "http://localhost:3000", true},
		{"loopback ip", "http://127.0.0.1:8080", true},
		{"configured origin", "https://app.example.com", true},
		{"second configured origin", "https://other.example.com", true},
		{"unknown origin", "https://evil.com", false},
		{"localhost lookalike host", "https://localhost.evil.com", false},
		{"loopback lookalike host", "https://127.0.0.1.evil.com", false},
		{"localhost in query only", "https://evil.com/?host=localhost", false},
		{"bare hostname", "localhost", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Origin", tc.origin)
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, req)

			got := w.Header().Get("Access-Control-Allow-Origin")
			if tc.allowed && got != tc.origin {
				t.Errorf("Expected origin %q to be echoed, got %q", tc.origin, got)
			}
			if !tc.allowed && got != "" {
				t.Errorf("Expected origin %q to be rejected, got Access-Control-Allow-Origin %q", tc.origin, got)
			}
		})
	}
}

func TestCORSNoOriginHeader(t *testing.T) {
	engine := corsTestEngine()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no Access-Control-Allow-Origin without an Origin header, got %q", got)
	}
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	engine := corsTestEngine()

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Expected origin echoed on preflight, got %q", got)
	}
}
