package websocket

import (
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"
)

// Upgrader upgrades presence subscriptions. Origins are matched exactly:
// localhost hosts plus the ALLOWED_ORIGINS list.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients (SDK, tests) send no origin.
			return true
		}
		return originAllowed(origin)
	},
}

// originAllowed parses the origin and compares the host exactly, so a
// lookalike host such as "localhost.evil.com" cannot open connections.
func originAllowed(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	if host := u.Hostname(); host == "localhost" || host == "127.0.0.1" {
		return true
	}
	for _, allowed := range strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",") {
		if origin == strings.TrimSpace(allowed) {
			return true
		}
	}
	return false
}
