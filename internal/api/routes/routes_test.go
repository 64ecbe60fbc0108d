package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"presence-service/pkg/models"
	"presence-service/internal/registry"
	"presence-service/internal/service"
	"presence-service/internal/websocket"
	"presence-service/pkg/presence"

	"github.com/golang-jwt/jwt/v5"
)

const testJWTSecret = "test-secret"

// fakePresenceRepo stands in for redis: no snapshot caching, rate limits
// always allowed, pub/sub unused in a single-instance test.
type fakePresenceRepo struct{}

func (fakePresenceRepo) CachedSnapshot(ctx context.Context, tenantID string) ([]models.UserPresence, bool, error) {
	return nil, false, nil
}

func (fakePresenceRepo) CacheSnapshot(ctx context.Context, tenantID string, users []models.UserPresence, ttl time.Duration) error {
	return nil
}

func (fakePresenceRepo) PublishUpdate(ctx context.Context, update models.StatusUpdate) error {
	return nil
}

func (fakePresenceRepo) SubscribeUpdates(ctx context.Context) (<-chan models.StatusUpdate, error) {
	return make(chan models.StatusUpdate), nil
}

func (fakePresenceRepo) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return true, nil
}

func (fakePresenceRepo) Close() error { return nil }

// fakeUserRepo serves a fixed tenant roster.
type fakeUserRepo struct {
	mu     sync.Mutex
	roster map[string][]models.User
}

func (f *fakeUserRepo) ListByTenant(ctx context.Context, tenantID string) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roster[tenantID], nil
}

func (f *fakeUserRepo) TouchLastSeen(ctx context.Context, userID string, lastSeenAt time.Time) error {
	return nil
}

func startTestServer(t *testing.T, roster map[string][]models.User) *httptest.Server {
	t.Helper()

	reg := registry.New(50 * time.Second)
	svc := service.NewPresenceService(reg, fakePresenceRepo{}, &fakeUserRepo{roster: roster}, 15*time.Second)
	t.Cleanup(svc.Stop)

	hub := websocket.NewHub(svc, 100*time.Second)
	svc.SetNotifier(hub.QueueUpdate)
	go hub.Run()
	t.Cleanup(hub.Stop)

	router := NewRouter(hub, svc, fakePresenceRepo{}, testJWTSecret, 64)
	router.SetupRoutes()

	srv := httptest.NewServer(router.GetEngine())
	t.Cleanup(srv.Close)
	return srv
}

func mintToken(t *testing.T, userID, tenantID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":   userID,
		"tenant_id": tenantID,
		"exp":       time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return signed
}

func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestHealthz(t *testing.T) {
	srv := startTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestSnapshotRequiresAuth(t *testing.T) {
	srv := startTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/v1/presence")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", resp.StatusCode)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	srv := startTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/v1/ws")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", resp.StatusCode)
	}
}

func TestSnapshotMergesRoster(t *testing.T) {
	lastSeen := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	srv := startTestServer(t, map[string][]models.User{
		"tenant-1": {
			{ID: "alice", TenantID: "tenant-1", LastSeenAt: lastSeen},
			{ID: "bob", TenantID: "tenant-1"},
		},
	})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/presence", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, "alice", "tenant-1"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if cc := resp.Header.Get("Cache-Control"); cc == "" {
		t.Error("Expected a Cache-Control header")
	}

	var users []models.UserPresence
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("Expected 2 roster users, got %d", len(users))
	}
	if users[0].UserID != "alice" || users[0].Status != models.StatusOffline || !users[0].LastSeenAt.Equal(lastSeen) {
		t.Errorf("Unexpected alice entry: %+v", users[0])
	}
	if users[1].UserID != "bob" || users[1].Status != models.StatusOffline {
		t.Errorf("Unexpected bob entry: %+v", users[1])
	}
}

// TestPresenceEndToEnd runs two SDK clients against a real server: one
// whose lifecycle and idle state we drive, one observing through its cache.
func TestPresenceEndToEnd(t *testing.T) {
	srv := startTestServer(t, map[string][]models.User{
		"tenant-1": {
			{ID: "alice", TenantID: "tenant-1"},
			{ID: "bob", TenantID: "tenant-1"},
		},
	})

	observer := presence.NewClient(presence.Options{
		ServerURL: srv.URL,
		Token:     mintToken(t, "bob", "tenant-1"),
	})
	defer observer.Close()

	if err := observer.Resync(context.Background()); err != nil {
		t.Fatalf("Resync failed: %v", err)
	}
	if observer.Cache().StatusOf("alice") != models.StatusOffline {
		t.Fatal("Expected alice offline before she connects")
	}
	if _, err := observer.Connect(context.Background()); err != nil {
		t.Fatalf("Observer connect failed: %v", err)
	}

	alice := presence.NewClient(presence.Options{
		ServerURL: srv.URL,
		Token:     mintToken(t, "alice", "tenant-1"),
	})
	if _, err := alice.Connect(context.Background()); err != nil {
		t.Fatalf("Alice connect failed: %v", err)
	}

	if !eventually(2*time.Second, func() bool {
		return observer.Cache().IsOnline("alice")
	}) {
		t.Fatal("Expected observer to see alice online")
	}
	// The observer also sees its own presence.
	if !eventually(2*time.Second, func() bool {
		return observer.Cache().IsOnline("bob")
	}) {
		t.Fatal("Expected observer to see itself online")
	}

	alice.PageHidden()
	if !eventually(2*time.Second, func() bool {
		return observer.Cache().StatusOf("alice") == models.StatusIdle
	}) {
		t.Fatal("Expected observer to see alice idle after she backgrounds")
	}

	alice.PageVisible()
	if !eventually(2*time.Second, func() bool {
		return observer.Cache().IsOnline("alice")
	}) {
		t.Fatal("Expected observer to see alice online after she returns")
	}

	alice.Close()
	if !eventually(2*time.Second, func() bool {
		return observer.Cache().StatusOf("alice") == models.StatusOffline
	}) {
		t.Fatal("Expected observer to see alice offline after disconnect")
	}
	if observer.Cache().LastSeenOf("alice").IsZero() {
		t.Error("Expected a last-seen timestamp for alice")
	}
}
