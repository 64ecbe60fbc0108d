package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"presence-service/pkg/models"
)

// errConnClosed is returned when using a closed mock connection
var errConnClosed = errors.New("connection closed")

// mockConn implements Conn for tests. Reads deliver queued inbound frames
// and block until the connection is closed; writes are captured.
type mockConn struct {
	mu       sync.Mutex
	messages [][]byte
	closed   bool
	inbound  chan []byte
	done     chan struct{}
	once     sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{inbound: make(chan []byte, 16), done: make(chan struct{})}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-m.inbound:
		return 1, data, nil
	case <-m.done:
		return 0, nil, errConnClosed
	}
}

// queueFrame schedules a frame for the next ReadMessage call.
func (m *mockConn) queueFrame(data []byte) {
	m.inbound <- data
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errConnClosed
	}
	m.messages = append(m.messages, data)
	return nil
}

func (m *mockConn) SetReadLimit(int64)               {}
func (m *mockConn) SetReadDeadline(time.Time) error  { return nil }
func (m *mockConn) SetWriteDeadline(time.Time) error { return nil }

func (m *mockConn) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *mockConn) getMessages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.messages))
	copy(out, m.messages)
	return out
}

// fakeBackend records hub calls and serves a canned snapshot.
type fakeBackend struct {
	mu          sync.Mutex
	connects    []string
	disconnects []string
	pings       []string
	idles       map[string]bool
	snapshot    []models.UserPresence
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{idles: make(map[string]bool)}
}

func (b *fakeBackend) Connect(tenantID, userID, connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects = append(b.connects, connID)
}

func (b *fakeBackend) Disconnect(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnects = append(b.disconnects, connID)
}

func (b *fakeBackend) Ping(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pings = append(b.pings, connID)
}

func (b *fakeBackend) IdleSignal(connID string, isIdle bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.idles[connID] = isIdle
}

func (b *fakeBackend) Snapshot(ctx context.Context, tenantID string) ([]models.UserPresence, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot, nil
}

func (b *fakeBackend) disconnected() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.disconnects))
	copy(out, b.disconnects)
	return out
}

// eventually polls until the condition holds or the deadline passes.
func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
