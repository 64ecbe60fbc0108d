package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"presence-service/pkg/models"
)

func TestDecodeValidMessages(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want MessageType
	}{
		{"ping", `{"type":"presence.ping"}`, MessageTypePing},
		{"idle", `{"type":"presence.idle","data":{"isIdle":true}}`, MessageTypeIdle},
		{"update", `{"type":"presence.update","data":{"userId":"u1","status":"online","lastSeenAt":"2024-01-01T00:00:00Z"}}`, MessageTypeUpdate},
		{"bulk", `{"type":"presence.bulk","data":{"users":[]}}`, MessageTypeBulk},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tc.raw))
			if err != nil {
				t.Fatalf("DecodeMessage failed: %v", err)
			}
			if msg.Type != tc.want {
				t.Errorf("Expected type %s, got %s", tc.want, msg.Type)
			}
		})
	}
}

func TestDecodeRejectsUnknownAndMalformed(t *testing.T) {
	for _, raw := range []string{
		`{"type":"chat.message"}`,
		`{"type":""}`,
		`not json`,
		`{`,
	} {
		if _, err := DecodeMessage([]byte(raw)); err == nil {
			t.Errorf("Expected error for %q", raw)
		}
	}
}

func TestEncodeUpdateRoundTrip(t *testing.T) {
	lastSeen := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	frame, err := EncodeUpdate(models.UserPresence{UserID: "alice", Status: models.StatusIdle, LastSeenAt: lastSeen})
	if err != nil {
		t.Fatalf("EncodeUpdate failed: %v", err)
	}

	msg, err := DecodeMessage(frame)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	if msg.Type != MessageTypeUpdate {
		t.Fatalf("Expected %s, got %s", MessageTypeUpdate, msg.Type)
	}

	var presence models.UserPresence
	if err := json.Unmarshal(msg.Data, &presence); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if presence.UserID != "alice" || presence.Status != models.StatusIdle || !presence.LastSeenAt.Equal(lastSeen) {
		t.Errorf("Unexpected payload: %+v", presence)
	}
}

func TestReadPumpAppliesInboundSignals(t *testing.T) {
	backend := newFakeBackend()
	hub := startTestHub(t, backend)
	client, conn := registerTestClient(t, hub, "alice", "tenant-1", 16)
	go client.readPump()

	conn.queueFrame([]byte(`{"type":"presence.ping"}`))
	conn.queueFrame([]byte(`{"type":"presence.idle","data":{"isIdle":true}}`))
	conn.queueFrame([]byte(`{"type":"presence.idle","data":"garbage"}`)) // dropped, connection kept
	conn.queueFrame([]byte(`{"type":"presence.ping"}`))

	if !eventually(time.Second, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.pings) == 2 && backend.idles[client.ID()]
	}) {
		t.Fatal("Expected pings and idle signal to reach the backend")
	}

	// The malformed idle frame produced an error reply without killing
	// the connection.
	if !eventually(time.Second, func() bool {
		for _, frame := range conn.getMessages() {
			msg, err := DecodeMessage(frame)
			if err == nil && msg.Type == MessageTypeError {
				return true
			}
		}
		return false
	}) {
		t.Fatal("Expected an error frame for the malformed idle payload")
	}
	if hub.ClientCount() != 1 {
		t.Errorf("Expected client to stay registered, got %d clients", hub.ClientCount())
	}
}
