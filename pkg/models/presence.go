package models

import "time"

// Status is the derived presence of a user within one tenant. It is a pure
// function of the user's current connection set, never stored directly.
type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusOffline Status = "offline"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusOnline, StatusIdle, StatusOffline:
		return true
	}
	return false
}

// UserPresence is the client-facing view of one user's presence.
type UserPresence struct {
	UserID     string    `json:"userId"`
	Status     Status    `json:"status"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// StatusUpdate is one aggregate status transition, emitted by the registry
// and carried over the push channel, the cross-instance channel, and the
// event sink. TenantID scopes routing; the payload sent to clients is the
// Presence projection.
type StatusUpdate struct {
	TenantID   string    `json:"tenantId"`
	UserID     string    `json:"userId"`
	Status     Status    `json:"status"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// Presence strips the routing envelope down to the client payload.
func (u StatusUpdate) Presence() UserPresence {
	return UserPresence{UserID: u.UserID, Status: u.Status, LastSeenAt: u.LastSeenAt}
}
