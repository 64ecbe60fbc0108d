package registry

import (
	"sort"
	"sync"
	"time"

	"presence-service/pkg/models"
)

// Connection is one live transport session. It is created on connect,
// mutated only by pings and idle signals, and destroyed on disconnect.
type Connection struct {
	ID               string
	UserID           string
	TenantID         string
	LastPingAt       time.Time
	SelfReportedIdle bool
}

// Listener receives every aggregate status change, exactly once per change.
// Listeners are invoked on the mutating goroutine while the tenant shard is
// held, so updates for one user arrive in mutation order; they must not block.
type Listener func(update models.StatusUpdate)

// tenantShard holds all connection state for a single tenant behind its own
// lock, so unrelated tenants never contend.
type tenantShard struct {
	mu    sync.RWMutex
	users map[string]map[string]*Connection // userID -> connID -> connection
}

// Registry is the authoritative in-memory map of live connections, sharded
// by tenant. A user's aggregate status is a pure function of the user's
// current connection set; it is recomputed on every mutation and never
// stored on its own.
//
// Staleness policy: a connection whose last ping falls outside the liveness
// window demotes the user to idle, never to offline. Offline requires the
// connection to be explicitly removed; the transport's read deadline
// guarantees removal of silent peers.
type Registry struct {
	livenessWindow time.Duration

	mu       sync.RWMutex
	shards   map[string]*tenantShard
	conns    map[string]*shardRef // connID -> owning shard
	listener Listener

	now func() time.Time // replaced in tests
}

type shardRef struct {
	tenantID string
	userID   string
	shard    *tenantShard
}

func New(livenessWindow time.Duration) *Registry {
	return &Registry{
		livenessWindow: livenessWindow,
		shards:         make(map[string]*tenantShard),
		conns:          make(map[string]*shardRef),
		now:            time.Now,
	}
}

// OnChange registers the status-change listener. Must be called before the
// registry receives traffic.
func (r *Registry) OnChange(fn Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = fn
}

// AddConnection creates a connection with a fresh ping timestamp. The
// user's first connection flips them offline -> online and emits one update.
func (r *Registry) AddConnection(tenantID, userID, connID string) {
	now := r.now()
	conn := &Connection{
		ID:         connID,
		UserID:     userID,
		TenantID:   tenantID,
		LastPingAt: now,
	}

	r.mu.Lock()
	shard, ok := r.shards[tenantID]
	if !ok {
		shard = &tenantShard{users: make(map[string]map[string]*Connection)}
		r.shards[tenantID] = shard
	}
	r.conns[connID] = &shardRef{tenantID: tenantID, userID: userID, shard: shard}
	listener := r.listener
	r.mu.Unlock()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	before := r.deriveLocked(shard, userID, now)
	if shard.users[userID] == nil {
		shard.users[userID] = make(map[string]*Connection)
	}
	shard.users[userID][connID] = conn
	r.emitIfChanged(listener, shard, tenantID, userID, before, now, time.Time{})
}

// RemoveConnection deletes the connection. Removing the user's last
// connection flips them to offline with LastSeenAt fixed at removal time.
// Removal is synchronous: once this returns, no later ping or idle signal
// for the same connection ID can resurrect it. Unknown IDs are a no-op.
func (r *Registry) RemoveConnection(connID string) {
	now := r.now()

	r.mu.Lock()
	ref, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	listener := r.listener
	r.mu.Unlock()

	ref.shard.mu.Lock()
	defer ref.shard.mu.Unlock()

	userID := ref.userID
	if _, ok := ref.shard.users[userID][connID]; !ok {
		return
	}

	before := r.deriveLocked(ref.shard, userID, now)
	delete(ref.shard.users[userID], connID)
	if len(ref.shard.users[userID]) == 0 {
		delete(ref.shard.users, userID)
	}
	r.emitIfChanged(listener, ref.shard, ref.tenantID, userID, before, now, now)
}

// RecordPing refreshes the connection's liveness timestamp. A ping that
// does not change the aggregate status emits nothing. Unknown IDs are a
// no-op: the connection may have been torn down concurrently.
func (r *Registry) RecordPing(connID string) {
	r.mutateConn(connID, func(conn *Connection, now time.Time) {
		conn.LastPingAt = now
	})
}

// RecordIdleSignal applies an explicit idle/active signal. The explicit
// signal takes precedence over elapsed-time inference for that connection.
func (r *Registry) RecordIdleSignal(connID string, isIdle bool) {
	r.mutateConn(connID, func(conn *Connection, _ time.Time) {
		conn.SelfReportedIdle = isIdle
	})
}

// CurrentStatus derives the user's aggregate presence. Users with no live
// connection report offline with a zero LastSeenAt; their durable last-seen
// timestamp lives in the roster, not here.
func (r *Registry) CurrentStatus(tenantID, userID string) models.UserPresence {
	now := r.now()

	r.mu.RLock()
	shard, ok := r.shards[tenantID]
	r.mu.RUnlock()
	if !ok {
		return models.UserPresence{UserID: userID, Status: models.StatusOffline}
	}

	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return r.deriveLocked(shard, userID, now)
}

// Snapshot returns the aggregate presence of every user with at least one
// live connection in the tenant, sorted by user ID.
func (r *Registry) Snapshot(tenantID string) []models.UserPresence {
	now := r.now()

	r.mu.RLock()
	shard, ok := r.shards[tenantID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	users := make([]models.UserPresence, 0, len(shard.users))
	for userID := range shard.users {
		users = append(users, r.deriveLocked(shard, userID, now))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

// ConnectionCount reports the number of live connections for a user.
func (r *Registry) ConnectionCount(tenantID, userID string) int {
	r.mu.RLock()
	shard, ok := r.shards[tenantID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return len(shard.users[userID])
}

func (r *Registry) mutateConn(connID string, mutate func(*Connection, time.Time)) {
	now := r.now()

	r.mu.RLock()
	ref, ok := r.conns[connID]
	listener := r.listener
	r.mu.RUnlock()
	if !ok {
		return
	}

	ref.shard.mu.Lock()
	defer ref.shard.mu.Unlock()

	userID := ref.userID
	conn, ok := ref.shard.users[userID][connID]
	if !ok {
		return
	}

	before := r.deriveLocked(ref.shard, userID, now)
	mutate(conn, now)
	r.emitIfChanged(listener, ref.shard, ref.tenantID, userID, before, now, time.Time{})
}

// emitIfChanged recomputes the aggregate after a mutation and emits exactly
// one update when it differs from the pre-mutation aggregate. removedAt is
// non-zero only on the removal path, where it pins LastSeenAt.
func (r *Registry) emitIfChanged(listener Listener, shard *tenantShard, tenantID, userID string, before models.UserPresence, now, removedAt time.Time) {
	after := r.deriveLocked(shard, userID, now)
	if after.Status == models.StatusOffline && !removedAt.IsZero() {
		after.LastSeenAt = removedAt
	}
	if after.Status == before.Status {
		return
	}
	if listener != nil {
		listener(models.StatusUpdate{
			TenantID:   tenantID,
			UserID:     userID,
			Status:     after.Status,
			LastSeenAt: after.LastSeenAt,
		})
	}
}

// deriveLocked computes the aggregate from the connection set: online iff
// at least one connection pinged within the liveness window and not
// self-reported idle, idle iff any connection exists, offline otherwise.
// Caller holds the shard lock.
func (r *Registry) deriveLocked(shard *tenantShard, userID string, now time.Time) models.UserPresence {
	conns := shard.users[userID]
	if len(conns) == 0 {
		return models.UserPresence{UserID: userID, Status: models.StatusOffline}
	}

	var lastSeen time.Time
	status := models.StatusIdle
	for _, conn := range conns {
		if conn.LastPingAt.After(lastSeen) {
			lastSeen = conn.LastPingAt
		}
		if !conn.SelfReportedIdle && now.Sub(conn.LastPingAt) <= r.livenessWindow {
			status = models.StatusOnline
		}
	}
	return models.UserPresence{UserID: userID, Status: status, LastSeenAt: lastSeen}
}
