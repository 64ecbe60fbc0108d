package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"presence-service/pkg/models"
	"presence-service/internal/registry"
	"presence-service/internal/repository"
)

// EventSink receives every status transition for consumers outside the
// realtime core. Delivery is best effort.
type EventSink interface {
	Publish(ctx context.Context, update models.StatusUpdate) error
}

// Notifier is the local fan-out hook, wired to the hub's update queue. It
// must not block.
type Notifier func(update models.StatusUpdate)

// PresenceService is the heartbeat receiver and snapshot assembler. It owns
// the pipeline a registry status change flows through: local fan-out, the
// cross-instance redis channel, durable last-seen on offline, and the
// optional event sink.
type PresenceService struct {
	registry     *registry.Registry
	presenceRepo repository.PresenceRepository
	userRepo     repository.UserRepository
	events       EventSink
	notify       Notifier
	snapshotTTL  time.Duration

	// Registry listeners run on the mutation path under the tenant shard
	// lock, so everything that touches the network is queued here and
	// applied by a single worker, preserving per-user order.
	sideEffects chan models.StatusUpdate
	stopOnce    sync.Once
	done        chan struct{}
}

func NewPresenceService(
	reg *registry.Registry,
	presenceRepo repository.PresenceRepository,
	userRepo repository.UserRepository,
	snapshotTTL time.Duration,
) *PresenceService {
	s := &PresenceService{
		registry:     reg,
		presenceRepo: presenceRepo,
		userRepo:     userRepo,
		snapshotTTL:  snapshotTTL,
		sideEffects:  make(chan models.StatusUpdate, 512),
		done:         make(chan struct{}),
	}
	reg.OnChange(s.handleStatusChange)
	go s.sideEffectWorker()
	return s
}

// SetNotifier wires the local broadcaster. Must be set before traffic.
func (s *PresenceService) SetNotifier(fn Notifier) {
	s.notify = fn
}

// SetEventSink attaches the optional Kafka sink. Must be set before traffic.
func (s *PresenceService) SetEventSink(sink EventSink) {
	s.events = sink
}

func (s *PresenceService) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Connect registers a new authenticated connection.
func (s *PresenceService) Connect(tenantID, userID, connID string) {
	s.registry.AddConnection(tenantID, userID, connID)
}

// Disconnect removes a connection; the registry ignores unknown IDs.
func (s *PresenceService) Disconnect(connID string) {
	s.registry.RemoveConnection(connID)
}

// Ping applies a liveness heartbeat. Idempotent; a ping for a connection
// that was torn down concurrently is a no-op, not an error.
func (s *PresenceService) Ping(connID string) {
	s.registry.RecordPing(connID)
}

// IdleSignal applies an explicit idle/active signal, same contract as Ping.
func (s *PresenceService) IdleSignal(connID string, isIdle bool) {
	s.registry.RecordIdleSignal(connID, isIdle)
}

// CurrentStatus is a pure read of one user's aggregate.
func (s *PresenceService) CurrentStatus(tenantID, userID string) models.UserPresence {
	return s.registry.CurrentStatus(tenantID, userID)
}

// Snapshot returns the presence of every user visible in the tenant: live
// registry state merged over the roster, so members without connections
// appear offline with their durable last-seen timestamp. Responses are
// cached briefly; staleness is corrected by the live update stream.
func (s *PresenceService) Snapshot(ctx context.Context, tenantID string) ([]models.UserPresence, error) {
	if cached, ok, err := s.presenceRepo.CachedSnapshot(ctx, tenantID); err != nil {
		slog.Error("Snapshot cache read failed", "tenantID", tenantID, "error", err)
	} else if ok {
		return cached, nil
	}

	byUser := make(map[string]models.UserPresence)

	roster, err := s.userRepo.ListByTenant(ctx, tenantID)
	if err != nil {
		// Roster down degrades the snapshot to connected users only.
		slog.Error("Roster read failed", "tenantID", tenantID, "error", err)
	}
	for _, user := range roster {
		byUser[user.ID] = models.UserPresence{
			UserID:     user.ID,
			Status:     models.StatusOffline,
			LastSeenAt: user.LastSeenAt,
		}
	}
	for _, presence := range s.registry.Snapshot(tenantID) {
		byUser[presence.UserID] = presence
	}

	users := make([]models.UserPresence, 0, len(byUser))
	for _, presence := range byUser {
		users = append(users, presence)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })

	if err := s.presenceRepo.CacheSnapshot(ctx, tenantID, users, s.snapshotTTL); err != nil {
		slog.Error("Snapshot cache write failed", "tenantID", tenantID, "error", err)
	}
	return users, nil
}

// handleStatusChange runs on the registry's mutation path: local fan-out is
// non-blocking, everything else is deferred to the worker.
func (s *PresenceService) handleStatusChange(update models.StatusUpdate) {
	if s.notify != nil {
		s.notify(update)
	}
	select {
	case s.sideEffects <- update:
	default:
		slog.Warn("Side-effect queue full, dropping update",
			"tenantID", update.TenantID, "userID", update.UserID, "status", update.Status)
	}
}

func (s *PresenceService) sideEffectWorker() {
	for {
		select {
		case update := <-s.sideEffects:
			s.applySideEffects(update)
		case <-s.done:
			return
		}
	}
}

func (s *PresenceService) applySideEffects(update models.StatusUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.presenceRepo.PublishUpdate(ctx, update); err != nil {
		slog.Error("Cross-instance publish failed", "userID", update.UserID, "error", err)
	}

	if update.Status == models.StatusOffline {
		if err := s.userRepo.TouchLastSeen(ctx, update.UserID, update.LastSeenAt); err != nil {
			slog.Error("Persisting last seen failed", "userID", update.UserID, "error", err)
		}
	}

	if s.events != nil {
		if err := s.events.Publish(ctx, update); err != nil {
			slog.Error("Event sink publish failed", "userID", update.UserID, "error", err)
		}
	}
}
