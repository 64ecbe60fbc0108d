package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"presence-service/pkg/models"
)

// PresenceBackend is what the hub drives on behalf of its connections:
// registry mutations on connect/disconnect/ping/idle and snapshot reads
// for the bulk push after subscription.
type PresenceBackend interface {
	Connect(tenantID, userID, connID string)
	Disconnect(connID string)
	Ping(connID string)
	IdleSignal(connID string, isIdle bool)
	Snapshot(ctx context.Context, tenantID string) ([]models.UserPresence, error)
}

// Hub fans status changes out to the push channel. Delivery to each client
// goes through that client's bounded send queue and never blocks: a client
// that cannot keep up is dropped and left to self-heal via reconnect and
// bulk resync. Broadcasts never cross tenant boundaries.
type Hub struct {
	backend PresenceBackend

	clients       map[*Client]bool
	tenantClients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	updates    chan models.StatusUpdate

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex

	// readWait bounds the silence a connection may go before the read
	// pump tears it down; sized as a multiple of the client ping interval.
	readWait time.Duration
}

func NewHub(backend PresenceBackend, readWait time.Duration) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		backend:       backend,
		clients:       make(map[*Client]bool),
		tenantClients: make(map[string]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client, 64),
		updates:       make(chan models.StatusUpdate, 512),
		ctx:           ctx,
		cancel:        cancel,
		readWait:      readWait,
	}
}

// Run is the hub's event loop. All client map mutations happen here.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case update := <-h.updates:
			h.broadcastUpdate(update)

		case <-h.ctx.Done():
			slog.Info("Presence hub shutting down")
			h.closeAll()
			return
		}
	}
}

func (h *Hub) Stop() {
	h.cancel()
}

// Register hands a new connection to the hub loop.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// QueueUpdate enqueues a status change for fan-out. It never blocks the
// caller: the registry mutation path must not stall on slow delivery, so an
// overflowing queue drops the update and lets clients catch up on resync.
func (h *Hub) QueueUpdate(update models.StatusUpdate) {
	select {
	case h.updates <- update:
	default:
		slog.Warn("Update queue full, dropping broadcast",
			"tenantID", update.TenantID, "userID", update.UserID, "status", update.Status)
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	if h.tenantClients[client.tenantID] == nil {
		h.tenantClients[client.tenantID] = make(map[*Client]bool)
	}
	h.tenantClients[client.tenantID][client] = true
	h.mu.Unlock()

	h.backend.Connect(client.tenantID, client.userID, client.id)
	slog.Info("Client registered", "clientID", client.id, "userID", client.userID, "tenantID", client.tenantID)

	// Full snapshot immediately after subscription; incremental updates
	// from here on. Failure is not fatal: the client SDK also seeds
	// itself over the query endpoint.
	users, err := h.backend.Snapshot(h.ctx, client.tenantID)
	if err != nil {
		slog.Error("Snapshot for bulk push failed", "tenantID", client.tenantID, "error", err)
		return
	}
	frame, err := EncodeBulk(users)
	if err != nil {
		slog.Error("Encoding bulk frame failed", "tenantID", client.tenantID, "error", err)
		return
	}
	if !client.enqueue(frame) {
		h.dropClient(client)
	}
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	if tenant, ok := h.tenantClients[client.tenantID]; ok {
		delete(tenant, client)
		if len(tenant) == 0 {
			delete(h.tenantClients, client.tenantID)
		}
	}
	h.mu.Unlock()

	// Synchronous removal: the registry has forgotten this connection
	// before the unregister completes, so a fast reconnect cannot race
	// stale teardown.
	h.backend.Disconnect(client.id)
	client.close()
	client.closeSend()
	slog.Info("Client unregistered", "clientID", client.id, "userID", client.userID, "tenantID", client.tenantID)
}

func (h *Hub) broadcastUpdate(update models.StatusUpdate) {
	frame, err := EncodeUpdate(update.Presence())
	if err != nil {
		slog.Error("Encoding update frame failed", "userID", update.UserID, "error", err)
		return
	}

	h.mu.RLock()
	var dropped []*Client
	for client := range h.tenantClients[update.TenantID] {
		if !client.enqueue(frame) {
			dropped = append(dropped, client)
		}
	}
	h.mu.RUnlock()

	// Slow consumers are cut loose rather than allowed to stall anyone.
	for _, client := range dropped {
		slog.Warn("Send queue full, dropping client", "clientID", client.id, "userID", client.userID)
		h.dropClient(client)
	}
}

// dropClient force-disconnects a client from within the hub loop. Closing
// the transport makes the read pump exit; its unregister request then finds
// the client already removed and no-ops.
func (h *Hub) dropClient(client *Client) {
	h.unregisterClient(client)
	client.conn.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		h.dropClient(client)
	}
}

// ClientCount reports the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
