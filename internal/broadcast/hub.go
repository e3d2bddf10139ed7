package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/livewatch/internal/adapter/metrics"
	"github.com/pscheid92/livewatch/internal/domain"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
	commandBuffer  = 256
)

var (
	ErrHubStopped     = errors.New("broadcast hub stopped")
	ErrTooManyClients = errors.New("too many dashboard clients")
)

// Frame is the message pushed to dashboard clients.
type Frame struct {
	Type     string                          `json:"type"`
	Channels map[string]domain.ChannelRecord `json:"channels"`
}

// EncodeFrame renders the full_update frame for a snapshot.
func EncodeFrame(snapshot domain.Snapshot) ([]byte, error) {
	channels := snapshot.Channels
	if channels == nil {
		channels = map[string]domain.ChannelRecord{}
	}
	return json.Marshal(Frame{Type: "full_update", Channels: channels})
}

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	id         uuid.UUID
	connection *websocket.Conn
	errCh      chan error
}

type unregisterCmd struct {
	baseHubCmd
	id uuid.UUID
}

type broadcastCmd struct {
	baseHubCmd
	revision uint64
	frame    []byte
}

type clientCountCmd struct {
	baseHubCmd
	replyCh chan int
}

type stopCmd struct {
	baseHubCmd
}

// Hub holds the connected dashboard clients and the most recent frame.
type Hub struct {
	cmdCh      chan hubCmd
	clock      clockwork.Clock
	metrics    *metrics.WebSocketMetrics
	maxClients int

	// owned by the run goroutine
	clients  map[uuid.UUID]*clientWriter
	latest   []byte
	revision uint64

	done     chan struct{}
	stopOnce sync.Once
}

var _ domain.SnapshotPublisher = (*Hub)(nil)

// NewHub starts the hub. maxClients <= 0 means unlimited; m may be nil.
func NewHub(clock clockwork.Clock, maxClients int, m *metrics.WebSocketMetrics) *Hub {
	initial, _ := EncodeFrame(domain.Snapshot{})
	h := &Hub{
		cmdCh:      make(chan hubCmd, commandBuffer),
		clock:      clock,
		metrics:    m,
		maxClients: maxClients,
		clients:    make(map[uuid.UUID]*clientWriter),
		latest:     initial,
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

// Register adds conn and queues the latest snapshot to it before any later broadcast.
// The returned id is passed to Unregister.
func (h *Hub) Register(conn *websocket.Conn) (uuid.UUID, error) {
	id := uuid.New()
	errCh := make(chan error, 1)
	if !h.send(registerCmd{id: id, connection: conn, errCh: errCh}) {
		return uuid.Nil, ErrHubStopped
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			return uuid.Nil, err
		}
		return id, nil
	case <-timer.Chan():
		return uuid.Nil, fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister stops the client's writer and closes its connection. Unknown ids are ignored.
func (h *Hub) Unregister(id uuid.UUID) {
	h.send(unregisterCmd{id: id})
}

// Broadcast pushes snapshot to every client. It never fails; clients that cannot
// keep up are dropped.
func (h *Hub) Broadcast(snapshot domain.Snapshot) {
	frame, err := EncodeFrame(snapshot)
	if err != nil {
		slog.Error("Failed to encode snapshot frame", "revision", snapshot.Revision, "error", err)
		return
	}
	h.send(broadcastCmd{revision: snapshot.Revision, frame: frame})
}

// ClientCount returns the number of connected clients, or -1 on timeout.
func (h *Hub) ClientCount() int {
	replyCh := make(chan int, 1)
	if !h.send(clientCountCmd{replyCh: replyCh}) {
		return 0
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop closes every client with a close frame and waits for the hub goroutine to exit.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.send(stopCmd{})

		timeout := h.clock.NewTimer(stopTimeout)
		defer timeout.Stop()

		select {
		case <-h.done:
			slog.Info("Broadcast hub stopped gracefully")
		case <-timeout.Chan():
			slog.Warn("Broadcast hub stop timeout exceeded", "timeout", stopTimeout)
		}
	})
}

func (h *Hub) send(cmd hubCmd) bool {
	select {
	case <-h.done:
		return false
	default:
	}

	select {
	case h.cmdCh <- cmd:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) run() {
	defer close(h.done)

	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			h.handleRegister(c)
		case unregisterCmd:
			h.remove(c.id)
		case broadcastCmd:
			h.handleBroadcast(c)
		case clientCountCmd:
			c.replyCh <- len(h.clients)
		case stopCmd:
			h.handleStop()
			return
		default:
			slog.Warn("Broadcast hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (h *Hub) handleRegister(c registerCmd) {
	if h.maxClients > 0 && len(h.clients) >= h.maxClients {
		slog.Warn("Rejecting dashboard client: max clients reached", "max_clients", h.maxClients)
		if h.metrics != nil {
			h.metrics.ConnectionsRejected.Inc()
		}
		_ = c.connection.Close()
		c.errCh <- fmt.Errorf("%w (%d)", ErrTooManyClients, h.maxClients)
		return
	}

	cw := newClientWriter(c.connection, h.clock, h.metrics)
	// The buffer is empty, so the current snapshot is always the first frame.
	cw.sendChannel <- h.latest
	h.clients[c.id] = cw

	if h.metrics != nil {
		h.metrics.ActiveConnections.Inc()
	}
	slog.Debug("Dashboard client registered", "client_id", c.id.String(), "total_clients", len(h.clients))
	c.errCh <- nil
}

func (h *Hub) handleBroadcast(c broadcastCmd) {
	if c.revision < h.revision {
		slog.Debug("Ignoring stale snapshot", "revision", c.revision, "latest", h.revision)
		return
	}
	h.revision = c.revision
	h.latest = c.frame

	var slow []uuid.UUID
	for id, cw := range h.clients {
		select {
		case cw.sendChannel <- c.frame:
		default:
			slow = append(slow, id)
		}
	}

	for _, id := range slow {
		slog.Warn("Disconnecting slow dashboard client", "client_id", id.String())
		if h.metrics != nil {
			h.metrics.SlowClientsEvicted.Inc()
		}
		h.remove(id)
	}
}

func (h *Hub) remove(id uuid.UUID) {
	cw, ok := h.clients[id]
	if !ok {
		return
	}
	cw.stop()
	delete(h.clients, id)

	if h.metrics != nil {
		h.metrics.ActiveConnections.Dec()
	}
	slog.Debug("Dashboard client unregistered", "client_id", id.String(), "remaining_clients", len(h.clients))
}

func (h *Hub) handleStop() {
	total := len(h.clients)
	for id, cw := range h.clients {
		cw.stopGraceful("Server shutting down")
		delete(h.clients, id)
	}
	if h.metrics != nil {
		h.metrics.ActiveConnections.Set(0)
	}
	slog.Info("Broadcast hub shutdown complete", "disconnected_clients", total)
}
