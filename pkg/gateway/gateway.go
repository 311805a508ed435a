// Package gateway implements the realtime websocket fanout.
//
// One hub holds every client connection, subscribes once to the event bus
// and routes each event to the owning user's connections only. Nothing is
// replayed on connect: the client reconciles with a task list read, then
// follows the live stream.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
	"github.com/benfrankstein/untxt-sub002/pkg/bus"
	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

// Authenticate resolves the calling user from the handshake request. The
// connection is refused when it returns an error.
type Authenticate func(r *http.Request) (userID string, err error)

// TaskLookup resolves task owners for events whose payload lacks one.
type TaskLookup interface {
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
}

// Metrics receives gateway counters. All methods must be safe for
// concurrent use; a nil Metrics disables them.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	EventDropped()
}

// Config contains gateway configuration.
type Config struct {
	// PingInterval is the server ping cadence (default: 30s).
	PingInterval time.Duration

	// IdleTimeout drops connections silent for this long (default: 90s).
	IdleTimeout time.Duration

	// SendBuffer is the per-connection outbound queue (default: 64).
	SendBuffer int

	// OwnerCacheTTL bounds staleness of the task-owner lookup cache
	// (default: 5s).
	OwnerCacheTTL time.Duration
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 90 * time.Second
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = 64
	}
	if c.OwnerCacheTTL == 0 {
		c.OwnerCacheTTL = 5 * time.Second
	}
}

// Envelope is the message shape sent to clients.
type Envelope struct {
	Type      string    `json:"type"` // welcome|task_update|db_change|notification|pong|resync
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newEnvelope(kind string, data any) Envelope {
	return Envelope{Type: kind, Data: data, Timestamp: time.Now().UTC()}
}

type ownerCacheEntry struct {
	ownerID string
	expires time.Time
}

// Hub is the connection registry and event router.
type Hub struct {
	config   Config
	auth     Authenticate
	lookup   TaskLookup
	metrics  Metrics
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]map[*connection]struct{} // user_id -> connections

	cacheMu    sync.Mutex
	ownerCache map[string]ownerCacheEntry // task_id -> owner
}

// NewHub creates the gateway hub. metrics may be nil.
func NewHub(auth Authenticate, lookup TaskLookup, metrics Metrics, config Config) *Hub {
	config.ApplyDefaults()
	return &Hub{
		config:  config,
		auth:    auth,
		lookup:  lookup,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients carry the session token; origin enforcement
			// happens at the reverse proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:      make(map[string]map[*connection]struct{}),
		ownerCache: make(map[string]ownerCacheEntry),
	}
}

// ServeHTTP upgrades the request to a websocket connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth(r)
	if err != nil {
		logger.Warn("websocket handshake rejected", "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := &connection{
		hub:    h,
		ws:     ws,
		userID: userID,
		send:   make(chan Envelope, h.config.SendBuffer),
	}
	h.register(conn)

	conn.send <- newEnvelope("welcome", map[string]string{"user_id": userID})

	go conn.writePump()
	go conn.readPump()
}

// Run consumes the bus subscription until the context ends.
func (h *Hub) Run(ctx context.Context, sub *bus.Subscription) {
	logger.Info("gateway hub running")
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Events():
			if !ok {
				return
			}
			h.dispatch(ctx, msg)
		}
	}
}

// dispatch routes one bus event to the owning user's connections.
func (h *Hub) dispatch(ctx context.Context, msg bus.Message) {
	switch {
	case msg.TaskUpdate != nil:
		h.broadcast(msg.TaskUpdate.OwnerID, newEnvelope("task_update", msg.TaskUpdate))

	case msg.Notification != nil:
		h.broadcast(msg.Notification.UserID, newEnvelope("notification", msg.Notification))

	case msg.DBChange != nil:
		ownerID := msg.DBChange.OwnerID
		if ownerID == "" {
			ownerID = h.resolveOwner(ctx, msg.DBChange)
		}
		if ownerID == "" {
			logger.Debug("dropping change event without resolvable owner",
				"table", msg.DBChange.Table, "record_id", msg.DBChange.RecordID)
			return
		}
		h.broadcast(ownerID, newEnvelope("db_change", msg.DBChange))
	}
}

// resolveOwner finds the owning user for result/version change events via
// the task id in the summary, through a short-TTL cache.
func (h *Hub) resolveOwner(ctx context.Context, change *bus.DBChange) string {
	taskID, _ := change.Summary["task_id"].(string)
	if taskID == "" {
		return ""
	}

	now := time.Now()
	h.cacheMu.Lock()
	if entry, ok := h.ownerCache[taskID]; ok && now.Before(entry.expires) {
		h.cacheMu.Unlock()
		return entry.ownerID
	}
	h.cacheMu.Unlock()

	task, err := h.lookup.GetTask(ctx, taskID)
	if err != nil {
		return ""
	}

	h.cacheMu.Lock()
	h.ownerCache[taskID] = ownerCacheEntry{
		ownerID: task.OwnerID,
		expires: now.Add(h.config.OwnerCacheTTL),
	}
	h.cacheMu.Unlock()
	return task.OwnerID
}

// broadcast enqueues the envelope on every connection of the user. A full
// send buffer drops the oldest queued event and follows with a resync hint,
// so slow clients lose granularity, never correctness.
func (h *Hub) broadcast(userID string, env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.conns[userID] {
		select {
		case conn.send <- env:
			continue
		default:
		}

		// Buffer full: make room, then tell the client to reconcile.
		select {
		case <-conn.send:
			if h.metrics != nil {
				h.metrics.EventDropped()
			}
		default:
		}
		select {
		case conn.send <- env:
		default:
		}
		select {
		case conn.send <- newEnvelope("resync", nil):
		default:
		}
	}
}

func (h *Hub) register(conn *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[conn.userID] == nil {
		h.conns[conn.userID] = make(map[*connection]struct{})
	}
	h.conns[conn.userID][conn] = struct{}{}
	if h.metrics != nil {
		h.metrics.ConnectionOpened()
	}
	logger.Info("websocket connected", "user_id", conn.userID)
}

func (h *Hub) unregister(conn *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[conn.userID]; ok {
		if _, present := set[conn]; present {
			delete(set, conn)
			if len(set) == 0 {
				delete(h.conns, conn.userID)
			}
			if h.metrics != nil {
				h.metrics.ConnectionClosed()
			}
			logger.Info("websocket disconnected", "user_id", conn.userID)
		}
	}
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.conns {
		n += len(set)
	}
	return n
}
