// Package realtime fans session state out to browser views over
// server-sent events.
package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/devcolor-ask/internal/platform/logger"
)

type Event string

const (
	EventState Event = "state"
)

const (
	outboundBuffer   = 16
	defaultHeartbeat = 15 * time.Second
)

type Message struct {
	Channel string `json:"-"`
	Event   Event  `json:"-"`
	Data    any    `json:"data,omitempty"`
}

type Client struct {
	ID       uuid.UUID
	Channel  string
	Outbound chan Message

	done      chan struct{}
	closeOnce sync.Once
}

type Hub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	heartbeat     time.Duration
	subscriptions map[string]map[*Client]bool
}

func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		log:           log.With("component", "SSEHub"),
		heartbeat:     defaultHeartbeat,
		subscriptions: make(map[string]map[*Client]bool),
	}
}

// SetHeartbeat changes the keep-alive interval for streams started afterwards.
func (h *Hub) SetHeartbeat(d time.Duration) {
	if d > 0 {
		h.heartbeat = d
	}
}

// Subscribe registers a new client on channel.
func (h *Hub) Subscribe(channel string) *Client {
	return h.SubscribeWithSnapshot(channel, nil)
}

// SubscribeWithSnapshot registers a client whose first message is built by
// snapshot. snapshot runs under the hub lock, so no broadcast can slip in
// between it and the registration.
func (h *Hub) SubscribeWithSnapshot(channel string, snapshot func() (Message, bool)) *Client {
	c := &Client{
		ID:       uuid.New(),
		Channel:  strings.TrimSpace(channel),
		Outbound: make(chan Message, outboundBuffer),
		done:     make(chan struct{}),
	}
	if c.Channel == "" {
		return c
	}

	h.mu.Lock()
	if snapshot != nil {
		if msg, ok := snapshot(); ok {
			c.Outbound <- msg
		}
	}
	clients, ok := h.subscriptions[c.Channel]
	if !ok {
		clients = make(map[*Client]bool)
		h.subscriptions[c.Channel] = clients
	}
	clients[c] = true
	h.mu.Unlock()

	h.log.Debug("SSE client subscribed", "client_id", c.ID, "session_id", c.Channel)
	return c
}

func (h *Hub) Clients(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[channel])
}

// Broadcast never blocks; a client whose buffer is full misses the message.
func (h *Hub) Broadcast(msg Message) {
	if msg.Channel == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subscriptions[msg.Channel] {
		select {
		case c.Outbound <- msg:
		default:
			h.log.Warn("Dropping SSE message; outbound buffer full", "client_id", c.ID, "session_id", msg.Channel)
		}
	}
}

// ServeHTTP streams the client's messages until the request ends or the
// client is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *Client) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.log.Debug("SSE client context done", "client_id", client.ID, "err", ctx.Err())
			return
		case <-client.done:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-client.Outbound:
			if !ok {
				return
			}
			payload, err := json.Marshal(msg.Data)
			if err != nil {
				h.log.Warn("Failed to marshal SSE message", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, payload)
			flusher.Flush()
		}
	}
}

// CloseClient unsubscribes the client and closes its channels. Safe to call
// more than once.
func (h *Hub) CloseClient(client *Client) {
	client.closeOnce.Do(func() {
		close(client.done)
		h.mu.Lock()
		if clients, ok := h.subscriptions[client.Channel]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.subscriptions, client.Channel)
			}
		}
		close(client.Outbound)
		h.mu.Unlock()
		h.log.Debug("SSE client closed", "client_id", client.ID)
	})
}

// CloseAll ends every open stream. Used on shutdown so long-lived SSE
// requests do not hold the server open.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*Client
	for _, clients := range h.subscriptions {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.CloseClient(c)
	}
}
