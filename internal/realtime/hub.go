// Package realtime pushes sync status and directory change notices to browsers over
// websockets. Clients join named streams and may only see streams they are allowed.
package realtime

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/estatedir/pkg/logger"
)

// Message is a JSON payload delivered to realtime subscribers.
type Message struct {
	Stream string         `json:"stream"`
	Event  string         `json:"event"`
	Data   any            `json:"data,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Hub tracks connected clients and the streams each one joined.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	streams map[string]map[*client]struct{}
	clients map[*client]struct{}
	closed  bool
}

// NewHub constructs a hub that accepts same-origin and loopback origins.
func NewHub() *Hub {
	return &Hub{
		log:     logger.WithModule("realtime"),
		streams: make(map[string]map[*client]struct{}),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOriginOrLoopback,
		},
	}
}

// Serve upgrades the request and subscribes the client to streams. Messages in initial
// are queued before any broadcast so a client always starts from a snapshot. A nil
// allowed set permits every stream. Serve blocks until the client disconnects.
func (h *Hub) Serve(userID string, streams []string, allowed map[string]struct{}, w http.ResponseWriter, r *http.Request, initial ...Message) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := newClient(h, socket, userID, allowed)
	if !h.register(c) {
		_ = socket.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = socket.Close()
		return
	}

	for _, msg := range initial {
		msg.Stream = normalizeStream(msg.Stream)
		c.deliver(msg)
	}
	h.subscribe(c, streams)

	go c.writeLoop()
	c.readLoop()
}

// BroadcastToUser delivers a message to every connection of one user on a stream.
func (h *Hub) BroadcastToUser(stream, userID string, message Message) {
	if userID == "" {
		return
	}
	h.broadcast(stream, message, func(c *client) bool { return c.userID == userID })
}

// BroadcastStream delivers a message to every subscriber of a stream.
func (h *Hub) BroadcastStream(stream string, message Message) {
	h.broadcast(stream, message, nil)
}

func (h *Hub) broadcast(stream string, message Message, match func(*client) bool) {
	message.Stream = normalizeStream(stream)
	if message.Stream == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.streams[message.Stream] {
		if match != nil && !match(c) {
			continue
		}
		if !c.deliver(message) {
			h.log.Warn("dropping slow client", zap.String("user_id", c.userID))
			go c.close()
		}
	}
}

// Subscribers reports how many connections listen on a stream.
func (h *Hub) Subscribers(stream string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[normalizeStream(stream)])
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) subscribe(c *client, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range uniqueStreams(streams) {
		if !c.mayJoin(stream) {
			h.log.Debug("ignoring unauthorized stream", zap.String("stream", stream), zap.String("user_id", c.userID))
			continue
		}
		members := h.streams[stream]
		if members == nil {
			members = make(map[*client]struct{})
			h.streams[stream] = members
		}
		members[c] = struct{}{}
		c.joined[stream] = struct{}{}
	}
}

func (h *Hub) unsubscribe(c *client, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range uniqueStreams(streams) {
		h.leaveLocked(c, stream)
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for stream := range c.joined {
		h.leaveLocked(c, stream)
	}
	delete(h.clients, c)
}

func (h *Hub) leaveLocked(c *client, stream string) {
	delete(c.joined, stream)
	if members, ok := h.streams[stream]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.streams, stream)
		}
	}
}

func sameOriginOrLoopback(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	host := originHost(origin)
	return host == originHost(r.Host) || isLoopback(host)
}

// originHost strips scheme and port from an Origin header or Host value.
func originHost(value string) string {
	value = strings.TrimSpace(value)
	if strings.Contains(value, "://") {
		if u, err := url.Parse(value); err == nil {
			return u.Hostname()
		}
	}
	if host, _, err := net.SplitHostPort(value); err == nil {
		return host
	}
	return value
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

func normalizeStream(stream string) string {
	return strings.ToLower(strings.TrimSpace(stream))
}

func uniqueStreams(streams []string) []string {
	seen := make(map[string]struct{}, len(streams))
	var out []string
	for _, stream := range streams {
		stream = normalizeStream(stream)
		if _, dup := seen[stream]; stream == "" || dup {
			continue
		}
		seen[stream] = struct{}{}
		out = append(out, stream)
	}
	return out
}
