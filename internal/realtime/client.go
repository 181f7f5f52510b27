package realtime

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

// Control actions a client may send.
const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionPing        = "ping"
)

type controlMessage struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
}

// client is one websocket connection. joined is guarded by the hub's mutex.
type client struct {
	hub     *Hub
	socket  *websocket.Conn
	userID  string
	allowed map[string]struct{}
	joined  map[string]struct{}

	out       chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *Hub, socket *websocket.Conn, userID string, allowed map[string]struct{}) *client {
	return &client{
		hub:     hub,
		socket:  socket,
		userID:  userID,
		allowed: allowed,
		joined:  make(map[string]struct{}),
		out:     make(chan Message, sendBuffer),
		done:    make(chan struct{}),
	}
}

// deliver queues a message without blocking; false means the buffer was full.
func (c *client) deliver(message Message) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.out <- message:
		return true
	default:
		return false
	}
}

func (c *client) mayJoin(stream string) bool {
	if len(c.allowed) == 0 {
		return true
	}
	_, ok := c.allowed[stream]
	return ok
}

// close unregisters the client and stops the write loop, which sends a close frame and
// closes the socket so the read loop returns.
func (c *client) close() {
	c.closeOnce.Do(func() {
		c.hub.unregister(c)
		close(c.done)
	})
}

func (c *client) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	log := c.hub.log.With(zap.String("user_id", c.userID))
	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("unexpected close", zap.Error(err))
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			log.Debug("invalid control payload", zap.Error(err))
			continue
		}
		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case actionSubscribe:
			c.hub.subscribe(c, ctrl.Streams)
		case actionUnsubscribe:
			c.hub.unsubscribe(c, ctrl.Streams)
		case actionPing:
			c.deliver(Message{Event: "pong"})
		default:
			log.Debug("unsupported control action", zap.String("action", ctrl.Action))
		}
	}
}

func (c *client) writeLoop() {
	defer func() { _ = c.socket.Close() }()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.out:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(message); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
