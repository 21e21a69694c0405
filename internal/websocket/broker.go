package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait           = 10 * time.Second
	pongWait            = 60 * time.Second
	pingPeriod          = (pongWait * 9) / 10
	maxMessageSize      = 512 * 1024 // 512 KB
	defaultSendBuf      = 256
	defaultPublishBuf   = 4096
	maxConsecutiveDrops = 50
)

type publishMsg struct {
	Topic string
	Data  []byte
}

type subscription struct {
	client *Client
	topic  string
}

// Hub manages clients, subscriptions and publishes.
type Hub struct {
	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	unsubscribe chan subscription
	publish     chan publishMsg
	done        chan struct{} // closed when Run returns

	clients map[*Client]struct{}
	topics  map[string]map[*Client]struct{}

	sendBuf int

	clientCount  int64
	publishDrops uint64

	logger *zap.Logger
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subscribed map[string]struct{}

	// consecutive drops counter: if it grows too large we evict the client
	drops int
}

// NewHub creates a Hub with reasonable defaults. Provide a logger or nil.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		publish:     make(chan publishMsg, defaultPublishBuf),
		done:        make(chan struct{}),
		clients:     make(map[*Client]struct{}),
		topics:      make(map[string]map[*Client]struct{}),
		sendBuf:     defaultSendBuf,
		logger:      logger.Named("ws"),
	}
}

// Run runs the hub event loop. Call as: go hub.Run(ctx).
// The hub stops when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("hub started")
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			atomic.AddInt64(&h.clientCount, 1)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}

		case sub := <-h.subscribe:
			// a command may still arrive from a client evicted meanwhile
			if _, ok := h.clients[sub.client]; !ok {
				continue
			}
			subs := h.topics[sub.topic]
			if subs == nil {
				subs = make(map[*Client]struct{})
				h.topics[sub.topic] = subs
			}
			subs[sub.client] = struct{}{}
			sub.client.subscribed[sub.topic] = struct{}{}

		case sub := <-h.unsubscribe:
			if _, ok := h.clients[sub.client]; !ok {
				continue
			}
			if subs := h.topics[sub.topic]; subs != nil {
				delete(subs, sub.client)
				if len(subs) == 0 {
					delete(h.topics, sub.topic)
				}
			}
			delete(sub.client.subscribed, sub.topic)

		case p := <-h.publish:
			if p.Topic == "" {
				for c := range h.clients {
					h.deliver(c, p.Data)
				}
			} else if subs := h.topics[p.Topic]; subs != nil {
				for c := range subs {
					h.deliver(c, p.Data)
				}
			}

		case <-ctx.Done():
			h.logger.Info("hub shutting down")
			for c := range h.clients {
				h.drop(c)
				if c.conn != nil {
					_ = c.conn.Close()
				}
			}
			return
		}
	}
}

func (h *Hub) deliver(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		atomic.AddUint64(&h.publishDrops, 1)
		c.drops++
		if c.drops > maxConsecutiveDrops {
			h.logger.Warn("evicting slow client", zap.Int("drops", c.drops))
			h.drop(c)
			if c.conn != nil {
				_ = c.conn.Close()
			}
		}
	}
}

// drop forgets c and closes its send channel. Only the Run loop calls it.
func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	for t := range c.subscribed {
		if s := h.topics[t]; s != nil {
			delete(s, c)
			if len(s) == 0 {
				delete(h.topics, t)
			}
		}
	}
	close(c.send)
	atomic.AddInt64(&h.clientCount, -1)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and registers a client.
// Initial topics can be passed via ?topics=UAH-USD,account:7
func ServeWS(h *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, h.sendBuf),
		subscribed: make(map[string]struct{}),
	}

	if !h.send(h.register, client) {
		_ = conn.Close()
		return
	}
	for _, topic := range parseTopics(r.URL.Query().Get("topics")) {
		h.sendSub(h.subscribe, subscription{client: client, topic: topic})
	}

	go client.writePump()
	go client.readPump()
}

// send hands c to the Run loop, giving up once the hub has stopped.
func (h *Hub) send(ch chan *Client, c *Client) bool {
	select {
	case ch <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) sendSub(ch chan subscription, sub subscription) bool {
	select {
	case ch <- sub:
		return true
	case <-h.done:
		return false
	}
}

func parseTopics(raw string) []string {
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

type clientCommand struct {
	Type  string `json:"type"`  // "subscribe" | "unsubscribe"
	Topic string `json:"topic"` // e.g. "UAH-USD" or "account:7"
}

// readPump reads control/command messages from the client
// and turns them into subscribe/unsubscribe requests.
func (c *Client) readPump() {
	defer func() {
		c.hub.send(c.hub.unregister, c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			) {
				c.hub.logger.Debug("read error", zap.Error(err))
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.hub.logger.Debug("invalid client msg", zap.Error(err))
			continue
		}
		if cmd.Topic == "" {
			continue
		}

		var ch chan subscription
		switch cmd.Type {
		case "subscribe":
			ch = c.hub.subscribe
		case "unsubscribe":
			ch = c.hub.unsubscribe
		default:
			continue
		}
		if !c.hub.sendSub(ch, subscription{client: c, topic: cmd.Topic}) {
			return
		}
	}
}

// writePump serializes all writes to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				)
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				_ = w.Close()
				return
			}

			// batch queued messages into same frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				if msg := <-c.send; msg != nil {
					if _, err := w.Write([]byte("\n")); err != nil {
						break
					}
					if _, err := w.Write(msg); err != nil {
						break
					}
				}
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Publish queues raw data for a topic. Non-blocking: if the hub publish
// buffer is full, the message is dropped.
func (h *Hub) Publish(topic string, data []byte) {
	select {
	case h.publish <- publishMsg{Topic: topic, Data: data}:
	default:
		atomic.AddUint64(&h.publishDrops, 1)
		h.logger.Warn("publish channel full, dropping message", zap.String("topic", topic))
	}
}

// Stats returns simple metrics (clients count and publish drops).
func (h *Hub) Stats() (clients int, drops uint64) {
	return int(atomic.LoadInt64(&h.clientCount)), atomic.LoadUint64(&h.publishDrops)
}
