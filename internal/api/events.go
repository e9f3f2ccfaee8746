package api

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quantumlife/worktrail/internal/logging"
	"github.com/quantumlife/worktrail/internal/notifications"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxClientFrame = 512
	clientBuffer   = 64
)

// EventHub streams observer events to websocket clients.
type EventHub struct {
	events   *notifications.Service
	logger   *logging.Logger
	upgrader websocket.Upgrader

	clients map[string]*wsClient
	closed  bool
	wg      sync.WaitGroup

	mu sync.Mutex
}

// NewEventHub creates a hub fed by events. A nil service yields silent
// streams.
func NewEventHub(events *notifications.Service, logger *logging.Logger) *EventHub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &EventHub{
		events: events,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || isExtensionOrigin(origin)
			},
		},
		clients: make(map[string]*wsClient),
	}
}

// ServeHTTP returns the /events handler. The token travels in the query
// string because browsers cannot set headers on a websocket handshake.
func (h *EventHub) ServeHTTP(valid func(string) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" || !valid(token) {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		h.mu.Lock()
		closed := h.closed
		h.mu.Unlock()
		if closed {
			respondError(w, http.StatusServiceUnavailable, "shutting down")
			return
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Debug("websocket upgrade failed: %v", err)
			return
		}
		h.register(conn)
	}
}

// ClientCount returns the number of open streams.
func (h *EventHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their pumps to exit.
func (h *EventHub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
	h.wg.Wait()
}

func (h *EventHub) register(conn *websocket.Conn) {
	c := &wsClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan notifications.Event, clientBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c.id] = c
	h.wg.Add(2)
	h.mu.Unlock()

	if h.events != nil {
		h.events.Subscribe(c)
	}
	h.logger.Debug("event stream %s connected", c.id)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *EventHub) unregister(c *wsClient) {
	c.once.Do(func() {
		if h.events != nil {
			h.events.Unsubscribe(c.id)
		}
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
		if n := c.dropped.Load(); n > 0 {
			h.logger.Debug("event stream %s closed, %d events dropped", c.id, n)
		} else {
			h.logger.Debug("event stream %s closed", c.id)
		}
	})
}

// readPump discards client frames and notices when the peer goes away.
func (h *EventHub) readPump(c *wsClient) {
	defer h.wg.Done()
	defer h.unregister(c)

	c.conn.SetReadLimit(maxClientFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) writePump(c *wsClient) {
	defer h.wg.Done()
	defer h.unregister(c)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case evt := <-c.send:
			data, err := sonic.Marshal(evt)
			if err != nil {
				h.logger.Warn("encode %s event: %v", evt.Type, err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

// wsClient is a notifications.Subscriber backed by one websocket.
type wsClient struct {
	id      string
	conn    *websocket.Conn
	send    chan notifications.Event
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

func (c *wsClient) ID() string { return c.id }

// Send queues e without blocking; a full buffer drops the event.
func (c *wsClient) Send(e notifications.Event) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	select {
	case c.send <- e:
	default:
		c.dropped.Add(1)
	}
	return nil
}
