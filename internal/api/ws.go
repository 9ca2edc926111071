package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sprite-ai/triage/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024 * 4,
	WriteBufferSize: 1024 * 4,
	CheckOrigin: func(r *http.Request) bool {
		return true // clients authenticate with the bearer token
	},
}

// WebSocket message types from client.
const (
	wsMsgPing = "ping"
)

// WebSocket message types to client.
const (
	wsMsgConnected    = "connected"
	wsMsgStateChanged = "state_changed"
	wsMsgPong         = "pong"
	wsMsgError        = "error"
)

const (
	wsSendBuffer   = 32
	wsWriteTimeout = 10 * time.Second
)

// wsMessage is the envelope for WebSocket messages in both directions.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	repo string // empty subscribes to every repository
	send chan wsMessage
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// hub fans state changes out to subscribers. A change can be reported
// twice, once by the writing handler and once by the store watcher, so
// the last version sent per document is remembered and repeats are
// dropped.
type hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	last    map[string]int64
	logger  *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		clients: make(map[*wsClient]struct{}),
		last:    make(map[string]int64),
		logger:  logger,
	}
}

func (h *hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	wsClients.Inc()
}

// remove unsubscribes c and closes its queue, which ends its write loop.
func (h *hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.close()
	wsClients.Dec()
}

// send queues msg for c unless c is gone or its queue is full.
func (h *hub) send(c *wsClient, msg wsMessage) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (h *hub) broadcast(ev model.StateChange) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("encode state change", "error", err)
		return
	}
	msg := wsMessage{Type: wsMsgStateChanged, Data: data}
	docKey := ev.Repo + "/" + ev.Comparison

	h.mu.Lock()
	if ev.Deleted {
		delete(h.last, docKey)
	} else {
		if ev.Version <= h.last[docKey] {
			h.mu.Unlock()
			return
		}
		h.last[docKey] = ev.Version
	}
	var slow []*wsClient
	for c := range h.clients {
		if c.repo != "" && c.repo != ev.Repo {
			continue
		}
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()
	wsNotifications.Inc()

	for _, c := range slow {
		h.logger.Warn("dropping slow websocket subscriber", "remote", c.conn.RemoteAddr().String())
		h.remove(c)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
}

// handleWebSocket subscribes the connection to state changes. ?repo=
// limits notifications to one repository id.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "error", err)
		return
	}

	c := &wsClient{conn: conn, repo: r.URL.Query().Get("repo"), send: make(chan wsMessage, wsSendBuffer)}
	s.hub.add(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		writeLoop(c)
	}()

	sendWSMessage(s.hub, c, wsMsgConnected, map[string]string{"version": s.version})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read", "error", err)
			}
			break
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			sendWSError(s.hub, c, "invalid message format")
			continue
		}
		switch msg.Type {
		case wsMsgPing:
			sendWSMessage(s.hub, c, wsMsgPong, nil)
		default:
			sendWSError(s.hub, c, "unknown message type: "+msg.Type)
		}
	}

	s.hub.remove(c)
	<-done
}

// writeLoop owns all writes to the connection.
func writeLoop(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// sendWSMessage queues a typed message for the client.
func sendWSMessage(h *hub, c *wsClient, msgType string, data any) {
	msg := wsMessage{Type: msgType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			h.logger.Warn("encode websocket message", "type", msgType, "error", err)
			return
		}
		msg.Data = raw
	}
	h.send(c, msg)
}

// sendWSError queues an error message for the client.
func sendWSError(h *hub, c *wsClient, msg string) {
	sendWSMessage(h, c, wsMsgError, map[string]string{"error": msg})
}
