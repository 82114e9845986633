package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cvehub/cvehub/internal/clock"
	"github.com/cvehub/cvehub/pkg/config"
	"github.com/cvehub/cvehub/pkg/logger"
)

// Target selects which connections an Emit call reaches.
type Target struct {
	SID            string // single connection
	Username       string // every connection for one user
	CVESubscribers string // every subscriber of this CVE id
	Broadcast      bool   // every connection
}

// conn wraps a single WebSocket connection with the buffered write pump
// §4.3 requires: nothing blocks on a slow client past its send buffer.
type conn struct {
	sid  string
	ws   *websocket.Conn
	send chan Envelope
}

// Hub is the push fabric (C5): it owns connection lifecycles and fans
// outbound events out according to Target, backed by the session Registry
// (C4) for addressing.
type Hub struct {
	cfg config.WebSocketConfig
	log *logger.Logger
	reg *Registry

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*conn // sid -> conn
}

// NewHub builds a Hub over reg using cfg's keep-alive and buffering
// parameters.
func NewHub(cfg config.WebSocketConfig, reg *Registry, log *logger.Logger) *Hub {
	return &Hub{
		cfg:   cfg,
		log:   log.WithComponent("realtime"),
		reg:   reg,
		conns: make(map[string]*conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Registry exposes the underlying session registry for handlers that need
// to answer subscriber-count queries outside of a connection's lifecycle.
func (h *Hub) Registry() *Registry { return h.reg }

// newEnvelope stamps event/data with the UTC instant of construction, per
// §6's {type, data, timestamp} wire contract.
func newEnvelope(event string, data any) Envelope {
	return Envelope{Type: event, Data: data, Timestamp: clock.FormatISO8601(time.Now())}
}

// HandleConnection upgrades an HTTP request, registers the session, and
// runs its read/write pumps until the connection closes. username is empty
// for unauthenticated connections; sessionID is client-supplied and
// survives reconnects.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request, username, sessionID string) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	sid := NewSessionID()
	snap := h.reg.Register(sid, username, sessionID)

	c := &conn{sid: sid, ws: ws, send: make(chan Envelope, h.cfg.SendBufferSize)}
	h.mu.Lock()
	h.conns[sid] = c
	h.mu.Unlock()

	ws.SetReadLimit(h.cfg.MaxMessageSize)

	done := make(chan struct{})
	go h.writePump(c, done)
	h.send(c, newEnvelope(EventConnected, ConnectAckPayload{
		Authenticated: snap.Username != "",
		Username:      snap.Username,
		SessionID:     snap.SessionID,
		ServerTime:    clock.FormatISO8601(time.Now()),
	}))

	h.readPump(c, done)

	h.mu.Lock()
	delete(h.conns, sid)
	h.mu.Unlock()
	h.reg.Remove(sid)

	return nil
}

// readPump processes inbound client events until the connection errors or
// closes, then signals the write pump to stop via done.
func (h *Hub) readPump(c *conn, done chan struct{}) {
	defer close(done)

	pongWait := h.cfg.PongTimeout
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var in struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			h.send(c, newEnvelope(EventError, ErrorPayload{Message: "malformed message"}))
			continue
		}

		switch in.Event {
		case EventSubscribeCVE, EventUnsubscribeCVE:
			var payload struct {
				CVEID string `json:"cve_id"`
			}
			if err := json.Unmarshal(in.Data, &payload); err != nil || payload.CVEID == "" {
				h.send(c, newEnvelope(EventError, ErrorPayload{Message: "cve_id required"}))
				continue
			}
			h.handleSubscription(c, in.Event, payload.CVEID)
		case EventPing:
			h.send(c, newEnvelope(EventPong, nil))
		default:
			h.send(c, newEnvelope(EventError, ErrorPayload{Message: "unknown event: " + in.Event}))
		}
	}
}

func (h *Hub) handleSubscription(c *conn, event, cveID string) {
	var result SubscribeResult
	var subscribed bool
	switch event {
	case EventSubscribeCVE:
		result = h.reg.Subscribe(c.sid, cveID)
		subscribed = true
	case EventUnsubscribeCVE:
		result = h.reg.Unsubscribe(c.sid, cveID)
	}

	h.send(c, newEnvelope(EventSubscriptionStatus, SubscriptionStatusPayload{
		CVEID:           cveID,
		Subscribed:      subscribed,
		SubscriberCount: result.SubscriberCount,
		Subscribers:     result.Subscribers,
	}))

	h.Emit(EventCVESubscribersUpdated, CVESubscribersUpdatedPayload{
		CVEID:           cveID,
		SubscriberCount: result.SubscriberCount,
	}, Target{CVESubscribers: cveID})
}

// writePump serializes all outbound writes for one connection and drives
// its ping keep-alive, per §4.3.
func (h *Hub) writePump(c *conn, done chan struct{}) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// send enqueues env for a single connection's write pump, dropping it if
// the connection's buffer is full rather than blocking the caller.
func (h *Hub) send(c *conn, env Envelope) {
	select {
	case c.send <- env:
	default:
		h.log.Warn("dropping event for slow consumer", "sid", c.sid, "event", env.Type)
	}
}

// Emit fans event out to every connection matched by target.
func (h *Hub) Emit(event string, data any, target Target) {
	env := newEnvelope(event, data)

	var sids []string
	switch {
	case target.SID != "":
		sids = []string{target.SID}
	case target.Username != "":
		sids = h.reg.SIDsForUser(target.Username)
	case target.CVESubscribers != "":
		for _, user := range h.reg.SubscribersOf(target.CVESubscribers) {
			sids = append(sids, h.reg.SIDsForUser(user)...)
		}
	case target.Broadcast:
		sids = h.reg.AllSIDs()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sid := range sids {
		if c, ok := h.conns[sid]; ok {
			h.send(c, env)
		}
	}
}
