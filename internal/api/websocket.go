package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-vdev/internal/auth"
	"github.com/nerrad567/gray-logic-vdev/internal/automation"
	"github.com/nerrad567/gray-logic-vdev/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-vdev/internal/infrastructure/logging"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// ChannelDatapointChanged carries {target, value} for every state bus change.
	// Run lifecycle events use automation.EventChainStarted and EventChainSettled.
	ChannelDatapointChanged = "datapoint.changed"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	// Fallbacks for an unset websocket config section, in seconds.
	defaultPingInterval = 30
	defaultPongTimeout  = 10
)

// wsChannels are the channels a client may subscribe to.
var wsChannels = map[string]struct{}{
	automation.EventChainStarted: {},
	automation.EventChainSettled: {},
	ChannelDatapointChanged:      {},
}

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
//
// Devices narrows chain.* channels to runs of the listed device IDs.
// Targets narrows datapoint.changed to targets under the listed prefixes
// ("hvac/" matches "hvac/pump-1/relay"). Empty lists match everything.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Devices  []string `json:"devices,omitempty"`
	Targets  []string `json:"targets,omitempty"`
}

// wsEvent is a broadcast with the keys clients filter on pulled out of
// its payload.
type wsEvent struct {
	channel  string
	deviceID string
	target   string
}

// newWSEvent reads device_id and target from a map payload. Other payload
// shapes carry no filter keys and reach every subscriber of the channel.
func newWSEvent(channel string, payload any) wsEvent {
	ev := wsEvent{channel: channel}
	if m, ok := payload.(map[string]any); ok {
		ev.deviceID, _ = m["device_id"].(string)
		ev.target, _ = m["target"].(string)
	}
	return ev
}

// wsFilter is one channel subscription. Nil sets match everything.
type wsFilter struct {
	devices map[string]struct{}
	targets []string
}

func newWSFilter(sub WSSubscribePayload) wsFilter {
	f := wsFilter{targets: sub.Targets}
	if len(sub.Devices) > 0 {
		f.devices = make(map[string]struct{}, len(sub.Devices))
		for _, id := range sub.Devices {
			f.devices[id] = struct{}{}
		}
	}
	return f
}

func (f wsFilter) matches(ev wsEvent) bool {
	if f.devices != nil && ev.deviceID != "" {
		if _, ok := f.devices[ev.deviceID]; !ok {
			return false
		}
	}
	if len(f.targets) > 0 && ev.target != "" {
		return f.matchesTarget(ev.target)
	}
	return true
}

func (f wsFilter) matchesTarget(target string) bool {
	if len(f.targets) == 0 {
		return true
	}
	for _, prefix := range f.targets {
		if strings.HasPrefix(target, prefix) {
			return true
		}
	}
	return false
}

// Hub manages WebSocket connections and broadcasts events. It satisfies
// automation.WSHub.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]wsFilter
	mu            sync.RWMutex
	// snapshot returns the bus's current values; nil without a state bus.
	snapshot func() map[string]any
	// Identity propagated from the WebSocket ticket; empty with auth disabled.
	subject string
	role    auth.Role
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run starts the hub's main loop. It blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast sends an event to every client subscribed to channel whose
// filter accepts it.
func (h *Hub) Broadcast(channel string, payload any) {
	ev := newWSEvent(channel, payload)

	// Snapshot client list under hub lock, then release before the
	// per-client subscription checks.
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var data []byte
	sentCount := 0
	for _, client := range clients {
		if !client.wants(ev) {
			continue
		}
		if data == nil {
			var err error
			data, err = json.Marshal(WSMessage{
				Type:      WSTypeEvent,
				EventType: channel,
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
				Payload:   payload,
			})
			if err != nil {
				h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
				return
			}
		}
		client.trySend(data)
		sentCount++
	}
	if sentCount > 0 {
		h.logger.Debug("broadcast sent",
			"channel", channel,
			"device_id", ev.deviceID,
			"target", ev.target,
			"recipients", sentCount,
		)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
// With auth enabled a ticket query parameter (from POST /auth/ws-ticket) is required.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var entry ticketEntry
	if s.secCfg.AuthEnabled {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		var ok bool
		entry, ok = s.tickets.redeem(ticket)
		if !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]wsFilter),
		subject:       entry.subject,
		role:          entry.role,
	}
	if s.datapoints != nil {
		client.snapshot = s.datapoints.Snapshot
	}

	s.hub.Register(client)

	cfg := s.wsCfg
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}

	// Start read/write pumps
	go client.writePump(cfg)
	go client.readPump(cfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if browser doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// decodeSubscription reads a subscribe/unsubscribe payload.
func decodeSubscription(payload any) (WSSubscribePayload, error) {
	var sub WSSubscribePayload
	data, err := json.Marshal(payload)
	if err != nil {
		return sub, err
	}
	err = json.Unmarshal(data, &sub)
	return sub, err
}

// handleSubscribe adds channels to the client's subscription list. Unknown
// channels are reported back as rejected. A datapoint.changed subscription
// is answered with the current value of every matching target.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	sub, err := decodeSubscription(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}

	filter := newWSFilter(sub)
	subscribed := []string{}
	var rejected []string

	c.mu.Lock()
	for _, ch := range sub.Channels {
		if _, known := wsChannels[ch]; !known {
			rejected = append(rejected, ch)
			continue
		}
		c.subscriptions[ch] = filter
		subscribed = append(subscribed, ch)
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed",
		"channels", subscribed,
		"devices", sub.Devices,
		"targets", sub.Targets,
		"subject", c.subject,
	)

	resp := map[string]any{"subscribed": subscribed}
	if len(rejected) > 0 {
		resp["rejected"] = rejected
	}
	if slices.Contains(subscribed, ChannelDatapointChanged) && c.snapshot != nil {
		current := make(map[string]any)
		for target, value := range c.snapshot() {
			if filter.matchesTarget(target) {
				current[target] = value
			}
		}
		resp["datapoints"] = current
	}
	c.sendResponse(msg.ID, WSTypeResponse, resp)
}

// handleUnsubscribe removes channels from the client's subscription list.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	sub, err := decodeSubscription(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid unsubscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": sub.Channels,
	})
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during broadcast)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// wants reports whether the client subscribed to ev's channel with a filter
// that accepts it.
func (c *WSClient) wants(ev wsEvent) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	filter, ok := c.subscriptions[ev.channel]
	return ok && filter.matches(ev)
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
