package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/davidleathers/fraud-signal-service/internal/domain/transaction"
	"github.com/davidleathers/fraud-signal-service/internal/service/fraud"
)

// SignalEventType represents the type of a feed event
type SignalEventType string

const (
	SignalEventScored     SignalEventType = "transaction.scored"
	SignalEventConnected  SignalEventType = "connection.established"
	SignalEventPong       SignalEventType = "pong"
	SignalEventFiltersSet SignalEventType = "filters.updated"
)

const (
	broadcastBuffer = 256
	clientBuffer    = 32
	pingInterval    = 30 * time.Second
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	maxMessageSize  = 1024
)

// SignalEvent is one message on the live signal feed
type SignalEvent struct {
	ID           string                 `json:"id"`
	Type         SignalEventType        `json:"type"`
	CustomerName string                 `json:"customerName,omitempty"`
	MerchantName string                 `json:"merchantName,omitempty"`
	Flagged      bool                   `json:"flagged"`
	Signals      []fraud.Signal         `json:"signals,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// SignalFilters narrows which scored transactions a client receives
type SignalFilters struct {
	FlaggedOnly   bool               `json:"flaggedOnly,omitempty"`
	CustomerNames []string           `json:"customerNames,omitempty"`
	Signals       []fraud.SignalKind `json:"signals,omitempty"`
}

// Matches reports whether a scored event passes the filters. Non-scoring
// events always pass.
func (f SignalFilters) Matches(event *SignalEvent) bool {
	if event.Type != SignalEventScored {
		return true
	}
	if f.FlaggedOnly && !event.Flagged {
		return false
	}

	if len(f.CustomerNames) > 0 {
		found := false
		for _, name := range f.CustomerNames {
			if name == event.CustomerName {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.Signals) > 0 {
		found := false
		for _, kind := range f.Signals {
			for _, s := range event.Signals {
				if s.Kind == kind && s.PotentialFraud {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// SignalHub fans scored transactions out to connected WebSocket clients
type SignalHub struct {
	logger      *zap.Logger
	clients     map[uuid.UUID]*SignalClient
	clientsLock sync.RWMutex
	broadcast   chan *SignalEvent
	register    chan *SignalClient
	unregister  chan *SignalClient
	done        chan struct{}
	stopOnce    sync.Once

	// OnDrop is called when an event is dropped because the hub is backlogged
	OnDrop func()
}

// NewSignalHub creates a new signal hub
func NewSignalHub(logger *zap.Logger) *SignalHub {
	return &SignalHub{
		logger:     logger,
		clients:    make(map[uuid.UUID]*SignalClient),
		broadcast:  make(chan *SignalEvent, broadcastBuffer),
		register:   make(chan *SignalClient),
		unregister: make(chan *SignalClient),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is done or Stop is called
func (h *SignalHub) Run(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Stop()
			h.shutdown()
			return
		case <-h.done:
			h.shutdown()
			return
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case event := <-h.broadcast:
			h.broadcastEvent(event)
		case <-ticker.C:
			h.pingClients()
		}
	}
}

// Stop shuts the hub down. It is safe to call more than once.
func (h *SignalHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// PublishScored queues a transaction.scored event. It never blocks the caller;
// when the hub is backlogged the event is dropped.
func (h *SignalHub) PublishScored(_ context.Context, req *transaction.Request, resp *fraud.ScoreResponse) {
	event := &SignalEvent{
		ID:           uuid.New().String(),
		Type:         SignalEventScored,
		CustomerName: req.CustomerName,
		MerchantName: req.TransactionDetails.MerchantName,
		Flagged:      resp.Flagged(),
		Signals:      resp.Signals,
		Timestamp:    time.Now().UTC(),
	}

	select {
	case <-h.done:
	case h.broadcast <- event:
	default:
		h.logger.Warn("signal feed backlogged, dropping event",
			zap.String("event_id", event.ID),
			zap.String("customer", event.CustomerName))
		if h.OnDrop != nil {
			h.OnDrop()
		}
	}
}

// RegisterClient adds a client to the hub. It reports false once the hub has stopped.
func (h *SignalHub) RegisterClient(client *SignalClient) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// UnregisterClient removes a client from the hub
func (h *SignalHub) UnregisterClient(client *SignalClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *SignalHub) ClientCount() int {
	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()
	return len(h.clients)
}

func (h *SignalHub) registerClient(client *SignalClient) {
	h.clientsLock.Lock()
	h.clients[client.ID] = client
	h.clientsLock.Unlock()

	h.logger.Info("WebSocket client registered",
		zap.String("client_id", client.ID.String()),
		zap.String("remote_addr", client.remoteAddr))

	client.trySend(&SignalEvent{
		ID:        uuid.New().String(),
		Type:      SignalEventConnected,
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"clientId": client.ID.String(),
			"message":  "Connected to fraud signal stream",
		},
	})
}

func (h *SignalHub) unregisterClient(client *SignalClient) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	if _, exists := h.clients[client.ID]; exists {
		delete(h.clients, client.ID)
		close(client.send)
		h.logger.Info("WebSocket client unregistered",
			zap.String("client_id", client.ID.String()))
	}
}

func (h *SignalHub) broadcastEvent(event *SignalEvent) {
	var slow []*SignalClient

	h.clientsLock.RLock()
	for _, client := range h.clients {
		if !client.Filters().Matches(event) {
			continue
		}
		if !client.trySend(event) {
			slow = append(slow, client)
		}
	}
	h.clientsLock.RUnlock()

	for _, client := range slow {
		h.logger.Warn("Client send buffer full, closing connection",
			zap.String("client_id", client.ID.String()))
		h.unregisterClient(client)
	}
}

func (h *SignalHub) pingClients() {
	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()

	for _, client := range h.clients {
		if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			h.logger.Debug("Failed to ping client",
				zap.String("client_id", client.ID.String()),
				zap.Error(err))
		}
	}
}

func (h *SignalHub) shutdown() {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
	h.logger.Info("signal hub stopped")
}

// SignalClient is one WebSocket subscriber
type SignalClient struct {
	ID          uuid.UUID
	conn        *websocket.Conn
	send        chan *SignalEvent
	hub         *SignalHub
	remoteAddr  string
	connectedAt time.Time

	filtersLock sync.RWMutex
	filters     SignalFilters
}

// NewSignalClient creates a client for an upgraded connection
func NewSignalClient(conn *websocket.Conn, hub *SignalHub, remoteAddr string) *SignalClient {
	return &SignalClient{
		ID:          uuid.New(),
		conn:        conn,
		send:        make(chan *SignalEvent, clientBuffer),
		hub:         hub,
		remoteAddr:  remoteAddr,
		connectedAt: time.Now(),
	}
}

// Filters returns the client's current filters
func (c *SignalClient) Filters() SignalFilters {
	c.filtersLock.RLock()
	defer c.filtersLock.RUnlock()
	return c.filters
}

func (c *SignalClient) setFilters(f SignalFilters) {
	c.filtersLock.Lock()
	c.filters = f
	c.filtersLock.Unlock()
}

// trySend queues an event without blocking. Callers hold the hub lock so
// send is never closed underneath them.
func (c *SignalClient) trySend(event *SignalEvent) bool {
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

type clientMessage struct {
	Type    string        `json:"type"`
	Filters SignalFilters `json:"filters"`
}

// ReadPump handles client control messages until the connection closes
func (c *SignalClient) ReadPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("WebSocket read error",
					zap.String("client_id", c.ID.String()),
					zap.Error(err))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Debug("Failed to parse client message",
				zap.String("client_id", c.ID.String()),
				zap.Error(err))
			continue
		}

		switch msg.Type {
		case "update_filters":
			c.setFilters(msg.Filters)
			c.reply(&SignalEvent{
				ID:        uuid.New().String(),
				Type:      SignalEventFiltersSet,
				Timestamp: time.Now().UTC(),
			})
		case "ping":
			c.reply(&SignalEvent{
				ID:        uuid.New().String(),
				Type:      SignalEventPong,
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

// reply queues a direct response; the hub lock keeps send open meanwhile
func (c *SignalClient) reply(event *SignalEvent) {
	c.hub.clientsLock.RLock()
	defer c.hub.clientsLock.RUnlock()

	if _, ok := c.hub.clients[c.ID]; ok {
		c.trySend(event)
	}
}

// WritePump writes queued events to the connection
func (c *SignalClient) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
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
