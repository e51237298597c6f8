package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain"
	"github.com/satriahrh/ditado/domain/entities"
	"github.com/satriahrh/ditado/domain/repositories"
	"github.com/satriahrh/ditado/internal/telemetry"
	"github.com/satriahrh/ditado/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	sendBufferSize      = 256
	broadcastBufferSize = 256
)

// Controller is the workflow surface UI clients drive
type Controller interface {
	ToggleRecord(ctx context.Context) (*usecase.ToggleResult, error)
	Synthesize(ctx context.Context, text string) (*entities.WorkflowRecord, error)
	Cancel() bool
	State() domain.UIState
}

// Hub maintains the set of active clients and broadcasts UI events to them.
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Encoded UI events for every client.
	broadcast chan []byte

	// Closed when Run returns.
	done chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	controller Controller
	validator  *MessageValidator
	upgrader   websocket.Upgrader
	metrics    *telemetry.Metrics
	logger     *zap.Logger
}

// Ensure Hub implements the UIPublisher interface
var _ repositories.UIPublisher = (*Hub)(nil)

// NewHub creates a new WebSocket hub. An empty allowedOrigins accepts any origin.
func NewHub(controller Controller, allowedOrigins []string, metrics *telemetry.Metrics, logger *zap.Logger) *Hub {
	if metrics == nil {
		metrics = telemetry.NoopMetrics()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, broadcastBufferSize),
		done:       make(chan struct{}),
		controller: controller,
		validator:  NewMessageValidator(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// SetController attaches the controller; the hub and the orchestrator
// reference each other, so one of them is wired after construction.
func (h *Hub) SetController(controller Controller) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.controller = controller
}

func (h *Hub) getController() Controller {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.controller
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin] || set["*"]
	}
}

// Run starts the hub's main loop and returns when ctx is done. It must be
// called at most once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.metrics.UIClientConnected(ctx, 1)
			h.logger.Info("Client registered", zap.String("clientID", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
				h.metrics.UIClientConnected(ctx, -1)
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("clientID", client.id))

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- WriteData{Type: websocket.TextMessage, Payload: message}:
				default:
					// slow consumer
					delete(h.clients, id)
					close(client.send)
					h.metrics.UIClientConnected(ctx, -1)
					h.logger.Warn("Dropping slow client", zap.String("clientID", id))
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// join hands client to the loop. It reports false once Run has returned.
func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish implements repositories.UIPublisher. It never blocks; events are
// dropped when the broadcast buffer is full.
func (h *Hub) Publish(event domain.UIEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to encode UI event", zap.String("type", string(event.Type)), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("Broadcast buffer full, dropping event", zap.String("type", string(event.Type)))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Connection id, or the authenticated client id
	id string

	logger *zap.Logger
}

// HandleWebSocket upgrades the request and registers the client. clientID may
// be empty for unauthenticated access.
func HandleWebSocket(hub *Hub, c echo.Context, clientID string, logger *zap.Logger) error {
	conn, err := hub.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	id := uuid.NewString()
	if clientID != "" {
		id = clientID + "/" + id
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan WriteData, sendBufferSize),
		id:     id,
		logger: logger.With(zap.String("clientID", id)),
	}

	// the first message is the current state snapshot
	if controller := hub.getController(); controller != nil {
		state := controller.State()
		if payload, err := json.Marshal(domain.UIEvent{Type: domain.UIEventState, State: &state, Timestamp: time.Now()}); err == nil {
			client.send <- WriteData{Type: websocket.TextMessage, Payload: payload}
		}
	}

	if !hub.join(client) {
		client.logger.Warn("Hub stopped, rejecting client")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps messages from the websocket connection to the controller.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		if messageType != websocket.TextMessage {
			c.sendJSON(CreateErrorMessage("invalid_request", "only text messages are accepted", ""))
			continue
		}
		c.processMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage dispatches one client command. Workflow commands run in their
// own goroutine because they last until the workflow ends.
func (c *Client) processMessage(message []byte) {
	parsed, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Invalid client message", zap.Error(err))
		c.sendJSON(CreateErrorMessage("invalid_request", err.Error(), ""))
		return
	}

	controller := c.hub.getController()
	if controller == nil {
		c.sendJSON(CreateErrorMessage("unavailable", "workflow controller not ready", ""))
		return
	}

	switch msg := parsed.(type) {
	case *PingMessage:
		c.sendJSON(CreatePongMessage(msg.MessageID, msg.Data))

	case *SynthesizeMessage:
		go func() {
			record, err := controller.Synthesize(context.Background(), msg.Text)
			c.reply(msg.BaseMessage, record, err)
		}()

	case *CommandMessage:
		switch msg.Type {
		case MessageTypeToggleRecord:
			go func() {
				result, err := controller.ToggleRecord(context.Background())
				c.reply(msg.BaseMessage, result, err)
			}()
		case MessageTypeCancel:
			c.reply(msg.BaseMessage, map[string]bool{"cancelled": controller.Cancel()}, nil)
		case MessageTypeGetState:
			c.reply(msg.BaseMessage, controller.State(), nil)
		}
	}
}

func (c *Client) reply(base BaseMessage, result interface{}, err error) {
	if err != nil {
		c.sendJSON(CreateWorkflowErrorMessage(base.MessageID, err))
		return
	}
	c.sendJSON(CreateCommandResult(base.MessageID, base.Type, result))
}

// sendJSON queues v for this client only; it gives up if the client is gone
// or its buffer is full.
func (c *Client) sendJSON(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode message", zap.Error(err))
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	default:
		c.logger.Warn("Client send buffer full, dropping message")
	}
}
