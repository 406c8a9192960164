// Package gateway manages the persistent client connections: it routes
// inbound turn and typing frames to the conversation engine and fans
// generated reply chunks back out to whoever is attached to a session.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yungbote/companion-backend/internal/platform/logger"
)

// ErrUnauthorized is returned by Authorize when the connection's user
// does not own the session it names. The offending client alone is told
// to log out; other subscribers stay attached.
var ErrUnauthorized = errors.New("sender does not own session")

// TurnHandler receives inbound traffic from the socket. Implemented by
// the chat engine; split out so the hub carries no chat semantics.
// Authorize runs before every frame touches a subscription, so a
// connection never attaches to a session it cannot prove access to.
type TurnHandler interface {
	Authorize(ctx context.Context, userID, sessionID string) error
	HandleTyping(sessionID string)
	HandleTurn(ctx context.Context, userID string, frame InboundFrame) error
}

type Hub struct {
	log     *logger.Logger
	handler TurnHandler

	mu            sync.RWMutex
	subscriptions map[string]map[*Client]bool

	upgrader websocket.Upgrader
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:           log.With("component", "GatewayHub"),
		subscriptions: make(map[string]map[*Client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SetHandler attaches the inbound frame consumer. Called once during
// wiring, before the router starts serving.
func (h *Hub) SetHandler(handler TurnHandler) { h.handler = handler }

// ServeWS upgrades the request and runs the connection until it drops.
// The auth middleware has already resolved user_id onto the context.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "error", err)
		return
	}
	clientID := uuid.New()
	client := &Client{
		ID:       clientID,
		UserID:   c.GetString("user_id"),
		Sessions: make(map[string]bool),
		conn:     conn,
		outbound: make(chan OutboundFrame, outboundBuffer),
		done:     make(chan struct{}),
		log:      h.log.With("client_id", clientID.String()),
	}
	h.log.Debug("Websocket client connected", "user_id", client.UserID)

	go client.writePump()
	client.readPump(h)
}

func (h *Hub) dispatch(c *Client, frame InboundFrame) {
	sessionID := strings.TrimSpace(frame.SessionID)
	if sessionID == "" || h.handler == nil {
		return
	}
	if err := h.handler.Authorize(context.Background(), c.UserID, sessionID); err != nil {
		h.reject(c, sessionID, err)
		return
	}
	h.subscribe(c, sessionID)

	if frame.IsTyping() {
		h.handler.HandleTyping(sessionID)
		return
	}
	if strings.TrimSpace(frame.Text) == "" {
		return
	}
	if err := h.handler.HandleTurn(context.Background(), c.UserID, frame); err != nil {
		// No ack goes out; the client's own timeout drives recovery.
		h.log.Warn("Inbound turn rejected", "session_id", sessionID, "error", err)
	}
}

// reject handles a frame that failed authorization. Only the offending
// connection is touched: an ownership mismatch earns it a force_logout
// frame and detaches it from the session; an unknown or expired session
// is dropped silently and the client's own timeout drives recovery.
func (h *Hub) reject(c *Client, sessionID string, err error) {
	h.mu.Lock()
	delete(c.Sessions, sessionID)
	if clients, ok := h.subscriptions[sessionID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.subscriptions, sessionID)
		}
	}
	h.mu.Unlock()

	if errors.Is(err, ErrUnauthorized) {
		select {
		case c.outbound <- ForceLogout(sessionID):
		default:
		}
		h.log.Warn("Frame for foreign session rejected", "session_id", sessionID, "user_id", c.UserID)
		return
	}
	h.log.Debug("Frame for unknown session dropped", "session_id", sessionID, "error", err)
}

func (h *Hub) subscribe(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.Sessions[sessionID] = true
	clients, ok := h.subscriptions[sessionID]
	if !ok {
		clients = make(map[*Client]bool)
		h.subscriptions[sessionID] = clients
	}
	clients[c] = true
}

func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range c.Sessions {
		if clients, ok := h.subscriptions[id]; ok {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.subscriptions, id)
			}
		}
	}
	c.Sessions = make(map[string]bool)
	c.close()
}

// SendToSession delivers one frame to every client attached to the
// session. A client whose buffer is full is skipped rather than allowed
// to stall delivery for the rest.
func (h *Hub) SendToSession(sessionID string, frame OutboundFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subscriptions[sessionID] {
		select {
		case c.outbound <- frame:
		default:
			h.log.Warn("Dropping frame for slow client", "session_id", sessionID, "frame_type", frame.Type)
		}
	}
}
