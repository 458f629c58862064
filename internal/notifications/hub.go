package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
	"github.com/trademon/trademon-backend/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	clientSendSize = 32
)

// RealtimeEvent is the frame pushed to connected websocket clients.
type RealtimeEvent struct {
	Kind         string               `json:"kind"`
	Notification RealtimeNotification `json:"notification"`
}

// RealtimeNotification mirrors an inbox row.
type RealtimeNotification struct {
	ID        uuid.UUID              `json:"id"`
	Type      enums.NotificationType `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Link      *string                `json:"link,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

var errHubStopped = errors.New("realtime hub stopped")

type client struct {
	userID uuid.UUID
	admin  bool
	conn   *websocket.Conn
	send   chan []byte
}

// Hub tracks websocket connections per user and pushes notifications to the
// ones that are online.
type Hub struct {
	mu         sync.RWMutex
	users      map[uuid.UUID]map[*client]struct{}
	admins     map[*client]struct{}
	register   chan *client
	unregister chan *client
	done       chan struct{}
	stopOnce   sync.Once
	upgrader   websocket.Upgrader
	logg       *logger.Logger
}

// NewHub creates an empty hub. allowedOrigins empty accepts any origin.
func NewHub(logg *logger.Logger, allowedOrigins ...string) *Hub {
	h := &Hub{
		users:      make(map[uuid.UUID]map[*client]struct{}),
		admins:     make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logg:       logg,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Name implements Channel.
func (h *Hub) Name() string { return "realtime" }

// Run owns connection registration until ctx is done, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.stopOnce.Do(func() { close(h.done) })
			h.closeAll()
			return nil
		case c := <-h.register:
			h.mu.Lock()
			if c.admin {
				h.admins[c] = struct{}{}
			}
			set, ok := h.users[c.userID]
			if !ok {
				set = make(map[*client]struct{})
				h.users[c.userID] = set
			}
			set[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			h.remove(c)
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(c *client) {
	set, ok := h.users[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.users, c.userID)
	}
	delete(h.admins, c)
	close(c.send)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.users {
		for c := range set {
			h.remove(c)
		}
	}
}

// Connected returns the number of live connections for userID.
func (h *Hub) Connected(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Deliver pushes row to every connection of its recipient. Admin alerts go to
// every admin connection. Slow clients whose buffer is full are dropped.
func (h *Hub) Deliver(_ context.Context, row models.Notification) error {
	frame, err := json.Marshal(RealtimeEvent{Kind: "notification", Notification: RealtimeNotification{
		ID:        row.ID,
		Type:      row.Type,
		Title:     row.Title,
		Message:   row.Message,
		Link:      row.Link,
		CreatedAt: row.CreatedAt,
	}})
	if err != nil {
		return err
	}

	h.mu.RLock()
	var targets []*client
	if row.Audience == enums.NotificationAudienceAdmin {
		for c := range h.admins {
			targets = append(targets, c)
		}
	} else {
		for c := range h.users[row.UserID] {
			targets = append(targets, c)
		}
	}
	var slow []*client
	for _, c := range targets {
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.drop(c)
	}
	return nil
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	h.remove(c)
	h.mu.Unlock()
}

// Serve upgrades the request and attaches the connection to userID. It
// returns once the connection is registered; pumps run in the background.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID uuid.UUID, admin bool) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{userID: userID, admin: admin, conn: conn, send: make(chan []byte, clientSendSize)}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return errHubStopped
	case <-r.Context().Done():
		_ = conn.Close()
		return r.Context().Err()
	}
	h.logg.Debug(h.logg.WithField(r.Context(), "user_id", userID), "websocket client connected")

	go h.writePump(c)
	go h.readPump(c)
	return nil
}

func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
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

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
