package console

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/socrefy/matchdesk/go/internal/matchcontrol/controlroom"
)

// MessageControlState is the only message type pushed to viewers.
const MessageControlState = "control_state"

// Hub manages viewer websocket connections, pooled by match id.
type Hub struct {
	viewers map[string]map[*Viewer]bool
	mu      sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcast
}

// Viewer is one websocket client watching a match.
type Viewer struct {
	ID      string
	MatchID string
	Conn    *websocket.Conn
	Send    chan []byte
	hub     *Hub

	ConnectedAt time.Time
}

// ConnectionConfig holds websocket limits and timeouts.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// Envelope wraps every message sent to a viewer.
type Envelope struct {
	Type      string           `json:"type"`
	MatchID   string           `json:"match_id"`
	Data      controlroom.View `json:"data"`
	Timestamp time.Time        `json:"timestamp"`
}

type broadcast struct {
	matchID string
	view    controlroom.View
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		SendBuffer:      64,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

func NewHub(config ConnectionConfig) *Hub {
	if config.SendBuffer <= 0 {
		config.SendBuffer = DefaultConnectionConfig().SendBuffer
	}
	return &Hub{
		viewers: make(map[string]map[*Viewer]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcast, 1000),
	}
}

// Run fans out broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	log.Info().Msg("viewer hub started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("viewer hub shutting down")
			h.closeAll()
			return
		case msg := <-h.broadcastCh:
			h.handleBroadcast(msg)
		}
	}
}

// Upgrade turns the request into a viewer of matchID and sends it initial.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, matchID string, initial controlroom.View) (*Viewer, error) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	viewer := &Viewer{
		ID:          uuid.NewString(),
		MatchID:     matchID,
		Conn:        conn,
		Send:        make(chan []byte, h.config.SendBuffer),
		hub:         h,
		ConnectedAt: time.Now(),
	}
	if data, err := encode(matchID, initial); err == nil {
		viewer.Send <- data
	}
	h.register(viewer)

	go viewer.writePump()
	go viewer.readPump()

	log.Info().
		Str("connection_id", viewer.ID).
		Str("match_id", matchID).
		Msg("viewer connected")
	return viewer, nil
}

// Broadcast queues view for every viewer of matchID. It never blocks.
func (h *Hub) Broadcast(matchID string, view controlroom.View) {
	select {
	case h.broadcastCh <- broadcast{matchID: matchID, view: view}:
	default:
		log.Warn().Str("match_id", matchID).Msg("broadcast channel full, dropping view")
	}
}

// Count returns the number of viewers of matchID, or of all matches when empty.
func (h *Hub) Count(matchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if matchID != "" {
		return len(h.viewers[matchID])
	}
	total := 0
	for _, pool := range h.viewers {
		total += len(pool)
	}
	return total
}

func (h *Hub) register(v *Viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.viewers[v.MatchID] == nil {
		h.viewers[v.MatchID] = make(map[*Viewer]bool)
	}
	h.viewers[v.MatchID][v] = true

	log.Debug().
		Str("connection_id", v.ID).
		Str("match_id", v.MatchID).
		Int("total_connections", len(h.viewers[v.MatchID])).
		Msg("viewer registered")
}

func (h *Hub) unregister(v *Viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pool, ok := h.viewers[v.MatchID]
	if !ok {
		return
	}
	if _, ok := pool[v]; !ok {
		return
	}
	delete(pool, v)
	close(v.Send)
	if len(pool) == 0 {
		delete(h.viewers, v.MatchID)
	}
	log.Info().
		Str("connection_id", v.ID).
		Str("match_id", v.MatchID).
		Msg("viewer disconnected")
}

func (h *Hub) handleBroadcast(msg broadcast) {
	if h.Count(msg.matchID) == 0 {
		return
	}

	data, err := encode(msg.matchID, msg.view)
	if err != nil {
		log.Error().Err(err).Str("match_id", msg.matchID).Msg("failed to marshal view")
		return
	}

	// Sends happen under the read lock so unregister cannot close Send mid-send.
	var slow []*Viewer
	h.mu.RLock()
	for v := range h.viewers[msg.matchID] {
		select {
		case v.Send <- data:
		default:
			slow = append(slow, v)
		}
	}
	h.mu.RUnlock()

	for _, v := range slow {
		log.Warn().Str("connection_id", v.ID).Msg("viewer send buffer full, closing connection")
		h.unregister(v)
		_ = v.Conn.Close()
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	var all []*Viewer
	for _, pool := range h.viewers {
		for v := range pool {
			all = append(all, v)
		}
	}
	h.mu.RUnlock()

	for _, v := range all {
		h.unregister(v)
	}
}

func encode(matchID string, view controlroom.View) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:      MessageControlState,
		MatchID:   matchID,
		Data:      view,
		Timestamp: time.Now().UTC(),
	})
}

func (v *Viewer) writePump() {
	ticker := time.NewTicker(v.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = v.Conn.Close()
		v.hub.unregister(v)
	}()

	for {
		select {
		case message, ok := <-v.Send:
			_ = v.Conn.SetWriteDeadline(time.Now().Add(v.hub.config.WriteTimeout))
			if !ok {
				_ = v.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", v.ID).Msg("failed to write view to websocket")
				return
			}
		case <-ticker.C:
			_ = v.Conn.SetWriteDeadline(time.Now().Add(v.hub.config.WriteTimeout))
			if err := v.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", v.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump only keeps the read deadline alive; viewers do not send commands.
func (v *Viewer) readPump() {
	defer func() {
		v.hub.unregister(v)
		_ = v.Conn.Close()
	}()

	v.Conn.SetReadLimit(v.hub.config.MaxMessageSize)
	_ = v.Conn.SetReadDeadline(time.Now().Add(v.hub.config.ReadTimeout))
	v.Conn.SetPongHandler(func(string) error {
		return v.Conn.SetReadDeadline(time.Now().Add(v.hub.config.ReadTimeout))
	})

	for {
		if _, _, err := v.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", v.ID).Msg("unexpected websocket close")
			}
			return
		}
		_ = v.Conn.SetReadDeadline(time.Now().Add(v.hub.config.ReadTimeout))
	}
}
