// Package console serves the operator desk: a JSON API that drives control rooms
// and a websocket feed that pushes every room change to its viewers.
package console

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/socrefy/matchdesk/go/internal/matchcontrol/controlroom"
)

// Service owns the viewer hub, the room registry and the HTTP handler.
type Service struct {
	hub     *Hub
	rooms   *Rooms
	handler *Handler
}

// DefaultRoomIdleTimeout is how long a room stays open without requests or viewers.
const DefaultRoomIdleTimeout = 2 * time.Minute

type Config struct {
	ConnectionConfig ConnectionConfig
	Room             controlroom.Options
	// RoomIdleTimeout closes unused rooms. Zero keeps rooms open until Stop.
	RoomIdleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		RoomIdleTimeout:  DefaultRoomIdleTimeout,
	}
}

func NewService(config Config, gateway controlroom.Gateway) *Service {
	hub := NewHub(config.ConnectionConfig)
	rooms := NewRooms(gateway, config.Room, hub, config.RoomIdleTimeout)
	return &Service{
		hub:     hub,
		rooms:   rooms,
		handler: NewHandler(rooms, hub),
	}
}

// Start runs the hub until ctx is done, then closes every room.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting console service")
	s.hub.Run(ctx)
	s.Stop()
}

// Stop closes every open room.
func (s *Service) Stop() {
	s.rooms.CloseAll()
	log.Info().Msg("console service stopped")
}

// RegisterRoutes registers the API, websocket and info routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.handler.RegisterRoutes(mux)
	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Stats())
	})
	log.Info().Msg("console routes registered")
}

// Rooms exposes the room registry.
func (s *Service) Rooms() *Rooms {
	return s.rooms
}

type Stats struct {
	Service          string   `json:"service"`
	Status           string   `json:"status"`
	OpenRooms        []string `json:"open_rooms"`
	TotalConnections int      `json:"total_connections"`
}

func (s *Service) Stats() Stats {
	return Stats{
		Service:          "matchdesk_console",
		Status:           "running",
		OpenRooms:        s.rooms.IDs(),
		TotalConnections: s.hub.Count(""),
	}
}
