package console

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/socrefy/matchdesk/go/internal/matchcontrol/controlroom"
)

// Rooms opens one control room per match on first use. A room is closed once it
// has gone idleTimeout without requests or viewers, on Close, or on CloseAll.
// Every room broadcasts its view changes through the hub.
type Rooms struct {
	gateway     controlroom.Gateway
	opts        controlroom.Options
	hub         *Hub
	clock       clockwork.Clock
	idleTimeout time.Duration

	mu     sync.Mutex
	rooms  map[string]*openRoom
	closed bool
}

type openRoom struct {
	room     *controlroom.Room
	lastUsed time.Time
	timer    clockwork.Timer
}

func NewRooms(gateway controlroom.Gateway, opts controlroom.Options, hub *Hub, idleTimeout time.Duration) *Rooms {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Rooms{
		gateway:     gateway,
		opts:        opts,
		hub:         hub,
		clock:       clock,
		idleTimeout: idleTimeout,
		rooms:       make(map[string]*openRoom),
	}
}

// Get returns the room for matchID, opening and loading it if needed. A failed
// initial load is kept in the room's view and does not fail Get.
func (rs *Rooms) Get(ctx context.Context, matchID string) (*controlroom.Room, error) {
	rs.mu.Lock()
	if rs.closed {
		rs.mu.Unlock()
		return nil, controlroom.ErrClosed
	}
	if open, ok := rs.rooms[matchID]; ok {
		open.lastUsed = rs.clock.Now()
		rs.mu.Unlock()
		return open.room, nil
	}

	opts := rs.opts
	opts.OnChange = func(view controlroom.View) {
		rs.hub.Broadcast(matchID, view)
	}
	open := &openRoom{
		room:     controlroom.New(matchID, rs.gateway, opts),
		lastUsed: rs.clock.Now(),
	}
	if rs.idleTimeout > 0 {
		open.timer = rs.clock.AfterFunc(rs.idleTimeout, func() { rs.expire(matchID, open) })
	}
	rs.rooms[matchID] = open
	rs.mu.Unlock()

	log.Info().Str("match_id", matchID).Msg("opening control room")
	if err := open.room.Start(ctx); err != nil {
		log.Warn().Err(err).Str("match_id", matchID).Msg("initial load failed")
	}
	return open.room, nil
}

// expire closes open when it has been idle long enough and re-arms its timer
// otherwise. Watching viewers count as use.
func (rs *Rooms) expire(matchID string, open *openRoom) {
	rs.mu.Lock()
	if rs.closed || rs.rooms[matchID] != open {
		rs.mu.Unlock()
		return
	}
	now := rs.clock.Now()
	if rs.hub.Count(matchID) > 0 {
		open.lastUsed = now
	}
	if idle := now.Sub(open.lastUsed); idle < rs.idleTimeout {
		open.timer = rs.clock.AfterFunc(rs.idleTimeout-idle, func() { rs.expire(matchID, open) })
		rs.mu.Unlock()
		return
	}
	delete(rs.rooms, matchID)
	rs.mu.Unlock()

	log.Info().Str("match_id", matchID).Dur("idle", rs.idleTimeout).Msg("closing idle control room")
	open.room.Close()
}

// Lookup returns an already open room.
func (rs *Rooms) Lookup(matchID string) (*controlroom.Room, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	open, ok := rs.rooms[matchID]
	if !ok {
		return nil, false
	}
	return open.room, true
}

// Close closes and forgets the room for matchID.
func (rs *Rooms) Close(matchID string) bool {
	rs.mu.Lock()
	open, ok := rs.rooms[matchID]
	delete(rs.rooms, matchID)
	rs.mu.Unlock()
	if ok {
		open.close()
	}
	return ok
}

// IDs lists the open match ids in order.
func (rs *Rooms) IDs() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	ids := make([]string, 0, len(rs.rooms))
	for id := range rs.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseAll closes every room. Later Get calls fail with controlroom.ErrClosed.
func (rs *Rooms) CloseAll() {
	rs.mu.Lock()
	rs.closed = true
	rooms := rs.rooms
	rs.rooms = make(map[string]*openRoom)
	rs.mu.Unlock()

	var wg sync.WaitGroup
	for _, open := range rooms {
		wg.Add(1)
		go func(open *openRoom) {
			defer wg.Done()
			open.close()
		}(open)
	}
	wg.Wait()
}

func (o *openRoom) close() {
	if o.timer != nil {
		o.timer.Stop()
	}
	o.room.Close()
}
