package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/socrefy/matchdesk/go/internal/matchcontrol/normalize"
	"github.com/socrefy/matchdesk/go/internal/models"
)

// Phase is where the manager is in its subscription lifecycle.
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
)

// Status is the manager's state: Disconnected, Connecting(match) or
// Connected(match).
type Status struct {
	Phase   Phase  `json:"phase"`
	MatchID string `json:"match_id,omitempty"`
}

// Handlers receive routed push messages. Either may be nil.
type Handlers struct {
	OnClock  func(models.ClockUpdate)
	OnEvents func([]models.MatchEvent)
	// OnStatus is called after every phase change.
	OnStatus func(Status)
}

// Manager subscribes to exactly one match channel at a time. Joining a new match
// leaves the old channel first; results of a superseded join are discarded.
type Manager struct {
	connector Connector
	handlers  Handlers
	teams     func() normalize.Teams

	mu         sync.Mutex
	status     Status
	generation uint64
	sub        Subscription
	cancel     context.CancelFunc
}

// NewManager creates a manager. A nil connector means realtime is unavailable
// and the manager stays disconnected. teams resolves event sides and may be nil.
func NewManager(connector Connector, handlers Handlers, teams func() normalize.Teams) *Manager {
	if teams == nil {
		teams = func() normalize.Teams { return normalize.Teams{} }
	}
	return &Manager{
		connector: connector,
		handlers:  handlers,
		teams:     teams,
		status:    Status{Phase: PhaseDisconnected},
	}
}

// Status returns the current subscription state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe joins the channel of matchID. It returns immediately; the handshake
// and join run in the background until ctx is done or the manager moves on.
func (m *Manager) Subscribe(ctx context.Context, matchID string) {
	if m.connector == nil {
		log.Warn().Str("match_id", matchID).Msg("realtime not configured, relying on polling")
		return
	}

	m.mu.Lock()
	if m.status.MatchID == matchID && m.status.Phase != PhaseDisconnected {
		m.mu.Unlock()
		return
	}
	m.leaveLocked()

	joinCtx, cancel := context.WithCancel(ctx)
	m.generation++
	gen := m.generation
	m.cancel = cancel
	m.status = Status{Phase: PhaseConnecting, MatchID: matchID}
	status := m.status
	m.mu.Unlock()

	m.notify(status)
	go m.join(joinCtx, gen, matchID)
}

// Unsubscribe leaves the current channel and stops routing.
func (m *Manager) Unsubscribe() {
	m.mu.Lock()
	if m.status.Phase == PhaseDisconnected && m.sub == nil {
		m.mu.Unlock()
		return
	}
	m.leaveLocked()
	m.generation++
	m.status = Status{Phase: PhaseDisconnected}
	status := m.status
	m.mu.Unlock()

	m.notify(status)
}

func (m *Manager) leaveLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.sub != nil {
		if err := m.sub.Leave(); err != nil {
			log.Debug().Err(err).Str("channel", m.sub.Channel()).Msg("leave channel")
		}
		log.Info().Str("channel", m.sub.Channel()).Msg("left realtime channel")
		m.sub = nil
	}
}

func (m *Manager) join(ctx context.Context, gen uint64, matchID string) {
	conn, err := m.connector.Init(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("match_id", matchID).Msg("realtime unavailable, relying on polling")
		}
		m.disconnect(gen)
		return
	}

	channel := ChannelName(matchID)
	sub, err := conn.Subscribe(ctx, channel)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("channel", channel).Msg("realtime subscribe failed, relying on polling")
		}
		m.disconnect(gen)
		return
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		_ = sub.Leave()
		log.Debug().Str("channel", channel).Msg("discarding superseded subscription")
		return
	}
	m.sub = sub
	m.status = Status{Phase: PhaseConnected, MatchID: matchID}
	status := m.status
	m.mu.Unlock()

	log.Info().Str("channel", channel).Msg("joined realtime channel")
	m.notify(status)
	m.route(ctx, gen, matchID, sub)
}

func (m *Manager) route(ctx context.Context, gen uint64, matchID string, sub Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if ctx.Err() != nil {
				return
			}
			if !ok {
				log.Warn().Str("channel", sub.Channel()).Msg("realtime channel closed")
				m.disconnect(gen)
				return
			}
			m.dispatch(matchID, msg)
		}
	}
}

func (m *Manager) dispatch(matchID string, msg Message) {
	raw := normalize.Decode(msg.Data)
	switch eventKind(msg.Event) {
	case EventClockUpdated:
		update := normalize.ClockUpdate(raw)
		if update == nil {
			log.Debug().Str("match_id", matchID).Msg("dropping malformed clock update")
			return
		}
		if update.MatchID == "" {
			update.MatchID = matchID
		}
		if m.handlers.OnClock != nil {
			m.handlers.OnClock(*update)
		}
	case EventCreated:
		events := normalize.PushedEvents(raw, m.teams())
		if len(events) == 0 {
			log.Debug().Str("match_id", matchID).Msg("dropping malformed event message")
			return
		}
		if m.handlers.OnEvents != nil {
			m.handlers.OnEvents(events)
		}
	default:
		log.Debug().Str("match_id", matchID).Str("event", msg.Event).Msg("ignoring realtime message")
	}
}

// disconnect moves to Disconnected unless a newer join has taken over.
func (m *Manager) disconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.sub = nil
	m.status = Status{Phase: PhaseDisconnected, MatchID: m.status.MatchID}
	status := m.status
	m.mu.Unlock()

	m.notify(status)
}

func (m *Manager) notify(status Status) {
	if m.handlers.OnStatus != nil {
		m.handlers.OnStatus(status)
	}
}
