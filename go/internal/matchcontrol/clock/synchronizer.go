// Package clock keeps the displayed game clock for one control room.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/socrefy/matchdesk/go/internal/matchcontrol/lifecycle"
	"github.com/socrefy/matchdesk/go/internal/models"
)

// DefaultPeriodLength is used until the backend supplies a period length.
const DefaultPeriodLength = 1800

const tickInterval = time.Second

// State is a copy of the synchronizer's clock.
type State struct {
	MatchID        string     `json:"match_id"`
	ElapsedSeconds int        `json:"elapsed_seconds"`
	IsRunning      bool       `json:"is_running"`
	PeriodLength   int        `json:"period_length"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
}

// Label renders the elapsed time as MM:SS.
func (s State) Label() string {
	return FormatClock(s.ElapsedSeconds)
}

// Synchronizer reconciles authoritative clock readings with a local one-second
// tick. The last reading applied wins; the tick never corrects drift.
type Synchronizer struct {
	clock    clockwork.Clock
	onChange func(State)

	mu    sync.Mutex
	state State

	// wakeCh rebuilds the ticker when running or the period length changes
	wakeCh chan struct{}
}

// New creates a stopped clock. onChange, if set, is called after every change
// outside of the synchronizer's lock.
func New(clk clockwork.Clock, onChange func(State)) *Synchronizer {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Synchronizer{
		clock:    clk,
		onChange: onChange,
		wakeCh:   make(chan struct{}, 1),
	}
}

// State returns the current clock.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reset switches the clock to a new match: {0, stopped, 0}, no carryover.
func (s *Synchronizer) Reset(matchID string) {
	s.mu.Lock()
	s.state = State{MatchID: matchID}
	next := s.state
	s.mu.Unlock()

	s.wake()
	s.notify(next)
}

// Reconcile applies an authoritative reading. Readings for another match are
// ignored and reported as not applied.
func (s *Synchronizer) Reconcile(update models.ClockUpdate) bool {
	s.mu.Lock()
	if update.MatchID != "" && s.state.MatchID != "" && update.MatchID != s.state.MatchID {
		current := s.state.MatchID
		s.mu.Unlock()
		log.Debug().
			Str("match_id", current).
			Str("update_match_id", update.MatchID).
			Msg("ignoring clock update for another match")
		return false
	}

	periodLength := update.Duration
	if periodLength <= 0 {
		periodLength = s.state.PeriodLength
	}
	if periodLength <= 0 {
		periodLength = DefaultPeriodLength
	}

	display := max(0, update.CurrentSeconds) % periodLength
	periodLength = max(periodLength, display)

	changed := s.state.IsRunning != update.IsRunning || s.state.PeriodLength != periodLength
	now := s.clock.Now()
	if s.state.MatchID == "" {
		s.state.MatchID = update.MatchID
	}
	s.state.ElapsedSeconds = display
	s.state.IsRunning = update.IsRunning
	s.state.PeriodLength = periodLength
	s.state.LastSyncAt = &now
	next := s.state
	s.mu.Unlock()

	if changed {
		s.wake()
	}
	s.notify(next)
	return true
}

// Seed reconciles from a state response: the embedded initial clock when the
// backend sent one, else a reading derived from the snapshot.
func (s *Synchronizer) Seed(resp models.StateResponse) bool {
	if resp.InitialClock != nil {
		return s.Reconcile(*resp.InitialClock)
	}
	if resp.Snapshot == nil {
		return false
	}
	return s.Reconcile(FromSnapshot(resp.Snapshot))
}

// FromSnapshot derives a clock reading from a snapshot.
func FromSnapshot(snap *models.MatchSnapshot) models.ClockUpdate {
	update := models.ClockUpdate{
		MatchID:        snap.MatchID,
		CurrentSeconds: snap.ElapsedSeconds,
		IsRunning:      lifecycle.IsRunning(snap.Status),
	}
	if snap.MaxPeriodSeconds != nil {
		update.Duration = *snap.MaxPeriodSeconds
	}
	return update
}

// Tick advances a running clock by one second, clamped at the period length.
func (s *Synchronizer) Tick() bool {
	s.mu.Lock()
	if !s.state.IsRunning || s.state.ElapsedSeconds >= s.state.PeriodLength {
		s.mu.Unlock()
		return false
	}
	s.state.ElapsedSeconds++
	next := s.state
	s.mu.Unlock()

	s.notify(next)
	return true
}

// Run drives Tick once per second while the clock is running, until ctx is done.
func (s *Synchronizer) Run(ctx context.Context) {
	for {
		var (
			ticker clockwork.Ticker
			tickC  <-chan time.Time
		)
		if s.State().IsRunning {
			ticker = s.clock.NewTicker(tickInterval)
			tickC = ticker.Chan()
		}

		if !s.tickUntilWake(ctx, tickC) {
			if ticker != nil {
				ticker.Stop()
			}
			return
		}
		if ticker != nil {
			ticker.Stop()
		}
	}
}

// tickUntilWake returns false once ctx is done.
func (s *Synchronizer) tickUntilWake(ctx context.Context, tickC <-chan time.Time) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-s.wakeCh:
			return true
		case <-tickC:
			s.Tick()
		}
	}
}

func (s *Synchronizer) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) notify(state State) {
	if s.onChange != nil {
		s.onChange(state)
	}
}
