// Package polling re-fetches match state on a fixed interval and on demand. It
// bounds staleness to one interval when the realtime channel silently drops.
package polling

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultInterval is the refresh period used when none is configured.
const DefaultInterval = 8 * time.Second

// RefreshFunc re-fetches the snapshot and the event list and applies them.
type RefreshFunc func(ctx context.Context)

// Scheduler calls a RefreshFunc every interval and whenever Notify is called.
// Refreshes are not debounced and may overlap with any other writer.
type Scheduler struct {
	clock    clockwork.Clock
	interval time.Duration
	refresh  RefreshFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

func New(clk clockwork.Clock, interval time.Duration, refresh RefreshFunc) *Scheduler {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		clock:    clk,
		interval: interval,
		refresh:  refresh,
	}
}

// Start begins the interval loop. It is a no-op when already running or stopped.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.stopped {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	ticker := s.clock.NewTicker(s.interval)

	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.Chan():
				log.Debug().Dur("interval", s.interval).Msg("polling refresh")
				s.refresh(loopCtx)
			}
		}
	}(s.done)
}

// Notify refreshes immediately, as when a viewer regains visibility or focus.
// It runs on the caller's goroutine and is ignored after Stop.
func (s *Scheduler) Notify(ctx context.Context) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	s.refresh(ctx)
}

// Stop clears the interval and waits for an in-progress tick to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
