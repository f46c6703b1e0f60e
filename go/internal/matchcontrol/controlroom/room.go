// Package controlroom keeps the live control state of one match: detail, snapshot,
// event timeline, game clock, realtime subscription and polling.
//
// Every writer (initial load, polling, push messages, control actions) applies
// its result after its I/O resolves. Whichever result resolves last wins.
package controlroom

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/socrefy/matchdesk/go/internal/journal"
	"github.com/socrefy/matchdesk/go/internal/matchcontrol/actions"
	"github.com/socrefy/matchdesk/go/internal/matchcontrol/clock"
	"github.com/socrefy/matchdesk/go/internal/matchcontrol/lifecycle"
	"github.com/socrefy/matchdesk/go/internal/matchcontrol/normalize"
	"github.com/socrefy/matchdesk/go/internal/matchcontrol/polling"
	"github.com/socrefy/matchdesk/go/internal/matchcontrol/realtime"
	"github.com/socrefy/matchdesk/go/internal/matchcontrol/timeline"
	"github.com/socrefy/matchdesk/go/internal/models"
)

// DefaultTeamTimeout is the length of a team timeout countdown.
const DefaultTeamTimeout = 60 * time.Second

const MessageLoadFailed = "Could not load this match's data."

var (
	ErrClosed             = errors.New("control room closed")
	ErrNotLoaded          = errors.New("match detail not loaded")
	ErrUnknownQuickAction = errors.New("unknown quick action")
	ErrPlayerRequired     = errors.New("this action requires a player")
	ErrInvalidSide        = errors.New("team must be home or away")
	ErrInvalidClock       = errors.New("clock must be MM:SS")
	errMalformedDetail    = errors.New("match detail payload not recognized")
)

// Gateway is the match backend as seen by a control room.
type Gateway interface {
	actions.Gateway
	FetchDetail(ctx context.Context, matchID string) (*models.MatchDetail, error)
	ListEvents(ctx context.Context, matchID string, teams normalize.Teams) ([]models.MatchEvent, error)
}

type Options struct {
	Clock        clockwork.Clock
	PollInterval time.Duration
	TeamTimeout  time.Duration
	// Connector is the shared realtime connection. Nil means polling only.
	Connector realtime.Connector
	Journal   journal.Recorder
	// Production lowers network failure logs to debug.
	Production bool
	// OnChange receives the full view after every change.
	OnChange func(View)
}

// Room is the control state of a single match.
type Room struct {
	matchID     string
	gateway     Gateway
	clock       clockwork.Clock
	teamTimeout time.Duration
	production  bool
	onChange    func(View)
	journal     journal.Recorder

	clockSync  *clock.Synchronizer
	realtime   *realtime.Manager
	poller     *polling.Scheduler
	dispatcher *actions.Dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	detail        *models.MatchDetail
	snapshot      *models.MatchSnapshot
	initialClock  *models.ClockUpdate
	events        []models.MatchEvent
	loading       bool
	err           string
	controlErr    string
	actionMessage string
	lastSyncAt    *time.Time
	pendingEvents int
	timeout       *models.TimeoutState
	timeoutGen    uint64
	closed        bool
}

// New builds a room without touching the network. Call Start to load it.
func New(matchID string, gateway Gateway, opts Options) *Room {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.TeamTimeout <= 0 {
		opts.TeamTimeout = DefaultTeamTimeout
	}
	if opts.Journal == nil {
		opts.Journal = journal.Nop{}
	}

	r := &Room{
		matchID:     matchID,
		gateway:     gateway,
		clock:       opts.Clock,
		teamTimeout: opts.TeamTimeout,
		production:  opts.Production,
		onChange:    opts.OnChange,
		journal:     opts.Journal,
		events:      []models.MatchEvent{},
		loading:     true,
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.clockSync = clock.New(opts.Clock, func(clock.State) { r.notify() })
	r.realtime = realtime.NewManager(opts.Connector, realtime.Handlers{
		OnClock:  r.applyClock,
		OnEvents: r.applyPushedEvents,
		OnStatus: func(realtime.Status) { r.notify() },
	}, r.Teams)

	r.poller = polling.New(opts.Clock, opts.PollInterval, func(ctx context.Context) {
		r.RefreshSnapshot(ctx)
		r.RefreshEvents(ctx)
	})
	r.dispatcher = actions.New(matchID, gateway, r, opts.Journal)
	r.clockSync.Reset(matchID)
	return r
}

// Start runs the clock, joins the realtime channel, starts polling and performs
// the initial load. A failed load is reported in the view and returned.
func (r *Room) Start(ctx context.Context) error {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.clockSync.Run(r.ctx)
	}()
	r.realtime.Subscribe(r.ctx, r.matchID)
	r.poller.Start(r.ctx)
	return r.Load(ctx)
}

func (r *Room) MatchID() string {
	return r.matchID
}

// Load fetches the detail, then the state and event list concurrently. On
// failure the previous state is kept.
func (r *Room) Load(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.loading = true
	r.err = ""
	r.mu.Unlock()
	r.notify()

	detail, state, list, err := r.fetchAll(ctx)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.loading = false
	if err != nil {
		r.err = MessageLoadFailed
		r.mu.Unlock()
		r.networkFailure(err, "failed to load match control data")
		r.notify()
		return err
	}
	// Events pushed while the first load was in flight are kept.
	var pushed []models.MatchEvent
	if r.detail == nil {
		pushed = r.events
	}
	r.detail = detail
	if state.Snapshot != nil {
		r.snapshot = state.Snapshot
		r.initialClock = state.InitialClock
	}
	r.events = timeline.Merge(pushed, detail.Events, list)
	r.stampSyncLocked()
	r.pendingEvents = 0
	r.mu.Unlock()

	r.clockSync.Seed(state)
	r.notify()
	return nil
}

// Reload is an operator-initiated Load.
func (r *Room) Reload(ctx context.Context) error {
	return r.Load(ctx)
}

func (r *Room) fetchAll(ctx context.Context) (*models.MatchDetail, models.StateResponse, []models.MatchEvent, error) {
	detail, err := r.gateway.FetchDetail(ctx, r.matchID)
	if err != nil {
		return nil, models.StateResponse{}, nil, fmt.Errorf("fetch detail: %w", err)
	}
	if detail == nil {
		return nil, models.StateResponse{}, nil, errMalformedDetail
	}

	var (
		state models.StateResponse
		list  []models.MatchEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		state, err = r.gateway.FetchState(gctx, r.matchID)
		if err != nil {
			return fmt.Errorf("fetch state: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		list, err = r.gateway.ListEvents(gctx, r.matchID, normalize.TeamsOf(detail))
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, models.StateResponse{}, nil, err
	}
	return detail, state, list, nil
}

// RefreshSnapshot re-fetches the state. Failures keep the current snapshot.
func (r *Room) RefreshSnapshot(ctx context.Context) {
	state, err := r.gateway.FetchState(ctx, r.matchID)
	if err != nil {
		r.networkFailure(err, "failed to refresh match snapshot")
		return
	}
	r.ApplyState(state)
}

// ApplyState replaces the snapshot wholesale and reconciles the clock. A response
// without a snapshot is not an update.
func (r *Room) ApplyState(state models.StateResponse) {
	if state.Snapshot == nil {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.snapshot = state.Snapshot
	r.initialClock = state.InitialClock
	r.stampSyncLocked()
	r.mu.Unlock()

	r.clockSync.Seed(state)
	r.notify()
}

// RefreshEvents re-fetches the event list and merges it into the events already
// shown, so pushed events the list does not carry yet survive. It is a no-op
// until the detail is loaded.
func (r *Room) RefreshEvents(ctx context.Context) {
	r.mu.Lock()
	detail := r.detail
	r.mu.Unlock()
	if detail == nil {
		return
	}

	list, err := r.gateway.ListEvents(ctx, r.matchID, normalize.TeamsOf(detail))
	if err != nil {
		r.networkFailure(err, "failed to refresh events")
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.events = timeline.Merge(r.events, list)
	r.stampSyncLocked()
	r.pendingEvents = 0
	r.mu.Unlock()
	r.notify()
}

func (r *Room) applyClock(update models.ClockUpdate) {
	if r.isClosed() {
		return
	}
	r.clockSync.Reconcile(update)
}

func (r *Room) applyPushedEvents(events []models.MatchEvent) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.events = timeline.Merge(r.events, events)
	r.pendingEvents += len(events)
	r.mu.Unlock()
	r.notify()
}

// Snapshot returns the last applied snapshot, or nil before the first load.
func (r *Room) Snapshot() *models.MatchSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}

// Teams returns the team ids used to resolve event sides.
func (r *Room) Teams() normalize.Teams {
	r.mu.Lock()
	defer r.mu.Unlock()
	return normalize.TeamsOf(r.detail)
}

// RunControlAction dispatches a control action, records its outcome for the
// operator and then reloads, whether or not the action succeeded.
func (r *Room) RunControlAction(ctx context.Context, req actions.Request) error {
	if r.isClosed() {
		return ErrClosed
	}

	_, err := r.dispatcher.Run(ctx, req)
	if errors.Is(err, actions.ErrActionInFlight) || errors.Is(err, actions.ErrUnknownAction) {
		return err
	}

	r.mu.Lock()
	if err != nil {
		r.controlErr = err.Error()
		r.actionMessage = ""
	} else {
		r.controlErr = ""
		r.actionMessage = actions.MessageSent
	}
	r.mu.Unlock()
	r.notify()

	_ = r.Reload(ctx)
	return err
}

// AdjustClock sets the clock to an operator-entered MM:SS value.
func (r *Room) AdjustClock(ctx context.Context, value string) error {
	seconds, ok := clock.ParseClock(value)
	if !ok {
		return ErrInvalidClock
	}
	return r.AdjustClockSeconds(ctx, seconds)
}

// AdjustClockSeconds sets the clock to an absolute elapsed time.
func (r *Room) AdjustClockSeconds(ctx context.Context, seconds int) error {
	return r.RunControlAction(ctx, actions.Request{Action: models.ActionAdjustClock, TargetSeconds: &seconds})
}

// TriggerQuickAction registers the event behind a quick or player action. team
// overrides the action's own side; playerID is required for goals and cards.
func (r *Room) TriggerQuickAction(ctx context.Context, actionID string, team models.Side, playerID string) (*models.MatchEvent, error) {
	action, ok := LookupAction(actionID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQuickAction, actionID)
	}
	if !team.Valid() {
		team = models.Side(action.Team)
	}
	if !team.Valid() {
		return nil, ErrInvalidSide
	}
	if action.RequiresPlayer && playerID == "" {
		return nil, ErrPlayerRequired
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	detail, snap := r.detail, r.snapshot
	r.mu.Unlock()
	if detail == nil {
		return nil, ErrNotLoaded
	}

	req := models.CreateEventRequest{
		TeamID:   detail.TeamID(team),
		PlayerID: playerID,
		Type:     action.TypeCode,
	}
	if snap != nil {
		elapsed := snap.ElapsedSeconds
		req.MatchTimeSeconds = &elapsed
	}

	event, err := r.dispatcher.CreateEvent(ctx, req)
	if err != nil {
		if !errors.Is(err, actions.ErrEventInFlight) {
			r.setActionMessage(actions.MessageEventFailed)
			r.networkFailure(err, "failed to register event")
		}
		return nil, err
	}

	r.setActionMessage(actions.MessageEventCreated)
	r.RefreshSnapshot(ctx)
	if action.IsTimeout() {
		r.startTimeout(team)
	}
	r.RefreshEvents(ctx)
	return event, nil
}

// Focus refreshes immediately, as when a viewer comes back to the desk.
func (r *Room) Focus(ctx context.Context) {
	r.poller.Notify(ctx)
}

// ClearMessage dismisses the action message and the control error.
func (r *Room) ClearMessage() {
	r.mu.Lock()
	r.actionMessage = ""
	r.controlErr = ""
	r.mu.Unlock()
	r.notify()
}

// ClearTimeout stops a running team timeout countdown.
func (r *Room) ClearTimeout() {
	r.mu.Lock()
	r.timeoutGen++
	r.timeout = nil
	r.mu.Unlock()
	r.notify()
}

// Journal lists the latest control actions recorded for the match.
func (r *Room) Journal(ctx context.Context, limit int) ([]journal.Entry, error) {
	return r.journal.ListForMatch(ctx, r.matchID, limit)
}

// Close leaves the realtime channel, stops polling and timers and waits for
// them. Results resolving after Close are discarded.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.timeoutGen++
	r.timeout = nil
	r.mu.Unlock()

	r.cancel()
	r.realtime.Unsubscribe()
	r.poller.Stop()
	r.wg.Wait()
	log.Info().Str("match_id", r.matchID).Msg("control room closed")
}

func (r *Room) startTimeout(team models.Side) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.timeoutGen++
	gen := r.timeoutGen
	r.timeout = &models.TimeoutState{Team: team, RemainingSeconds: int(r.teamTimeout / time.Second)}
	ticker := r.clock.NewTicker(time.Second)
	r.wg.Add(1)
	r.mu.Unlock()

	r.notify()
	go r.countdown(gen, ticker)
}

func (r *Room) countdown(gen uint64, ticker clockwork.Ticker) {
	defer r.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.Chan():
			r.mu.Lock()
			if r.timeoutGen != gen || r.timeout == nil {
				r.mu.Unlock()
				return
			}
			if r.timeout.RemainingSeconds <= 1 {
				r.timeout = nil
			} else {
				r.timeout = &models.TimeoutState{Team: r.timeout.Team, RemainingSeconds: r.timeout.RemainingSeconds - 1}
			}
			finished := r.timeout == nil
			r.mu.Unlock()

			r.notify()
			if finished {
				return
			}
		}
	}
}

func (r *Room) setActionMessage(msg string) {
	r.mu.Lock()
	r.actionMessage = msg
	r.mu.Unlock()
	r.notify()
}

func (r *Room) stampSyncLocked() {
	now := r.clock.Now().UTC()
	r.lastSyncAt = &now
}

func (r *Room) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Room) networkFailure(err error, msg string) {
	level := zerolog.WarnLevel
	if r.production {
		level = zerolog.DebugLevel
	}
	log.WithLevel(level).Err(err).Str("match_id", r.matchID).Msg(msg)
}

func (r *Room) notify() {
	if r.onChange == nil || r.isClosed() {
		return
	}
	r.onChange(r.View())
}

// ClockView is the clock as rendered on the desk.
type ClockView struct {
	clock.State
	Label string `json:"label"`
}

// View is the complete state a desk or viewer renders.
type View struct {
	MatchID       string                  `json:"match_id"`
	Detail        *models.MatchDetail     `json:"detail"`
	Snapshot      *models.MatchSnapshot   `json:"snapshot"`
	InitialClock  *models.ClockUpdate     `json:"initial_clock,omitempty"`
	Clock         ClockView               `json:"clock"`
	PeriodLabel   string                  `json:"period_label"`
	Capabilities  *lifecycle.Capabilities `json:"capabilities,omitempty"`
	Events        []models.MatchEvent     `json:"events"`
	QuickActions  []models.QuickAction    `json:"quick_actions"`
	PlayerActions []models.QuickAction    `json:"player_actions"`
	Loading       bool                    `json:"loading"`
	Error         string                  `json:"error,omitempty"`
	ControlError  string                  `json:"control_error,omitempty"`
	ActionMessage string                  `json:"action_message,omitempty"`
	LoadingAction models.ControlAction    `json:"loading_action,omitempty"`
	EventLoading  bool                    `json:"event_loading"`
	Timeout       *models.TimeoutState    `json:"timeout,omitempty"`
	LastSyncAt    *time.Time              `json:"last_sync_at,omitempty"`
	PendingEvents int                     `json:"pending_events"`
	Realtime      realtime.Status         `json:"realtime"`
}

// View returns a consistent copy of the room state.
func (r *Room) View() View {
	clockState := r.clockSync.State()
	view := View{
		MatchID:       r.matchID,
		Clock:         ClockView{State: clockState, Label: clockState.Label()},
		QuickActions:  QuickActions(),
		PlayerActions: PlayerActions(),
		LoadingAction: r.dispatcher.Loading(),
		EventLoading:  r.dispatcher.EventLoading(),
		Realtime:      r.realtime.Status(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	view.Detail = r.detail
	view.Snapshot = r.snapshot
	view.InitialClock = r.initialClock
	view.Events = append([]models.MatchEvent(nil), r.events...)
	view.Loading = r.loading
	view.Error = r.err
	view.ControlError = r.controlErr
	view.ActionMessage = r.actionMessage
	view.LastSyncAt = r.lastSyncAt
	view.PendingEvents = r.pendingEvents
	if r.timeout != nil {
		timeout := *r.timeout
		view.Timeout = &timeout
	}
	if r.snapshot != nil {
		caps := lifecycle.Evaluate(r.snapshot.Status)
		view.Capabilities = &caps
		view.PeriodLabel = lifecycle.PeriodLabel(r.snapshot.Period)
	} else {
		view.PeriodLabel = lifecycle.PeriodLabel(nil)
	}
	if view.Events == nil {
		view.Events = []models.MatchEvent{}
	}
	return view
}
