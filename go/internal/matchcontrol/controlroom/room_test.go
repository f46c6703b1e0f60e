package controlroom

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socrefy/matchdesk/go/clients"
	"github.com/socrefy/matchdesk/go/internal/matchcontrol/actions"
	"github.com/socrefy/matchdesk/go/internal/matchcontrol/normalize"
	"github.com/socrefy/matchdesk/go/internal/models"
)

var t0 = time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)

type stubGateway struct {
	mu         sync.Mutex
	detail     *models.MatchDetail
	detailErr  error
	state      models.StateResponse
	stateErr   error
	events     []models.MatchEvent
	actionErr  error
	created    []models.CreateEventRequest
	detailHits int
	stateHits  int
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		detail: &models.MatchDetail{
			ID:       "42",
			HomeTeam: models.TeamInfo{ID: "10", Name: "Lions"},
			AwayTeam: models.TeamInfo{ID: "20", Name: "Hawks"},
			Events: []models.MatchEvent{
				{ID: "e-1", Description: "Kick-off", Timestamp: t0},
			},
		},
		state: models.StateResponse{Snapshot: &models.MatchSnapshot{
			MatchID:        "42",
			Status:         models.MatchStatusPaused,
			ElapsedSeconds: 300,
		}},
		events: []models.MatchEvent{
			{ID: "e-2", Description: "Goal", Team: models.SideHome, Timestamp: t0.Add(5 * time.Minute)},
		},
	}
}

func (g *stubGateway) FetchDetail(context.Context, string) (*models.MatchDetail, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.detailHits++
	return g.detail, g.detailErr
}

func (g *stubGateway) ListEvents(context.Context, string, normalize.Teams) ([]models.MatchEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.events, nil
}

func (g *stubGateway) FetchState(context.Context, string) (models.StateResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stateHits++
	return g.state, g.stateErr
}

func (g *stubGateway) action() (models.StateResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.actionErr != nil {
		return models.StateResponse{}, g.actionErr
	}
	return g.state, nil
}

func (g *stubGateway) Start(context.Context, string) (models.StateResponse, error) { return g.action() }
func (g *stubGateway) Pause(context.Context, string, string) (models.StateResponse, error) {
	return g.action()
}
func (g *stubGateway) Resume(context.Context, string) (models.StateResponse, error) { return g.action() }
func (g *stubGateway) StartSecondHalf(context.Context, string) (models.StateResponse, error) {
	return g.action()
}
func (g *stubGateway) Finish(context.Context, string) (models.StateResponse, error) { return g.action() }
func (g *stubGateway) FinalizePeriod(context.Context, string) (models.StateResponse, error) {
	return g.action()
}
func (g *stubGateway) Cancel(context.Context, string) (models.StateResponse, error) { return g.action() }
func (g *stubGateway) AdjustClock(context.Context, string, int) (models.StateResponse, error) {
	return g.action()
}

func (g *stubGateway) CreateEvent(_ context.Context, req models.CreateEventRequest, _ normalize.Teams) (*models.MatchEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, req)
	return &models.MatchEvent{ID: "e-new", TypeName: req.Type, Timestamp: t0}, nil
}

func newLoadedRoom(t *testing.T, gw *stubGateway, opts Options) (*Room, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClockAt(t0.Add(time.Hour))
	opts.Clock = fc
	room := New("42", gw, opts)
	t.Cleanup(room.Close)
	require.NoError(t, room.Load(context.Background()))
	return room, fc
}

func TestLoadMergesDetailAndListedEvents(t *testing.T) {
	room, fc := newLoadedRoom(t, newStubGateway(), Options{})

	view := room.View()
	assert.False(t, view.Loading)
	assert.Empty(t, view.Error)
	require.NotNil(t, view.Snapshot)
	assert.Equal(t, 300, view.Snapshot.ElapsedSeconds)
	require.Len(t, view.Events, 2)
	assert.Equal(t, "e-2", view.Events[0].ID)
	assert.Equal(t, "e-1", view.Events[1].ID)
	require.NotNil(t, view.LastSyncAt)
	assert.True(t, fc.Now().Equal(*view.LastSyncAt))
	assert.Equal(t, "05:00", view.Clock.Label)
	assert.False(t, view.Clock.IsRunning)
	require.NotNil(t, view.Capabilities)
	assert.True(t, view.Capabilities.CanResume)
	assert.Len(t, view.QuickActions, 4)
}

func TestLoadFailureKeepsPreviousState(t *testing.T) {
	gw := newStubGateway()
	room, _ := newLoadedRoom(t, gw, Options{})
	before := room.Snapshot()

	gw.mu.Lock()
	gw.stateErr = errors.New("connection refused")
	gw.mu.Unlock()

	err := room.Reload(context.Background())
	require.Error(t, err)

	view := room.View()
	assert.Equal(t, MessageLoadFailed, view.Error)
	assert.False(t, view.Loading)
	assert.Same(t, before, view.Snapshot)
	assert.Len(t, view.Events, 2)
}

func TestLoadRejectsMalformedDetail(t *testing.T) {
	gw := newStubGateway()
	gw.detail = nil
	room := New("42", gw, Options{Clock: clockwork.NewFakeClock()})
	defer room.Close()

	assert.Error(t, room.Load(context.Background()))
	assert.Equal(t, MessageLoadFailed, room.View().Error)
	assert.Nil(t, room.View().Snapshot)
}

func TestPushedEventsCountAsPendingUntilRefresh(t *testing.T) {
	room, _ := newLoadedRoom(t, newStubGateway(), Options{})

	room.applyPushedEvents([]models.MatchEvent{
		{ID: "e-3", Description: "Yellow card", Timestamp: t0.Add(10 * time.Minute)},
		{ID: "e-2", Description: "Goal by 9", Timestamp: t0.Add(5 * time.Minute)},
	})
	view := room.View()
	assert.Equal(t, 2, view.PendingEvents)
	require.Len(t, view.Events, 3)
	assert.Equal(t, "e-3", view.Events[0].ID)
	assert.Equal(t, "Goal by 9", view.Events[1].Description)

	room.RefreshEvents(context.Background())
	assert.Zero(t, room.View().PendingEvents)
}

func TestRefreshEventsKeepsPushedEventsMissingFromList(t *testing.T) {
	gw := newStubGateway()
	room, _ := newLoadedRoom(t, gw, Options{})

	room.applyPushedEvents([]models.MatchEvent{
		{ID: "push-1", Description: "Corner", Timestamp: t0.Add(7 * time.Minute)},
	})
	require.Len(t, room.View().Events, 3)

	gw.mu.Lock()
	gw.events = []models.MatchEvent{
		{ID: "e-2", Description: "Goal by 9", Team: models.SideHome, Timestamp: t0.Add(5 * time.Minute)},
	}
	gw.mu.Unlock()
	room.RefreshEvents(context.Background())

	view := room.View()
	require.Len(t, view.Events, 3)
	assert.Equal(t, "push-1", view.Events[0].ID)
	assert.Equal(t, "Goal by 9", view.Events[1].Description)
	assert.Equal(t, "e-1", view.Events[2].ID)
	assert.Zero(t, view.PendingEvents)
}

func TestFirstLoadKeepsEventsPushedBeforeIt(t *testing.T) {
	room := New("42", newStubGateway(), Options{Clock: clockwork.NewFakeClockAt(t0)})
	defer room.Close()

	room.applyPushedEvents([]models.MatchEvent{
		{ID: "push-1", Description: "Corner", Timestamp: t0.Add(7 * time.Minute)},
	})
	require.NoError(t, room.Load(context.Background()))

	view := room.View()
	require.Len(t, view.Events, 3)
	assert.Equal(t, "push-1", view.Events[0].ID)
}

func TestPushedClockAtPeriodBoundary(t *testing.T) {
	gw := newStubGateway()
	period := 1800
	gw.state = models.StateResponse{Snapshot: &models.MatchSnapshot{
		MatchID:          "42",
		Status:           models.MatchStatusLive,
		ElapsedSeconds:   1795,
		MaxPeriodSeconds: &period,
	}}
	room, _ := newLoadedRoom(t, gw, Options{})
	assert.Equal(t, "29:55", room.View().Clock.Label)

	room.applyClock(models.ClockUpdate{MatchID: "42", CurrentSeconds: 1800, IsRunning: false, Duration: 1800})

	view := room.View()
	assert.Equal(t, "00:00", view.Clock.Label)
	assert.Zero(t, view.Clock.ElapsedSeconds)
	assert.False(t, view.Clock.IsRunning)
	assert.Equal(t, 1800, view.Clock.PeriodLength)
}

func TestRunControlActionSurfacesConflictAndReloads(t *testing.T) {
	gw := newStubGateway()
	room, _ := newLoadedRoom(t, gw, Options{})

	gw.mu.Lock()
	gw.actionErr = &clients.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "Match already finished"}
	gw.mu.Unlock()

	err := room.RunControlAction(context.Background(), actions.Request{Action: models.ActionFinish})
	require.Error(t, err)

	view := room.View()
	assert.Equal(t, "Match already finished", view.ControlError)
	assert.Empty(t, view.ActionMessage)

	gw.mu.Lock()
	assert.Equal(t, 2, gw.detailHits)
	gw.mu.Unlock()

	room.ClearMessage()
	assert.Empty(t, room.View().ControlError)
}

func TestRunControlActionSuccessSetsMessage(t *testing.T) {
	room, _ := newLoadedRoom(t, newStubGateway(), Options{})

	require.NoError(t, room.RunControlAction(context.Background(), actions.Request{Action: models.ActionResume}))
	assert.Equal(t, actions.MessageSent, room.View().ActionMessage)
}

func TestAdjustClockParsesInput(t *testing.T) {
	room, _ := newLoadedRoom(t, newStubGateway(), Options{})

	assert.ErrorIs(t, room.AdjustClock(context.Background(), "5:75"), ErrInvalidClock)
	assert.NoError(t, room.AdjustClock(context.Background(), "04:30"))
}

func TestTriggerQuickActionStartsTimeoutCountdown(t *testing.T) {
	gw := newStubGateway()
	room, fc := newLoadedRoom(t, gw, Options{TeamTimeout: 2 * time.Second})

	event, err := room.TriggerQuickAction(context.Background(), "timeout-home", "", "")
	require.NoError(t, err)
	assert.Equal(t, "timeout_home", event.TypeName)

	gw.mu.Lock()
	require.Len(t, gw.created, 1)
	req := gw.created[0]
	gw.mu.Unlock()
	assert.Equal(t, "10", req.TeamID)
	require.NotNil(t, req.MatchTimeSeconds)
	assert.Equal(t, 300, *req.MatchTimeSeconds)

	view := room.View()
	assert.Equal(t, actions.MessageEventCreated, view.ActionMessage)
	require.NotNil(t, view.Timeout)
	assert.Equal(t, models.SideHome, view.Timeout.Team)
	assert.Equal(t, 2, view.Timeout.RemainingSeconds)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))

	fc.Advance(time.Second)
	assert.Eventually(t, func() bool {
		v := room.View()
		return v.Timeout != nil && v.Timeout.RemainingSeconds == 1
	}, time.Second, 5*time.Millisecond)

	fc.Advance(time.Second)
	assert.Eventually(t, func() bool { return room.View().Timeout == nil }, time.Second, 5*time.Millisecond)
}

func TestClearTimeout(t *testing.T) {
	room, _ := newLoadedRoom(t, newStubGateway(), Options{})

	_, err := room.TriggerQuickAction(context.Background(), "timeout-away", "", "")
	require.NoError(t, err)
	require.NotNil(t, room.View().Timeout)
	assert.Equal(t, 60, room.View().Timeout.RemainingSeconds)

	room.ClearTimeout()
	assert.Nil(t, room.View().Timeout)
}

func TestTriggerQuickActionValidation(t *testing.T) {
	room, _ := newLoadedRoom(t, newStubGateway(), Options{})

	_, err := room.TriggerQuickAction(context.Background(), "home-goal", "", "")
	assert.ErrorIs(t, err, ErrPlayerRequired)

	_, err = room.TriggerQuickAction(context.Background(), "yellow_card", "", "p-1")
	assert.ErrorIs(t, err, ErrInvalidSide)

	_, err = room.TriggerQuickAction(context.Background(), "dance", models.SideHome, "")
	assert.ErrorIs(t, err, ErrUnknownQuickAction)

	event, err := room.TriggerQuickAction(context.Background(), "yellow_card", models.SideAway, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "yellow_card", event.TypeName)
	assert.Nil(t, room.View().Timeout)
}

func TestTriggerQuickActionBeforeLoad(t *testing.T) {
	room := New("42", newStubGateway(), Options{Clock: clockwork.NewFakeClock()})
	defer room.Close()

	_, err := room.TriggerQuickAction(context.Background(), "timeout-home", "", "")
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestCloseDiscardsLateResults(t *testing.T) {
	gw := newStubGateway()
	room, _ := newLoadedRoom(t, gw, Options{})
	before := room.Snapshot()

	room.Close()
	room.ApplyState(models.StateResponse{Snapshot: &models.MatchSnapshot{MatchID: "42", Status: models.MatchStatusFinished}})
	room.applyPushedEvents([]models.MatchEvent{{ID: "late", Timestamp: t0}})

	assert.Same(t, before, room.Snapshot())
	assert.Len(t, room.View().Events, 2)
	assert.ErrorIs(t, room.Load(context.Background()), ErrClosed)
}

func TestOnChangeReceivesViews(t *testing.T) {
	var calls atomic.Int32
	var last atomic.Value
	newLoadedRoom(t, newStubGateway(), Options{OnChange: func(v View) {
		calls.Add(1)
		last.Store(v)
	}})

	assert.Positive(t, calls.Load())
	view, ok := last.Load().(View)
	require.True(t, ok)
	assert.Equal(t, "42", view.MatchID)
	assert.False(t, view.Loading)
}

func TestStartSubscribesPollsAndLoads(t *testing.T) {
	gw := newStubGateway()
	fc := clockwork.NewFakeClock()
	room := New("42", gw, Options{Clock: fc, PollInterval: 5 * time.Second})
	defer room.Close()

	require.NoError(t, room.Start(context.Background()))
	assert.Equal(t, "disconnected", string(room.View().Realtime.Phase))

	gw.mu.Lock()
	hits := gw.stateHits
	gw.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(5 * time.Second)
	assert.Eventually(t, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return gw.stateHits > hits
	}, time.Second, 5*time.Millisecond)

	room.Focus(context.Background())
}
