// Package actions runs operator control actions against the match backend one at
// a time.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/socrefy/matchdesk/go/clients"
	"github.com/socrefy/matchdesk/go/internal/journal"
	"github.com/socrefy/matchdesk/go/internal/matchcontrol/lifecycle"
	"github.com/socrefy/matchdesk/go/internal/matchcontrol/normalize"
	"github.com/socrefy/matchdesk/go/internal/models"
)

const (
	MessageNotPermitted = "action not permitted in current state"
	MessageFailed       = "Could not execute the action."
	MessageSent         = "Action sent. Waiting for clock sync."
	MessageEventFailed  = "Could not register the event."
	MessageEventCreated = "Event recorded successfully."
)

// DefaultJournalTimeout bounds one journal write.
const DefaultJournalTimeout = 5 * time.Second

var (
	// ErrActionInFlight is returned when a control action is requested while
	// another one has not resolved yet.
	ErrActionInFlight = errors.New("another control action is in progress")
	// ErrEventInFlight is the event-registration counterpart of ErrActionInFlight.
	ErrEventInFlight = errors.New("another event is being registered")
	// ErrInvalidClockTarget rejects a missing or negative clock target.
	ErrInvalidClockTarget = errors.New("clock target must be zero or more seconds")
	ErrUnknownAction      = errors.New("unknown control action")
)

// Gateway is the slice of the match backend the dispatcher drives.
type Gateway interface {
	FetchState(ctx context.Context, matchID string) (models.StateResponse, error)
	Start(ctx context.Context, matchID string) (models.StateResponse, error)
	Pause(ctx context.Context, matchID, reason string) (models.StateResponse, error)
	Resume(ctx context.Context, matchID string) (models.StateResponse, error)
	StartSecondHalf(ctx context.Context, matchID string) (models.StateResponse, error)
	Finish(ctx context.Context, matchID string) (models.StateResponse, error)
	FinalizePeriod(ctx context.Context, matchID string) (models.StateResponse, error)
	Cancel(ctx context.Context, matchID string) (models.StateResponse, error)
	AdjustClock(ctx context.Context, matchID string, deltaSeconds int) (models.StateResponse, error)
	CreateEvent(ctx context.Context, req models.CreateEventRequest, teams normalize.Teams) (*models.MatchEvent, error)
}

// StateSink is the owner of the snapshot and event list for one match.
type StateSink interface {
	Snapshot() *models.MatchSnapshot
	ApplyState(resp models.StateResponse)
	RefreshEvents(ctx context.Context)
	Teams() normalize.Teams
}

// Request is one control action and its optional payload.
type Request struct {
	Action        models.ControlAction
	Reason        string
	TargetSeconds *int
}

// Kind classifies a failed control action.
type Kind string

const (
	KindConflict Kind = "conflict"
	KindFailure  Kind = "failure"
)

// ControlError is a failed control action. Error returns the message shown to
// the operator.
type ControlError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *ControlError) Error() string {
	return e.Message
}

func (e *ControlError) Unwrap() error {
	return e.Err
}

// Classify turns a gateway error into a ControlError. Conflicts keep the backend
// message; anything else gets the generic fallback.
func Classify(err error) *ControlError {
	var ce *ControlError
	if errors.As(err, &ce) {
		return ce
	}
	if apiErr, ok := clients.AsAPIError(err); ok && apiErr.IsConflict() {
		msg := apiErr.Message
		if msg == "" {
			msg = MessageNotPermitted
		}
		return &ControlError{Kind: KindConflict, Message: msg, Err: err}
	}
	return &ControlError{Kind: KindFailure, Message: MessageFailed, Err: err}
}

// Dispatcher serializes control actions for one match behind a single in-flight
// flag. Event registration has its own flag and may overlap a control action.
type Dispatcher struct {
	matchID string
	gateway Gateway
	sink    StateSink
	journal journal.Recorder

	journalTimeout time.Duration

	mu           sync.Mutex
	loading      models.ControlAction
	eventLoading bool
}

func New(matchID string, gateway Gateway, sink StateSink, recorder journal.Recorder) *Dispatcher {
	if recorder == nil {
		recorder = journal.Nop{}
	}
	return &Dispatcher{
		matchID: matchID,
		gateway: gateway,
		sink:    sink,
		journal: recorder,

		journalTimeout: DefaultJournalTimeout,
	}
}

// Loading returns the action currently in flight, or "" when idle.
func (d *Dispatcher) Loading() models.ControlAction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loading
}

// EventLoading reports whether an event registration is in flight.
func (d *Dispatcher) EventLoading() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eventLoading
}

// Run executes req. On success the snapshot is replaced with the response and
// the event list is refreshed; on failure the snapshot is left as it was.
func (d *Dispatcher) Run(ctx context.Context, req Request) (models.StateResponse, error) {
	if _, ok := models.ParseControlAction(string(req.Action)); !ok {
		return models.StateResponse{}, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	if !d.acquire(req.Action) {
		d.record(ctx, req, journal.OutcomeRejected, ErrActionInFlight.Error())
		return models.StateResponse{}, ErrActionInFlight
	}
	defer d.release()

	resp, err := d.perform(ctx, req)
	if err != nil {
		ce := Classify(err)
		outcome := journal.OutcomeFailed
		if ce.Kind == KindConflict {
			outcome = journal.OutcomeConflict
		}
		log.Warn().
			Err(err).
			Str("match_id", d.matchID).
			Str("action", string(req.Action)).
			Str("kind", string(ce.Kind)).
			Msg("control action failed")
		d.record(ctx, req, outcome, ce.Message)
		return models.StateResponse{}, ce
	}

	if resp.Snapshot != nil {
		d.sink.ApplyState(resp)
	}
	d.sink.RefreshEvents(ctx)
	d.record(ctx, req, journal.OutcomeOK, "")

	log.Info().
		Str("match_id", d.matchID).
		Str("action", string(req.Action)).
		Msg("control action applied")
	return resp, nil
}

func (d *Dispatcher) perform(ctx context.Context, req Request) (models.StateResponse, error) {
	snap := d.sink.Snapshot()
	if snap != nil && !lifecycle.Evaluate(snap.Status).Allows(req.Action) {
		return models.StateResponse{}, &ControlError{Kind: KindConflict, Message: MessageNotPermitted}
	}

	switch req.Action {
	case models.ActionStart:
		return d.gateway.Start(ctx, d.matchID)
	case models.ActionPause:
		return d.gateway.Pause(ctx, d.matchID, req.Reason)
	case models.ActionResume:
		if snap != nil && lifecycle.IsInterval(snap.Status) {
			return d.gateway.StartSecondHalf(ctx, d.matchID)
		}
		return d.gateway.Resume(ctx, d.matchID)
	case models.ActionStartNextPeriod:
		return d.gateway.StartSecondHalf(ctx, d.matchID)
	case models.ActionFinish:
		return d.gateway.Finish(ctx, d.matchID)
	case models.ActionEndPeriod:
		return d.gateway.FinalizePeriod(ctx, d.matchID)
	case models.ActionCancel:
		return d.gateway.Cancel(ctx, d.matchID)
	case models.ActionAdjustClock:
		return d.adjustClock(ctx, req.TargetSeconds, snap)
	}
	return models.StateResponse{}, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
}

// adjustClock re-reads the authoritative elapsed time right before computing the
// delta. The locally known value is used only when that read fails.
func (d *Dispatcher) adjustClock(ctx context.Context, target *int, snap *models.MatchSnapshot) (models.StateResponse, error) {
	if target == nil || *target < 0 {
		return models.StateResponse{}, &ControlError{Kind: KindConflict, Message: ErrInvalidClockTarget.Error(), Err: ErrInvalidClockTarget}
	}

	current, known := 0, false
	fresh, err := d.gateway.FetchState(ctx, d.matchID)
	switch {
	case err == nil && fresh.Snapshot != nil:
		current, known = fresh.Snapshot.ElapsedSeconds, true
	case snap != nil:
		log.Warn().Err(err).Str("match_id", d.matchID).Msg("clock re-read failed, using local elapsed time")
		current, known = snap.ElapsedSeconds, true
	}
	if !known {
		return models.StateResponse{}, fmt.Errorf("failed to read current clock: %w", err)
	}

	delta := *target - current
	if delta == 0 {
		if err == nil {
			return fresh, nil
		}
		return models.StateResponse{Snapshot: snap}, nil
	}
	return d.gateway.AdjustClock(ctx, d.matchID, delta)
}

// CreateEvent registers an event for the match. It does not touch the snapshot;
// callers refresh afterwards.
func (d *Dispatcher) CreateEvent(ctx context.Context, req models.CreateEventRequest) (*models.MatchEvent, error) {
	d.mu.Lock()
	if d.eventLoading {
		d.mu.Unlock()
		return nil, ErrEventInFlight
	}
	d.eventLoading = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.eventLoading = false
		d.mu.Unlock()
	}()

	req.MatchID = d.matchID
	event, err := d.gateway.CreateEvent(ctx, req, d.sink.Teams())
	payload, _ := json.Marshal(map[string]any{"type": req.Type, "team_id": req.TeamID, "player_id": req.PlayerID})
	entry := journal.Entry{MatchID: d.matchID, Action: "createEvent", Payload: payload, Outcome: journal.OutcomeOK}
	if err != nil {
		entry.Outcome = journal.OutcomeFailed
		entry.Message = err.Error()
	}
	d.write(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return event, nil
}

func (d *Dispatcher) acquire(action models.ControlAction) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loading != "" {
		return false
	}
	d.loading = action
	return true
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	d.loading = ""
	d.mu.Unlock()
}

func (d *Dispatcher) record(ctx context.Context, req Request, outcome journal.Outcome, message string) {
	entry := journal.Entry{
		MatchID: d.matchID,
		Action:  string(req.Action),
		Outcome: outcome,
		Message: message,
	}
	body := map[string]any{}
	if req.Reason != "" {
		body["reason"] = req.Reason
	}
	if req.TargetSeconds != nil {
		body["target_seconds"] = *req.TargetSeconds
	}
	if len(body) > 0 {
		entry.Payload, _ = json.Marshal(body)
	}
	d.write(ctx, entry)
}

func (d *Dispatcher) write(ctx context.Context, entry journal.Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.journalTimeout)
	defer cancel()
	if _, err := d.journal.Record(ctx, entry); err != nil {
		log.Error().Err(err).Str("match_id", d.matchID).Str("action", entry.Action).Msg("failed to journal control action")
	}
}
