// Package lifecycle derives which control actions a match status currently allows.
//
// The backend is the only enforcer of legal transitions. These flags only decide
// which affordances the control desk offers; no transition table is kept here.
package lifecycle

import (
	"fmt"

	"github.com/socrefy/matchdesk/go/internal/models"
)

var (
	preMatchStatuses   = statusSet("not_started", "scheduled", "pre_match", "pending", "awaiting")
	inProgressStatuses = statusSet("live", "in_progress", "started")
	pausedStatuses     = statusSet("paused")
	intervalStatuses   = statusSet("halftime", "interval")
	canceledStatuses   = statusSet("cancelled", "canceled")
	finishedStatuses   = statusSet("final", "finished", "completed")
)

func statusSet(values ...string) map[models.MatchStatus]struct{} {
	set := make(map[models.MatchStatus]struct{}, len(values))
	for _, v := range values {
		set[models.MatchStatus(v)] = struct{}{}
	}
	return set
}

func in(set map[models.MatchStatus]struct{}, status models.MatchStatus) bool {
	_, ok := set[status]
	return ok
}

// Capabilities are the control affordances derived from a status.
type Capabilities struct {
	CanStart           bool `json:"can_start"`
	CanPause           bool `json:"can_pause"`
	CanResume          bool `json:"can_resume"`
	CanFinish          bool `json:"can_finish"`
	CanStartNextPeriod bool `json:"can_start_next_period"`
	CanEndPeriod       bool `json:"can_end_period"`
	CanCancel          bool `json:"can_cancel"`
	CanAdjustClock     bool `json:"can_adjust_clock"`
}

// Evaluate maps a status (case-insensitive) to its capability flags.
//
// Resume stays available from finished states; the observed desk behaves that way
// and whether it should is still a product decision.
func Evaluate(status models.MatchStatus) Capabilities {
	s := status.Normalized()
	canceled := in(canceledStatuses, s)
	terminal := canceled || in(finishedStatuses, s)
	preMatch := in(preMatchStatuses, s)
	live := in(inProgressStatuses, s)
	paused := in(pausedStatuses, s)
	interval := in(intervalStatuses, s)

	return Capabilities{
		CanStart:           !terminal && preMatch,
		CanPause:           !terminal && live,
		CanResume:          !canceled && (paused || interval || terminal),
		CanFinish:          !terminal && (live || paused || interval),
		CanStartNextPeriod: !canceled && interval,
		CanEndPeriod:       !terminal && (live || paused),
		CanCancel:          !terminal && !canceled,
		CanAdjustClock:     !canceled,
	}
}

// Allows reports whether the given action is offered.
func (c Capabilities) Allows(action models.ControlAction) bool {
	switch action {
	case models.ActionStart:
		return c.CanStart
	case models.ActionPause:
		return c.CanPause
	case models.ActionResume:
		return c.CanResume
	case models.ActionFinish:
		return c.CanFinish
	case models.ActionStartNextPeriod:
		return c.CanStartNextPeriod
	case models.ActionEndPeriod:
		return c.CanEndPeriod
	case models.ActionCancel:
		return c.CanCancel
	case models.ActionAdjustClock:
		return c.CanAdjustClock
	default:
		return false
	}
}

// IsRunning reports whether the clock runs in this status.
func IsRunning(status models.MatchStatus) bool {
	return in(inProgressStatuses, status.Normalized())
}

// IsInterval reports whether the match is between periods. Resume is routed to
// the next-period endpoint in this state.
func IsInterval(status models.MatchStatus) bool {
	return in(intervalStatuses, status.Normalized())
}

// IsTerminal reports whether the match is finished or canceled.
func IsTerminal(status models.MatchStatus) bool {
	s := status.Normalized()
	return in(finishedStatuses, s) || in(canceledStatuses, s)
}

// PeriodLabel names a period for display.
func PeriodLabel(period *int) string {
	if period == nil || *period <= 0 {
		return "Pre-match"
	}
	switch *period {
	case 1:
		return "1st half"
	case 2:
		return "2nd half"
	case 3:
		return "Extra time"
	case 4:
		return "Penalties"
	}
	return fmt.Sprintf("Period %d", *period)
}
