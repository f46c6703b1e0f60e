package models

import "strings"

// ControlAction is a state-changing command an operator can send for a match.
type ControlAction string

const (
	ActionStart           ControlAction = "start"
	ActionPause           ControlAction = "pause"
	ActionResume          ControlAction = "resume"
	ActionFinish          ControlAction = "finish"
	ActionStartNextPeriod ControlAction = "startNextPeriod"
	ActionEndPeriod       ControlAction = "endPeriod"
	ActionCancel          ControlAction = "cancel"
	ActionAdjustClock     ControlAction = "adjustClock"
)

// ParseControlAction maps the wire name of an action to its constant.
func ParseControlAction(s string) (ControlAction, bool) {
	switch ControlAction(s) {
	case ActionStart, ActionPause, ActionResume, ActionFinish, ActionStartNextPeriod,
		ActionEndPeriod, ActionCancel, ActionAdjustClock:
		return ControlAction(s), true
	}
	return "", false
}

// TimeoutState is a UI-only team timeout countdown. It is never persisted.
type TimeoutState struct {
	Team             Side `json:"team"`
	RemainingSeconds int  `json:"remaining_seconds"`
}

// QuickAction is a one-tap event shortcut offered on the control desk.
type QuickAction struct {
	ID             string `json:"id"`
	Label          string `json:"label"`
	Description    string `json:"description,omitempty"`
	Tone           string `json:"tone,omitempty"`
	Team           string `json:"team"`
	TypeCode       string `json:"type_code"`
	RequiresPlayer bool   `json:"requires_player"`
}

// IsTimeout reports whether the action starts a team timeout.
func (q QuickAction) IsTimeout() bool {
	return strings.Contains(q.TypeCode, "timeout")
}
