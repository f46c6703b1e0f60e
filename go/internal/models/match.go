package models

import (
	"strings"
	"time"
)

// MatchStatus is the lifecycle status reported by the backend. Values outside the
// known set are kept as-is; the lifecycle package decides what they allow.
type MatchStatus string

const (
	MatchStatusScheduled  MatchStatus = "scheduled"
	MatchStatusNotStarted MatchStatus = "not_started"
	MatchStatusLive       MatchStatus = "live"
	MatchStatusPaused     MatchStatus = "paused"
	MatchStatusHalftime   MatchStatus = "halftime"
	MatchStatusFinal      MatchStatus = "final"
	MatchStatusFinished   MatchStatus = "finished"
	MatchStatusCanceled   MatchStatus = "canceled"
)

// Normalized returns the status lower-cased and trimmed.
func (s MatchStatus) Normalized() MatchStatus {
	return MatchStatus(strings.ToLower(strings.TrimSpace(string(s))))
}

// MatchSnapshot is the authoritative lifecycle state last observed from the backend.
// It is replaced wholesale on every refresh, never patched.
type MatchSnapshot struct {
	MatchID              string       `json:"match_id"`
	Status               MatchStatus  `json:"status"`
	Period               *int         `json:"period,omitempty"`
	ElapsedSeconds       int          `json:"elapsed_seconds"`
	PeriodElapsedSeconds *int         `json:"period_elapsed_seconds,omitempty"`
	ServerTime           string       `json:"server_time,omitempty"`
	StartTime            string       `json:"start_time,omitempty"`
	LastPauseAt          string       `json:"last_pause_at,omitempty"`
	LastEventAt          string       `json:"last_event_at,omitempty"`
	MaxPeriodSeconds     *int         `json:"max_period_seconds,omitempty"`
	FirstHalfEnd         *int         `json:"first_half_end,omitempty"`
	Home                 TeamSnapshot `json:"home"`
	Away                 TeamSnapshot `json:"away"`
}

// StateResponse is what GET /matches/{id}/state yields once normalized.
type StateResponse struct {
	Snapshot     *MatchSnapshot `json:"snapshot"`
	InitialClock *ClockUpdate   `json:"initial_clock,omitempty"`
}

// ClockUpdate is an authoritative clock reading, pushed as MatchTimeUpdated or
// embedded in the state response.
type ClockUpdate struct {
	MatchID        string `json:"match_id"`
	CurrentSeconds int    `json:"current_seconds"`
	IsRunning      bool   `json:"is_running"`
	Duration       int    `json:"duration"`
}

// MatchDetail is the static match record: teams, rosters and the events embedded
// in the detail payload.
type MatchDetail struct {
	ID                string       `json:"id"`
	Status            MatchStatus  `json:"status"`
	Period            *int         `json:"period,omitempty"`
	StartAt           string       `json:"start_at,omitempty"`
	CompetitionID     string       `json:"competition_id,omitempty"`
	CompetitionName   string       `json:"competition_name,omitempty"`
	CompetitionSeason string       `json:"competition_season,omitempty"`
	VenueID           string       `json:"venue_id,omitempty"`
	VenueName         string       `json:"venue_name,omitempty"`
	BroadcastURL      string       `json:"broadcast_url,omitempty"`
	HomeTeam          TeamInfo     `json:"home_team"`
	AwayTeam          TeamInfo     `json:"away_team"`
	Participants      Participants `json:"participants"`
	Events            []MatchEvent `json:"events"`
}

// TeamID returns the team id playing on the given side.
func (d *MatchDetail) TeamID(side Side) string {
	if d == nil {
		return ""
	}
	if side == SideAway {
		return d.AwayTeam.ID
	}
	return d.HomeTeam.ID
}

// SyncInfo records when a room last heard from the backend.
type SyncInfo struct {
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	PendingEvents int        `json:"pending_events"`
}
