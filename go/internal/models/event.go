package models

import "time"

// MatchEvent is a single timestamped occurrence in a match (goal, card, timeout,
// suspension, system marker). ID is stable across REST and push deliveries.
type MatchEvent struct {
	ID             string    `json:"id"`
	Team           Side      `json:"team,omitempty"`
	PlayerName     string    `json:"player_name,omitempty"`
	TypeName       string    `json:"type_name,omitempty"`
	Description    string    `json:"description"`
	Timestamp      time.Time `json:"timestamp"`
	MatchTimeLabel string    `json:"match_time_label,omitempty"`
}

// CreateEventRequest describes an event an operator registers for a match.
type CreateEventRequest struct {
	MatchID          string
	TeamID           string
	PlayerID         string
	Type             string
	TypeID           *int
	MatchTimeSeconds *int
}
