package normalize

import (
	"time"

	"github.com/socrefy/matchdesk/go/internal/matchcontrol/clock"
	"github.com/socrefy/matchdesk/go/internal/models"
)

const defaultEventDescription = "Event recorded"

// Teams resolves an event's team id to a side.
type Teams struct {
	HomeID string
	AwayID string
}

// TeamsOf returns the team ids of a match detail.
func TeamsOf(detail *models.MatchDetail) Teams {
	if detail == nil {
		return Teams{}
	}
	return Teams{HomeID: detail.HomeTeam.ID, AwayID: detail.AwayTeam.ID}
}

func (t Teams) side(teamID string) models.Side {
	switch {
	case teamID == "":
		return ""
	case teamID == t.HomeID:
		return models.SideHome
	case teamID == t.AwayID:
		return models.SideAway
	}
	return ""
}

// Event normalizes one event record. An id is required.
func Event(raw any, teams Teams) *models.MatchEvent {
	m := record(raw)
	if m == nil {
		return nil
	}
	id := stringField(m, "id")
	if id == "" {
		return nil
	}

	typeRecord := record(field(m, "type", "event_type"))
	player := record(field(m, "player", "player_info", "playerInfo"))

	teamID := stringField(m, "team_id")
	if teamID == "" {
		teamID = stringField(record(m["team"]), "id")
	}
	if teamID == "" {
		teamID = stringField(player, "team_id")
	}

	typeName := stringField(typeRecord, "name", "label")
	if typeName == "" {
		typeName = stringField(m, "type_name")
	}
	playerName := personName(player)
	if playerName == "" {
		playerName = stringField(m, "player_name")
	}

	description := stringField(m, "description")
	if description == "" {
		description = joinNonEmpty(" - ", typeName, playerName)
	}
	if description == "" {
		description = defaultEventDescription
	}

	timestamp := time.Now().UTC()
	if s := stringField(m, "created_at", "timestamp", "applied_at"); s != "" {
		if ts, ok := parseTimestamp(s); ok {
			timestamp = ts
		}
	}

	event := &models.MatchEvent{
		ID:          id,
		Team:        teams.side(teamID),
		PlayerName:  playerName,
		TypeName:    typeName,
		Description: description,
		Timestamp:   timestamp,
	}
	if seconds, ok := intField(m, "match_time_seconds", "matchTimeSeconds"); ok {
		event.MatchTimeLabel = clock.FormatClock(seconds)
	}
	return event
}

// Events normalizes an event array, dropping entries that fail normalization.
// Anything but an array yields an empty list.
func Events(raw any, teams Teams) []models.MatchEvent {
	items, ok := raw.([]any)
	if !ok {
		return []models.MatchEvent{}
	}
	out := make([]models.MatchEvent, 0, len(items))
	for _, item := range items {
		if e := Event(item, teams); e != nil {
			out = append(out, *e)
		}
	}
	return out
}

// EventList normalizes the events list response, which is either a bare array
// or wrapped as {"data": [...]}.
func EventList(raw any, teams Teams) []models.MatchEvent {
	if m := record(raw); m != nil {
		return Events(m["data"], teams)
	}
	return Events(raw, teams)
}

// PushedEvents normalizes a MatchEventCreated payload: one event, an array of
// events, or either of those wrapped under "event", "events" or "data".
func PushedEvents(raw any, teams Teams) []models.MatchEvent {
	if items, ok := raw.([]any); ok {
		return Events(items, teams)
	}
	m := record(raw)
	if m == nil {
		return []models.MatchEvent{}
	}
	if nested := field(m, "event", "events", "data"); nested != nil && m["id"] == nil {
		return PushedEvents(nested, teams)
	}
	if e := Event(m, teams); e != nil {
		return []models.MatchEvent{*e}
	}
	return []models.MatchEvent{}
}

func joinNonEmpty(sep string, values ...string) string {
	out := ""
	for _, v := range nonEmpty(values...) {
		if out != "" {
			out += sep
		}
		out += v
	}
	return out
}
