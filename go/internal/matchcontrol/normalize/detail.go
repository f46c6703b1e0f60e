package normalize

import (
	"strings"

	"github.com/socrefy/matchdesk/go/internal/models"
)

// Detail normalizes the match detail record. An id is required.
func Detail(raw any) *models.MatchDetail {
	m := record(raw)
	if m == nil {
		return nil
	}
	if data := record(m["data"]); data != nil && m["id"] == nil {
		m = data
	}
	id := stringField(m, "id")
	if id == "" {
		return nil
	}

	status := stringField(m, "status")
	if status == "" {
		status = string(models.MatchStatusScheduled)
	}

	competition := record(m["competition"])
	venue := record(m["venue"])

	homeScore, _ := intField(m, "home_score", "homeScore")
	awayScore, _ := intField(m, "away_score", "awayScore")

	detail := &models.MatchDetail{
		ID:                id,
		Status:            models.MatchStatus(status),
		Period:            intPtr(m, "period", "current_period"),
		StartAt:           stringField(m, "start_at", "startAt"),
		CompetitionID:     firstNonEmpty(stringField(m, "competition_id", "competitionId"), stringField(competition, "id")),
		CompetitionName:   firstNonEmpty(stringField(competition, "name"), stringField(m, "competition_name")),
		CompetitionSeason: firstNonEmpty(stringField(competition, "season"), stringField(m, "competition_season")),
		VenueID:           firstNonEmpty(stringField(m, "venue_id", "venueId"), stringField(venue, "id")),
		VenueName:         firstNonEmpty(stringField(venue, "name"), stringField(m, "venue_name")),
		BroadcastURL:      stringField(m, "broadcast_url", "broadcastUrl"),
		HomeTeam: teamInfo(record(field(m, "home_team", "homeTeam")), stringField(m, "home_team_id", "homeTeamId"),
			homeFallbackName, stringField(m, "home_short", "homeShort"), homeScore),
		AwayTeam: teamInfo(record(field(m, "away_team", "awayTeam")), stringField(m, "away_team_id", "awayTeamId"),
			awayFallbackName, stringField(m, "away_short", "awayShort"), awayScore),
		Participants: models.Participants{Home: []models.Participant{}, Away: []models.Participant{}},
	}

	teams := Teams{
		HomeID: stringField(m, "home_team_id", "homeTeamId"),
		AwayID: stringField(m, "away_team_id", "awayTeamId"),
	}
	if teams.HomeID == "" {
		teams.HomeID = detail.HomeTeam.ID
	}
	if teams.AwayID == "" {
		teams.AwayID = detail.AwayTeam.ID
	}
	detail.Events = Events(m["events"], teams)

	players, _ := m["players"].([]any)
	for _, item := range players {
		entry := record(item)
		if entry == nil {
			continue
		}
		teamID := stringField(entry, "team_id", "teamId")
		if teamID == "" {
			teamID = stringField(record(entry["pivot"]), "team_id")
		}
		side := teams.side(teamID)
		if side == "" {
			continue
		}
		p := participant(entry, side)
		if p == nil {
			continue
		}
		if side == models.SideHome {
			detail.Participants.Home = append(detail.Participants.Home, *p)
		} else {
			detail.Participants.Away = append(detail.Participants.Away, *p)
		}
	}
	return detail
}

func teamInfo(raw map[string]any, teamID, fallbackName, fallbackShort string, score int) models.TeamInfo {
	colors := record(raw["colors"])
	info := models.TeamInfo{
		ID:        firstNonEmpty(stringField(raw, "id"), teamID),
		Name:      firstNonEmpty(stringField(raw, "name"), fallbackName),
		ShortName: firstNonEmpty(stringField(raw, "short_name", "shortName"), fallbackShort),
		Slug:      stringField(raw, "slug"),
		City:      stringField(raw, "city"),
		Colors: models.TeamColors{
			Primary:   stringField(colors, "primary"),
			Secondary: stringField(colors, "secondary"),
		},
		Score: score,
	}
	return info
}

func participant(raw map[string]any, side models.Side) *models.Participant {
	player := record(raw["player"])
	id := stringField(raw, "id", "player_id")
	if id == "" {
		id = stringField(player, "id")
	}
	name := firstNonEmpty(personName(player), personName(raw))
	if id == "" || name == "" {
		return nil
	}

	p := &models.Participant{
		ID:       id,
		Name:     name,
		Role:     firstNonEmpty(stringField(player, "role"), stringField(raw, "role")),
		Position: firstNonEmpty(stringField(player, "position"), stringField(raw, "position")),
		Team:     side,
		IsStaff:  strings.EqualFold(stringField(raw, "type"), "staff"),
	}
	if n, ok := intField(player, "number", "shirt_number"); ok {
		p.ShirtNumber = &n
	} else if n, ok := intField(raw, "shirt_number", "number"); ok {
		p.ShirtNumber = &n
	}
	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
