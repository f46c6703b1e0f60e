package normalize

import (
	"github.com/socrefy/matchdesk/go/internal/models"
)

const (
	homeFallbackName = "Home"
	awayFallbackName = "Away"
)

// Snapshot normalizes a state payload. A match id and a status are required.
func Snapshot(raw any) *models.MatchSnapshot {
	m := record(raw)
	if m == nil {
		return nil
	}
	matchID := stringField(m, "match_id", "matchId", "id")
	status := stringField(m, "status")
	if matchID == "" || status == "" {
		return nil
	}

	score := record(m["score"])
	teams := record(m["teams"])

	elapsed, _ := intField(m, "elapsed_seconds", "elapsedSeconds")
	if elapsed < 0 {
		elapsed = 0
	}

	return &models.MatchSnapshot{
		MatchID:              matchID,
		Status:               models.MatchStatus(status),
		Period:               intPtr(m, "period"),
		ElapsedSeconds:       elapsed,
		PeriodElapsedSeconds: intPtr(m, "period_elapsed_seconds", "periodElapsedSeconds"),
		ServerTime:           stringField(m, "server_time", "serverTime"),
		StartTime:            stringField(m, "start_time", "startTime"),
		LastPauseAt:          stringField(m, "last_pause_started_at", "lastPauseStartedAt"),
		LastEventAt:          stringField(m, "last_event_at", "lastEventAt"),
		MaxPeriodSeconds:     intPtr(m, "MAX_PERIOD_SECONDS", "max_period_seconds", "maxPeriodSeconds"),
		FirstHalfEnd:         intPtr(m, "FIRST_HALF_END", "first_half_end", "firstHalfEnd"),
		Home:                 teamSnapshot(record(teams["home"]), homeFallbackName, field(score, "home"), m["home_score"]),
		Away:                 teamSnapshot(record(teams["away"]), awayFallbackName, field(score, "away"), m["away_score"]),
	}
}

func teamSnapshot(team map[string]any, fallbackName string, scores ...any) models.TeamSnapshot {
	out := models.TeamSnapshot{
		ID:        stringField(team, "id"),
		Name:      stringField(team, "name"),
		ShortName: stringField(team, "short_name", "shortName"),
	}
	if out.Name == "" {
		out.Name = fallbackName
	}
	for _, s := range scores {
		if s == nil {
			continue
		}
		if v, ok := asNumber(s); ok {
			out.Score = int(v)
		}
		break
	}
	return out
}

// State normalizes the GET /state response. The snapshot may be the payload
// itself or nested under "snapshot"; the initial clock, when present, sits under
// "initial_clock" (or "initialClock", "clock").
func State(raw any) models.StateResponse {
	m := record(raw)
	if m == nil {
		return models.StateResponse{}
	}
	if data := record(m["data"]); data != nil && m["status"] == nil {
		m = data
	}

	snapshotRaw := any(m)
	if nested := record(m["snapshot"]); nested != nil {
		snapshotRaw = nested
	}

	resp := models.StateResponse{Snapshot: Snapshot(snapshotRaw)}
	if c := ClockUpdate(field(m, "initial_clock", "initialClock", "clock")); c != nil {
		if c.MatchID == "" && resp.Snapshot != nil {
			c.MatchID = resp.Snapshot.MatchID
		}
		resp.InitialClock = c
	}
	return resp
}

// ClockUpdate normalizes a MatchTimeUpdated payload. current_seconds is required.
func ClockUpdate(raw any) *models.ClockUpdate {
	m := record(raw)
	if m == nil {
		return nil
	}
	current, ok := intField(m, "current_seconds", "currentSeconds")
	if !ok {
		return nil
	}
	duration, _ := intField(m, "duration")
	return &models.ClockUpdate{
		MatchID:        stringField(m, "match_id", "matchId"),
		CurrentSeconds: current,
		IsRunning:      asBool(field(m, "is_running", "isRunning")),
		Duration:       duration,
	}
}
