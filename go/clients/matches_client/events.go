package matches_client

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/socrefy/matchdesk/go/internal/matchcontrol/normalize"
	"github.com/socrefy/matchdesk/go/internal/models"
)

type createEventBody struct {
	MatchID          any    `json:"match_id"`
	TeamID           any    `json:"team_id,omitempty"`
	PlayerID         any    `json:"player_id,omitempty"`
	Type             string `json:"type,omitempty"`
	TypeID           *int   `json:"type_id,omitempty"`
	MatchTimeSeconds *int   `json:"match_time_seconds,omitempty"`
}

// ListEvents loads the event list, latest match time first.
func (c *MatchesClient) ListEvents(ctx context.Context, matchID string, teams normalize.Teams) ([]models.MatchEvent, error) {
	path, err := c.matchPath(matchID)
	if err != nil {
		return nil, err
	}
	query := url.Values{"sort": []string{EventsListSort}}
	body, err := c.Get(ctx, path+EventsListEndpoint+"?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to list match events: %w", err)
	}
	return normalize.EventList(normalize.Decode(body), teams), nil
}

// CreateEvent registers an event. The returned event is nil when the backend
// answers without a recognizable event record.
func (c *MatchesClient) CreateEvent(ctx context.Context, req models.CreateEventRequest, teams normalize.Teams) (*models.MatchEvent, error) {
	path, err := c.matchPath(req.MatchID)
	if err != nil {
		return nil, err
	}

	payload := createEventBody{
		MatchID:          numericID(strings.TrimSpace(req.MatchID)),
		Type:             req.Type,
		TypeID:           req.TypeID,
		MatchTimeSeconds: req.MatchTimeSeconds,
	}
	if req.TeamID != "" {
		payload.TeamID = numericID(req.TeamID)
	}
	if req.PlayerID != "" {
		payload.PlayerID = numericID(req.PlayerID)
	}

	body, err := c.PostJSON(ctx, path+EventsEndpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create match event: %w", err)
	}

	raw := normalize.Decode(body)
	if events := normalize.PushedEvents(raw, teams); len(events) > 0 {
		return &events[0], nil
	}
	return nil, nil
}
