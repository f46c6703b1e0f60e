// Package matches_client talks to the backend match-control REST API.
//
// Responses are normalized on the way in. A payload that cannot be normalized
// comes back as a nil snapshot or an empty list with a nil error, so callers
// treat it as "no update".
package matches_client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/socrefy/matchdesk/go/clients"
	"github.com/socrefy/matchdesk/go/internal/matchcontrol/normalize"
	"github.com/socrefy/matchdesk/go/internal/models"
)

var ErrMatchIDRequired = errors.New("match identifier is required")

type MatchesClient struct {
	*clients.BaseClient
	matchesPath string
}

func NewMatchesClient(baseURL, matchesPath, bearerToken string) *MatchesClient {
	if matchesPath == "" {
		matchesPath = DefaultMatchesPath
	}
	client := &MatchesClient{
		BaseClient:  clients.NewBaseClient(baseURL),
		matchesPath: "/" + strings.Trim(matchesPath, "/"),
	}
	client.SetBearerToken(bearerToken)
	return client
}

func (c *MatchesClient) matchPath(matchID string) (string, error) {
	id := strings.TrimSpace(matchID)
	if id == "" {
		return "", ErrMatchIDRequired
	}
	return c.matchesPath + "/" + url.PathEscape(id), nil
}

// FetchDetail loads the static match record.
func (c *MatchesClient) FetchDetail(ctx context.Context, matchID string) (*models.MatchDetail, error) {
	path, err := c.matchPath(matchID)
	if err != nil {
		return nil, err
	}
	body, err := c.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to get match detail: %w", err)
	}
	return normalize.Detail(normalize.Decode(body)), nil
}

// FetchState loads the authoritative snapshot and, when present, the embedded
// initial clock.
func (c *MatchesClient) FetchState(ctx context.Context, matchID string) (models.StateResponse, error) {
	path, err := c.matchPath(matchID)
	if err != nil {
		return models.StateResponse{}, err
	}
	body, err := c.Get(ctx, path+StateEndpoint)
	if err != nil {
		return models.StateResponse{}, fmt.Errorf("failed to get match state: %w", err)
	}
	return normalize.State(normalize.Decode(body)), nil
}

func (c *MatchesClient) Start(ctx context.Context, matchID string) (models.StateResponse, error) {
	return c.performAction(ctx, matchID, StartEndpoint, nil)
}

// Pause pauses the match. An empty reason sends no body.
func (c *MatchesClient) Pause(ctx context.Context, matchID, reason string) (models.StateResponse, error) {
	var payload any
	if reason = strings.TrimSpace(reason); reason != "" {
		payload = map[string]string{"reason": reason}
	}
	return c.performAction(ctx, matchID, PauseEndpoint, payload)
}

func (c *MatchesClient) Resume(ctx context.Context, matchID string) (models.StateResponse, error) {
	return c.performAction(ctx, matchID, ResumeEndpoint, nil)
}

func (c *MatchesClient) StartSecondHalf(ctx context.Context, matchID string) (models.StateResponse, error) {
	return c.performAction(ctx, matchID, SecondHalfEndpoint, nil)
}

func (c *MatchesClient) Finish(ctx context.Context, matchID string) (models.StateResponse, error) {
	return c.performAction(ctx, matchID, FinishEndpoint, nil)
}

func (c *MatchesClient) FinalizePeriod(ctx context.Context, matchID string) (models.StateResponse, error) {
	return c.performAction(ctx, matchID, FinalizePeriodEndpoint, nil)
}

func (c *MatchesClient) Cancel(ctx context.Context, matchID string) (models.StateResponse, error) {
	return c.performAction(ctx, matchID, CancelEndpoint, nil)
}

// AdjustClock shifts the backend clock by a signed number of seconds.
func (c *MatchesClient) AdjustClock(ctx context.Context, matchID string, deltaSeconds int) (models.StateResponse, error) {
	return c.performAction(ctx, matchID, ClockAdjustEndpoint, map[string]int{"delta_seconds": deltaSeconds})
}

func (c *MatchesClient) performAction(ctx context.Context, matchID, endpoint string, payload any) (models.StateResponse, error) {
	path, err := c.matchPath(matchID)
	if err != nil {
		return models.StateResponse{}, err
	}
	body, err := c.PostJSON(ctx, path+endpoint, payload)
	if err != nil {
		return models.StateResponse{}, fmt.Errorf("failed to %s match: %w", strings.TrimPrefix(endpoint, "/"), err)
	}
	return normalize.State(normalize.Decode(body)), nil
}

// numericID sends ids as numbers when they are numeric, as the backend expects.
func numericID(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}
