package matches_client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socrefy/matchdesk/go/clients"
	"github.com/socrefy/matchdesk/go/internal/matchcontrol/normalize"
	"github.com/socrefy/matchdesk/go/internal/models"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]any
}

func newTestServer(t *testing.T, status int, response string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
		}
		if body, _ := io.ReadAll(r.Body); len(body) > 0 {
			assert.NoError(t, json.Unmarshal(body, &rec.Body))
		}
		requests = append(requests, rec)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestFetchState(t *testing.T) {
	srv, requests := newTestServer(t, http.StatusOK, `{
		"snapshot": {"match_id": "12", "status": "live", "elapsed_seconds": 600},
		"initial_clock": {"current_seconds": 605, "is_running": true, "duration": 1800}
	}`)
	c := NewMatchesClient(srv.URL, "", "secret")

	resp, err := c.FetchState(context.Background(), "12")
	require.NoError(t, err)
	require.NotNil(t, resp.Snapshot)
	assert.Equal(t, models.MatchStatusLive, resp.Snapshot.Status)
	require.NotNil(t, resp.InitialClock)
	assert.Equal(t, 605, resp.InitialClock.CurrentSeconds)

	require.Len(t, *requests, 1)
	assert.Equal(t, http.MethodGet, (*requests)[0].Method)
	assert.Equal(t, "/v2/auth/matches/12/state", (*requests)[0].Path)
	assert.Equal(t, "Bearer secret", (*requests)[0].Auth)
}

func TestFetchStateMalformedIsNoUpdate(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{"unexpected": true}`)
	c := NewMatchesClient(srv.URL, "/matches", "")

	resp, err := c.FetchState(context.Background(), "12")
	require.NoError(t, err)
	assert.Nil(t, resp.Snapshot)
}

func TestControlEndpoints(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name string
		call func(c *MatchesClient) (models.StateResponse, error)
		path string
		body map[string]any
	}{
		{"start", func(c *MatchesClient) (models.StateResponse, error) { return c.Start(ctx, "7") }, "/matches/7/start", nil},
		{"pause", func(c *MatchesClient) (models.StateResponse, error) { return c.Pause(ctx, "7", "injury") }, "/matches/7/pause", map[string]any{"reason": "injury"}},
		{"pause without reason", func(c *MatchesClient) (models.StateResponse, error) { return c.Pause(ctx, "7", " ") }, "/matches/7/pause", nil},
		{"resume", func(c *MatchesClient) (models.StateResponse, error) { return c.Resume(ctx, "7") }, "/matches/7/resume", nil},
		{"second half", func(c *MatchesClient) (models.StateResponse, error) { return c.StartSecondHalf(ctx, "7") }, "/matches/7/second-half", nil},
		{"finish", func(c *MatchesClient) (models.StateResponse, error) { return c.Finish(ctx, "7") }, "/matches/7/finish", nil},
		{"finalize period", func(c *MatchesClient) (models.StateResponse, error) { return c.FinalizePeriod(ctx, "7") }, "/matches/7/periods/finalize", nil},
		{"cancel", func(c *MatchesClient) (models.StateResponse, error) { return c.Cancel(ctx, "7") }, "/matches/7/cancel", nil},
		{"adjust clock", func(c *MatchesClient) (models.StateResponse, error) { return c.AdjustClock(ctx, "7", -15) }, "/matches/7/clock/adjust", map[string]any{"delta_seconds": float64(-15)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv, requests := newTestServer(t, http.StatusOK, `{"match_id":"7","status":"paused"}`)
			c := NewMatchesClient(srv.URL, "/matches/", "")

			resp, err := tc.call(c)
			require.NoError(t, err)
			require.NotNil(t, resp.Snapshot)
			assert.Equal(t, models.MatchStatusPaused, resp.Snapshot.Status)

			require.Len(t, *requests, 1)
			assert.Equal(t, http.MethodPost, (*requests)[0].Method)
			assert.Equal(t, tc.path, (*requests)[0].Path)
			assert.Equal(t, tc.body, (*requests)[0].Body)
			assert.Empty(t, (*requests)[0].Auth)
		})
	}
}

func TestConflictCarriesBackendMessage(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusUnprocessableEntity, `{"message":"Match already finished"}`)
	c := NewMatchesClient(srv.URL, "", "")

	_, err := c.Finish(context.Background(), "7")
	require.Error(t, err)

	apiErr, ok := clients.AsAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.IsConflict())
	assert.Equal(t, "Match already finished", apiErr.Message)
}

func TestValidationErrorMessageFallback(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusConflict, `{"errors":{"status":["Match is not live"],"clock":["bad"]}}`)
	c := NewMatchesClient(srv.URL, "", "")

	_, err := c.Pause(context.Background(), "7", "")
	apiErr, ok := clients.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "bad", apiErr.Message)
	assert.Equal(t, []string{"Match is not live"}, apiErr.Errors["status"])
}

func TestServerErrorIsNotConflict(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusInternalServerError, `oops`)
	c := NewMatchesClient(srv.URL, "", "")

	_, err := c.Start(context.Background(), "7")
	apiErr, ok := clients.AsAPIError(err)
	require.True(t, ok)
	assert.False(t, apiErr.IsConflict())
	assert.Empty(t, apiErr.Message)
	assert.Contains(t, apiErr.Error(), "oops")
}

func TestMatchIDRequired(t *testing.T) {
	c := NewMatchesClient("http://127.0.0.1:1", "", "")
	_, err := c.FetchState(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrMatchIDRequired)
}

func TestListEvents(t *testing.T) {
	srv, requests := newTestServer(t, http.StatusOK, `{"data":[
		{"id": 1, "team_id": 10, "type": {"name": "Goal"}, "match_time_seconds": 61},
		{"id": 2, "team_id": 20}
	]}`)
	c := NewMatchesClient(srv.URL, "", "")

	events, err := c.ListEvents(context.Background(), "7", normalize.Teams{HomeID: "10", AwayID: "20"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.SideHome, events[0].Team)
	assert.Equal(t, "01:01", events[0].MatchTimeLabel)
	assert.Equal(t, models.SideAway, events[1].Team)

	assert.Equal(t, "/v2/auth/matches/7/events/list", (*requests)[0].Path)
	assert.Equal(t, "sort=-match_time_seconds", (*requests)[0].Query)
}

func TestCreateEvent(t *testing.T) {
	srv, requests := newTestServer(t, http.StatusCreated, `{"data":{"id": 99, "type_name": "Goal"}}`)
	c := NewMatchesClient(srv.URL, "", "")

	seconds := 754
	event, err := c.CreateEvent(context.Background(), models.CreateEventRequest{
		MatchID:          "7",
		TeamID:           "10",
		PlayerID:         "p-3",
		Type:             "goal",
		MatchTimeSeconds: &seconds,
	}, normalize.Teams{})
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "99", event.ID)

	require.Len(t, *requests, 1)
	assert.Equal(t, "/v2/auth/matches/7/events", (*requests)[0].Path)
	assert.Equal(t, map[string]any{
		"match_id":           float64(7),
		"team_id":            float64(10),
		"player_id":          "p-3",
		"type":               "goal",
		"match_time_seconds": float64(754),
	}, (*requests)[0].Body)
}
