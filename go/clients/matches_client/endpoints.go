package matches_client

const (
	// DefaultMatchesPath is the authenticated matches resource. Event endpoints
	// must stay on it; there is no fallback to older API versions.
	DefaultMatchesPath = "/v2/auth/matches"

	StateEndpoint          = "/state"
	StartEndpoint          = "/start"
	PauseEndpoint          = "/pause"
	ResumeEndpoint         = "/resume"
	SecondHalfEndpoint     = "/second-half"
	FinishEndpoint         = "/finish"
	FinalizePeriodEndpoint = "/periods/finalize"
	CancelEndpoint         = "/cancel"
	ClockAdjustEndpoint    = "/clock/adjust"
	EventsEndpoint         = "/events"
	EventsListEndpoint     = "/events/list"

	// EventsListSort orders the list by match time, latest first
	EventsListSort = "-match_time_seconds"
)
