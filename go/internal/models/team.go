package models

// Side is one of the two teams in a match.
type Side string

const (
	SideHome Side = "home"
	SideAway Side = "away"
)

// Valid reports whether s names a side.
func (s Side) Valid() bool {
	return s == SideHome || s == SideAway
}

// TeamSnapshot is the per-team part of a snapshot.
type TeamSnapshot struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	ShortName string `json:"short_name,omitempty"`
	Score     int    `json:"score"`
}

// TeamColors holds the optional kit colors of a team.
type TeamColors struct {
	Primary   string `json:"primary,omitempty"`
	Secondary string `json:"secondary,omitempty"`
}

// TeamInfo is a team as described in the match detail.
type TeamInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	ShortName string     `json:"short_name,omitempty"`
	Slug      string     `json:"slug,omitempty"`
	City      string     `json:"city,omitempty"`
	Colors    TeamColors `json:"colors"`
	Score     int        `json:"score"`
}

// Participant is a rostered athlete or staff member.
type Participant struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ShirtNumber *int   `json:"shirt_number,omitempty"`
	Role        string `json:"role,omitempty"`
	Position    string `json:"position,omitempty"`
	Team        Side   `json:"team"`
	IsStaff     bool   `json:"is_staff"`
}

// Participants groups the roster by side.
type Participants struct {
	Home []Participant `json:"home"`
	Away []Participant `json:"away"`
}
