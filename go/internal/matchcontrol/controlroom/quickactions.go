package controlroom

import (
	"slices"

	"github.com/socrefy/matchdesk/go/internal/models"
)

var quickActions = []models.QuickAction{
	{ID: "home-goal", Label: "Home goal", Description: "Register a goal for the home team", Tone: "danger", Team: string(models.SideHome), TypeCode: "goal", RequiresPlayer: true},
	{ID: "away-goal", Label: "Away goal", Description: "Register a goal for the away team", Tone: "danger", Team: string(models.SideAway), TypeCode: "goal", RequiresPlayer: true},
	{ID: "timeout-home", Label: "Home timeout", Description: "Start a home team timeout", Tone: "info", Team: string(models.SideHome), TypeCode: "timeout_home"},
	{ID: "timeout-away", Label: "Away timeout", Description: "Start an away team timeout", Tone: "info", Team: string(models.SideAway), TypeCode: "timeout_away"},
}

// Player actions are offered from the roster grid; the side comes from the player.
var playerActions = []models.QuickAction{
	{ID: "goal", Label: "Goal", Tone: "danger", TypeCode: "goal", RequiresPlayer: true},
	{ID: "yellow_card", Label: "Yellow card", Tone: "warning", TypeCode: "yellow_card", RequiresPlayer: true},
	{ID: "red_card", Label: "Red card", Tone: "danger", TypeCode: "red_card", RequiresPlayer: true},
	{ID: "suspension_2min_start", Label: "2 minute suspension", Tone: "warning", TypeCode: "suspension_2min_start", RequiresPlayer: true},
	{ID: "blue_card", Label: "Blue card", Tone: "info", TypeCode: "blue_card", RequiresPlayer: true},
}

// QuickActions returns the desk shortcuts.
func QuickActions() []models.QuickAction {
	return slices.Clone(quickActions)
}

// PlayerActions returns the per-player event shortcuts.
func PlayerActions() []models.QuickAction {
	return slices.Clone(playerActions)
}

// LookupAction finds a quick or player action by id.
func LookupAction(id string) (models.QuickAction, bool) {
	for _, list := range [][]models.QuickAction{quickActions, playerActions} {
		if i := slices.IndexFunc(list, func(a models.QuickAction) bool { return a.ID == id }); i >= 0 {
			return list[i], true
		}
	}
	return models.QuickAction{}, false
}
