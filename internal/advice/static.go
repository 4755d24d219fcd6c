package advice

import (
	"context"
	"strings"

	"github.com/lox/plantwatch/internal/models"
)

// Suggestion is one line of care advice with an icon hint for the page.
type Suggestion struct {
	Icon string `json:"icon"`
	Text string `json:"text"`
}

// Advisor produces care suggestions for a plant in a given health state.
type Advisor interface {
	Suggest(ctx context.Context, health models.HealthLabel, plant models.Plant) []Suggestion
}

var general = map[models.HealthClass][]Suggestion{
	models.HealthHealthy: {
		{Icon: "leaf", Text: "Continue with your current care routine."},
		{Icon: "sun", Text: "Ensure the plant receives appropriate light."},
		{Icon: "cut", Text: "Consider pruning to encourage new growth."},
	},
	models.HealthWarning: {
		{Icon: "tint", Text: "Check soil moisture levels, adjust watering schedule."},
		{Icon: "thermometer", Text: "Monitor environmental temperature and humidity."},
		{Icon: "sun", Text: "Ensure adequate but not excessive light exposure."},
	},
	models.HealthCritical: {
		{Icon: "tint", Text: "Urgent: Check for over/under watering and adjust immediately."},
		{Icon: "thermometer", Text: "Move the plant to a location with appropriate temperature."},
		{Icon: "leaf", Text: "Inspect for pests or diseases and treat if necessary."},
	},
}

var byCategory = map[string]map[models.HealthClass]Suggestion{
	"Vegetable": {
		models.HealthHealthy:  {Icon: "sun", Text: "Ensure 6-8 hours of direct sunlight daily."},
		models.HealthWarning:  {Icon: "tint", Text: "Check for consistent soil moisture - vegetables need regular watering."},
		models.HealthCritical: {Icon: "leaf", Text: "Look for signs of nutrient deficiency in the leaves."},
	},
	"House Plant": {
		models.HealthHealthy:  {Icon: "sun", Text: "Most house plants prefer indirect light rather than direct sun."},
		models.HealthWarning:  {Icon: "tint", Text: "House plants typically prefer less frequent but deeper watering."},
		models.HealthCritical: {Icon: "thermometer", Text: "Check for drafts or temperature extremes near your plant."},
	},
	"Herb": {
		models.HealthHealthy:  {Icon: "cut", Text: "Regular harvesting encourages bushier growth in herbs."},
		models.HealthWarning:  {Icon: "tint", Text: "Herbs prefer consistent moisture but not soggy soil."},
		models.HealthCritical: {Icon: "sun", Text: "Most herbs need at least 6 hours of sunlight - check positioning."},
	},
}

// Static serves the built-in lookup tables.
type Static struct{}

func (Static) Suggest(_ context.Context, health models.HealthLabel, plant models.Plant) []Suggestion {
	if strings.TrimSpace(string(health)) == "" {
		return nil
	}
	class := health.Class()
	base, ok := general[class]
	if !ok {
		// Unrecognised labels are treated like a warning.
		base = general[models.HealthWarning]
	}

	out := append([]Suggestion(nil), base...)
	if extra, ok := byCategory[plant.Category][class]; ok {
		out = append(out, extra)
	}
	return out
}
