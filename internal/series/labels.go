package series

import (
	"time"

	"github.com/lox/plantwatch/internal/models"
)

// PointLabel formats a point's axis label relative to now: "Today 3:04 PM",
// "Tomorrow 9:00 AM", otherwise the weekday.
func PointLabel(at, now time.Time) string {
	if at.IsZero() {
		return ""
	}
	at = at.In(now.Location())
	clock := at.Format("3:04 PM")

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, now.Location())
	switch {
	case day.Equal(today):
		return "Today " + clock
	case day.Equal(today.AddDate(0, 0, 1)):
		return "Tomorrow " + clock
	default:
		return at.Format("Mon") + " " + clock
	}
}

// TooltipTitle prefixes a point label with its kind.
func TooltipTitle(kind models.PointKind, label string) string {
	if kind == models.KindCurrent {
		return "Current: " + label
	}
	return "Forecast: " + label
}
