package dashboard

import (
	"fmt"
	"time"

	"github.com/lox/plantwatch/internal/models"
)

type Phase int

const (
	Ready Phase = iota
	Loading
	Refreshing
)

func (p Phase) String() string {
	switch p {
	case Loading:
		return "loading"
	case Refreshing:
		return "refreshing"
	default:
		return "ready"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ErrorKind classifies the most recent fetch failure.
type ErrorKind string

const (
	ErrNone        ErrorKind = ""
	ErrUnavailable ErrorKind = "unavailable"
	ErrTimeout     ErrorKind = "timeout"
	ErrNotFound    ErrorKind = "not_found"
	ErrFetchFailed ErrorKind = "fetch_failed"
)

// Availability is the result of the backend health probe.
type Availability string

const (
	Checking Availability = "checking"
	Online   Availability = "online"
	Offline  Availability = "offline"
)

// View is an immutable snapshot of the dashboard state. Health and Forecast
// always belong to PlantID.
type View struct {
	PlantID        int                      `json:"plant_id"`
	Plant          *models.Plant            `json:"plant,omitempty"`
	Phase          Phase                    `json:"phase"`
	Health         *models.HealthAssessment `json:"health"`
	Forecast       *models.Forecast         `json:"forecast"`
	LastUpdated    time.Time                `json:"last_updated"`
	Connection     models.ConnectionState   `json:"connection"`
	LiveMode       bool                     `json:"live_mode"`
	RefreshEnabled bool                     `json:"refresh_enabled"`
	Backend        Availability             `json:"backend"`
	BackendStatus  *models.BackendStatus    `json:"backend_status,omitempty"`
	ErrorKind      ErrorKind                `json:"error_kind,omitempty"`
	Error          string                   `json:"error,omitempty"`
	Seq            uint64                   `json:"seq"`
}

// HasData reports whether there is anything to display for the plant.
func (v View) HasData() bool {
	return v.Health != nil || (v.Forecast != nil && len(v.Forecast.Points) > 0)
}

// Unavailable reports the full-view "backend unreachable" state.
func (v View) Unavailable() bool {
	return v.Backend == Offline
}

// FormatTimeAgo renders how long ago t was, e.g. "42 seconds ago".
func FormatTimeAgo(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	seconds := int(now.Sub(t).Seconds())
	if seconds < 0 {
		seconds = 0
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%d seconds ago", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%d minutes ago", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%d hours ago", seconds/3600)
	default:
		return fmt.Sprintf("%d days ago", seconds/86400)
	}
}
