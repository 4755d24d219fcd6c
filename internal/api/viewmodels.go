package api

import (
	"github.com/lox/plantwatch/internal/advice"
	"github.com/lox/plantwatch/internal/dashboard"
	"github.com/lox/plantwatch/internal/models"
	"github.com/lox/plantwatch/internal/series"
)

// ViewResponse is the dashboard snapshot plus everything the page derives from it.
type ViewResponse struct {
	dashboard.View
	// Available is false when the backend probe failed; the page then shows
	// the unavailable state instead of data.
	Available       bool                `json:"available"`
	HealthClass     models.HealthClass  `json:"health_class,omitempty"`
	ConfidenceLabel string              `json:"confidence_label,omitempty"`
	Confidence      float64             `json:"confidence,omitempty"`
	UpdatedAgo      string              `json:"updated_ago,omitempty"`
	Suggestions     []advice.Suggestion `json:"suggestions"`
	Metrics         []series.MetricID   `json:"metrics"`
}

// IndexData is passed to dashboard.html.
type IndexData struct {
	ViewResponse
	Plants []models.Plant
}

// ChartResponse is a reconciled chart model with the metric toggles it supports.
type ChartResponse struct {
	series.Model
	Available []series.MetricID `json:"available_metrics"`
}

type HealthStatus struct {
	Status      string                 `json:"status"`
	Backend     dashboard.Availability `json:"backend"`
	Connection  models.ConnectionState `json:"connection"`
	PlantID     int                    `json:"plant_id"`
	LastUpdated string                 `json:"last_updated,omitempty"`
}

type actionResponse struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}
