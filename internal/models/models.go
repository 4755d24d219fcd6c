package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Plant is a monitored entity from the static catalog.
type Plant struct {
	ID          int            `json:"id"`
	Name        string         `json:"name"`
	Category    string         `json:"category"`
	Description string         `json:"description,omitempty"`
	ImageURL    string         `json:"image_url,omitempty"`
	Optimal     []OptimalRange `json:"optimal,omitempty"`
}

type OptimalRange struct {
	Metric string `json:"metric"`
	Range  string `json:"range"` // e.g. "60-80%"
}

// Reading is a vector of named sensor metrics. A nil field means the sensor
// did not report that metric.
type Reading struct {
	SoilMoisture       *float64 `json:"soil_moisture,omitempty"`
	SoilTemperature    *float64 `json:"soil_temperature,omitempty"`
	Humidity           *float64 `json:"humidity,omitempty"`
	AmbientTemperature *float64 `json:"ambient_temperature,omitempty"`
	LightIntensity     *float64 `json:"light_intensity,omitempty"`
	SoilPH             *float64 `json:"soil_ph,omitempty"`
	Nitrogen           *float64 `json:"nitrogen,omitempty"`
	Phosphorus         *float64 `json:"phosphorus,omitempty"`
	Potassium          *float64 `json:"potassium,omitempty"`
	Chlorophyll        *float64 `json:"chlorophyll,omitempty"`
	ECSignal           *float64 `json:"ec_signal,omitempty"`
}

// Values returns the present metrics keyed by their wire name.
func (r Reading) Values() map[string]float64 {
	out := make(map[string]float64)
	add := func(name string, v *float64) {
		if v != nil {
			out[name] = *v
		}
	}
	add("soil_moisture", r.SoilMoisture)
	add("soil_temperature", r.SoilTemperature)
	add("humidity", r.Humidity)
	add("ambient_temperature", r.AmbientTemperature)
	add("light_intensity", r.LightIntensity)
	add("soil_ph", r.SoilPH)
	add("nitrogen", r.Nitrogen)
	add("phosphorus", r.Phosphorus)
	add("potassium", r.Potassium)
	add("chlorophyll", r.Chlorophyll)
	add("ec_signal", r.ECSignal)
	return out
}

// HasRequired reports whether the three mandatory metrics are present.
func (r Reading) HasRequired() bool {
	return r.SoilMoisture != nil && r.SoilTemperature != nil && r.Humidity != nil
}

// Float returns a pointer to v, for building readings in code.
func Float(v float64) *float64 {
	return &v
}

// HealthLabel is the backend's free-form health prediction ("Healthy", "Warning", ...).
type HealthLabel string

type HealthClass string

const (
	HealthHealthy  HealthClass = "healthy"
	HealthWarning  HealthClass = "warning"
	HealthCritical HealthClass = "critical"
	HealthOther    HealthClass = "other"
)

// Class maps a label onto the fixed set of classes the dashboard styles.
func (l HealthLabel) Class() HealthClass {
	switch strings.ToLower(strings.TrimSpace(string(l))) {
	case "healthy":
		return HealthHealthy
	case "warning", "needs attention":
		return HealthWarning
	case "critical":
		return HealthCritical
	default:
		return HealthOther
	}
}

// HealthAssessment is produced by the backend; the dashboard only renders it.
type HealthAssessment struct {
	PlantID         int                `json:"plant_id"`
	Timestamp       Timestamp          `json:"timestamp"`
	PredictedHealth HealthLabel        `json:"predicted_health"`
	Confidence      map[string]float64 `json:"confidence,omitempty"`
	CurrentReadings Reading            `json:"current_readings"`
}

// TopConfidence returns the label with the highest probability.
func (h *HealthAssessment) TopConfidence() (string, float64) {
	var label string
	var best float64
	for k, v := range h.Confidence {
		if v > best || (v == best && k < label) {
			label, best = k, v
		}
	}
	return label, best
}

type PointKind string

const (
	KindUnset    PointKind = ""
	KindCurrent  PointKind = "current"
	KindForecast PointKind = "forecast"
)

// ForecastPoint is one entry of a forecast sequence. Metric values are
// flattened into the point on the wire.
type ForecastPoint struct {
	Date Timestamp `json:"date"`
	Reading
	PredictedHealth HealthLabel        `json:"predicted_health"`
	Confidence      map[string]float64 `json:"confidence,omitempty"`
	Kind            PointKind          `json:"forecast_type,omitempty"`
}

// Forecast is an ordered, chronological sequence of points. An empty
// sequence is the legal "no data" state.
type Forecast struct {
	PlantID   int             `json:"plant_id"`
	Generated Timestamp       `json:"forecast_generated"`
	Days      int             `json:"days_forecasted"`
	Points    []ForecastPoint `json:"forecast"`
}

// SensorUpdate is the payload of a pushed sensor_reading event.
type SensorUpdate struct {
	PlantID   int       `json:"plant_id"`
	Timestamp Timestamp `json:"timestamp"`
	Readings  Reading   `json:"readings"`
}

// BackendStatus is the response of the backend health probe.
type BackendStatus struct {
	Status          string `json:"status"`
	ModelLoaded     bool   `json:"model_loaded"`
	LSTMModelLoaded *bool  `json:"lstm_model_loaded,omitempty"`
	Version         string `json:"version,omitempty"`
}

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Timestamp accepts the backend's naive "2006-01-02 15:04:05" format as well
// as RFC 3339. Naive values are interpreted in the local zone.
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Timestamp{t}, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return Timestamp{t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("parse timestamp %q: unrecognised format", s)
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

// ReadingRecord is a reading persisted in local history.
type ReadingRecord struct {
	ID         int64     `json:"id"`
	PlantID    int       `json:"plant_id"`
	ObservedAt time.Time `json:"observed_at"`
	Source     string    `json:"source"`
	Reading
	CreatedAt time.Time `json:"created_at"`
}
