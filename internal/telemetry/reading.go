package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/lox/plantwatch/internal/models"
)

// SensorReadingRequest is the backend's ingestion payload. Field names follow
// the training dataset columns the backend expects.
type SensorReadingRequest struct {
	PlantID               int      `json:"Plant_ID"`
	SoilMoisture          *float64 `json:"Soil_Moisture"`
	SoilTemperature       *float64 `json:"Soil_Temperature"`
	Humidity              *float64 `json:"Humidity"`
	AmbientTemperature    *float64 `json:"Ambient_Temperature,omitempty"`
	LightIntensity        *float64 `json:"Light_Intensity,omitempty"`
	SoilPH                *float64 `json:"Soil_pH,omitempty"`
	NitrogenLevel         *float64 `json:"Nitrogen_Level,omitempty"`
	PhosphorusLevel       *float64 `json:"Phosphorus_Level,omitempty"`
	PotassiumLevel        *float64 `json:"Potassium_Level,omitempty"`
	ChlorophyllContent    *float64 `json:"Chlorophyll_Content,omitempty"`
	ElectrochemicalSignal *float64 `json:"Electrochemical_Signal,omitempty"`
	Timestamp             string   `json:"Timestamp,omitempty"`
}

// SensorReadingAck is returned by POST /sensor_reading.
type SensorReadingAck struct {
	Received        bool               `json:"received"`
	PlantID         int                `json:"plant_id"`
	Timestamp       models.Timestamp   `json:"timestamp"`
	PredictedHealth models.HealthLabel `json:"predicted_health,omitempty"`
}

var ErrMissingField = errors.New("missing required field")

// NewSensorReadingRequest builds an ingestion payload from a reading. A zero
// observedAt leaves the timestamp to the backend.
func NewSensorReadingRequest(plantID int, r models.Reading, observedAt time.Time) SensorReadingRequest {
	req := SensorReadingRequest{
		PlantID:               plantID,
		SoilMoisture:          r.SoilMoisture,
		SoilTemperature:       r.SoilTemperature,
		Humidity:              r.Humidity,
		AmbientTemperature:    r.AmbientTemperature,
		LightIntensity:        r.LightIntensity,
		SoilPH:                r.SoilPH,
		NitrogenLevel:         r.Nitrogen,
		PhosphorusLevel:       r.Phosphorus,
		PotassiumLevel:        r.Potassium,
		ChlorophyllContent:    r.Chlorophyll,
		ElectrochemicalSignal: r.ECSignal,
	}
	if !observedAt.IsZero() {
		req.Timestamp = observedAt.Format("2006-01-02 15:04:05")
	}
	return req
}

func (r SensorReadingRequest) Validate() error {
	if r.PlantID <= 0 {
		return fmt.Errorf("%w: Plant_ID", ErrMissingField)
	}
	switch {
	case r.SoilMoisture == nil:
		return fmt.Errorf("%w: Soil_Moisture", ErrMissingField)
	case r.SoilTemperature == nil:
		return fmt.Errorf("%w: Soil_Temperature", ErrMissingField)
	case r.Humidity == nil:
		return fmt.Errorf("%w: Humidity", ErrMissingField)
	}
	return nil
}
