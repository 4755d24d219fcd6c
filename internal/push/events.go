package push

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lox/plantwatch/internal/models"
)

type EventKind string

const (
	EventHealthUpdate   EventKind = "plant_health_update"
	EventForecastUpdate EventKind = "plant_forecast_update"
	EventSensorReading  EventKind = "sensor_reading"

	// Lifecycle signals a server may send explicitly.
	signalDisconnect = "disconnect"

	commandSubscribe = "subscribe_plant"
)

// Known reports whether k is an event kind the channel dispatches.
func (k EventKind) Known() bool {
	switch k {
	case EventHealthUpdate, EventForecastUpdate, EventSensorReading:
		return true
	}
	return false
}

// Message is the envelope exchanged with a transport in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is a decoded inbound push event addressed to one plant.
type Event struct {
	Kind     EventKind
	PlantID  int
	Received time.Time
	Data     json.RawMessage
}

func decodeEvent(msg Message, now time.Time) (Event, error) {
	var head struct {
		PlantID *int `json:"plant_id"`
	}
	if err := json.Unmarshal(msg.Data, &head); err != nil {
		return Event{}, fmt.Errorf("decode %s: %w", msg.Event, err)
	}
	if head.PlantID == nil {
		return Event{}, fmt.Errorf("decode %s: missing plant_id", msg.Event)
	}
	return Event{
		Kind:     EventKind(msg.Event),
		PlantID:  *head.PlantID,
		Received: now,
		Data:     msg.Data,
	}, nil
}

func (e Event) Health() (*models.HealthAssessment, error) {
	var h models.HealthAssessment
	if err := json.Unmarshal(e.Data, &h); err != nil {
		return nil, fmt.Errorf("decode health update: %w", err)
	}
	return &h, nil
}

func (e Event) Forecast() (*models.Forecast, error) {
	var f models.Forecast
	if err := json.Unmarshal(e.Data, &f); err != nil {
		return nil, fmt.Errorf("decode forecast update: %w", err)
	}
	return &f, nil
}

func (e Event) Sensor() (*models.SensorUpdate, error) {
	var s models.SensorUpdate
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return nil, fmt.Errorf("decode sensor reading: %w", err)
	}
	return &s, nil
}

func subscribeMessage(plantID int) Message {
	data, _ := json.Marshal(struct {
		PlantID int `json:"plant_id"`
	}{plantID})
	return Message{Event: commandSubscribe, Data: data}
}
