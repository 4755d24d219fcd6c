package simulate

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/lox/plantwatch/internal/metrics"
	"github.com/lox/plantwatch/internal/telemetry"
)

const DefaultInterval = 5 * time.Second

// Sender delivers one reading to the backend.
type Sender interface {
	SendReading(ctx context.Context, req telemetry.SensorReadingRequest) (*telemetry.SensorReadingAck, error)
}

type Config struct {
	Plants   []int
	Interval time.Duration
	Scenario Scenario
	Seed     int64
	Now      func() time.Time
}

// Runner drives one Generator per plant and posts each reading through a Sender.
type Runner struct {
	sender     Sender
	cfg        Config
	generators map[int]*Generator
}

func NewRunner(sender Sender, cfg Config) (*Runner, error) {
	if len(cfg.Plants) == 0 {
		return nil, fmt.Errorf("no plants to simulate")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Scenario == "" {
		cfg.Scenario = ScenarioNormal
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	gens := make(map[int]*Generator, len(cfg.Plants))
	for _, id := range cfg.Plants {
		gens[id] = NewGenerator(cfg.Scenario, cfg.Seed+int64(id))
	}
	return &Runner{sender: sender, cfg: cfg, generators: gens}, nil
}

// Run posts a reading for every plant immediately and then on each interval
// until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	log.Printf("simulate: %d plants, scenario %s, every %s", len(r.cfg.Plants), r.cfg.Scenario, r.cfg.Interval)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.Tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick generates and sends one reading per plant, returning how many the
// backend accepted.
func (r *Runner) Tick(ctx context.Context) int {
	sent := 0
	for _, id := range r.cfg.Plants {
		if ctx.Err() != nil {
			return sent
		}
		if r.send(ctx, id) {
			sent++
		}
	}
	return sent
}

func (r *Runner) send(ctx context.Context, plantID int) bool {
	plant := strconv.Itoa(plantID)
	reading := r.generators[plantID].Next()

	if flags := Validate(reading); len(flags) > 0 {
		log.Printf("simulate: plant %d: skipping reading, flags %v", plantID, flags)
		metrics.ReadingsSimulated.WithLabelValues(plant, "invalid").Inc()
		return false
	}

	ack, err := r.sender.SendReading(ctx, telemetry.NewSensorReadingRequest(plantID, reading, r.cfg.Now()))
	if err != nil {
		log.Printf("simulate: plant %d: send reading: %v", plantID, err)
		metrics.ReadingsSimulated.WithLabelValues(plant, "error").Inc()
		return false
	}
	metrics.ReadingsSimulated.WithLabelValues(plant, "ok").Inc()
	if ack.PredictedHealth != "" {
		log.Printf("simulate: plant %d: moisture %.1f%%, predicted %s", plantID, *reading.SoilMoisture, ack.PredictedHealth)
	}
	return true
}
