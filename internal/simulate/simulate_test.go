package simulate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lox/plantwatch/internal/models"
	"github.com/lox/plantwatch/internal/telemetry"
)

func TestGenerator_Deterministic(t *testing.T) {
	a := NewGenerator(ScenarioNormal, 42)
	b := NewGenerator(ScenarioNormal, 42)
	for i := 0; i < 10; i++ {
		ra, rb := a.Next(), b.Next()
		if *ra.SoilMoisture != *rb.SoilMoisture || *ra.LightIntensity != *rb.LightIntensity {
			t.Fatalf("step %d diverged: %v vs %v", i, *ra.SoilMoisture, *rb.SoilMoisture)
		}
	}
}

func TestGenerator_StaysPlausible(t *testing.T) {
	for _, sc := range Scenarios {
		g := NewGenerator(sc, 7)
		for i := 0; i < 500; i++ {
			r := g.Next()
			if flags := Validate(r); len(flags) > 0 {
				t.Fatalf("%s step %d: flags %v", sc, i, flags)
			}
			if *r.SoilPH < 5 || *r.SoilPH > 7.5 {
				t.Fatalf("%s step %d: pH %v outside [5, 7.5]", sc, i, *r.SoilPH)
			}
		}
	}
}

func TestGenerator_Drought(t *testing.T) {
	g := NewGenerator(ScenarioDrought, 1)
	var last models.Reading
	for i := 0; i < 200; i++ {
		last = g.Next()
	}
	if *last.SoilMoisture > 20 {
		t.Errorf("soil moisture after drought = %v, want <= 20", *last.SoilMoisture)
	}
}

func TestGenerator_DayNight(t *testing.T) {
	g := NewGenerator(ScenarioNormal, 3)
	var noon, midnight float64
	for i := 1; i <= cycleSteps; i++ {
		r := g.Next()
		switch i {
		case cycleSteps / 4:
			noon = *r.LightIntensity
		case cycleSteps * 3 / 4:
			midnight = *r.LightIntensity
		}
	}
	if noon <= midnight {
		t.Errorf("light at peak %v should exceed light at trough %v", noon, midnight)
	}
}

func TestValidate(t *testing.T) {
	base := func() models.Reading {
		return models.Reading{
			SoilMoisture:    models.Float(40),
			SoilTemperature: models.Float(21),
			Humidity:        models.Float(60),
		}
	}
	tests := []struct {
		name   string
		modify func(*models.Reading)
		want   []string
	}{
		{"valid", func(*models.Reading) {}, nil},
		{"missing humidity", func(r *models.Reading) { r.Humidity = nil }, []string{FlagMissingRequired}},
		{"moisture over 100", func(r *models.Reading) { r.SoilMoisture = models.Float(120) }, []string{FlagMoistureOutOfRange}},
		{"negative humidity", func(r *models.Reading) { r.Humidity = models.Float(-1) }, []string{FlagHumidityInvalid}},
		{"hot ambient", func(r *models.Reading) { r.AmbientTemperature = models.Float(75) }, []string{FlagTempOutOfRange}},
		{"ph", func(r *models.Reading) { r.SoilPH = models.Float(15) }, []string{FlagPHOutOfRange}},
		{"light", func(r *models.Reading) { r.LightIntensity = models.Float(-3) }, []string{FlagLightNegative}},
		{"nutrients", func(r *models.Reading) {
			r.Nitrogen = models.Float(-1)
			r.Potassium = models.Float(-2)
		}, []string{FlagNutrientNegative}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base()
			tt.modify(&r)
			got := Validate(r)
			if len(got) != len(tt.want) {
				t.Fatalf("Validate = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("flag %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseScenario(t *testing.T) {
	if sc, err := ParseScenario("drought"); err != nil || sc != ScenarioDrought {
		t.Errorf("ParseScenario(drought) = %q, %v", sc, err)
	}
	if _, err := ParseScenario("flood"); err == nil {
		t.Error("expected an error for an unknown scenario")
	}
}

type fakeSender struct {
	mu   sync.Mutex
	reqs []telemetry.SensorReadingRequest
	fail map[int]bool
}

func (f *fakeSender) SendReading(_ context.Context, req telemetry.SensorReadingRequest) (*telemetry.SensorReadingAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.fail[req.PlantID] {
		return nil, errors.New("backend down")
	}
	return &telemetry.SensorReadingAck{Received: true, PlantID: req.PlantID, PredictedHealth: "Healthy"}, nil
}

func TestRunner_Tick(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	sender := &fakeSender{fail: map[int]bool{3: true}}
	r, err := NewRunner(sender, Config{
		Plants: []int{1, 2, 3},
		Now:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}

	if sent := r.Tick(context.Background()); sent != 2 {
		t.Errorf("Tick sent %d, want 2", sent)
	}
	if len(sender.reqs) != 3 {
		t.Fatalf("requests = %d, want 3", len(sender.reqs))
	}
	for i, req := range sender.reqs {
		if req.PlantID != i+1 {
			t.Errorf("request %d plant = %d, want %d", i, req.PlantID, i+1)
		}
		if err := req.Validate(); err != nil {
			t.Errorf("request %d invalid: %v", i, err)
		}
		if req.Timestamp != "2024-05-01 10:00:00" {
			t.Errorf("request %d timestamp = %q", i, req.Timestamp)
		}
	}
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	sender := &fakeSender{}
	r, err := NewRunner(sender, Config{Plants: []int{1}, Interval: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.reqs) < 2 {
		t.Errorf("requests = %d, want at least 2", len(sender.reqs))
	}
}

func TestNewRunner_RequiresPlants(t *testing.T) {
	if _, err := NewRunner(&fakeSender{}, Config{}); err == nil {
		t.Error("expected an error without plants")
	}
}
