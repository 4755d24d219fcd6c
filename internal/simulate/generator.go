// Package simulate produces synthetic sensor readings and posts them to the
// prediction backend, standing in for field hardware during development.
package simulate

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/lox/plantwatch/internal/models"
)

type Scenario string

const (
	ScenarioNormal             Scenario = "normal"
	ScenarioHealthy            Scenario = "healthy"
	ScenarioDrought            Scenario = "drought"
	ScenarioOverwatering       Scenario = "overwatering"
	ScenarioNutrientDeficiency Scenario = "nutrient_deficiency"
)

var Scenarios = []Scenario{
	ScenarioNormal,
	ScenarioHealthy,
	ScenarioDrought,
	ScenarioOverwatering,
	ScenarioNutrientDeficiency,
}

func ParseScenario(s string) (Scenario, error) {
	for _, sc := range Scenarios {
		if string(sc) == s {
			return sc, nil
		}
	}
	return "", fmt.Errorf("unknown scenario %q", s)
}

// cycleSteps is the number of readings in one simulated day.
const cycleSteps = 24

type trend struct {
	soilMoisture float64
	soilTemp     float64
	humidity     float64
	ambientTemp  float64
	light        float64
	nitrogen     float64
	phosphorus   float64
	potassium    float64
	ph           float64
	chlorophyll  float64
	electro      float64
}

// Generator evolves one plant's sensor values step by step. It is not safe
// for concurrent use.
type Generator struct {
	scenario Scenario
	rng      *rand.Rand
	step     int
	t        trend
}

func NewGenerator(scenario Scenario, seed int64) *Generator {
	return &Generator{
		scenario: scenario,
		rng:      rand.New(rand.NewSource(seed)),
		t: trend{
			soilMoisture: 35,
			soilTemp:     22,
			humidity:     55,
			ambientTemp:  24,
			light:        500,
			nitrogen:     30,
			phosphorus:   30,
			potassium:    30,
			ph:           6.5,
			chlorophyll:  35,
			electro:      1.0,
		},
	}
}

// Next advances the simulation one step and returns the resulting reading.
func (g *Generator) Next() models.Reading {
	g.applyScenario()
	g.applyDiurnal()

	t := &g.t
	t.soilMoisture = clamp(t.soilMoisture+g.jitter(0.5), 5, 95)
	t.soilTemp = clamp(t.soilTemp+g.jitter(0.1), 5, 35)
	t.humidity = clamp(t.humidity+g.jitter(0.5), 20, 90)
	t.ambientTemp = clamp(t.ambientTemp+g.jitter(0.1), 10, 40)
	t.light = clamp(t.light+g.jitter(10), 0, 1000)
	t.nitrogen = clamp(t.nitrogen+g.jitter(0.1), 5, 50)
	t.phosphorus = clamp(t.phosphorus+g.jitter(0.1), 5, 50)
	t.potassium = clamp(t.potassium+g.jitter(0.1), 5, 50)

	// Waterlogged soil drifts acidic, dry soil alkaline.
	switch {
	case t.soilMoisture > 75:
		t.ph -= 0.005
	case t.soilMoisture < 25:
		t.ph += 0.005
	}
	t.ph = clamp(t.ph+g.jitter(0.05), 5.0, 7.5)

	return models.Reading{
		SoilMoisture:       round2(t.soilMoisture),
		SoilTemperature:    round2(t.soilTemp),
		Humidity:           round2(t.humidity),
		AmbientTemperature: round2(t.ambientTemp),
		LightIntensity:     round2(t.light),
		SoilPH:             round2(t.ph),
		Nitrogen:           round2(t.nitrogen),
		Phosphorus:         round2(t.phosphorus),
		Potassium:          round2(t.potassium),
		Chlorophyll:        round2(t.chlorophyll + g.jitter(0.5)),
		ECSignal:           round2(t.electro + g.jitter(0.05)),
	}
}

func (g *Generator) applyScenario() {
	t := &g.t
	switch g.scenario {
	case ScenarioDrought:
		t.soilMoisture = math.Max(10, t.soilMoisture*0.99)
		t.soilTemp += 0.05
		t.humidity = math.Max(30, t.humidity*0.995)
	case ScenarioOverwatering:
		t.soilMoisture = math.Min(90, t.soilMoisture*1.005)
		t.nitrogen = math.Max(15, t.nitrogen*0.998)
	case ScenarioNutrientDeficiency:
		t.nitrogen = math.Max(12, t.nitrogen*0.997)
		t.phosphorus = math.Max(12, t.phosphorus*0.997)
		t.potassium = math.Max(12, t.potassium*0.997)
		t.chlorophyll = math.Max(20, t.chlorophyll*0.998)
	case ScenarioHealthy:
		if t.soilMoisture < 40 {
			t.soilMoisture += 0.5
		} else if t.soilMoisture > 60 {
			t.soilMoisture -= 0.5
		}
		for _, n := range []*float64{&t.nitrogen, &t.phosphorus, &t.potassium} {
			if *n < 30 {
				*n += 0.2
			} else if *n > 40 {
				*n -= 0.2
			}
		}
	}
}

func (g *Generator) applyDiurnal() {
	g.step = (g.step + 1) % cycleSteps
	day := math.Sin(float64(g.step) / cycleSteps * 2 * math.Pi)

	t := &g.t
	if day > 0 {
		t.light += (300 + day*600 - t.light) * 0.2
		t.ambientTemp += (22 + day*6 - t.ambientTemp) * 0.1
		t.humidity += (60 - day*15 - t.humidity) * 0.1
	} else {
		t.light = math.Max(50, t.light*0.9)
		t.ambientTemp += (22 + day*4 - t.ambientTemp) * 0.1
		t.humidity += (60 - day*10 - t.humidity) * 0.1
	}
	t.soilTemp += (t.ambientTemp - t.soilTemp) * 0.05
}

func (g *Generator) jitter(amp float64) float64 {
	return (g.rng.Float64()*2 - 1) * amp
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) *float64 {
	r := math.Round(v*100) / 100
	return &r
}
