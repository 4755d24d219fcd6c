package series

import (
	"fmt"

	"github.com/lox/plantwatch/internal/models"
)

type MetricID string

const (
	SoilMoisture    MetricID = "soil_moisture"
	SoilTemperature MetricID = "soil_temperature"
	Health          MetricID = "health"
	Humidity        MetricID = "humidity"
	LightIntensity  MetricID = "light_intensity"
	SoilPH          MetricID = "soil_ph"
	Nitrogen        MetricID = "nitrogen"
	Phosphorus      MetricID = "phosphorus"
	Potassium       MetricID = "potassium"
)

type Color struct {
	R, G, B uint8
}

func (c Color) String() string {
	return fmt.Sprintf("rgba(%d, %d, %d, 1)", c.R, c.G, c.B)
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Metric describes one plottable series. Every metric gets its own axis.
type Metric struct {
	ID      MetricID
	Label   string
	Unit    string
	Axis    string
	Color   Color
	Extract func(models.ForecastPoint) *float64
	// Fixed, when set, replaces the padded min/max bounds.
	Fixed *Bounds
}

// Registry is an ordered, immutable set of metrics.
type Registry struct {
	metrics []Metric
	index   map[MetricID]int
}

func NewRegistry(metrics ...Metric) *Registry {
	r := &Registry{index: make(map[MetricID]int, len(metrics))}
	for _, m := range metrics {
		if _, dup := r.index[m.ID]; dup {
			continue
		}
		r.index[m.ID] = len(r.metrics)
		r.metrics = append(r.metrics, m)
	}
	return r
}

func (r *Registry) Metrics() []Metric {
	out := make([]Metric, len(r.metrics))
	copy(out, r.metrics)
	return out
}

func (r *Registry) Lookup(id MetricID) (Metric, bool) {
	i, ok := r.index[id]
	if !ok {
		return Metric{}, false
	}
	return r.metrics[i], true
}

// ParseMetricIDs keeps the known ids from names, dropping unknown ones.
func (r *Registry) ParseMetricIDs(names []string) []MetricID {
	var out []MetricID
	for _, n := range names {
		if _, ok := r.index[MetricID(n)]; ok {
			out = append(out, MetricID(n))
		}
	}
	return out
}

// HealthBounds is the fixed axis for the ordinal health trend.
var HealthBounds = Bounds{Min: 0.5, Max: 3.5}

var defaultRegistry = NewRegistry(
	Metric{
		ID: SoilMoisture, Label: "Soil Moisture", Unit: "%", Axis: "y",
		Color:   Color{14, 165, 233},
		Extract: func(p models.ForecastPoint) *float64 { return p.SoilMoisture },
	},
	Metric{
		ID: SoilTemperature, Label: "Soil Temperature", Unit: "°C", Axis: "y1",
		Color:   Color{239, 68, 68},
		Extract: func(p models.ForecastPoint) *float64 { return p.SoilTemperature },
	},
	Metric{
		ID: Health, Label: "Health Status", Axis: "y2",
		Color:   Color{34, 197, 94},
		Extract: healthValue,
		Fixed:   &HealthBounds,
	},
	Metric{
		ID: Humidity, Label: "Humidity", Unit: "%", Axis: "y3",
		Color:   Color{99, 102, 241},
		Extract: func(p models.ForecastPoint) *float64 { return p.Humidity },
	},
	Metric{
		ID: LightIntensity, Label: "Light Intensity", Unit: "lux", Axis: "y4",
		Color:   Color{245, 158, 11},
		Extract: func(p models.ForecastPoint) *float64 { return p.LightIntensity },
	},
	Metric{
		ID: SoilPH, Label: "Soil pH", Axis: "y5",
		Color:   Color{139, 92, 246},
		Extract: func(p models.ForecastPoint) *float64 { return p.SoilPH },
	},
	Metric{
		ID: Nitrogen, Label: "Nitrogen", Unit: "mg/kg", Axis: "y6",
		Color:   Color{6, 182, 212},
		Extract: func(p models.ForecastPoint) *float64 { return p.Nitrogen },
	},
	Metric{
		ID: Phosphorus, Label: "Phosphorus", Unit: "mg/kg", Axis: "y7",
		Color:   Color{16, 185, 129},
		Extract: func(p models.ForecastPoint) *float64 { return p.Phosphorus },
	},
	Metric{
		ID: Potassium, Label: "Potassium", Unit: "mg/kg", Axis: "y8",
		Color:   Color{249, 115, 22},
		Extract: func(p models.ForecastPoint) *float64 { return p.Potassium },
	},
)

// DefaultRegistry returns the dashboard's metric set in display order.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// healthValue is the trend score of a point, or nil when the point carries
// no health label.
func healthValue(p models.ForecastPoint) *float64 {
	if p.PredictedHealth == "" {
		return nil
	}
	return models.Float(HealthScore(p.PredictedHealth))
}

// HealthScore maps a health label onto the ordinal trend scale. Labels that
// are not recognised score as warning.
func HealthScore(label models.HealthLabel) float64 {
	switch label.Class() {
	case models.HealthHealthy:
		return 3
	case models.HealthCritical:
		return 1
	default:
		return 2
	}
}
