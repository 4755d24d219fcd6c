package series

import (
	"math"
	"time"

	"github.com/lox/plantwatch/internal/models"
)

const (
	lowerPad = 0.8
	upperPad = 1.2

	// pointsPerDay matches the backend's four-hourly forecast cadence.
	pointsPerDay = 6
	// fallbackStepHours is used for hours-ahead when points carry no dates.
	fallbackStepHours = 4
)

type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// PaddedBounds returns [min*0.8, max*1.2] over the present values. ok is
// false when no value is present.
func PaddedBounds(values []*float64) (b Bounds, ok bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if v == nil || math.IsNaN(*v) {
			continue
		}
		lo = math.Min(lo, *v)
		hi = math.Max(hi, *v)
		ok = true
	}
	if !ok {
		return Bounds{}, false
	}
	return Bounds{Min: lo * lowerPad, Max: hi * upperPad}, true
}

type MarkerShape string

const (
	MarkerRectRot MarkerShape = "rectRot"
	MarkerCircle  MarkerShape = "circle"
)

type Marker struct {
	Shape       MarkerShape `json:"shape"`
	Radius      float64     `json:"radius"`
	BorderWidth float64     `json:"border_width"`
	// WhiteFill draws the marker hollow with a white centre.
	WhiteFill bool `json:"white_fill"`
}

var (
	currentMarker  = Marker{Shape: MarkerRectRot, Radius: 5, BorderWidth: 2, WhiteFill: true}
	forecastMarker = Marker{Shape: MarkerCircle, Radius: 3, BorderWidth: 1}
)

// MarkerFor returns the point marker for a kind.
func MarkerFor(kind models.PointKind) Marker {
	if kind == models.KindCurrent {
		return currentMarker
	}
	return forecastMarker
}

type Point struct {
	Index      int                `json:"index"`
	Date       time.Time          `json:"date"`
	Kind       models.PointKind   `json:"kind"`
	Label      string             `json:"label"`
	Title      string             `json:"title"`
	HoursAhead float64            `json:"hours_ahead"`
	Health     models.HealthLabel `json:"predicted_health"`
	Marker     Marker             `json:"marker"`
}

// Segment joins point From to point From+1.
type Segment struct {
	From   int  `json:"from"`
	Dashed bool `json:"dashed"`
}

type Series struct {
	Metric MetricID   `json:"metric"`
	Label  string     `json:"label"`
	Unit   string     `json:"unit,omitempty"`
	Axis   string     `json:"axis"`
	Color  Color      `json:"color"`
	Values []*float64 `json:"values"`
	Bounds Bounds     `json:"bounds"`
}

// Model is the renderer-ready result of a reconciliation.
type Model struct {
	Empty    bool      `json:"empty"`
	Points   []Point   `json:"points"`
	Segments []Segment `json:"segments"`
	Series   []Series  `json:"series"`
	// HealthTrend holds the same values as the health series; unlabelled
	// points are gaps.
	HealthTrend []*float64 `json:"health_trend"`
	Days        int        `json:"days"`
	// KindCorrections counts explicit kind tags that were overridden.
	KindCorrections int `json:"kind_corrections,omitempty"`
}

// Reconciler turns forecasts into chart models using a metric registry.
type Reconciler struct {
	Registry *Registry
	Now      func() time.Time
}

func NewReconciler() *Reconciler {
	return &Reconciler{Registry: DefaultRegistry(), Now: time.Now}
}

// Reconcile uses the default registry and the wall clock.
func Reconcile(f *models.Forecast, selected []MetricID) Model {
	return NewReconciler().Reconcile(f, selected)
}

// Reconcile builds a model for the selected metrics. A nil selection means
// every registered metric. Series follow registry order, not selection order.
func (r *Reconciler) Reconcile(f *models.Forecast, selected []MetricID) Model {
	if f == nil || len(f.Points) == 0 {
		return Model{Empty: true}
	}

	points, corrected := NormalizeKinds(f.Points)
	now := r.Now()

	m := Model{
		Points:          make([]Point, len(points)),
		HealthTrend:     make([]*float64, len(points)),
		Days:            len(points) / pointsPerDay,
		KindCorrections: corrected,
	}

	origin := points[0].Date.Time
	for i, p := range points {
		label := PointLabel(p.Date.Time, now)
		m.Points[i] = Point{
			Index:      i,
			Date:       p.Date.Time,
			Kind:       p.Kind,
			Label:      label,
			Title:      TooltipTitle(p.Kind, label),
			HoursAhead: hoursAhead(i, p.Date.Time, origin),
			Health:     p.PredictedHealth,
			Marker:     MarkerFor(p.Kind),
		}
		m.HealthTrend[i] = healthValue(p)
	}

	for i := 0; i+1 < len(points); i++ {
		m.Segments = append(m.Segments, Segment{
			From:   i,
			Dashed: points[i].Kind == models.KindForecast || points[i+1].Kind == models.KindForecast,
		})
	}

	want := selectionSet(selected)
	for _, metric := range r.Registry.Metrics() {
		if want != nil && !want[metric.ID] {
			continue
		}
		values := make([]*float64, len(points))
		for i, p := range points {
			if v := metric.Extract(p); v != nil {
				x := *v
				values[i] = &x
			}
		}
		bounds, ok := PaddedBounds(values)
		if !ok {
			continue
		}
		if metric.Fixed != nil {
			bounds = *metric.Fixed
		}
		m.Series = append(m.Series, Series{
			Metric: metric.ID,
			Label:  metric.Label,
			Unit:   metric.Unit,
			Axis:   metric.Axis,
			Color:  metric.Color,
			Values: values,
			Bounds: bounds,
		})
	}
	return m
}

// AvailableMetrics lists registry metrics with at least one value in f.
func AvailableMetrics(f *models.Forecast) []MetricID {
	if f == nil {
		return nil
	}
	var out []MetricID
	for _, metric := range DefaultRegistry().Metrics() {
		for _, p := range f.Points {
			if metric.Extract(p) != nil {
				out = append(out, metric.ID)
				break
			}
		}
	}
	return out
}

func selectionSet(selected []MetricID) map[MetricID]bool {
	if selected == nil {
		return nil
	}
	set := make(map[MetricID]bool, len(selected))
	for _, id := range selected {
		set[id] = true
	}
	return set
}

func hoursAhead(i int, at, origin time.Time) float64 {
	if i == 0 {
		return 0
	}
	if at.IsZero() || origin.IsZero() {
		return float64(i * fallbackStepHours)
	}
	return at.Sub(origin).Hours()
}
