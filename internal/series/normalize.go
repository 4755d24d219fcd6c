package series

import "github.com/lox/plantwatch/internal/models"

// NormalizeKinds returns a copy of points in which the first point is
// current and every other point is forecast. Untagged points take their kind
// from position. Explicit tags that contradict the position are overridden
// and counted in the second return value. The input is not modified.
func NormalizeKinds(points []models.ForecastPoint) ([]models.ForecastPoint, int) {
	if len(points) == 0 {
		return nil, 0
	}
	out := make([]models.ForecastPoint, len(points))
	copy(out, points)

	corrected := 0
	for i := range out {
		want := models.KindForecast
		if i == 0 {
			want = models.KindCurrent
		}
		if out[i].Kind != models.KindUnset && out[i].Kind != want {
			corrected++
		}
		out[i].Kind = want
	}
	return out, corrected
}
