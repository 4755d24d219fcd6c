package simulate

import "github.com/lox/plantwatch/internal/models"

const (
	FlagMissingRequired    = "missing_required"
	FlagMoistureOutOfRange = "moisture_out_of_range"
	FlagHumidityInvalid    = "humidity_invalid"
	FlagTempOutOfRange     = "temp_out_of_range"
	FlagPHOutOfRange       = "ph_out_of_range"
	FlagLightNegative      = "light_negative"
	FlagNutrientNegative   = "nutrient_negative"
)

// Validate returns quality flags for a reading; an empty result means the
// reading is plausible.
func Validate(r models.Reading) []string {
	var flags []string

	if !r.HasRequired() {
		flags = append(flags, FlagMissingRequired)
	}
	if outside(r.SoilMoisture, 0, 100) {
		flags = append(flags, FlagMoistureOutOfRange)
	}
	if outside(r.Humidity, 0, 100) {
		flags = append(flags, FlagHumidityInvalid)
	}
	if outside(r.SoilTemperature, -10, 60) || outside(r.AmbientTemperature, -20, 60) {
		flags = append(flags, FlagTempOutOfRange)
	}
	if outside(r.SoilPH, 0, 14) {
		flags = append(flags, FlagPHOutOfRange)
	}
	if r.LightIntensity != nil && *r.LightIntensity < 0 {
		flags = append(flags, FlagLightNegative)
	}
	for _, n := range []*float64{r.Nitrogen, r.Phosphorus, r.Potassium} {
		if n != nil && *n < 0 {
			flags = append(flags, FlagNutrientNegative)
			break
		}
	}

	return flags
}

func outside(v *float64, lo, hi float64) bool {
	return v != nil && (*v < lo || *v > hi)
}
