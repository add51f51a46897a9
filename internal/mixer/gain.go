package mixer

import "math"

// Gain limits in dB.
const (
	MinGainDB     = -60.0
	MaxGainDB     = 12.0
	GainStepDB    = 0.5
	DefaultGainDB = 0.0

	// FloorDB is what silence reads as on a meter.
	FloorDB = -60.0
)

// QuantizeGain clamps db to [MinGainDB, MaxGainDB] and snaps it to the nearest
// GainStepDB. NaN maps to DefaultGainDB.
func QuantizeGain(db float32) float32 {
	v := float64(db)
	if math.IsNaN(v) {
		return DefaultGainDB
	}
	v = clamp(v, MinGainDB, MaxGainDB)
	v = math.Round(v/GainStepDB) * GainStepDB
	return float32(clamp(v, MinGainDB, MaxGainDB))
}

// DBToLinear converts a gain in decibels to an amplitude factor.
func DBToLinear(db float32) float32 {
	return float32(math.Pow(10, float64(db)/20))
}

// LinearToDB converts an amplitude to decibels, floored at FloorDB. Zero,
// negative and NaN inputs read as the floor.
func LinearToDB(linear float32) float32 {
	if !(linear > 0) {
		return FloorDB
	}
	db := 20 * math.Log10(float64(linear))
	if db < FloorDB {
		return FloorDB
	}
	return float32(db)
}

func clamp(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}
