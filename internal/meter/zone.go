package meter

import "math"

// Zone is the color band of a displayed level.
type Zone int

const (
	ZoneGreen Zone = iota
	ZoneYellow
	ZoneRed
)

// Zone thresholds in dB. Both are inclusive lower bounds.
const (
	YellowDB = -12.0
	RedDB    = 0.0
)

func (z Zone) String() string {
	switch z {
	case ZoneYellow:
		return "yellow"
	case ZoneRed:
		return "red"
	default:
		return "green"
	}
}

// Classify maps a level to its zone: green below -12 dB, yellow in
// [-12, 0) dB, red at 0 dB and above.
func Classify(db float32) Zone {
	switch {
	case db >= RedDB:
		return ZoneRed
	case db >= YellowDB:
		return ZoneYellow
	default:
		return ZoneGreen
	}
}

// Displayed rounds a level to the 0.1 dB precision shown on the surface.
func Displayed(db float32) float32 {
	return float32(math.Round(float64(db)*10) / 10)
}

// ClassifyDisplayed classifies the value as the user sees it, so a reading
// printed as -12.0 is never shown in green.
func ClassifyDisplayed(db float32) Zone {
	return Classify(Displayed(db))
}
