package render

import (
	"github.com/guidoenr/gomixer/internal/meter"
	"github.com/guidoenr/gomixer/internal/mixer"
)

// Level is the display state of one port's meter.
type Level struct {
	Current  float32
	Held     float32
	Zone     meter.Zone
	HeldZone meter.Zone
}

// Strip is one channel as drawn.
type Strip struct {
	Info     mixer.ChannelInfo
	State    mixer.ChannelState
	Levels   []Level
	Selected bool
	// Dimmed marks an input silenced by another channel's solo.
	Dimmed bool
}

// View is everything a renderer needs for one frame.
type View struct {
	Client  string
	Inputs  []Strip
	Outputs []Strip
	Status  string
}
