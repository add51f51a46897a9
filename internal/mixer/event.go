package mixer

import "time"

// MeterSample is one peak reading for one port of one buffer.
type MeterSample struct {
	Channel    ChannelID
	Port       int
	PeakLinear float32
	// Timestamp is the position of the buffer on the engine's frame clock.
	Timestamp time.Duration
}

// PeakDB returns the reading in decibels, floored at FloorDB.
func (s MeterSample) PeakDB() float32 { return LinearToDB(s.PeakLinear) }

// EventKind tags an Event.
type EventKind uint8

const (
	EventMeter EventKind = iota + 1
	EventState
)

// Event travels from the engine to the control loop through the meter ring.
// State events echo channel controls after a command has been applied.
type Event struct {
	Kind  EventKind
	Meter MeterSample
	State ChannelState
}
