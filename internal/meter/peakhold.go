// Package meter keeps the display side of level metering: per-port peak hold
// with a hold window and a bounded decay, ticked by the control loop.
package meter

import "time"

// Config controls PeakHold behavior.
type Config struct {
	// Hold is how long a peak is latched before it starts to fall.
	Hold time.Duration
	// DecayDBPerSecond is the fall rate once the hold window has elapsed.
	DecayDBPerSecond float64
	// FloorDB is the lowest value a meter shows.
	FloorDB float32
}

// DefaultConfig holds peaks for 5 s and then falls at 20 dB/s.
func DefaultConfig() Config {
	return Config{
		Hold:             5 * time.Second,
		DecayDBPerSecond: 20,
		FloorDB:          -60,
	}
}

// PeakHold tracks one port. It is owned by the control loop and must not be
// shared across goroutines.
type PeakHold struct {
	cfg     Config
	current float32
	held    float32
	heldAt  time.Time
	decayed time.Time
}

// NewPeakHold returns a meter resting at the floor.
func NewPeakHold(cfg Config) *PeakHold {
	if cfg.Hold <= 0 {
		cfg.Hold = DefaultConfig().Hold
	}
	if cfg.DecayDBPerSecond <= 0 {
		cfg.DecayDBPerSecond = DefaultConfig().DecayDBPerSecond
	}
	if cfg.FloorDB == 0 {
		cfg.FloorDB = DefaultConfig().FloorDB
	}
	return &PeakHold{
		cfg:     cfg,
		current: cfg.FloorDB,
		held:    cfg.FloorDB,
	}
}

// Observe records a fresh peak reading taken at now.
func (h *PeakHold) Observe(peakDB float32, now time.Time) {
	if peakDB < h.cfg.FloorDB {
		peakDB = h.cfg.FloorDB
	}
	h.current = peakDB
	if peakDB > h.held || h.heldAt.IsZero() {
		h.held = peakDB
		h.heldAt = now
		h.decayed = now
		return
	}
	h.Tick(now)
}

// Tick advances the decay to now without a new reading.
func (h *PeakHold) Tick(now time.Time) {
	if h.heldAt.IsZero() {
		return
	}
	start := h.heldAt.Add(h.cfg.Hold)
	if now.Before(start) {
		return
	}
	from := h.decayed
	if from.Before(start) {
		from = start
	}
	if !now.After(from) {
		return
	}
	h.decayed = now
	h.held -= float32(now.Sub(from).Seconds() * h.cfg.DecayDBPerSecond)
	if h.held < h.current {
		h.held = h.current
	}
}

// Current is the most recent reading.
func (h *PeakHold) Current() float32 { return h.current }

// Held is the latched value; it is never below Current.
func (h *PeakHold) Held() float32 { return h.held }

// Zone classifies the current reading as displayed.
func (h *PeakHold) Zone() Zone { return ClassifyDisplayed(h.current) }

// HeldZone classifies the hold marker as displayed.
func (h *PeakHold) HeldZone() Zone { return ClassifyDisplayed(h.held) }

// Display advances the decay to now and returns the value to draw for the
// hold marker.
func (h *PeakHold) Display(now time.Time) float32 {
	h.Tick(now)
	return h.held
}
