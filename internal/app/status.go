package app

import (
	"time"

	"github.com/guidoenr/gomixer/internal/mixer"
)

// Status is the control loop's published view of the session, refreshed
// every tick. It is safe to share across goroutines once published.
type Status struct {
	Client   string          `json:"client"`
	Session  string          `json:"session"`
	Host     string          `json:"host"`
	Selected int             `json:"selected"`
	Channels []ChannelStatus `json:"channels"`
	Engine   EngineStatus    `json:"engine"`
	Time     time.Time       `json:"time"`
}

// ChannelStatus mirrors one channel.
type ChannelStatus struct {
	ID     int           `json:"id"`
	Role   string        `json:"role"`
	Name   string        `json:"name"`
	Ports  []string      `json:"ports"`
	GainDB float32       `json:"gainDb"`
	Muted  bool          `json:"muted"`
	Solo   bool          `json:"solo"`
	Levels []LevelStatus `json:"levels"`
}

// LevelStatus is one port meter as displayed.
type LevelStatus struct {
	CurrentDB float32 `json:"currentDb"`
	HeldDB    float32 `json:"heldDb"`
	Zone      string  `json:"zone"`
}

// EngineStatus carries the engine and host counters. Rejected counts cycles
// refused for a bad buffer shape; Xruns counts host overflows and underflows.
type EngineStatus struct {
	Cycles     uint64 `json:"cycles"`
	Commands   uint64 `json:"commands"`
	MeterDrops uint64 `json:"meterDrops"`
	Rejected   uint64 `json:"rejected"`
	Xruns      uint64 `json:"xruns"`
	Stopped    bool   `json:"stopped"`
}

func engineStatus(s mixer.Stats, xruns uint64) EngineStatus {
	return EngineStatus{
		Cycles:     s.Cycles,
		Commands:   s.Commands,
		MeterDrops: s.MeterDrops,
		Rejected:   s.Overruns,
		Xruns:      xruns,
		Stopped:    s.ShutdownApplied,
	}
}
