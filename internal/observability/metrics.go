package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/guidoenr/gomixer/internal/mixer"
)

var (
	registerOnce sync.Once

	commandsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gomixer",
			Subsystem: "control",
			Name:      "commands_sent_total",
			Help:      "Commands enqueued by the control loop.",
		},
		[]string{"source", "kind"},
	)
	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gomixer",
			Subsystem: "control",
			Name:      "tick_duration_seconds",
			Help:      "Control loop tick duration in seconds.",
			Buckets:   []float64{.0005, .001, .002, .004, .008, .016, .032},
		},
	)
)

// RegisterMetrics registers the control loop collectors with the default
// registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(commandsSent, tickDuration)
	})
}

// RecordCommand counts a command enqueued from source (keyboard, web, midi).
func RecordCommand(source string, kind mixer.CommandKind) {
	RegisterMetrics()
	commandsSent.WithLabelValues(source, kind.String()).Inc()
}

// RecordTick observes one control loop tick.
func RecordTick(d time.Duration) {
	RegisterMetrics()
	tickDuration.Observe(d.Seconds())
}

// EngineCollectors returns collectors that read engine counters on scrape.
// stats is called from the scraping goroutine and must be safe for that,
// which mixer.Remote.Stats is.
func EngineCollectors(stats func() mixer.Stats) []prometheus.Collector {
	counter := func(name, help string, get func(mixer.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "gomixer",
			Subsystem: "engine",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(get(stats())) })
	}
	gauge := func(name, help string, get func(mixer.Stats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "gomixer",
			Subsystem: "engine",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(get(stats())) })
	}
	return []prometheus.Collector{
		counter("cycles_total", "Process invocations.", func(s mixer.Stats) uint64 { return s.Cycles }),
		counter("commands_applied_total", "Commands drained from the control ring.", func(s mixer.Stats) uint64 { return s.Commands }),
		counter("meter_drops_total", "Meter events dropped because the meter ring was full.", func(s mixer.Stats) uint64 { return s.MeterDrops }),
		counter("rejected_cycles_total", "Cycles rejected for an unexpected buffer shape.", func(s mixer.Stats) uint64 { return s.Overruns }),
		gauge("control_backlog", "Commands waiting in the control ring.", func(s mixer.Stats) int { return s.ControlBacklog }),
		gauge("meter_backlog", "Events waiting in the meter ring.", func(s mixer.Stats) int { return s.MeterBacklog }),
	}
}

// RegisterEngine registers the engine collectors with reg.
func RegisterEngine(reg prometheus.Registerer, stats func() mixer.Stats) error {
	for _, c := range EngineCollectors(stats) {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// HostXruns exposes a host's overflow/underflow count.
func HostXruns(xruns func() uint64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "gomixer",
		Subsystem: "host",
		Name:      "xruns_total",
		Help:      "Host callbacks flagged with an input overflow or output underflow.",
	}, func() float64 { return float64(xruns()) })
}

// NewRegistry builds a registry holding the engine collectors and the host
// xrun counter. Either source may be nil.
func NewRegistry(stats func() mixer.Stats, xruns func() uint64) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if stats != nil {
		if err := RegisterEngine(reg, stats); err != nil {
			return nil, err
		}
	}
	if xruns != nil {
		if err := reg.Register(HostXruns(xruns)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
