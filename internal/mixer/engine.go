// Package mixer is the real-time mixing core: channel state, the per-buffer
// mix, peak metering and the two rings that connect the engine to the control
// loop.
//
// Engine.Process runs on the host's audio thread. It never locks, blocks or
// allocates: every buffer and ring slot is sized in New, the control ring is
// drained at most DrainLimit entries per cycle and meter events are dropped
// when the meter ring is full.
package mixer

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

var (
	// ErrConfig wraps every construction-time validation failure.
	ErrConfig = errors.New("mixer: invalid configuration")
	// ErrBufferTooLarge is returned when the host asks for more frames than
	// were pre-allocated.
	ErrBufferTooLarge = errors.New("mixer: host buffer exceeds pre-allocated capacity")
)

const (
	defaultMaxFrames       = 4096
	defaultControlCapacity = 64
	defaultMeterCapacity   = 1024
	defaultDrainLimit      = 32
	defaultSampleRate      = 48_000
)

// Config sizes an Engine.
type Config struct {
	Inputs     []ChannelSpec
	Outputs    []ChannelSpec
	MaxFrames  int
	SampleRate float64

	// ControlCapacity bounds the control ring. MeterCapacity bounds the meter
	// ring and should exceed the number of ports times cycles per UI tick.
	ControlCapacity int
	MeterCapacity   int
	// DrainLimit caps commands applied per cycle.
	DrainLimit int
}

// Stats are counters maintained by the engine with atomics.
type Stats struct {
	Cycles          uint64
	Commands        uint64
	MeterDrops      uint64
	Overruns        uint64
	ControlBacklog  int
	MeterBacklog    int
	ShutdownApplied bool
}

// Engine is the real-time side of the mixer. Only Process may touch the
// graph once the host is running.
type Engine struct {
	graph      Graph
	control    *Ring[Command]
	events     *Ring[Event]
	snapshot   *snapshotCell
	drainLimit int
	maxFrames  int
	sampleRate float64
	inPorts    int
	outPorts   int

	frames uint64
	dirty  []bool
	// pending counts dirty channels so clean cycles skip the scan
	pending int

	stopped  atomic.Bool
	hostLost atomic.Bool

	cycles     atomic.Uint64
	commands   atomic.Uint64
	meterDrops atomic.Uint64
	overruns   atomic.Uint64
}

// New validates cfg and builds an Engine together with the Remote the control
// loop uses to talk to it.
func New(cfg Config) (*Engine, *Remote, error) {
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = defaultMaxFrames
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.ControlCapacity <= 0 {
		cfg.ControlCapacity = defaultControlCapacity
	}
	if cfg.MeterCapacity <= 0 {
		cfg.MeterCapacity = defaultMeterCapacity
	}
	if cfg.DrainLimit <= 0 {
		cfg.DrainLimit = defaultDrainLimit
	}
	if len(cfg.Inputs) == 0 || len(cfg.Outputs) == 0 {
		return nil, nil, fmt.Errorf("%w: need at least one input and one output", ErrConfig)
	}

	seen := make(map[string]string)
	var inputs, outputs []ChannelInfo
	var gains []float32
	inPorts, outPorts := 0, 0
	build := func(role Role, specs []ChannelSpec, dst *[]ChannelInfo, ports *int) error {
		for i, spec := range specs {
			label := fmt.Sprintf("%s %d (%q)", role, i, spec.Name)
			if len(spec.Ports) < 1 || len(spec.Ports) > 2 {
				return fmt.Errorf("%w: %s has %d ports, want 1 or 2", ErrConfig, label, len(spec.Ports))
			}
			for _, p := range spec.Ports {
				if owner, dup := seen[p]; dup {
					return fmt.Errorf("%w: %s reuses port %q of %s", ErrConfig, label, p, owner)
				}
				seen[p] = label
			}
			id := ChannelID(len(gains))
			*dst = append(*dst, ChannelInfo{
				ID:    id,
				Role:  role,
				Name:  spec.Name,
				Ports: append([]string(nil), spec.Ports...),
			})
			gains = append(gains, spec.GainDB)
			*ports += len(spec.Ports)
		}
		return nil
	}
	if err := build(RoleInput, cfg.Inputs, &inputs, &inPorts); err != nil {
		return nil, nil, err
	}
	if err := build(RoleOutput, cfg.Outputs, &outputs, &outPorts); err != nil {
		return nil, nil, err
	}

	graph := newGraph(inputs, outputs, gains)
	e := &Engine{
		graph:      graph,
		control:    NewRing[Command](cfg.ControlCapacity),
		events:     NewRing[Event](cfg.MeterCapacity),
		snapshot:   newSnapshotCell(len(graph.channels)),
		drainLimit: cfg.DrainLimit,
		maxFrames:  cfg.MaxFrames,
		sampleRate: cfg.SampleRate,
		inPorts:    inPorts,
		outPorts:   outPorts,
		dirty:      make([]bool, len(graph.channels)),
	}

	initial := make([]ChannelState, len(graph.channels))
	for i := range graph.channels {
		initial[i] = graph.channels[i].ChannelState
	}
	r := &Remote{
		engine:  e,
		inputs:  inputs,
		outputs: outputs,
		initial: initial,
	}
	return e, r, nil
}

// Prepare checks a host buffer length against the pre-allocated capacity. It
// must be called before the host activates the engine.
func (e *Engine) Prepare(frames int) error {
	if frames <= 0 || frames > e.maxFrames {
		return fmt.Errorf("%w: host wants %d frames, capacity is %d", ErrBufferTooLarge, frames, e.maxFrames)
	}
	return nil
}

// InputPorts is the number of input buffers Process expects.
func (e *Engine) InputPorts() int { return e.inPorts }

// OutputPorts is the number of output buffers Process fills.
func (e *Engine) OutputPorts() int { return e.outPorts }

// MaxFrames is the pre-allocated buffer capacity.
func (e *Engine) MaxFrames() int { return e.maxFrames }

// SampleRate is the session sample rate used for meter timestamps.
func (e *Engine) SampleRate() float64 { return e.sampleRate }

// HostLost records that the host audio subsystem went away. Safe to call from
// any goroutine.
func (e *Engine) HostLost() { e.hostLost.Store(true) }

// Process runs one cycle: drain commands, mix, meter, publish. in holds one
// buffer per input port and out one per output port, each at least frames
// long.
func (e *Engine) Process(in, out [][]float32, frames int) {
	e.cycles.Add(1)
	if e.stopped.Load() {
		silence(out, frames)
		return
	}
	if frames < 0 || frames > e.maxFrames || len(in) < e.inPorts || len(out) < e.outPorts || !fits(in, frames) || !fits(out, frames) {
		e.overruns.Add(1)
		silence(out, frames)
		return
	}

	if e.drain() {
		silence(out, frames)
		return
	}

	e.graph.Mix(in, out, frames)

	e.echo()
	ts := e.clock()
	for i := range e.graph.channels {
		ch := &e.graph.channels[i]
		bufs := in
		if ch.Role == RoleOutput {
			bufs = out
		}
		for p := 0; p < ch.numPorts; p++ {
			ev := Event{
				Kind: EventMeter,
				Meter: MeterSample{
					Channel:    ch.ID,
					Port:       p,
					PeakLinear: Peak(bufs[ch.ports[p]][:frames]),
					Timestamp:  ts,
				},
			}
			if !e.events.Push(ev) {
				e.meterDrops.Add(1)
			}
		}
	}
	e.frames += uint64(frames)
}

// drain applies up to drainLimit queued commands in FIFO order. It reports
// true when Shutdown was processed.
func (e *Engine) drain() bool {
	for i := 0; i < e.drainLimit; i++ {
		cmd, ok := e.control.Pop()
		if !ok {
			return false
		}
		e.commands.Add(1)
		if cmd.Kind == CmdShutdown {
			e.snapshot.publish(e.graph.channels)
			e.stopped.Store(true)
			return true
		}
		if e.graph.Apply(cmd) && !e.dirty[cmd.Channel] {
			e.dirty[cmd.Channel] = true
			e.pending++
		}
	}
	return false
}

// echo publishes the state of changed channels. A channel stays dirty until
// its echo fits in the ring.
func (e *Engine) echo() {
	if e.pending == 0 {
		return
	}
	for i, d := range e.dirty {
		if !d {
			continue
		}
		if !e.events.Push(Event{Kind: EventState, State: e.graph.channels[i].ChannelState}) {
			return
		}
		e.dirty[i] = false
		e.pending--
	}
}

func (e *Engine) clock() time.Duration {
	return time.Duration(float64(e.frames) * float64(time.Second) / e.sampleRate)
}

func fits(bufs [][]float32, frames int) bool {
	for _, b := range bufs {
		if len(b) < frames {
			return false
		}
	}
	return true
}

func silence(out [][]float32, frames int) {
	if frames <= 0 {
		return
	}
	for _, buf := range out {
		n := frames
		if n > len(buf) {
			n = len(buf)
		}
		clear(buf[:n])
	}
}
