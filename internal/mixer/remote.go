package mixer

import (
	"context"
	"errors"
	"time"
)

// ErrStopped is returned by Send once the engine has processed Shutdown.
var ErrStopped = errors.New("mixer: engine stopped")

const (
	sendBackoffMin = 500 * time.Microsecond
	sendBackoffMax = 20 * time.Millisecond
)

// Remote is the control loop's end of the engine. It must be used from a
// single goroutine: it is the only producer of commands and the only consumer
// of events.
type Remote struct {
	engine  *Engine
	inputs  []ChannelInfo
	outputs []ChannelInfo
	initial []ChannelState
}

// Inputs returns the input channel identities in declaration order.
func (r *Remote) Inputs() []ChannelInfo { return r.inputs }

// Outputs returns the output channel identities in declaration order.
func (r *Remote) Outputs() []ChannelInfo { return r.outputs }

// Channel returns the identity of id.
func (r *Remote) Channel(id ChannelID) (ChannelInfo, bool) {
	switch {
	case id < 0:
		return ChannelInfo{}, false
	case int(id) < len(r.inputs):
		return r.inputs[id], true
	case int(id) < len(r.inputs)+len(r.outputs):
		return r.outputs[int(id)-len(r.inputs)], true
	}
	return ChannelInfo{}, false
}

// InitialState returns a copy of the channel controls as configured, to seed
// the control loop's mirror before any echo arrives.
func (r *Remote) InitialState() []ChannelState {
	return append([]ChannelState(nil), r.initial...)
}

// TrySend enqueues cmd without waiting.
func (r *Remote) TrySend(cmd Command) bool {
	return r.engine.control.Push(cmd)
}

// Send enqueues cmd, backing off while the control ring is full. Commands are
// never dropped; Send gives up only when ctx ends or the engine has stopped.
func (r *Remote) Send(ctx context.Context, cmd Command) error {
	wait := sendBackoffMin
	for {
		if r.engine.stopped.Load() {
			return ErrStopped
		}
		if r.engine.control.Push(cmd) {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if wait < sendBackoffMax {
			wait *= 2
		}
	}
}

// DrainEvents hands queued events to fn in order and returns the count. One
// call consumes at most one ring's worth so a busy engine cannot pin the
// control loop.
func (r *Remote) DrainEvents(fn func(Event)) int {
	n := 0
	for n < r.engine.events.Cap() {
		ev, ok := r.engine.events.Pop()
		if !ok {
			return n
		}
		fn(ev)
		n++
	}
	return n
}

// Stopped reports whether the engine has processed Shutdown and written the
// final snapshot.
func (r *Remote) Stopped() bool { return r.engine.stopped.Load() }

// HostLost reports whether the host signalled that it went away.
func (r *Remote) HostLost() bool { return r.engine.hostLost.Load() }

// TakeSnapshot returns the final channel states exactly once. Call it only
// after the host has stopped invoking Process.
func (r *Remote) TakeSnapshot() (Snapshot, error) {
	return r.engine.snapshot.take()
}

// Stats reads the engine counters.
func (r *Remote) Stats() Stats {
	e := r.engine
	return Stats{
		Cycles:          e.cycles.Load(),
		Commands:        e.commands.Load(),
		MeterDrops:      e.meterDrops.Load(),
		Overruns:        e.overruns.Load(),
		ControlBacklog:  e.control.Len(),
		MeterBacklog:    e.events.Len(),
		ShutdownApplied: e.snapshot.ready() || e.stopped.Load(),
	}
}
