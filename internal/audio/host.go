// Package audio connects the mixing engine to a host audio subsystem. Every
// host registers one port per configured port name, settles on a fixed buffer
// size and sample rate before activation, and then calls Processor.Process
// from its own real-time context.
package audio

import (
	"errors"
	"fmt"

	"github.com/guidoenr/gomixer/internal/mixer"
)

var (
	// ErrNotOpen is returned when a host is activated before Open.
	ErrNotOpen = errors.New("audio: host not open")
	// ErrUnavailable means the host kind was not compiled in.
	ErrUnavailable = errors.New("audio: host not available in this build")
)

// Processor is the engine as seen by a host. *mixer.Engine implements it.
type Processor interface {
	Prepare(frames int) error
	Process(in, out [][]float32, frames int)
	InputPorts() int
	OutputPorts() int
	HostLost()
}

// Host is a host audio subsystem.
type Host interface {
	Name() string
	// Open registers the ports under client and fixes the buffer size and
	// sample rate.
	Open(client string, inputs, outputs []string) error
	BufferSize() int
	SampleRate() float64
	// Activate starts periodic Process calls.
	Activate(p Processor) error
	// Deactivate stops the callbacks. Once it returns Process is never
	// invoked again.
	Deactivate() error
	Close() error
	// Lost is closed when the subsystem goes away on its own.
	Lost() <-chan struct{}
}

// Finisher is implemented by hosts that run out of input, like the offline
// renderer. Finished is closed after the last buffer was processed, or when
// processing failed; Err then reports the failure. The host keeps cycling the
// processor until Deactivate.
type Finisher interface {
	Finished() <-chan struct{}
	Err() error
}

// XrunCounter is implemented by hosts that can report buffer overflows and
// underflows.
type XrunCounter interface {
	Xruns() uint64
}

// Options are the host settings taken from the command line.
type Options struct {
	Device     string
	BufferSize int
	SampleRate float64
	RenderIn   string
	RenderOut  string
}

// Kinds lists the host names accepted by New.
var Kinds = []string{"portaudio", "jack", "synthetic", "wav"}

// New builds the host named kind.
func New(kind string, opts Options) (Host, error) {
	switch kind {
	case "", "portaudio":
		return NewPortAudioHost(opts), nil
	case "jack":
		return NewJackHost(opts)
	case "synthetic":
		return NewSyntheticHost(opts), nil
	case "wav":
		return NewWAVHost(opts), nil
	}
	return nil, fmt.Errorf("unknown host %q (want one of %v)", kind, Kinds)
}

// PortNames flattens channel ports in engine buffer order.
func PortNames(channels []mixer.ChannelInfo) []string {
	var names []string
	for _, ch := range channels {
		names = append(names, ch.Ports...)
	}
	return names
}

// Activate opens h, prepares p for the negotiated buffer size and starts it.
// Any failure happens before the first Process call.
func Activate(h Host, p Processor) error {
	if err := p.Prepare(h.BufferSize()); err != nil {
		return err
	}
	if err := h.Activate(p); err != nil {
		return fmt.Errorf("activate %s host: %w", h.Name(), err)
	}
	return nil
}

// silenceTail zeroes dst from index from on. Hosts use it when a callback
// asks for more frames than the engine was prepared for.
func silenceTail[S ~float32](dst []S, from int) {
	if from < len(dst) {
		clear(dst[from:])
	}
}

func allocBuffers(ports, frames int) [][]float32 {
	bufs := make([][]float32, ports)
	for i := range bufs {
		bufs[i] = make([]float32, frames)
	}
	return bufs
}
