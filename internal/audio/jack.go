//go:build jack

package audio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xthexder/go-jack"
)

// JackHost registers named ports with a running JACK server.
type JackHost struct {
	client     *jack.Client
	inPorts    []*jack.Port
	outPorts   []*jack.Port
	in, out    [][]float32
	bufferSize int
	sampleRate float64
	proc       Processor
	xruns      atomic.Uint64

	lost     chan struct{}
	lostOnce sync.Once
}

// NewJackHost returns an unopened JACK host. Buffer size and sample rate are
// dictated by the server.
func NewJackHost(Options) (Host, error) {
	return &JackHost{lost: make(chan struct{})}, nil
}

// Name implements Host.
func (h *JackHost) Name() string { return "jack" }

// Open connects to the server as client and registers one port per name.
func (h *JackHost) Open(client string, inputs, outputs []string) error {
	c, status := jack.ClientOpen(client, jack.NoStartServer)
	if status != 0 || c == nil {
		return fmt.Errorf("jack client %q: %w", client, jack.StrError(status))
	}
	h.client = c
	for _, name := range inputs {
		p := c.PortRegister(name, jack.DEFAULT_AUDIO_TYPE, jack.PortIsInput, 0)
		if p == nil {
			return fmt.Errorf("register jack input port %q", name)
		}
		h.inPorts = append(h.inPorts, p)
	}
	for _, name := range outputs {
		p := c.PortRegister(name, jack.DEFAULT_AUDIO_TYPE, jack.PortIsOutput, 0)
		if p == nil {
			return fmt.Errorf("register jack output port %q", name)
		}
		h.outPorts = append(h.outPorts, p)
	}
	h.bufferSize = int(c.GetBufferSize())
	h.sampleRate = float64(c.GetSampleRate())
	h.in = allocBuffers(len(inputs), h.bufferSize)
	h.out = allocBuffers(len(outputs), h.bufferSize)
	return nil
}

// BufferSize implements Host.
func (h *JackHost) BufferSize() int { return h.bufferSize }

// SampleRate implements Host.
func (h *JackHost) SampleRate() float64 { return h.sampleRate }

// Activate installs the process and shutdown callbacks and activates the
// client.
func (h *JackHost) Activate(p Processor) error {
	if h.client == nil {
		return ErrNotOpen
	}
	h.proc = p
	if code := h.client.SetProcessCallback(h.process); code != 0 {
		return fmt.Errorf("set process callback: %w", jack.StrError(code))
	}
	h.client.OnShutdown(h.shutdown)
	if code := h.client.Activate(); code != 0 {
		return fmt.Errorf("activate jack client: %w", jack.StrError(code))
	}
	return nil
}

// Deactivate implements Host. jack_deactivate returns after the current
// cycle completes.
func (h *JackHost) Deactivate() error {
	if h.client == nil {
		return nil
	}
	if code := h.client.Deactivate(); code != 0 {
		return fmt.Errorf("deactivate jack client: %w", jack.StrError(code))
	}
	return nil
}

// Close implements Host.
func (h *JackHost) Close() error {
	if h.client == nil {
		return nil
	}
	code := h.client.Close()
	h.client = nil
	if code != 0 {
		return fmt.Errorf("close jack client: %w", jack.StrError(code))
	}
	return nil
}

// Lost implements Host.
func (h *JackHost) Lost() <-chan struct{} { return h.lost }

// Xruns counts cycles longer than the prepared buffer; their tail was
// silenced.
func (h *JackHost) Xruns() uint64 { return h.xruns.Load() }

// process copies between JACK port buffers and the pre-sized scratch slices
// since jack.AudioSample is a distinct type.
func (h *JackHost) process(nframes uint32) int {
	frames := int(nframes)
	if frames > h.bufferSize {
		frames = h.bufferSize
		h.xruns.Add(1)
	}
	for i, p := range h.inPorts {
		src := p.GetBuffer(nframes)
		dst := h.in[i][:frames]
		for f := range dst {
			dst[f] = float32(src[f])
		}
	}
	h.proc.Process(h.in, h.out, frames)
	for i, p := range h.outPorts {
		dst := p.GetBuffer(nframes)
		src := h.out[i][:frames]
		for f := range src {
			dst[f] = jack.AudioSample(src[f])
		}
		silenceTail(dst, frames)
	}
	return 0
}

func (h *JackHost) shutdown() {
	h.lostOnce.Do(func() {
		if h.proc != nil {
			h.proc.HostLost()
		}
		close(h.lost)
	})
}
