package audio

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	defaultBufferSize = 256
	watchdogPeriod    = 500 * time.Millisecond
)

// PortAudioHost drives the engine from a duplex PortAudio stream. Input port
// i is device input channel i, output port j is device output channel j.
type PortAudioHost struct {
	opts Options

	stream     *portaudio.Stream
	inputs     int
	outputs    int
	bufferSize int
	sampleRate float64
	proc       Processor

	initialized bool

	callbacks atomic.Uint64
	xruns     atomic.Uint64

	lost     chan struct{}
	lostOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewPortAudioHost returns an unopened PortAudio host.
func NewPortAudioHost(opts Options) *PortAudioHost {
	return &PortAudioHost{
		opts: opts,
		lost: make(chan struct{}),
	}
}

// Name implements Host.
func (h *PortAudioHost) Name() string { return "portaudio" }

// Open picks devices with enough channels for every port and opens a
// non-interleaved float32 stream. PortAudio has no port names, so the names
// only size the stream.
func (h *PortAudioHost) Open(client string, inputs, outputs []string) error {
	if err := Initialize(); err != nil {
		return err
	}
	h.initialized = true
	h.inputs, h.outputs = len(inputs), len(outputs)
	if h.opts.BufferSize <= 0 {
		h.opts.BufferSize = defaultBufferSize
	}

	in, err := findDevice(h.opts.Device, inputDirection, h.inputs)
	if err != nil {
		return err
	}
	out, err := findDevice(h.opts.Device, outputDirection, h.outputs)
	if err != nil {
		return err
	}

	sampleRate := h.opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = out.DefaultSampleRate
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   in,
			Channels: h.inputs,
			Latency:  in.DefaultLowInputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Device:   out,
			Channels: h.outputs,
			Latency:  out.DefaultLowOutputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: h.opts.BufferSize,
	}, h.process)
	if err != nil {
		return fmt.Errorf("open stream for %s: %w", client, err)
	}
	h.stream = stream
	h.bufferSize = h.opts.BufferSize
	h.sampleRate = sampleRate
	return nil
}

// BufferSize implements Host.
func (h *PortAudioHost) BufferSize() int { return h.bufferSize }

// SampleRate implements Host.
func (h *PortAudioHost) SampleRate() float64 { return h.sampleRate }

// Xruns counts callbacks flagged with an input overflow or output underflow.
func (h *PortAudioHost) Xruns() uint64 { return h.xruns.Load() }

// Activate starts the stream and a watchdog that reports the host lost when
// callbacks stop arriving.
func (h *PortAudioHost) Activate(p Processor) error {
	if h.stream == nil {
		return ErrNotOpen
	}
	h.proc = p
	if err := h.stream.Start(); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	h.stop = make(chan struct{})
	h.wg.Add(1)
	go h.watch()
	return nil
}

// Deactivate stops the stream. Pa_StopStream waits for the running callback
// to return.
func (h *PortAudioHost) Deactivate() error {
	if h.stop != nil {
		close(h.stop)
		h.wg.Wait()
		h.stop = nil
	}
	if h.stream == nil {
		return nil
	}
	if err := h.stream.Stop(); err != nil && !errorsIsInvalidStreamState(err) {
		return err
	}
	return nil
}

// Close releases the stream and PortAudio.
func (h *PortAudioHost) Close() error {
	if h.initialized {
		defer Terminate()
		h.initialized = false
	}
	if h.stream == nil {
		return nil
	}
	err := h.stream.Close()
	h.stream = nil
	return err
}

// Lost implements Host.
func (h *PortAudioHost) Lost() <-chan struct{} { return h.lost }

func (h *PortAudioHost) process(in, out [][]float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	h.callbacks.Add(1)
	if flags&(portaudio.InputOverflow|portaudio.OutputUnderflow) != 0 {
		h.xruns.Add(1)
	}
	frames := 0
	if len(out) > 0 {
		frames = len(out[0])
	}
	h.proc.Process(in, out, frames)
}

// watch declares the host lost after two watchdog periods without a callback,
// which is how a vanished device shows up through PortAudio.
func (h *PortAudioHost) watch() {
	defer h.wg.Done()
	ticker := time.NewTicker(watchdogPeriod)
	defer ticker.Stop()
	last := h.callbacks.Load()
	idle := 0
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			n := h.callbacks.Load()
			if n != last {
				last, idle = n, 0
				continue
			}
			idle++
			if idle >= 2 {
				h.lostOnce.Do(func() {
					h.proc.HostLost()
					close(h.lost)
				})
				return
			}
		}
	}
}

type direction int

const (
	inputDirection direction = iota
	outputDirection
)

func (d direction) String() string {
	if d == inputDirection {
		return "input"
	}
	return "output"
}

func maxChannels(dev *portaudio.DeviceInfo, d direction) int {
	if d == inputDirection {
		return dev.MaxInputChannels
	}
	return dev.MaxOutputChannels
}

func findDevice(name string, d direction, channels int) (*portaudio.DeviceInfo, error) {
	if name != "" {
		return findDeviceByName(name, d, channels)
	}

	var def *portaudio.DeviceInfo
	if d == inputDirection {
		def, _ = portaudio.DefaultInputDevice()
	} else {
		def, _ = portaudio.DefaultOutputDevice()
	}
	if def != nil && maxChannels(def, d) >= channels {
		return def, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	if candidate := pickBestDevice(devices, d, channels, def); candidate != nil {
		return candidate, nil
	}
	return nil, fmt.Errorf("no audio %s device with %d channels found", d, channels)
}

func findDeviceByName(name string, d direction, channels int) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	name = strings.ToLower(name)
	for _, device := range devices {
		if maxChannels(device, d) == 0 {
			continue
		}
		if !strings.Contains(strings.ToLower(device.Name), name) {
			continue
		}
		if n := maxChannels(device, d); n < channels {
			return nil, fmt.Errorf("audio device %q has %d %s channels, %d ports configured", device.Name, n, d, channels)
		}
		return device, nil
	}

	return nil, fmt.Errorf("audio %s device %q not found", d, name)
}

func pickBestDevice(devices []*portaudio.DeviceInfo, d direction, channels int, def *portaudio.DeviceInfo) *portaudio.DeviceInfo {
	type scored struct {
		dev   *portaudio.DeviceInfo
		score int
	}

	var results []scored
	for _, dev := range devices {
		if dev == nil || maxChannels(dev, d) < channels {
			continue
		}

		score := maxChannels(dev, d)
		if def != nil && dev.HostApi == def.HostApi {
			score += 40
		}
		lower := strings.ToLower(dev.Name)
		if strings.Contains(lower, "default") {
			score += 10
		}
		if strings.Contains(lower, "monitor") {
			score -= 20
		}

		results = append(results, scored{dev: dev, score: score})
	}

	if len(results) == 0 {
		return nil
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score == results[j].score {
			return strings.ToLower(results[i].dev.Name) < strings.ToLower(results[j].dev.Name)
		}
		return results[i].score > results[j].score
	})

	return results[0].dev
}

// errorsIsInvalidStreamState checks if the provided error stems from stopping an already stopped stream.
func errorsIsInvalidStreamState(err error) bool {
	if err == nil {
		return false
	}
	const invalidStateMsg = "PaErrorCode -9986"
	return strings.Contains(err.Error(), invalidStateMsg)
}
