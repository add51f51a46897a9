package audio

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const defaultSyntheticRate = 48_000

// SyntheticHost drives the engine from a goroutine at the real buffer period,
// feeding each input port a slowly swelling test tone.
type SyntheticHost struct {
	bufferSize int
	sampleRate float64
	tones      []tone
	in, out    [][]float32

	stop chan struct{}
	wg   sync.WaitGroup
	lost chan struct{}
}

// NewSyntheticHost returns a host that needs no audio hardware.
func NewSyntheticHost(opts Options) *SyntheticHost {
	h := &SyntheticHost{
		bufferSize: opts.BufferSize,
		sampleRate: opts.SampleRate,
		lost:       make(chan struct{}),
	}
	if h.bufferSize <= 0 {
		h.bufferSize = defaultBufferSize
	}
	if h.sampleRate <= 0 {
		h.sampleRate = defaultSyntheticRate
	}
	return h
}

// Name implements Host.
func (h *SyntheticHost) Name() string { return "synthetic" }

// Open allocates one buffer per port and one tone per input.
func (h *SyntheticHost) Open(_ string, inputs, outputs []string) error {
	h.in = allocBuffers(len(inputs), h.bufferSize)
	h.out = allocBuffers(len(outputs), h.bufferSize)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	h.tones = make([]tone, len(inputs))
	for i := range h.tones {
		h.tones[i] = newTone(i, h.sampleRate, rng)
	}
	return nil
}

// BufferSize implements Host.
func (h *SyntheticHost) BufferSize() int { return h.bufferSize }

// SampleRate implements Host.
func (h *SyntheticHost) SampleRate() float64 { return h.sampleRate }

// Activate starts the driving goroutine.
func (h *SyntheticHost) Activate(p Processor) error {
	if h.in == nil {
		return ErrNotOpen
	}
	period := time.Duration(float64(h.bufferSize) / h.sampleRate * float64(time.Second))
	h.stop = make(chan struct{})
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				h.Cycle(p)
			}
		}
	}()
	return nil
}

// Cycle renders one buffer of tones and processes it. Exposed so tests can
// step the host without a clock.
func (h *SyntheticHost) Cycle(p Processor) {
	for i := range h.tones {
		h.tones[i].fill(h.in[i])
	}
	p.Process(h.in, h.out, h.bufferSize)
}

// Deactivate stops the goroutine and waits for the cycle in flight.
func (h *SyntheticHost) Deactivate() error {
	if h.stop != nil {
		close(h.stop)
		h.wg.Wait()
		h.stop = nil
	}
	return nil
}

// Close implements Host.
func (h *SyntheticHost) Close() error { return nil }

// Lost implements Host. A synthetic host never goes away.
func (h *SyntheticHost) Lost() <-chan struct{} { return h.lost }

type tone struct {
	step    float64
	lfoStep float64
	phase   float64
	lfo     float64
	noise   float64
	rng     *rand.Rand
}

func newTone(i int, sampleRate float64, rng *rand.Rand) tone {
	freq := 220 * math.Pow(2, float64(i%12)*7/12)
	return tone{
		step:    2 * math.Pi * freq / sampleRate,
		lfoStep: 2 * math.Pi * (0.1 + 0.07*float64(i)) / sampleRate,
		lfo:     float64(i),
		noise:   0.01,
		rng:     rng,
	}
}

func (t *tone) fill(buf []float32) {
	for f := range buf {
		amp := 0.05 + 0.3*(0.5+0.5*math.Sin(t.lfo))
		buf[f] = float32(amp*math.Sin(t.phase) + (t.rng.Float64()*2-1)*t.noise)
		t.phase += t.step
		t.lfo += t.lfoStep
	}
	t.phase = math.Mod(t.phase, 2*math.Pi)
	t.lfo = math.Mod(t.lfo, 2*math.Pi)
}
