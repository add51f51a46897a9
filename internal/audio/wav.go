package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const idlePeriod = time.Millisecond

// WAVHost renders offline: it reads an input WAV buffer by buffer, runs the
// engine as fast as it can and writes the outputs to a WAV file. Input port i
// takes file channel i modulo the file's channel count.
type WAVHost struct {
	inPath, outPath string
	bufferSize      int

	inFile  *os.File
	outFile *os.File
	dec     *wav.Decoder
	enc     *wav.Encoder

	channels   int
	bitDepth   int
	sampleRate float64
	inputs     int
	outputs    int
	in, out    [][]float32
	pcmIn      *audio.IntBuffer
	pcmOut     *audio.IntBuffer

	frames   uint64
	err      error
	stop     chan struct{}
	wg       sync.WaitGroup
	finished chan struct{}
	lost     chan struct{}
}

// NewWAVHost returns an offline host reading opts.RenderIn and writing
// opts.RenderOut.
func NewWAVHost(opts Options) *WAVHost {
	h := &WAVHost{
		inPath:     opts.RenderIn,
		outPath:    opts.RenderOut,
		bufferSize: opts.BufferSize,
		finished:   make(chan struct{}),
		lost:       make(chan struct{}),
	}
	if h.bufferSize <= 0 {
		h.bufferSize = defaultBufferSize
	}
	return h
}

// Name implements Host.
func (h *WAVHost) Name() string { return "wav" }

// Open reads the input header and creates the output file.
func (h *WAVHost) Open(_ string, inputs, outputs []string) error {
	if h.inPath == "" || h.outPath == "" {
		return errors.New("wav host needs both --render-in and --render-out")
	}
	f, err := os.Open(h.inPath)
	if err != nil {
		return fmt.Errorf("open render input: %w", err)
	}
	h.inFile = f
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return fmt.Errorf("render input %s is not a valid wav file", h.inPath)
	}
	if err := dec.Rewind(); err != nil {
		return fmt.Errorf("read render input: %w", err)
	}
	h.dec = dec
	h.channels = int(dec.NumChans)
	h.bitDepth = int(dec.BitDepth)
	h.sampleRate = float64(dec.SampleRate)
	if h.channels == 0 || h.sampleRate == 0 {
		return fmt.Errorf("render input %s has no audio format", h.inPath)
	}
	if h.bitDepth == 0 {
		h.bitDepth = 16
	}

	out, err := os.Create(h.outPath)
	if err != nil {
		return fmt.Errorf("create render output: %w", err)
	}
	h.outFile = out
	h.enc = wav.NewEncoder(out, int(dec.SampleRate), h.bitDepth, len(outputs), 1)

	h.inputs, h.outputs = len(inputs), len(outputs)
	h.in = allocBuffers(h.inputs, h.bufferSize)
	h.out = allocBuffers(h.outputs, h.bufferSize)
	h.pcmIn = &audio.IntBuffer{
		Format: &audio.Format{NumChannels: h.channels, SampleRate: int(dec.SampleRate)},
		Data:   make([]int, h.bufferSize*h.channels),
	}
	h.pcmOut = &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: h.outputs, SampleRate: int(dec.SampleRate)},
		SourceBitDepth: h.bitDepth,
		Data:           make([]int, h.bufferSize*h.outputs),
	}
	return nil
}

// BufferSize implements Host.
func (h *WAVHost) BufferSize() int { return h.bufferSize }

// SampleRate implements Host. It is the input file's rate.
func (h *WAVHost) SampleRate() float64 { return h.sampleRate }

// Activate starts rendering in the background.
func (h *WAVHost) Activate(p Processor) error {
	if h.dec == nil {
		return ErrNotOpen
	}
	h.stop = make(chan struct{})
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.err = h.render(p)
		close(h.finished)
		h.idle(p)
	}()
	return nil
}

// idle keeps cycling the engine on silence once the input is done so queued
// commands, Shutdown included, are still applied. Nothing more is written.
func (h *WAVHost) idle(p Processor) {
	for _, buf := range h.in {
		clear(buf)
	}
	ticker := time.NewTicker(idlePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			p.Process(h.in, h.out, h.bufferSize)
		}
	}
}

func (h *WAVHost) render(p Processor) error {
	for {
		select {
		case <-h.stop:
			return nil
		default:
		}
		more, err := h.Step(p)
		if err != nil || !more {
			return err
		}
	}
}

// Step processes one buffer. It reports false once the input is exhausted.
func (h *WAVHost) Step(p Processor) (bool, error) {
	h.pcmIn.Data = h.pcmIn.Data[:cap(h.pcmIn.Data)]
	n, err := h.dec.PCMBuffer(h.pcmIn)
	if err != nil {
		return false, fmt.Errorf("decode render input: %w", err)
	}
	frames := n / h.channels
	if frames == 0 {
		return false, nil
	}

	scale := float32(int(1) << (h.bitDepth - 1))
	for port := range h.in {
		c := port % h.channels
		buf := h.in[port]
		for f := 0; f < frames; f++ {
			buf[f] = float32(h.pcmIn.Data[f*h.channels+c]) / scale
		}
	}

	p.Process(h.in, h.out, frames)
	h.frames += uint64(frames)

	maxVal := int(scale) - 1
	minVal := -int(scale)
	h.pcmOut.Data = h.pcmOut.Data[:frames*h.outputs]
	for port, buf := range h.out {
		for f := 0; f < frames; f++ {
			v := int(buf[f] * scale)
			if v > maxVal {
				v = maxVal
			} else if v < minVal {
				v = minVal
			}
			h.pcmOut.Data[f*h.outputs+port] = v
		}
	}
	if err := h.enc.Write(h.pcmOut); err != nil {
		return false, fmt.Errorf("encode render output: %w", err)
	}
	return true, nil
}

// Frames is the number of frames rendered so far.
func (h *WAVHost) Frames() uint64 { return h.frames }

// Err implements Finisher. It is the render error, valid once Finished is
// closed.
func (h *WAVHost) Err() error { return h.err }

// Finished implements Finisher.
func (h *WAVHost) Finished() <-chan struct{} { return h.finished }

// Deactivate stops rendering, or idling, after the buffer in flight.
func (h *WAVHost) Deactivate() error {
	if h.stop != nil {
		close(h.stop)
		h.wg.Wait()
		h.stop = nil
	}
	return nil
}

// Close finalizes the output header and closes both files.
func (h *WAVHost) Close() error {
	var errs []error
	if h.enc != nil {
		errs = append(errs, h.enc.Close())
		h.enc = nil
	}
	if h.outFile != nil {
		errs = append(errs, h.outFile.Close())
		h.outFile = nil
	}
	if h.inFile != nil {
		errs = append(errs, h.inFile.Close())
		h.inFile = nil
	}
	return errors.Join(errs...)
}

// Lost implements Host. Files do not disappear mid-render.
func (h *WAVHost) Lost() <-chan struct{} { return h.lost }
