package app

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eiannone/keyboard"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/guidoenr/gomixer/internal/audio"
	"github.com/guidoenr/gomixer/internal/config"
	"github.com/guidoenr/gomixer/internal/mixer"
	"github.com/guidoenr/gomixer/internal/persist"
)

const session = `client_name: gomixer
inputs:
  - name: Mic
    ports: [mic]
    volume_db: -6.0
  - name: Music
    ports: [music_l, music_r]
outputs:
  - name: Main
    ports: [main_l, main_r]
`

// stillHost never calls Process; tests drive the engine by hand.
type stillHost struct {
	lost        chan struct{}
	deactivated bool
}

func newStillHost() *stillHost { return &stillHost{lost: make(chan struct{})} }

func (h *stillHost) Name() string                          { return "still" }
func (h *stillHost) Open(string, []string, []string) error { return nil }
func (h *stillHost) BufferSize() int                       { return 64 }
func (h *stillHost) SampleRate() float64                   { return 48_000 }
func (h *stillHost) Activate(audio.Processor) error        { return nil }
func (h *stillHost) Deactivate() error                     { h.deactivated = true; return nil }
func (h *stillHost) Close() error                          { return nil }
func (h *stillHost) Lost() <-chan struct{}                 { return h.lost }

// xrunHost is a stillHost that reports a fixed xrun count.
type xrunHost struct {
	*stillHost
	xruns uint64
}

func (h xrunHost) Xruns() uint64 { return h.xruns }

func loadSession(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mixer.yaml")
	if err := os.WriteFile(path, []byte(session), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return cfg
}

func newEngine(t *testing.T, cfg *config.Config) (*mixer.Engine, *mixer.Remote) {
	t.Helper()
	mc := cfg.MixerConfig()
	mc.MaxFrames = 256
	eng, remote, err := mixer.New(mc)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return eng, remote
}

func cycle(eng *mixer.Engine, level float32) {
	frames := 64
	in := make([][]float32, eng.InputPorts())
	for i := range in {
		in[i] = make([]float32, frames)
		in[i][0] = level
	}
	out := make([][]float32, eng.OutputPorts())
	for i := range out {
		out[i] = make([]float32, frames)
	}
	eng.Process(in, out, frames)
}

func TestKeyEvent(t *testing.T) {
	cases := []struct {
		char rune
		key  keyboard.Key
		want inputEvent
	}{
		{0, keyboard.KeyArrowLeft, inputEventPrev},
		{0, keyboard.KeyArrowRight, inputEventNext},
		{0, keyboard.KeyTab, inputEventSection},
		{0, keyboard.KeyArrowUp, inputEventGainUp},
		{0, keyboard.KeyArrowDown, inputEventGainDown},
		{'m', 0, inputEventMute},
		{'s', 0, inputEventSolo},
		{'0', 0, inputEventReset},
		{'q', 0, inputEventQuit},
		{0, keyboard.KeyEsc, inputEventQuit},
	}
	for _, tc := range cases {
		got, ok := keyEvent(tc.char, tc.key)
		if !ok || got != tc.want {
			t.Fatalf("keyEvent(%q,%v)=%v,%v want=%v", tc.char, tc.key, got, ok, tc.want)
		}
	}
	if _, ok := keyEvent('x', 0); ok {
		t.Fatalf("unmapped key should be ignored")
	}
}

func TestSelectionWrapsAndSwitchesSection(t *testing.T) {
	s := selection{inputs: 2, outputs: 1}
	s.prev()
	if s.pos != 2 {
		t.Fatalf("prev from first=%d want=2", s.pos)
	}
	s.next()
	if s.pos != 0 {
		t.Fatalf("next from last=%d want=0", s.pos)
	}
	s.toggleSection()
	if s.pos != 2 {
		t.Fatalf("tab from inputs=%d want=2", s.pos)
	}
	if _, ok := s.command(inputEventSolo); ok {
		t.Fatalf("solo on an output should not produce a command")
	}
	cmd, ok := s.command(inputEventMute)
	if !ok || cmd != mixer.ToggleMute(2) {
		t.Fatalf("mute cmd=%v ok=%v", cmd, ok)
	}
	s.toggleSection()
	if s.pos != 0 {
		t.Fatalf("tab from outputs=%d want=0", s.pos)
	}
	cmd, _ = s.command(inputEventGainDown)
	if cmd != mixer.StepGain(0, -mixer.GainStepDB) {
		t.Fatalf("gain down cmd=%v", cmd)
	}
}

func TestInputUpdatesMirrorThroughEcho(t *testing.T) {
	cfg := loadSession(t)
	eng, remote := newEngine(t, cfg)
	a, err := New(Config{ClientName: "gomixer", Host: newStillHost(), Remote: remote, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	a.handleInput(ctx, inputEventGainUp)
	a.handleInput(ctx, inputEventNext)
	a.handleInput(ctx, inputEventSolo)

	if a.mirror[0].GainDB != -6 {
		t.Fatalf("mirror changed before the engine applied the command: %v", a.mirror[0].GainDB)
	}
	cycle(eng, 0.5)
	a.drain(time.Now())
	if a.mirror[0].GainDB != -5.5 {
		t.Fatalf("mic gain=%v want=-5.5", a.mirror[0].GainDB)
	}
	if !a.mirror[1].Solo {
		t.Fatalf("music should be soloed")
	}
	v := a.view()
	if !v.Inputs[0].Dimmed || v.Inputs[1].Dimmed {
		t.Fatalf("dimmed=%v,%v want=true,false", v.Inputs[0].Dimmed, v.Inputs[1].Dimmed)
	}
	if !v.Inputs[1].Selected {
		t.Fatalf("music should be selected")
	}
	a.publish(time.Now())
	st := a.Status()
	if len(st.Channels) != 3 || st.Channels[0].GainDB != -5.5 || st.Selected != 1 {
		t.Fatalf("status=%+v", st)
	}
	// input meters read the raw input: 0.5 is -6.0 dB
	if st.Channels[0].Levels[0].Zone != "yellow" || st.Channels[0].Levels[0].CurrentDB != -6 {
		t.Fatalf("mic input meter=%+v want -6 dB yellow", st.Channels[0].Levels[0])
	}
}

func TestSubmitFilters(t *testing.T) {
	cfg := loadSession(t)
	_, remote := newEngine(t, cfg)
	a, err := New(Config{Host: newStillHost(), Remote: remote, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.Submit("web", mixer.Shutdown()) {
		t.Fatalf("shutdown must not be accepted from outside")
	}
	if a.Submit("web", mixer.ToggleMute(7)) {
		t.Fatalf("unknown channel accepted")
	}
	if !a.Submit("web", mixer.ToggleMute(2)) {
		t.Fatalf("valid command rejected")
	}
	for i := 0; i < externalQueue; i++ {
		a.Submit("web", mixer.ToggleMute(0))
	}
	if a.Submit("web", mixer.ToggleMute(0)) {
		t.Fatalf("full queue should reject")
	}
}

func TestRunShutdownPersistsSnapshot(t *testing.T) {
	cfg := loadSession(t)
	eng, remote := newEngine(t, cfg)
	host := audio.NewSyntheticHost(audio.Options{BufferSize: 64, SampleRate: 64_000})
	if err := host.Open("gomixer", audio.PortNames(remote.Inputs()), audio.PortNames(remote.Outputs())); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := audio.Activate(host, eng); err != nil {
		t.Fatalf("activate: %v", err)
	}
	a, err := New(Config{
		ClientName: "gomixer",
		Host:       host,
		Remote:     remote,
		Persist:    persist.New(cfg, zerolog.Nop()),
		TargetFPS:  200,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	if !a.Submit("test", mixer.SetGain(2, -3)) {
		t.Fatalf("submit rejected")
	}
	deadline := time.Now().Add(2 * time.Second)
	for a.Status().Channels[2].GainDB != -3 {
		if time.Now().After(deadline) {
			t.Fatalf("echo never reached the status")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return")
	}
	if !remote.Stopped() {
		t.Fatalf("engine not stopped")
	}
	if a.PersistErr() != nil {
		t.Fatalf("persist: %v", a.PersistErr())
	}
	back, err := config.Load(cfg.Path())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if *back.Inputs[0].VolumeDB != -6 || *back.Outputs[0].VolumeDB != -3 {
		t.Fatalf("volumes=%v,%v want=-6,-3", *back.Inputs[0].VolumeDB, *back.Outputs[0].VolumeDB)
	}
}

func TestRunHostLostPersistsMirror(t *testing.T) {
	cfg := loadSession(t)
	eng, remote := newEngine(t, cfg)
	host := newStillHost()
	a, err := New(Config{
		Host:    host,
		Remote:  remote,
		Persist: persist.New(cfg, zerolog.Nop()),
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	a.handleInput(context.Background(), inputEventGainDown)
	cycle(eng, 0)
	eng.HostLost()
	close(host.lost)

	err = a.Run(context.Background())
	if !errors.Is(err, ErrHostLost) {
		t.Fatalf("err=%v want ErrHostLost", err)
	}
	if !host.deactivated {
		t.Fatalf("host not deactivated")
	}
	back, err := config.Load(cfg.Path())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := *back.Inputs[0].VolumeDB; got != -6.5 {
		t.Fatalf("mic volume=%v want=-6.5", got)
	}
}

func TestStatusReportsHostXrunsApartFromRejectedCycles(t *testing.T) {
	cfg := loadSession(t)
	eng, remote := newEngine(t, cfg)
	a, err := New(Config{
		ClientName: "gomixer",
		Host:       xrunHost{stillHost: newStillHost(), xruns: 5},
		Remote:     remote,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	eng.Process(nil, nil, 64)
	cycle(eng, 0)
	if err := a.step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	line := a.statusLine()
	for _, want := range []string{"rejected=1", "xruns=5"} {
		if !strings.Contains(line, want) {
			t.Fatalf("status line=%q missing %q", line, want)
		}
	}
	st := a.Status().Engine
	if st.Xruns != 5 || st.Rejected != 1 {
		t.Fatalf("xruns=%d rejected=%d want=5,1", st.Xruns, st.Rejected)
	}
}

func writeSilentWAV(t *testing.T, path string, frames int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := wav.NewEncoder(f, 8000, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: 8000},
		SourceBitDepth: 16,
		Data:           make([]int, frames),
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func runWAV(t *testing.T, cfg *config.Config, inPath string) (*App, *mixer.Remote, error) {
	t.Helper()
	eng, remote := newEngine(t, cfg)
	host := audio.NewWAVHost(audio.Options{
		BufferSize: 64,
		RenderIn:   inPath,
		RenderOut:  filepath.Join(t.TempDir(), "out.wav"),
	})
	if err := host.Open("gomixer", audio.PortNames(remote.Inputs()), audio.PortNames(remote.Outputs())); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { host.Close() })
	if err := audio.Activate(host, eng); err != nil {
		t.Fatalf("activate: %v", err)
	}
	a, err := New(Config{
		ClientName: "gomixer",
		Host:       host,
		Remote:     remote,
		Persist:    persist.New(cfg, zerolog.Nop()),
		TargetFPS:  200,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- a.Run(context.Background()) }()
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return")
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("run took %v want under 1s", took)
	}
	return a, remote, err
}

func TestRunWAVHostHarvestsSnapshot(t *testing.T) {
	cfg := loadSession(t)
	inPath := filepath.Join(t.TempDir(), "in.wav")
	writeSilentWAV(t, inPath, 1000)

	a, remote, err := runWAV(t, cfg, inPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !remote.Stopped() {
		t.Fatalf("engine not stopped")
	}
	if a.PersistErr() != nil {
		t.Fatalf("persist: %v", a.PersistErr())
	}
	if _, err := remote.TakeSnapshot(); !errors.Is(err, mixer.ErrSnapshotTaken) {
		t.Fatalf("err=%v want=ErrSnapshotTaken", err)
	}
}

func TestRunWAVHostReturnsDecodeError(t *testing.T) {
	cfg := loadSession(t)
	inPath := filepath.Join(t.TempDir(), "in.wav")
	write12BitWAV(t, inPath, 512)

	_, remote, err := runWAV(t, cfg, inPath)
	if err == nil || !strings.Contains(err.Error(), "decode render input") {
		t.Fatalf("err=%v want=decode render input", err)
	}
	if !remote.Stopped() {
		t.Fatalf("engine not stopped")
	}
}

// write12BitWAV writes a well-formed header for 12-bit PCM, a depth the
// decoder cannot unpack.
func write12BitWAV(t *testing.T, path string, dataBytes int) {
	t.Helper()
	le := binary.LittleEndian
	b := []byte("RIFF")
	b = le.AppendUint32(b, uint32(36+dataBytes))
	b = append(b, "WAVEfmt "...)
	b = le.AppendUint32(b, 16)
	b = le.AppendUint16(b, 1)
	b = le.AppendUint16(b, 1)
	b = le.AppendUint32(b, 8000)
	b = le.AppendUint32(b, 16000)
	b = le.AppendUint16(b, 2)
	b = le.AppendUint16(b, 12)
	b = append(b, "data"...)
	b = le.AppendUint32(b, uint32(dataBytes))
	b = append(b, make([]byte, dataBytes)...)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestInteractiveFrameWritesStrips(t *testing.T) {
	cfg := loadSession(t)
	eng, remote := newEngine(t, cfg)
	var out bytes.Buffer
	a, err := New(Config{
		ClientName:  "gomixer",
		Host:        newStillHost(),
		Remote:      remote,
		Interactive: true,
		Width:       100,
		Height:      12,
		Output:      &out,
		Logger:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cycle(eng, 0.5)
	if err := a.step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	text := out.String()
	for _, want := range []string{"INPUTS", "> Mic", "Music", "OUTPUTS", "Main", "gomixer | still"} {
		if !strings.Contains(text, want) {
			t.Fatalf("frame missing %q:\n%s", want, text)
		}
	}
}

func TestProfilerWritesOneRowPerTick(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.csv")
	p := newProfiler(path, zerolog.Nop())
	if p == nil {
		t.Fatalf("profiler disabled")
	}
	for i := 0; i < 3; i++ {
		p.begin(time.Now())
		p.mark(sectionDrain)
		p.end(mixer.Stats{Cycles: uint64(i), MeterDrops: 1})
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines=%d want=4:\n%s", len(lines), data)
	}
	if lines[0] != strings.Join(profileHeader, ",") {
		t.Fatalf("header=%q", lines[0])
	}
	if !strings.HasSuffix(lines[3], ",2,1") || !strings.Contains(lines[3], ",3,") {
		t.Fatalf("last row=%q", lines[3])
	}
	if newProfiler("", zerolog.Nop()) != nil {
		t.Fatalf("empty path should disable profiling")
	}
}
