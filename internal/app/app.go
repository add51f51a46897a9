// Package app runs the control loop: it turns key presses and remote requests
// into engine commands, drains meter and state events at the display rate,
// renders the channel strips and sequences shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/guidoenr/gomixer/internal/audio"
	"github.com/guidoenr/gomixer/internal/meter"
	"github.com/guidoenr/gomixer/internal/mixer"
	"github.com/guidoenr/gomixer/internal/observability"
	"github.com/guidoenr/gomixer/internal/persist"
	"github.com/guidoenr/gomixer/internal/render"
)

// ErrHostLost is returned by Run when the host audio subsystem went away.
var ErrHostLost = errors.New("app: host audio subsystem lost")

const (
	defaultFPS      = 60
	shutdownTimeout = 2 * time.Second
	externalQueue   = 64
)

// Config configures the control loop.
type Config struct {
	ClientName string
	Host       audio.Host
	Remote     *mixer.Remote
	// Persist saves final volumes on exit; nil disables it.
	Persist *persist.Adapter

	TargetFPS float64
	Meter     meter.Config

	// Interactive owns the terminal: alternate screen, keyboard and frames.
	Interactive bool
	Width       int
	Height      int
	Palette     string
	UseANSI     bool
	SDL         bool
	ProfilePath string
	Output      io.Writer

	Logger zerolog.Logger
}

type request struct {
	source string
	cmd    mixer.Command
}

// App is the control loop. Run, and every method it calls, is the single
// producer of engine commands and the single consumer of engine events.
type App struct {
	cfg      Config
	log      zerolog.Logger
	host     audio.Host
	remote   *mixer.Remote
	renderer *render.Renderer
	out      io.Writer
	prof     *profiler

	channels []mixer.ChannelInfo
	mirror   []mixer.ChannelState
	holds    [][]*meter.PeakHold
	sel      selection

	inputEvents chan inputEvent
	requests    chan request
	status      atomic.Pointer[Status]
	persistErr  error

	width  int
	height int
	last   time.Time
	fps    float64
}

// New constructs the control loop for an engine that is already wired to
// its host.
func New(cfg Config) (*App, error) {
	if cfg.Remote == nil || cfg.Host == nil {
		return nil, errors.New("app: remote and host are required")
	}
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = defaultFPS
	}
	if cfg.Meter == (meter.Config{}) {
		cfg.Meter = meter.DefaultConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Width <= 0 {
		cfg.Width = 80
	}
	if cfg.Height <= 0 {
		cfg.Height = 24
	}

	a := &App{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "app").Logger(),
		host:     cfg.Host,
		remote:   cfg.Remote,
		out:      cfg.Output,
		channels: append(append([]mixer.ChannelInfo{}, cfg.Remote.Inputs()...), cfg.Remote.Outputs()...),
		mirror:   cfg.Remote.InitialState(),
		sel: selection{
			inputs:  len(cfg.Remote.Inputs()),
			outputs: len(cfg.Remote.Outputs()),
		},
		requests: make(chan request, externalQueue),
		width:    cfg.Width,
		height:   cfg.Height,
		last:     time.Now(),
	}
	a.holds = make([][]*meter.PeakHold, len(a.channels))
	for i, ch := range a.channels {
		a.holds[i] = make([]*meter.PeakHold, len(ch.Ports))
		for p := range ch.Ports {
			a.holds[i][p] = meter.NewPeakHold(cfg.Meter)
		}
	}

	if cfg.Interactive || cfg.SDL {
		renderer, err := render.New(render.Options{
			Width:   cfg.Width,
			Height:  a.renderHeight(cfg.Height),
			Palette: cfg.Palette,
			UseANSI: cfg.UseANSI,
			SDL:     cfg.SDL,
		})
		if err != nil {
			return nil, err
		}
		a.renderer = renderer
	}
	a.prof = newProfiler(cfg.ProfilePath, a.log)
	a.publish(time.Now())
	return a, nil
}

// Run drives the control loop until the user quits, ctx ends, the host runs
// out of input or the host is lost. The engine is shut down and volumes are
// persisted before it returns. It returns ErrHostLost when the host went
// away and the host's error when it finished by failing.
func (a *App) Run(ctx context.Context) error {
	frameDuration := time.Duration(float64(time.Second) / a.cfg.TargetFPS)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	if a.cfg.Interactive {
		enterAltScreen(a.out)
		clearScreen(a.out)
		hideCursor(a.out)
		defer func() {
			showCursor(a.out)
			exitAltScreen(a.out)
		}()

		inputCtx, cancelInput := context.WithCancel(ctx)
		defer cancelInput()
		a.startInputListener(inputCtx)
		a.ensureDimensions()
	}

	var finished <-chan struct{}
	finisher, ok := a.host.(audio.Finisher)
	if ok {
		finished = finisher.Finished()
	}

	for {
		select {
		case <-ctx.Done():
			return a.shutdown()
		case <-a.host.Lost():
			return a.hostLost()
		case <-finished:
			herr := finisher.Err()
			if herr != nil {
				a.log.Error().Err(herr).Str("host", a.host.Name()).Msg("host failed")
			} else {
				a.log.Info().Str("host", a.host.Name()).Msg("host finished")
			}
			if err := a.shutdown(); err != nil {
				return err
			}
			if herr != nil {
				return fmt.Errorf("%s host: %w", a.host.Name(), herr)
			}
			return nil
		case evt, ok := <-a.inputEvents:
			if !ok {
				a.inputEvents = nil
				continue
			}
			if evt == inputEventQuit {
				return a.shutdown()
			}
			a.handleInput(ctx, evt)
		case req := <-a.requests:
			a.dispatch(ctx, req.source, req.cmd)
		case <-ticker.C:
			if err := a.step(); err != nil {
				if errors.Is(err, render.ErrRendererQuit) {
					return a.shutdown()
				}
				a.shutdown()
				return err
			}
		}
	}
}

// Submit queues a command from another goroutine (web, MIDI). It never
// blocks and reports false when the queue is full or the command is not
// acceptable from outside the control loop.
func (a *App) Submit(source string, cmd mixer.Command) bool {
	if cmd.Kind == mixer.CmdShutdown {
		return false
	}
	if _, ok := a.remote.Channel(cmd.Channel); !ok {
		return false
	}
	select {
	case a.requests <- request{source: source, cmd: cmd}:
		return true
	default:
		return false
	}
}

// Status returns the state published at the last tick.
func (a *App) Status() Status {
	if st := a.status.Load(); st != nil {
		return *st
	}
	return Status{}
}

// PersistErr reports a failure to save volumes during shutdown. It is not
// fatal.
func (a *App) PersistErr() error { return a.persistErr }

// Close releases held resources.
func (a *App) Close() error {
	var errs []error
	if a.renderer != nil {
		errs = append(errs, a.renderer.Close())
	}
	errs = append(errs, a.prof.Close())
	return errors.Join(errs...)
}

func (a *App) handleInput(ctx context.Context, evt inputEvent) {
	switch evt {
	case inputEventPrev:
		a.sel.prev()
	case inputEventNext:
		a.sel.next()
	case inputEventSection:
		a.sel.toggleSection()
	default:
		if cmd, ok := a.sel.command(evt); ok {
			a.dispatch(ctx, "keyboard", cmd)
		}
	}
}

func (a *App) dispatch(ctx context.Context, source string, cmd mixer.Command) {
	if err := a.remote.Send(ctx, cmd); err != nil {
		a.log.Warn().Err(err).Stringer("command", cmd).Msg("command not delivered")
		return
	}
	observability.RecordCommand(source, cmd.Kind)
	a.log.Debug().Str("source", source).Stringer("command", cmd).Msg("command sent")
}

func (a *App) step() error {
	now := time.Now()
	a.prof.begin(now)
	if delta := now.Sub(a.last).Seconds(); delta > 0 {
		a.fps = 1 / delta
	}
	a.last = now

	a.drain(now)
	a.prof.mark(sectionDrain)
	a.publish(now)

	if a.renderer != nil {
		if a.cfg.Interactive {
			a.ensureDimensions()
		}
		frame := a.renderer.Render(a.view())
		a.prof.mark(sectionRender)
		if a.cfg.Interactive {
			var b strings.Builder
			moveCursorHome(&b)
			for _, line := range frame.Lines {
				b.WriteString(line)
				b.WriteString("\x1b[K\n")
			}
			b.WriteString(statusBar(frame.Status, a.width))
			if _, err := io.WriteString(a.out, b.String()); err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
		}
		if frame.Present != nil {
			if err := frame.Present(frame.Status); err != nil {
				return err
			}
		}
		a.prof.mark(sectionPresent)
	}

	observability.RecordTick(time.Since(now))
	a.prof.end(a.remote.Stats())
	return nil
}

// drain consumes queued engine events: state echoes update the mirror and
// meter samples feed the peak holds. Holds decay in publish.
func (a *App) drain(now time.Time) {
	a.remote.DrainEvents(func(ev mixer.Event) {
		switch ev.Kind {
		case mixer.EventState:
			if id := int(ev.State.ID); id >= 0 && id < len(a.mirror) {
				a.mirror[id] = ev.State
			}
		case mixer.EventMeter:
			m := ev.Meter
			if id := int(m.Channel); id >= 0 && id < len(a.holds) && m.Port < len(a.holds[id]) {
				a.holds[id][m.Port].Observe(m.PeakDB(), now)
			}
		}
	})
}

func (a *App) soloed() bool {
	for _, st := range a.mirror[:a.sel.inputs] {
		if st.Solo {
			return true
		}
	}
	return false
}

func (a *App) view() render.View {
	soloed := a.soloed()
	v := render.View{Client: a.cfg.ClientName, Status: a.statusLine()}
	for i, ch := range a.channels {
		st := a.mirror[i]
		strip := render.Strip{
			Info:     ch,
			State:    st,
			Levels:   make([]render.Level, len(a.holds[i])),
			Selected: i == a.sel.pos,
			Dimmed:   ch.Role == mixer.RoleInput && soloed && !st.Solo,
		}
		for p, h := range a.holds[i] {
			strip.Levels[p] = render.Level{
				Current:  h.Current(),
				Held:     h.Held(),
				Zone:     h.Zone(),
				HeldZone: h.HeldZone(),
			}
		}
		if ch.Role == mixer.RoleInput {
			v.Inputs = append(v.Inputs, strip)
		} else {
			v.Outputs = append(v.Outputs, strip)
		}
	}
	return v
}

func (a *App) statusLine() string {
	stats := a.remote.Stats()
	name := "-"
	if a.sel.pos < len(a.channels) {
		name = a.channels[a.sel.pos].Name
	}
	return fmt.Sprintf("%s | %s | sel=%s | cycles=%d drops=%d rejected=%d xruns=%d | fps %.1f | ←/→ select  tab section  ↑/↓ gain  m mute  s solo  0 reset  q quit",
		a.cfg.ClientName, a.host.Name(), name, stats.Cycles, stats.MeterDrops, stats.Overruns, a.xruns(), a.fps)
}

// xruns reads the host's overflow/underflow count; hosts without one report 0.
func (a *App) xruns() uint64 {
	if x, ok := a.host.(audio.XrunCounter); ok {
		return x.Xruns()
	}
	return 0
}

func (a *App) publish(now time.Time) {
	st := &Status{
		Client:   a.cfg.ClientName,
		Session:  observability.Session,
		Host:     a.host.Name(),
		Selected: a.sel.pos,
		Channels: make([]ChannelStatus, len(a.channels)),
		Engine:   engineStatus(a.remote.Stats(), a.xruns()),
		Time:     now,
	}
	for i, ch := range a.channels {
		cs := ChannelStatus{
			ID:     int(ch.ID),
			Role:   ch.Role.String(),
			Name:   ch.Name,
			Ports:  ch.Ports,
			GainDB: a.mirror[i].GainDB,
			Muted:  a.mirror[i].Muted,
			Solo:   a.mirror[i].Solo,
			Levels: make([]LevelStatus, len(a.holds[i])),
		}
		for p, h := range a.holds[i] {
			cs.Levels[p] = LevelStatus{
				CurrentDB: meter.Displayed(h.Current()),
				HeldDB:    meter.Displayed(h.Display(now)),
				Zone:      h.Zone().String(),
			}
		}
		st.Channels[i] = cs
	}
	a.status.Store(st)
}

// shutdown sends Shutdown, waits for the engine to apply it, stops the host
// and persists the final snapshot.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.remote.Send(ctx, mixer.Shutdown()); err != nil && !errors.Is(err, mixer.ErrStopped) {
		a.log.Warn().Err(err).Msg("shutdown command not delivered")
	}
	a.waitStopped(ctx)
	if err := a.host.Deactivate(); err != nil {
		a.log.Warn().Err(err).Str("host", a.host.Name()).Msg("deactivate host")
	}
	a.drain(time.Now())
	a.publish(time.Now())
	a.persist()
	return nil
}

func (a *App) waitStopped(ctx context.Context) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for !a.remote.Stopped() {
		select {
		case <-ctx.Done():
			a.log.Warn().Msg("engine did not acknowledge shutdown")
			return
		case <-a.host.Lost():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) hostLost() error {
	a.log.Error().Str("host", a.host.Name()).Msg("host audio subsystem lost")
	if err := a.host.Deactivate(); err != nil {
		a.log.Warn().Err(err).Msg("deactivate host")
	}
	a.drain(time.Now())
	a.publish(time.Now())
	a.persist()
	return ErrHostLost
}

func (a *App) persist() {
	if a.cfg.Persist == nil {
		return
	}
	mirror := append([]mixer.ChannelState(nil), a.mirror...)
	src, err := a.cfg.Persist.Persist(a.remote, mirror)
	if err != nil {
		a.persistErr = err
		a.log.Error().Err(err).Msg("failed to persist volumes")
		return
	}
	a.log.Info().Str("source", string(src)).Msg("volumes persisted")
}

func (a *App) renderHeight(h int) int {
	if a.cfg.Interactive && h > 1 {
		return h - 1
	}
	return h
}

func (a *App) ensureDimensions() {
	fd := int(os.Stdout.Fd())
	if fd < 0 {
		return
	}
	w, h, err := term.GetSize(fd)
	if err != nil || w <= 0 || h <= 0 {
		return
	}
	if w == a.width && h == a.height {
		return
	}
	a.width = w
	a.height = h
	a.renderer.Resize(w, a.renderHeight(h))
}
