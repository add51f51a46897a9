package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/guidoenr/gomixer/internal/app"
	"github.com/guidoenr/gomixer/internal/audio"
	"github.com/guidoenr/gomixer/internal/config"
	"github.com/guidoenr/gomixer/internal/mixer"
	"github.com/guidoenr/gomixer/internal/observability"
	"github.com/guidoenr/gomixer/internal/persist"
	"github.com/guidoenr/gomixer/internal/render"
	"github.com/guidoenr/gomixer/internal/surface"
	"github.com/guidoenr/gomixer/internal/web"
)

const (
	exitOK       = 0
	exitConfig   = 1
	exitHostLost = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "mixer.yaml", "Session file (.yaml or .toml)")
		hostKind   = flag.String("host", "portaudio", "Audio host ("+strings.Join(audio.Kinds, "|")+")")
		deviceName = flag.String("audio-device", "", "Optional PortAudio device name (substring match)")
		bufferSize = flag.Int("buffer-size", 0, "Requested frames per cycle (0 = host default)")
		maxBuffer  = flag.Int("max-buffer", 4096, "Largest buffer the engine accepts")
		sampleRate = flag.Float64("sample-rate", 0, "Requested sample rate (0 = device default)")
		targetFPS  = flag.Float64("fps", 60, "Meter refresh rate")
		webAddr    = flag.String("web", "", "Serve the HTTP monitor on this address (e.g. :8080)")
		midiIn     = flag.String("midi-in", "", "MIDI control surface input (substring match)")
		renderIn   = flag.String("render-in", "", "Offline render: input WAV file")
		renderOut  = flag.String("render-out", "", "Offline render: output WAV file")
		listDevs   = flag.Bool("list-audio-devices", false, "List audio devices and exit")
		listMIDI   = flag.Bool("list-midi", false, "List MIDI inputs and exit")
		profile    = flag.String("profile", "", "Write per-tick timings as CSV to this file")
		debug      = flag.Bool("debug", false, "Enable verbose logging")
		logFile    = flag.String("log-file", "", "Write logs to this file instead of stderr")
		noColor    = flag.Bool("no-color", false, "Disable ANSI color output")
		sdl        = flag.Bool("sdl", false, "Show meters in an SDL window (sdl build tag)")
		palette    = flag.String("palette", "blocks", "Meter glyphs ("+strings.Join(render.PaletteNames(), "|")+")")
		headless   = flag.Bool("headless", false, "Do not take over the terminal")
	)

	flag.Parse()

	level := "warn"
	if *debug {
		level = "debug"
	}
	var logOut io.Writer = os.Stderr
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
			return exitConfig
		}
		defer f.Close()
		logOut = f
	}
	logger := observability.InitLogger("gomixer", observability.LogOptions{
		Level:   level,
		Out:     logOut,
		NoColor: *noColor || *logFile != "",
	})

	if *listDevs {
		devices, err := audio.ListDevices()
		if err != nil {
			logger.Error().Err(err).Msg("list devices")
			return exitConfig
		}
		audio.WriteDevices(os.Stdout, devices)
		return exitOK
	}
	if *listMIDI {
		ports, err := surface.Ports()
		if err != nil {
			logger.Error().Err(err).Msg("list midi inputs")
			return exitConfig
		}
		for _, name := range ports {
			fmt.Println("-", name)
		}
		return exitOK
	}

	if *targetFPS <= 0 {
		fmt.Fprintf(os.Stderr, "fps must be positive (got %.2f)\n", *targetFPS)
		return exitConfig
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitConfig
	}

	kind := *hostKind
	if *renderIn != "" {
		kind = "wav"
	}
	host, err := audio.New(kind, audio.Options{
		Device:     *deviceName,
		BufferSize: *bufferSize,
		SampleRate: *sampleRate,
		RenderIn:   *renderIn,
		RenderOut:  *renderOut,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitConfig
	}
	defer func() {
		if err := host.Close(); err != nil {
			logger.Warn().Err(err).Msg("close host")
		}
	}()

	inPorts, outPorts := cfg.PortNames()
	if err := host.Open(cfg.ClientName, inPorts, outPorts); err != nil {
		fmt.Fprintf(os.Stderr, "error: open %s host: %v\n", host.Name(), err)
		return exitConfig
	}

	mcfg := cfg.MixerConfig()
	mcfg.MaxFrames = *maxBuffer
	mcfg.SampleRate = host.SampleRate()
	engine, remote, err := mixer.New(mcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitConfig
	}
	if err := audio.Activate(host, engine); err != nil {
		if errors.Is(err, mixer.ErrBufferTooLarge) {
			fmt.Fprintf(os.Stderr, "error: host buffer of %d frames exceeds --max-buffer %d\n", host.BufferSize(), *maxBuffer)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		return exitConfig
	}
	logger.Info().
		Str("host", host.Name()).
		Int("buffer", host.BufferSize()).
		Float64("sample_rate", host.SampleRate()).
		Msg("engine active")

	interactive := !*headless && kind != "wav" && term.IsTerminal(int(os.Stdout.Fd()))
	a, err := app.New(app.Config{
		ClientName:  cfg.ClientName,
		Host:        host,
		Remote:      remote,
		Persist:     persist.New(cfg, logger),
		TargetFPS:   *targetFPS,
		Interactive: interactive,
		Palette:     *palette,
		UseANSI:     !*noColor,
		SDL:         *sdl,
		ProfilePath: *profile,
		Output:      os.Stdout,
		Logger:      logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		_ = host.Deactivate()
		return exitConfig
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup error: %v\n", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runErr := serve(ctx, a, remote, host, *webAddr, *midiIn, logger)

	if perr := a.PersistErr(); perr != nil {
		fmt.Fprintf(os.Stderr, "warning: volumes not saved: %v\n", perr)
	}
	switch {
	case runErr == nil:
		return exitOK
	case errors.Is(runErr, app.ErrHostLost):
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		return exitHostLost
	default:
		fmt.Fprintf(os.Stderr, "runtime error: %v\n", runErr)
		return exitConfig
	}
}

// serve runs the control loop alongside the optional monitor and control
// surface. The side services stop once the control loop returns.
func serve(ctx context.Context, a *app.App, remote *mixer.Remote, host audio.Host, webAddr, midiIn string, logger zerolog.Logger) error {
	var srv *web.Server
	if webAddr != "" {
		var xruns func() uint64
		if x, ok := host.(audio.XrunCounter); ok {
			xruns = x.Xruns
		}
		var err error
		if srv, err = web.NewServer(a, remote.Stats, xruns, logger); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	sideCtx, stopSide := context.WithCancel(gctx)
	defer stopSide()

	var runErr error
	g.Go(func() error {
		defer stopSide()
		runErr = a.Run(gctx)
		return nil
	})

	if srv != nil {
		g.Go(func() error {
			if err := srv.Start(sideCtx, webAddr); err != nil {
				logger.Error().Err(err).Msg("web monitor stopped")
			}
			return nil
		})
	}

	if midiIn != "" {
		channels := len(remote.Inputs()) + len(remote.Outputs())
		s, err := surface.Open(midiIn, surface.DefaultMapping(channels), a, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("midi surface unavailable")
		} else {
			g.Go(func() error {
				<-sideCtx.Done()
				return s.Close()
			})
		}
	}

	if err := g.Wait(); err != nil {
		logger.Warn().Err(err).Msg("service shutdown")
	}
	return runErr
}
