//go:build sdl

package render

import (
	"github.com/veandco/go-sdl2/sdl"

	"github.com/guidoenr/gomixer/internal/meter"
)

const (
	sdlBarWidth  = 18
	sdlBarGap    = 6
	sdlGroupGap  = 18
	sdlHeight    = 320
	sdlMargin    = 12
	sdlHoldThick = 3
)

var sdlZoneColors = map[meter.Zone][3]uint8{
	meter.ZoneGreen:  {0xA3, 0xBE, 0x8C},
	meter.ZoneYellow: {0xEB, 0xCB, 0x8B},
	meter.ZoneRed:    {0xBF, 0x61, 0x6A},
}

type sdlState struct {
	initialized bool
	window      *sdl.Window
	renderer    *sdl.Renderer
	width       int
	windowTitle string
}

func (r *Renderer) initSDL() error {
	if r.sdl != nil {
		return nil
	}
	if err := sdl.InitSubSystem(sdl.INIT_VIDEO); err != nil {
		return err
	}
	r.sdl = &sdlState{initialized: true}
	return nil
}

// ensureSDLResources sizes the window to the number of meter columns.
func (r *Renderer) ensureSDLResources(columns, groups int) error {
	state := r.sdl
	width := 2*sdlMargin + columns*(sdlBarWidth+sdlBarGap) + groups*sdlGroupGap
	if state.window == nil {
		window, err := sdl.CreateWindow(
			"gomixer",
			sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED,
			int32(width), sdlHeight,
			sdl.WINDOW_SHOWN,
		)
		if err != nil {
			return err
		}
		state.window = window
		state.width = width
	}
	if state.renderer == nil {
		renderer, err := sdl.CreateRenderer(state.window, -1, sdl.RENDERER_ACCELERATED|sdl.RENDERER_PRESENTVSYNC)
		if err != nil {
			return err
		}
		state.renderer = renderer
	}
	if state.width != width {
		state.window.SetSize(int32(width), sdlHeight)
		state.width = width
	}
	return nil
}

func (r *Renderer) presentSDL(v View) func(string) error {
	return func(status string) error {
		columns, groups := 0, 0
		for _, strips := range [][]Strip{v.Inputs, v.Outputs} {
			for _, s := range strips {
				columns += len(s.Levels)
				groups++
			}
		}
		if err := r.ensureSDLResources(columns, groups); err != nil {
			return err
		}
		state := r.sdl
		if status != "" && status != state.windowTitle {
			state.window.SetTitle(status)
			state.windowTitle = status
		}

		rd := state.renderer
		_ = rd.SetDrawColor(0x2E, 0x34, 0x40, 0xFF)
		if err := rd.Clear(); err != nil {
			return err
		}
		x := int32(sdlMargin)
		span := float32(sdlHeight - 2*sdlMargin)
		toY := func(db float32) int32 {
			frac := (db - meterMinDB) / float32(meterMaxDB-meterMinDB)
			if frac < 0 {
				frac = 0
			} else if frac > 1 {
				frac = 1
			}
			return int32(float32(sdlHeight-sdlMargin) - frac*span)
		}
		for _, strips := range [][]Strip{v.Inputs, v.Outputs} {
			for _, s := range strips {
				for _, lvl := range s.Levels {
					top := toY(meter.Displayed(lvl.Current))
					c := sdlZoneColors[lvl.Zone]
					_ = rd.SetDrawColor(c[0], c[1], c[2], 0xFF)
					_ = rd.FillRect(&sdl.Rect{X: x, Y: top, W: sdlBarWidth, H: int32(sdlHeight-sdlMargin) - top})

					hc := sdlZoneColors[lvl.HeldZone]
					_ = rd.SetDrawColor(hc[0], hc[1], hc[2], 0xFF)
					_ = rd.FillRect(&sdl.Rect{X: x, Y: toY(meter.Displayed(lvl.Held)), W: sdlBarWidth, H: sdlHoldThick})

					if s.Selected {
						_ = rd.SetDrawColor(0x88, 0xC0, 0xD0, 0xFF)
						_ = rd.DrawRect(&sdl.Rect{X: x - 2, Y: sdlMargin - 2, W: sdlBarWidth + 4, H: int32(span) + 4})
					}
					x += sdlBarWidth + sdlBarGap
				}
				x += sdlGroupGap
			}
		}
		rd.Present()

		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch event.(type) {
			case *sdl.QuitEvent:
				return ErrRendererQuit
			}
		}
		return nil
	}
}

func (r *Renderer) closeSDL() error {
	if r.sdl == nil {
		return nil
	}
	if r.sdl.renderer != nil {
		r.sdl.renderer.Destroy()
		r.sdl.renderer = nil
	}
	if r.sdl.window != nil {
		r.sdl.window.Destroy()
		r.sdl.window = nil
	}
	if r.sdl.initialized {
		sdl.QuitSubSystem(sdl.INIT_VIDEO)
		r.sdl.initialized = false
	}
	r.sdl = nil
	return nil
}

// SupportsSDL reports whether the SDL meter window was compiled in.
func SupportsSDL() bool { return true }
