// Package render draws channel strips and their meters, to the terminal by
// default or to an SDL window when built with -tags sdl.
package render

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/guidoenr/gomixer/internal/meter"
	"github.com/guidoenr/gomixer/internal/mixer"
)

// ErrRendererQuit is returned by Present when the user closed the window.
var ErrRendererQuit = errors.New("render: window closed")

const (
	meterMinDB = mixer.FloorDB
	meterMaxDB = 6

	nameWidth   = 12
	minBarWidth = 10
)

var (
	nordDim    = lipgloss.Color("#4C566A")
	nordText   = lipgloss.Color("#D8DEE9")
	nordFocus  = lipgloss.Color("#88C0D0")
	nordHeader = lipgloss.Color("#81A1C1")
	nordRed    = lipgloss.Color("#BF616A")
	nordYellow = lipgloss.Color("#EBCB8B")
	nordGreen  = lipgloss.Color("#A3BE8C")

	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(nordHeader)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(nordFocus)
	nameStyle     = lipgloss.NewStyle().Foreground(nordText)
	dimStyle      = lipgloss.NewStyle().Foreground(nordDim)
	muteStyle     = lipgloss.NewStyle().Bold(true).Foreground(nordRed)
	soloStyle     = lipgloss.NewStyle().Bold(true).Foreground(nordYellow)
	zoneStyles    = map[meter.Zone]lipgloss.Style{
		meter.ZoneGreen:  lipgloss.NewStyle().Foreground(nordGreen),
		meter.ZoneYellow: lipgloss.NewStyle().Foreground(nordYellow),
		meter.ZoneRed:    lipgloss.NewStyle().Foreground(nordRed),
	}
)

// Options configures a Renderer.
type Options struct {
	Width   int
	Height  int
	Palette string
	UseANSI bool
	// SDL opens a meter window in addition to the terminal frame.
	SDL bool
}

// Renderer converts a View into terminal lines.
type Renderer struct {
	width       int
	height      int
	palette     []rune
	paletteName string
	useANSI     bool
	sdl         *sdlState
}

// Frame contains the rendered lines and status text. Present, when set,
// pushes the frame to a window.
type Frame struct {
	Lines   []string
	Status  string
	Present func(status string) error
}

// New creates a Renderer.
func New(opts Options) (*Renderer, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid dimensions: width=%d height=%d", opts.Width, opts.Height)
	}
	r := &Renderer{
		width:   opts.Width,
		height:  opts.Height,
		useANSI: opts.UseANSI,
	}
	r.SetPalette(opts.Palette)
	if opts.SDL {
		if err := r.initSDL(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// SetPalette changes the meter glyphs.
func (r *Renderer) SetPalette(name string) {
	if name == "" {
		name = "blocks"
	}
	r.palette = Palette(name)
	r.paletteName = name
}

// PaletteName returns the active palette.
func (r *Renderer) PaletteName() string { return r.paletteName }

// Resize updates the frame dimensions.
func (r *Renderer) Resize(width, height int) {
	if width > 0 {
		r.width = width
	}
	if height > 0 {
		r.height = height
	}
}

// Close releases the SDL window if one is open.
func (r *Renderer) Close() error { return r.closeSDL() }

// Render draws the inputs section followed by the outputs section, clipped
// to the frame height.
func (r *Renderer) Render(v View) Frame {
	lines := make([]string, 0, r.height)
	lines = append(lines, r.style(headerStyle, "INPUTS"))
	for _, s := range v.Inputs {
		lines = append(lines, r.strip(s)...)
	}
	lines = append(lines, "", r.style(headerStyle, "OUTPUTS"))
	for _, s := range v.Outputs {
		lines = append(lines, r.strip(s)...)
	}
	if len(lines) > r.height {
		lines = lines[:r.height]
	}
	for len(lines) < r.height {
		lines = append(lines, "")
	}
	frame := Frame{Lines: lines, Status: v.Status}
	if r.sdl != nil {
		frame.Present = r.presentSDL(v)
	}
	return frame
}

func (r *Renderer) barWidth() int {
	// marker, name, gain, flags, port tag, value and separators
	w := r.width - (2 + nameWidth + 1 + 9 + 1 + 3 + 1 + 2 + 1 + 9)
	if w < minBarWidth {
		w = minBarWidth
	}
	return w
}

func (r *Renderer) strip(s Strip) []string {
	marker := "  "
	label := nameStyle
	if s.Selected {
		marker = "> "
		label = selectedStyle
	} else if s.Dimmed || s.State.Muted {
		label = dimStyle
	}

	var flags strings.Builder
	if s.State.Muted {
		flags.WriteString(r.style(muteStyle, "M"))
	} else {
		flags.WriteByte('-')
	}
	if s.State.Solo {
		flags.WriteString(r.style(soloStyle, "S"))
	} else {
		flags.WriteByte('-')
	}
	flags.WriteByte(' ')

	head := marker + r.style(label, padRight(s.Info.Name, nameWidth)) + " " +
		fmt.Sprintf("%+6.1f dB", s.State.GainDB) + " " + flags.String()
	blank := strings.Repeat(" ", 2+nameWidth+1+9+1+3)

	lines := make([]string, 0, len(s.Levels))
	for p, lvl := range s.Levels {
		prefix := head
		if p > 0 {
			prefix = blank
		}
		lines = append(lines, prefix+" "+portTag(len(s.Levels), p)+" "+r.bar(lvl)+" "+formatDB(lvl.Current))
	}
	if len(lines) == 0 {
		lines = append(lines, head)
	}
	return lines
}

func portTag(ports, p int) string {
	if ports == 1 {
		return "M"
	}
	if p == 0 {
		return "L"
	}
	return "R"
}

func (r *Renderer) bar(lvl Level) string {
	width := r.barWidth()
	step := float32(meterMaxDB-meterMinDB) / float32(width)
	current := meter.Displayed(lvl.Current)
	held := meter.Displayed(lvl.Held)
	heldCell := -1
	if held > meterMinDB {
		heldCell = int((held - meterMinDB) / step)
		if heldCell >= width {
			heldCell = width - 1
		}
	}

	var b strings.Builder
	b.Grow(width * 4)
	for i := 0; i < width; i++ {
		lo := meterMinDB + float32(i)*step
		zone := meter.Classify(lo)
		var glyph string
		if i == heldCell && held > current {
			glyph = "│"
			zone = lvl.HeldZone
		} else {
			frac := (current - lo) / step
			if frac < 0 {
				frac = 0
			} else if frac > 1 {
				frac = 1
			}
			glyph = string(r.palette[int(frac*float32(len(r.palette)-1)+0.5)])
		}
		b.WriteString(r.style(zoneStyles[zone], glyph))
	}
	return b.String()
}

func (r *Renderer) style(st lipgloss.Style, s string) string {
	if !r.useANSI {
		return s
	}
	return st.Render(s)
}

func formatDB(db float32) string {
	var buf [16]byte
	b := strconv.AppendFloat(buf[:0], float64(meter.Displayed(db)), 'f', 1, 32)
	return padLeft(string(b), 6) + " dB"
}

func padRight(s string, n int) string {
	runes := []rune(s)
	if len(runes) >= n {
		return string(runes[:n])
	}
	return s + strings.Repeat(" ", n-len(runes))
}

func padLeft(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat(" ", n-len(s)) + s
}
