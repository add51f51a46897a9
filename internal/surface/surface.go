// Package surface maps a MIDI control surface onto mixer commands. The
// default layout follows the common eight-strip controllers: faders send CC
// 0-7, solo buttons CC 32-39, mute buttons CC 48-55 and record buttons, used
// for reset, CC 64-71. Note-on messages from MuteNote upward toggle mute.
package surface

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/guidoenr/gomixer/internal/mixer"
)

// Source labels commands coming from the surface.
const Source = "midi"

// Submitter accepts commands from outside the control loop.
type Submitter interface {
	Submit(source string, cmd mixer.Command) bool
}

// Mapping is the controller layout. Strip i controls channel id i.
type Mapping struct {
	GainCC   uint8
	SoloCC   uint8
	MuteCC   uint8
	ResetCC  uint8
	MuteNote uint8
	Strips   int
}

// DefaultMapping returns the eight-strip layout limited to channels.
func DefaultMapping(channels int) Mapping {
	strips := channels
	if strips > 8 {
		strips = 8
	}
	return Mapping{
		GainCC:   0,
		SoloCC:   32,
		MuteCC:   48,
		ResetCC:  64,
		MuteNote: 36,
		Strips:   strips,
	}
}

// FaderDB maps a 7-bit fader position onto the gain range.
func FaderDB(value uint8) float32 {
	return mixer.MinGainDB + float32(value)/127*(mixer.MaxGainDB-mixer.MinGainDB)
}

func (m Mapping) strip(base, n uint8) (mixer.ChannelID, bool) {
	if n < base || int(n-base) >= m.Strips {
		return 0, false
	}
	return mixer.ChannelID(n - base), true
}

// Command translates one MIDI message. Buttons act on press only.
func (m Mapping) Command(msg midi.Message) (mixer.Command, bool) {
	var ch, cc, val, key, vel uint8
	switch {
	case msg.GetControlChange(&ch, &cc, &val):
		if id, ok := m.strip(m.GainCC, cc); ok {
			return mixer.SetGain(id, FaderDB(val)), true
		}
		if val == 0 {
			return mixer.Command{}, false
		}
		if id, ok := m.strip(m.SoloCC, cc); ok {
			return mixer.ToggleSolo(id), true
		}
		if id, ok := m.strip(m.MuteCC, cc); ok {
			return mixer.ToggleMute(id), true
		}
		if id, ok := m.strip(m.ResetCC, cc); ok {
			return mixer.ResetGain(id), true
		}
	case msg.GetNoteStart(&ch, &key, &vel):
		if id, ok := m.strip(m.MuteNote, key); ok {
			return mixer.ToggleMute(id), true
		}
	}
	return mixer.Command{}, false
}

// Surface is an open MIDI input forwarding commands to a Submitter.
type Surface struct {
	drv  *rtmididrv.Driver
	in   drivers.In
	stop func()
	log  zerolog.Logger
}

// Ports lists MIDI input names.
func Ports() ([]string, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("midi driver: %w", err)
	}
	defer drv.Close()
	ins, err := drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("list midi inputs: %w", err)
	}
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	return names, nil
}

// Open listens on the first MIDI input whose name contains name.
func Open(name string, m Mapping, sink Submitter, logger zerolog.Logger) (*Surface, error) {
	log := logger.With().Str("component", "surface").Logger()
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("midi driver: %w", err)
	}
	ins, err := drv.Ins()
	if err != nil {
		drv.Close()
		return nil, fmt.Errorf("list midi inputs: %w", err)
	}
	var found drivers.In
	for _, in := range ins {
		if strings.Contains(strings.ToLower(in.String()), strings.ToLower(name)) {
			found = in
			break
		}
	}
	if found == nil {
		drv.Close()
		return nil, fmt.Errorf("midi input %q not found", name)
	}
	if err := found.Open(); err != nil {
		drv.Close()
		return nil, fmt.Errorf("open midi input %q: %w", found.String(), err)
	}

	stop, err := midi.ListenTo(found, func(msg midi.Message, _ int32) {
		cmd, ok := m.Command(msg)
		if !ok {
			return
		}
		if !sink.Submit(Source, cmd) {
			log.Debug().Stringer("command", cmd).Msg("surface command dropped")
		}
	}, midi.HandleError(func(err error) {
		log.Warn().Err(err).Str("device", found.String()).Msg("midi listener error")
	}))
	if err != nil {
		_ = found.Close()
		drv.Close()
		return nil, fmt.Errorf("listen on midi input %q: %w", found.String(), err)
	}
	log.Info().Str("device", found.String()).Int("strips", m.Strips).Msg("midi surface connected")
	return &Surface{drv: drv, in: found, stop: stop, log: log}, nil
}

// Close stops listening and releases the driver.
func (s *Surface) Close() error {
	if s == nil {
		return nil
	}
	if s.stop != nil {
		s.stop()
	}
	err := s.in.Close()
	s.drv.Close()
	return err
}
