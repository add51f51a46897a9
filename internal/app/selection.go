package app

import "github.com/guidoenr/gomixer/internal/mixer"

// selection is the UI-local cursor over channels. Positions run over inputs
// then outputs, matching channel ids.
type selection struct {
	inputs  int
	outputs int
	pos     int
}

func (s *selection) total() int { return s.inputs + s.outputs }

func (s *selection) next() {
	s.pos = (s.pos + 1) % s.total()
}

func (s *selection) prev() {
	s.pos = (s.pos - 1 + s.total()) % s.total()
}

// toggleSection jumps to the first channel of the other section.
func (s *selection) toggleSection() {
	if s.pos < s.inputs {
		s.pos = s.inputs
		return
	}
	s.pos = 0
}

func (s *selection) channel() mixer.ChannelID { return mixer.ChannelID(s.pos) }

// command translates a UI event into an engine command for the selected
// channel. Navigation and quit return false.
func (s *selection) command(evt inputEvent) (mixer.Command, bool) {
	id := s.channel()
	switch evt {
	case inputEventGainUp:
		return mixer.StepGain(id, mixer.GainStepDB), true
	case inputEventGainDown:
		return mixer.StepGain(id, -mixer.GainStepDB), true
	case inputEventMute:
		return mixer.ToggleMute(id), true
	case inputEventSolo:
		if s.pos >= s.inputs {
			return mixer.Command{}, false
		}
		return mixer.ToggleSolo(id), true
	case inputEventReset:
		return mixer.ResetGain(id), true
	}
	return mixer.Command{}, false
}
