package mixer

// Graph holds every channel and computes the mix. Inputs occupy
// channels[:numInputs], outputs the rest.
type Graph struct {
	channels  []Channel
	numInputs int
	soloed    int
}

func newGraph(inputs, outputs []ChannelInfo, gains []float32) Graph {
	g := Graph{
		channels:  make([]Channel, 0, len(inputs)+len(outputs)),
		numInputs: len(inputs),
	}
	inPort, outPort := 0, 0
	for _, info := range append(append([]ChannelInfo{}, inputs...), outputs...) {
		ch := Channel{
			ChannelState: ChannelState{ID: info.ID},
			Role:         info.Role,
			numPorts:     len(info.Ports),
		}
		next := &inPort
		if info.Role == RoleOutput {
			next = &outPort
		}
		for p := 0; p < ch.numPorts; p++ {
			ch.ports[p] = *next
			*next++
		}
		ch.setGain(gains[info.ID])
		g.channels = append(g.channels, ch)
	}
	return g
}

func (g *Graph) inputs() []Channel  { return g.channels[:g.numInputs] }
func (g *Graph) outputs() []Channel { return g.channels[g.numInputs:] }

func (g *Graph) channel(id ChannelID) *Channel {
	if id < 0 || int(id) >= len(g.channels) {
		return nil
	}
	return &g.channels[id]
}

// Audible reports whether an input contributes to the mix: it is not muted
// and either nothing is soloed or it is soloed itself. Several soloed inputs
// stay audible together.
func (g *Graph) Audible(id ChannelID) bool {
	ch := g.channel(id)
	if ch == nil || ch.Role != RoleInput {
		return false
	}
	return g.audible(ch)
}

func (g *Graph) audible(ch *Channel) bool {
	return !ch.Muted && (g.soloed == 0 || ch.Solo)
}

// Apply mutates channel state for one command. It reports whether a channel
// changed. Shutdown is handled by the engine, not here.
func (g *Graph) Apply(cmd Command) bool {
	ch := g.channel(cmd.Channel)
	if ch == nil {
		return false
	}
	switch cmd.Kind {
	case CmdSetGain:
		ch.setGain(cmd.Value)
	case CmdStepGain:
		ch.setGain(ch.GainDB + cmd.Value)
	case CmdResetGain:
		ch.setGain(DefaultGainDB)
	case CmdToggleMute:
		ch.Muted = !ch.Muted
	case CmdToggleSolo:
		if ch.Role != RoleInput {
			return false
		}
		ch.Solo = !ch.Solo
		if ch.Solo {
			g.soloed++
		} else {
			g.soloed--
		}
	default:
		return false
	}
	return true
}

// Mix writes frames samples into every output port. Mono inputs feed both legs
// of a stereo output and stereo inputs feed stereo outputs leg to leg. A mono
// output takes only the left leg of a stereo input. Nothing is clamped.
func (g *Graph) Mix(in, out [][]float32, frames int) {
	outputs := g.outputs()
	for i := range outputs {
		o := &outputs[i]
		for p := 0; p < o.numPorts; p++ {
			clear(out[o.ports[p]][:frames])
		}
	}

	inputs := g.inputs()
	for i := range inputs {
		ch := &inputs[i]
		if !g.audible(ch) {
			continue
		}
		for j := range outputs {
			o := &outputs[j]
			gain := ch.linear * o.effective()
			if gain == 0 {
				continue
			}
			switch {
			case ch.numPorts == 1:
				src := in[ch.ports[0]][:frames]
				for p := 0; p < o.numPorts; p++ {
					accumulate(out[o.ports[p]][:frames], src, gain)
				}
			case o.numPorts == 2:
				accumulate(out[o.ports[0]][:frames], in[ch.ports[0]][:frames], gain)
				accumulate(out[o.ports[1]][:frames], in[ch.ports[1]][:frames], gain)
			default:
				accumulate(out[o.ports[0]][:frames], in[ch.ports[0]][:frames], gain)
			}
		}
	}
}

func accumulate(dst, src []float32, gain float32) {
	for i, s := range src {
		dst[i] += s * gain
	}
}

// Peak returns max(|s|) over samples. NaN samples are ignored.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}
