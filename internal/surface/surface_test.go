package surface

import (
	"testing"

	"gitlab.com/gomidi/midi/v2"

	"github.com/guidoenr/gomixer/internal/mixer"
)

func TestFaderDB(t *testing.T) {
	cases := map[uint8]float32{0: -60, 127: 12}
	for in, want := range cases {
		if got := FaderDB(in); got != want {
			t.Fatalf("FaderDB(%d)=%v want=%v", in, got, want)
		}
	}
	if got := mixer.QuantizeGain(FaderDB(106)); got != 0 {
		t.Fatalf("fader 106 quantized=%v want=0", got)
	}
}

func TestMappingCommands(t *testing.T) {
	m := DefaultMapping(3)
	cases := []struct {
		name string
		msg  midi.Message
		want mixer.Command
		ok   bool
	}{
		{"fader 1", midi.ControlChange(0, 1, 127), mixer.SetGain(1, 12), true},
		{"solo 0", midi.ControlChange(0, 32, 127), mixer.ToggleSolo(0), true},
		{"solo release", midi.ControlChange(0, 32, 0), mixer.Command{}, false},
		{"mute 2", midi.ControlChange(0, 50, 127), mixer.ToggleMute(2), true},
		{"reset 0", midi.ControlChange(0, 64, 1), mixer.ResetGain(0), true},
		{"strip out of range", midi.ControlChange(0, 5, 64), mixer.Command{}, false},
		{"unmapped cc", midi.ControlChange(0, 20, 64), mixer.Command{}, false},
		{"pad mute", midi.NoteOn(9, 37, 100), mixer.ToggleMute(1), true},
		{"note off", midi.NoteOff(9, 37), mixer.Command{}, false},
	}
	for _, tc := range cases {
		got, ok := m.Command(tc.msg)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("%s: got=%v,%v want=%v,%v", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestDefaultMappingCapsStrips(t *testing.T) {
	if got := DefaultMapping(12).Strips; got != 8 {
		t.Fatalf("strips=%d want=8", got)
	}
}
