package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/guidoenr/gomixer/internal/config"
	"github.com/guidoenr/gomixer/internal/mixer"
)

const session = `client_name: gomixer
inputs:
  - name: Mic
    ports: [mic]
    volume_db: -6.0
outputs:
  - name: Main
    ports: [main_l, main_r]
`

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

func startEngine(t *testing.T, cfg *config.Config) (*mixer.Engine, *mixer.Remote) {
	t.Helper()
	mc := cfg.MixerConfig()
	mc.MaxFrames = 64
	eng, remote, err := mixer.New(mc)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng, remote
}

func cycle(eng *mixer.Engine) {
	frames := 64
	in := [][]float32{make([]float32, frames)}
	out := [][]float32{make([]float32, frames), make([]float32, frames)}
	eng.Process(in, out, frames)
}

func TestRoundTripUnchanged(t *testing.T) {
	cfg := loadSession(t)
	eng, remote := startEngine(t, cfg)
	cycle(eng)
	if err := remote.Send(context.Background(), mixer.Shutdown()); err != nil {
		t.Fatalf("send shutdown: %v", err)
	}
	cycle(eng)

	src, err := New(cfg, zerolog.Nop()).Persist(remote, nil)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if src != SourceSnapshot {
		t.Fatalf("source=%s want=%s", src, SourceSnapshot)
	}
	back, err := config.Load(cfg.Path())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := *back.Inputs[0].VolumeDB; got != -6 {
		t.Fatalf("volume_db=%v want=-6", got)
	}
	if got := *back.Outputs[0].VolumeDB; got != 0 {
		t.Fatalf("output volume_db=%v want=0", got)
	}
}

func TestPersistAppliedCommands(t *testing.T) {
	cfg := loadSession(t)
	eng, remote := startEngine(t, cfg)
	for _, cmd := range []mixer.Command{mixer.StepGain(0, 0.5), mixer.StepGain(0, 0.5), mixer.SetGain(1, -3), mixer.Shutdown()} {
		if !remote.TrySend(cmd) {
			t.Fatalf("send %v failed", cmd)
		}
	}
	cycle(eng)

	if _, err := New(cfg, zerolog.Nop()).Persist(remote, nil); err != nil {
		t.Fatalf("persist: %v", err)
	}
	back, err := config.Load(cfg.Path())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := *back.Inputs[0].VolumeDB; got != -5 {
		t.Fatalf("mic volume_db=%v want=-5", got)
	}
	if got := *back.Outputs[0].VolumeDB; got != -3 {
		t.Fatalf("main volume_db=%v want=-3", got)
	}
}

func TestFallsBackToMirrorWhenHostLost(t *testing.T) {
	cfg := loadSession(t)
	eng, remote := startEngine(t, cfg)
	cycle(eng)
	eng.HostLost()

	mirror := []mixer.ChannelState{{ID: 0, GainDB: -9.5}, {ID: 1, GainDB: 1}}
	src, err := New(cfg, zerolog.Nop()).Persist(remote, mirror)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if src != SourceMirror {
		t.Fatalf("source=%s want=%s", src, SourceMirror)
	}
	back, err := config.Load(cfg.Path())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := *back.Inputs[0].VolumeDB; got != -9.5 {
		t.Fatalf("volume_db=%v want=-9.5", got)
	}
}

func TestSnapshotHarvestedOnce(t *testing.T) {
	cfg := loadSession(t)
	eng, remote := startEngine(t, cfg)
	remote.TrySend(mixer.Shutdown())
	cycle(eng)

	a := New(cfg, zerolog.Nop())
	if _, err := a.Persist(remote, nil); err != nil {
		t.Fatalf("first persist: %v", err)
	}
	_, err := a.Persist(remote, nil)
	if !errors.Is(err, mixer.ErrSnapshotTaken) {
		t.Fatalf("second persist err=%v want ErrSnapshotTaken", err)
	}
}
