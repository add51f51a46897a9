package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/guidoenr/gomixer/internal/mixer"
)

func TestParseLevel(t *testing.T) {
	t.Setenv(LevelEnv, "")
	cases := map[string]zerolog.Level{
		"":      zerolog.WarnLevel,
		"debug": zerolog.DebugLevel,
		"INFO":  zerolog.InfoLevel,
		"bogus": zerolog.WarnLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want=%v", in, got, want)
		}
	}
	t.Setenv(LevelEnv, "error")
	if got := ParseLevel("debug"); got != zerolog.ErrorLevel {
		t.Fatalf("env override=%v want=%v", got, zerolog.ErrorLevel)
	}
}

func TestInitLoggerFields(t *testing.T) {
	t.Setenv(LevelEnv, "")
	var buf bytes.Buffer
	logger := InitLogger("gomixer", LogOptions{Level: "info", Out: &buf, NoColor: true})
	logger.Info().Msg("hello")
	logger.Debug().Msg("hidden")
	out := buf.String()
	if !strings.Contains(out, "hello") || !strings.Contains(out, "app=gomixer") {
		t.Fatalf("missing fields in %q", out)
	}
	if !strings.Contains(out, "session="+Session) {
		t.Fatalf("missing session in %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked at info level: %q", out)
	}
}

func TestEngineCollectors(t *testing.T) {
	stats := mixer.Stats{Cycles: 42, MeterDrops: 3, ControlBacklog: 5}
	reg := prometheus.NewRegistry()
	if err := RegisterEngine(reg, func() mixer.Stats { return stats }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n != 6 {
		t.Fatalf("metrics=%d err=%v want=6", n, err)
	}
	cs := EngineCollectors(func() mixer.Stats { return stats })
	if got := testutil.ToFloat64(cs[0]); got != 42 {
		t.Fatalf("cycles=%v want=42", got)
	}
	if got := testutil.ToFloat64(cs[2]); got != 3 {
		t.Fatalf("drops=%v want=3", got)
	}
	stats.ControlBacklog = 7
	if got := testutil.ToFloat64(cs[4]); got != 7 {
		t.Fatalf("backlog=%v want=7", got)
	}
}

func TestNewRegistryIncludesHostXruns(t *testing.T) {
	stats := func() mixer.Stats { return mixer.Stats{Overruns: 2} }
	reg, err := NewRegistry(stats, func() uint64 { return 9 })
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	want := `
# HELP gomixer_host_xruns_total Host callbacks flagged with an input overflow or output underflow.
# TYPE gomixer_host_xruns_total counter
gomixer_host_xruns_total 9
# HELP gomixer_engine_rejected_cycles_total Cycles rejected for an unexpected buffer shape.
# TYPE gomixer_engine_rejected_cycles_total counter
gomixer_engine_rejected_cycles_total 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want),
		"gomixer_host_xruns_total", "gomixer_engine_rejected_cycles_total"); err != nil {
		t.Fatalf("metrics: %v", err)
	}

	reg, err = NewRegistry(stats, nil)
	if err != nil {
		t.Fatalf("registry without host: %v", err)
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n != 6 {
		t.Fatalf("metrics=%d err=%v want=6", n, err)
	}
}
