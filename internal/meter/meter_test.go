package meter

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := map[float32]Zone{
		-60:    ZoneGreen,
		-12.5:  ZoneGreen,
		-12:    ZoneYellow,
		-0.01:  ZoneYellow,
		0:      ZoneRed,
		3:      ZoneRed,
		-12.02: ZoneGreen,
	}
	for db, want := range cases {
		if got := Classify(db); got != want {
			t.Fatalf("Classify(%v)=%v want=%v", db, got, want)
		}
	}
}

func TestClassifyDisplayedUsesShownPrecision(t *testing.T) {
	if got := ClassifyDisplayed(-12.02); got != ZoneYellow {
		t.Fatalf("ClassifyDisplayed(-12.02)=%v want=yellow", got)
	}
	if got := ClassifyDisplayed(-12.06); got != ZoneGreen {
		t.Fatalf("ClassifyDisplayed(-12.06)=%v want=green", got)
	}
	if got := Displayed(-12.02); got != -12 {
		t.Fatalf("Displayed(-12.02)=%v want=-12", got)
	}
}

func TestPeakHoldLatchesThenDecays(t *testing.T) {
	h := NewPeakHold(DefaultConfig())
	t0 := time.Unix(100, 0)

	h.Observe(-6, t0)
	h.Observe(-30, t0.Add(time.Second))
	if h.Held() != -6 || h.Current() != -30 {
		t.Fatalf("held=%v current=%v want=-6,-30", h.Held(), h.Current())
	}

	h.Tick(t0.Add(5 * time.Second))
	if h.Held() != -6 {
		t.Fatalf("held=%v want=-6 until the hold window ends", h.Held())
	}

	h.Tick(t0.Add(5*time.Second + 500*time.Millisecond))
	if math.Abs(float64(h.Held())+16) > 1e-4 {
		t.Fatalf("held=%v want=-16 after 0.5s of decay", h.Held())
	}

	h.Tick(t0.Add(10 * time.Second))
	if h.Held() != -30 {
		t.Fatalf("held=%v want floor at current -30", h.Held())
	}
}

func TestPeakHoldRestartsOnHigherPeak(t *testing.T) {
	h := NewPeakHold(DefaultConfig())
	t0 := time.Unix(0, 0)
	h.Observe(-20, t0)
	h.Observe(-3, t0.Add(4*time.Second))
	h.Tick(t0.Add(8 * time.Second))
	if h.Held() != -3 {
		t.Fatalf("held=%v want=-3 while the new hold window runs", h.Held())
	}
}

func TestPeakHoldNeverBelowCurrentNorFasterThanRate(t *testing.T) {
	cfg := DefaultConfig()
	h := NewPeakHold(cfg)
	rng := rand.New(rand.NewSource(7))
	now := time.Unix(0, 0)

	for i := 0; i < 5000; i++ {
		step := time.Duration(rng.Intn(50)+1) * time.Millisecond
		now = now.Add(step)
		before := h.Held()
		reading := float32(-60 + rng.Float64()*60)
		if rng.Intn(10) < 8 {
			reading = float32(-60 + rng.Float64()*20)
		}
		h.Observe(reading, now)

		if h.Held() < h.Current() {
			t.Fatalf("step %d: held=%v below current=%v", i, h.Held(), h.Current())
		}
		if h.Held() < before {
			fall := float64(before - h.Held())
			limit := step.Seconds()*cfg.DecayDBPerSecond + 1e-3
			if fall > limit {
				t.Fatalf("step %d: fell %.3f dB in %v, limit %.3f", i, fall, step, limit)
			}
		}
	}
}

func TestPeakHoldFloor(t *testing.T) {
	h := NewPeakHold(DefaultConfig())
	h.Observe(-200, time.Unix(0, 0))
	if h.Current() != -60 || h.Held() != -60 {
		t.Fatalf("current=%v held=%v want floor -60", h.Current(), h.Held())
	}
	if h.Zone() != ZoneGreen {
		t.Fatalf("zone=%v want green", h.Zone())
	}
}

func TestDisplayAdvancesDecay(t *testing.T) {
	h := NewPeakHold(DefaultConfig())
	t0 := time.Unix(0, 0)
	h.Observe(0, t0)
	h.Observe(-30, t0.Add(time.Second))
	if got := h.Display(t0.Add(4 * time.Second)); got != 0 {
		t.Fatalf("inside hold window=%v want=0", got)
	}
	if got := h.Display(t0.Add(5500 * time.Millisecond)); math.Abs(float64(got+10)) > 1e-3 {
		t.Fatalf("after 0.5s decay=%v want=-10", got)
	}
	if got := h.Display(t0.Add(10 * time.Second)); got != -30 {
		t.Fatalf("decay floor=%v want=current -30", got)
	}
}
