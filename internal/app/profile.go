package app

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/guidoenr/gomixer/internal/mixer"
)

type section int

const (
	sectionDrain section = iota
	sectionRender
	sectionPresent
	numSections
)

var profileHeader = []string{"timestamp", "tick", "drain_ms", "render_ms", "present_ms", "total_ms", "cycles", "meter_drops"}

// profiler writes one CSV row per control tick. A nil profiler is disabled.
type profiler struct {
	file  *os.File
	w     *csv.Writer
	log   zerolog.Logger
	tick  uint64
	start time.Time
	last  time.Time
	ms    [numSections]float64
	row   []string
}

func newProfiler(path string, logger zerolog.Logger) *profiler {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("profiler disabled")
		return nil
	}
	p := &profiler{
		file: f,
		w:    csv.NewWriter(f),
		log:  logger,
		row:  make([]string, len(profileHeader)),
	}
	if err := p.w.Write(profileHeader); err != nil {
		logger.Warn().Err(err).Msg("profiler header")
	}
	return p
}

func (p *profiler) begin(now time.Time) {
	if p == nil {
		return
	}
	p.tick++
	p.start, p.last = now, now
	p.ms = [numSections]float64{}
}

func (p *profiler) mark(s section) {
	if p == nil {
		return
	}
	now := time.Now()
	p.ms[s] = msSince(p.last, now)
	p.last = now
}

func (p *profiler) end(stats mixer.Stats) {
	if p == nil {
		return
	}
	now := time.Now()
	p.row[0] = now.Format(time.RFC3339Nano)
	p.row[1] = strconv.FormatUint(p.tick, 10)
	for i, v := range p.ms {
		p.row[2+i] = strconv.FormatFloat(v, 'f', 3, 64)
	}
	p.row[5] = strconv.FormatFloat(msSince(p.start, now), 'f', 3, 64)
	p.row[6] = strconv.FormatUint(stats.Cycles, 10)
	p.row[7] = strconv.FormatUint(stats.MeterDrops, 10)
	if err := p.w.Write(p.row); err != nil {
		p.log.Warn().Err(err).Msg("profiler write")
	}
}

func (p *profiler) Close() error {
	if p == nil {
		return nil
	}
	p.w.Flush()
	if err := p.w.Error(); err != nil {
		p.file.Close()
		return err
	}
	return p.file.Close()
}

func msSince(from, to time.Time) float64 {
	return to.Sub(from).Seconds() * 1000
}
