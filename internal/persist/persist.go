// Package persist writes the final channel gains back into the session file
// once the engine has stopped.
package persist

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/guidoenr/gomixer/internal/config"
	"github.com/guidoenr/gomixer/internal/mixer"
)

// Source tells where the persisted values came from.
type Source string

const (
	SourceSnapshot Source = "snapshot"
	SourceMirror   Source = "mirror"
)

// SnapshotTaker is the exactly-once handoff exposed by mixer.Remote.
type SnapshotTaker interface {
	TakeSnapshot() (mixer.Snapshot, error)
}

// Adapter reconciles final engine state into a config.
type Adapter struct {
	Config *config.Config
	Logger zerolog.Logger
}

// New returns an adapter for cfg.
func New(cfg *config.Config, logger zerolog.Logger) *Adapter {
	return &Adapter{Config: cfg, Logger: logger.With().Str("component", "persist").Logger()}
}

// Persist harvests the final snapshot and saves it. When the engine never
// processed Shutdown, as happens after the host is lost, the control loop's
// mirror is used instead. It must be called only after the host has stopped
// invoking the engine.
func (a *Adapter) Persist(src SnapshotTaker, mirror []mixer.ChannelState) (Source, error) {
	states, source, err := a.harvest(src, mirror)
	if err != nil {
		return source, err
	}
	a.Config.UpdateVolumes(states)
	if err := a.Config.Save(); err != nil {
		return source, fmt.Errorf("persist volumes: %w", err)
	}
	a.Logger.Debug().Str("source", string(source)).Int("channels", len(states)).
		Str("path", a.Config.Path()).Msg("volumes saved")
	return source, nil
}

func (a *Adapter) harvest(src SnapshotTaker, mirror []mixer.ChannelState) ([]mixer.ChannelState, Source, error) {
	snap, err := src.TakeSnapshot()
	switch {
	case err == nil:
		return snap.Channels, SourceSnapshot, nil
	case errors.Is(err, mixer.ErrSnapshotPending):
		if mirror == nil {
			return nil, SourceMirror, fmt.Errorf("persist volumes: %w and no mirror available", err)
		}
		a.Logger.Warn().Msg("engine did not write a final snapshot, persisting mirrored state")
		return mirror, SourceMirror, nil
	default:
		return nil, SourceSnapshot, fmt.Errorf("persist volumes: %w", err)
	}
}
