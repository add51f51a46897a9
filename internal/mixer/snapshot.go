package mixer

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrSnapshotPending means the engine has not processed Shutdown yet.
	ErrSnapshotPending = errors.New("mixer: final snapshot not written")
	// ErrSnapshotTaken means the snapshot has already been harvested.
	ErrSnapshotTaken = errors.New("mixer: final snapshot already taken")
)

const (
	cellEmpty uint32 = iota
	cellReady
	cellTaken
)

// Snapshot is the final state of every channel, indexed by ChannelID.
type Snapshot struct {
	Channels []ChannelState
}

// snapshotCell is a single-slot exchange written once by the engine and read
// once by the control loop.
type snapshotCell struct {
	state atomic.Uint32
	snap  Snapshot
}

func newSnapshotCell(channels int) *snapshotCell {
	return &snapshotCell{snap: Snapshot{Channels: make([]ChannelState, channels)}}
}

// publish copies the channel states into the pre-sized slot. Only the first
// call has any effect.
func (c *snapshotCell) publish(channels []Channel) bool {
	if c.state.Load() != cellEmpty {
		return false
	}
	for i := range channels {
		c.snap.Channels[i] = channels[i].ChannelState
	}
	c.state.Store(cellReady)
	return true
}

func (c *snapshotCell) ready() bool { return c.state.Load() == cellReady }

func (c *snapshotCell) take() (Snapshot, error) {
	if c.state.CompareAndSwap(cellReady, cellTaken) {
		return c.snap, nil
	}
	if c.state.Load() == cellTaken {
		return Snapshot{}, ErrSnapshotTaken
	}
	return Snapshot{}, ErrSnapshotPending
}
