package mixer

import "fmt"

// Role distinguishes input strips from output buses.
type Role uint8

const (
	RoleInput Role = iota
	RoleOutput
)

func (r Role) String() string {
	switch r {
	case RoleInput:
		return "input"
	case RoleOutput:
		return "output"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ChannelID addresses a channel for the whole session. Inputs occupy
// [0, len(inputs)), outputs follow in declaration order.
type ChannelID int

// ChannelSpec describes one channel before the engine is built.
type ChannelSpec struct {
	Name   string
	Ports  []string
	GainDB float32
}

// ChannelInfo is the immutable identity of a channel.
type ChannelInfo struct {
	ID    ChannelID
	Role  Role
	Name  string
	Ports []string
}

// Stereo reports whether the channel has two legs.
func (c ChannelInfo) Stereo() bool { return len(c.Ports) == 2 }

// ChannelState holds the mutable controls of a channel. It is a plain value so
// it can travel through the rings and the snapshot cell without allocation.
type ChannelState struct {
	ID     ChannelID
	GainDB float32
	Muted  bool
	Solo   bool
}

// Channel is the engine-owned record for one strip.
type Channel struct {
	ChannelState
	Role Role

	// port indices into the host buffers of this channel's role
	ports    [2]int
	numPorts int
	linear   float32
}

func (c *Channel) setGain(db float32) {
	c.GainDB = QuantizeGain(db)
	c.linear = DBToLinear(c.GainDB)
}

// effective returns the output-side gain; solo never applies to outputs.
func (c *Channel) effective() float32 {
	if c.Muted {
		return 0
	}
	return c.linear
}
