package mixer

import "fmt"

// CommandKind tags a Command.
type CommandKind uint8

const (
	CmdSetGain CommandKind = iota + 1
	CmdStepGain
	CmdToggleMute
	CmdToggleSolo
	CmdResetGain
	CmdShutdown
)

func (k CommandKind) String() string {
	switch k {
	case CmdSetGain:
		return "set-gain"
	case CmdStepGain:
		return "step-gain"
	case CmdToggleMute:
		return "toggle-mute"
	case CmdToggleSolo:
		return "toggle-solo"
	case CmdResetGain:
		return "reset-gain"
	case CmdShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("command(%d)", uint8(k))
	}
}

// Command is a control-loop request applied by the engine at the start of a
// cycle. Value carries dB for SetGain and the delta for StepGain.
type Command struct {
	Kind    CommandKind
	Channel ChannelID
	Value   float32
}

func SetGain(id ChannelID, db float32) Command {
	return Command{Kind: CmdSetGain, Channel: id, Value: db}
}

func StepGain(id ChannelID, delta float32) Command {
	return Command{Kind: CmdStepGain, Channel: id, Value: delta}
}

func ToggleMute(id ChannelID) Command { return Command{Kind: CmdToggleMute, Channel: id} }

func ToggleSolo(id ChannelID) Command { return Command{Kind: CmdToggleSolo, Channel: id} }

func ResetGain(id ChannelID) Command { return Command{Kind: CmdResetGain, Channel: id} }

func Shutdown() Command { return Command{Kind: CmdShutdown} }

func (c Command) String() string {
	switch c.Kind {
	case CmdShutdown:
		return c.Kind.String()
	case CmdSetGain, CmdStepGain:
		return fmt.Sprintf("%s ch=%d %.1fdB", c.Kind, c.Channel, c.Value)
	default:
		return fmt.Sprintf("%s ch=%d", c.Kind, c.Channel)
	}
}
