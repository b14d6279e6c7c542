package simulator

import (
	"fmt"
	"strings"

	"github.com/WVU-ASEL/glidar/pkg/config"
)

// CommandKind is a control action handled by the loop.
type CommandKind int

const (
	CommandForward CommandKind = iota + 1
	CommandBack
	CommandSave
	CommandQuit
	CommandSetPose
)

var commandNames = map[CommandKind]string{
	CommandForward: "forward",
	CommandBack:    "back",
	CommandSave:    "save",
	CommandQuit:    "quit",
	CommandSetPose: "pose",
}

func (k CommandKind) String() string {
	if s, ok := commandNames[k]; ok {
		return s
	}
	return fmt.Sprintf("command(%d)", int(k))
}

// ParseCommand maps a control word to its kind. Pose updates are not
// accepted this way.
func ParseCommand(s string) (CommandKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward":
		return CommandForward, nil
	case "back":
		return CommandBack, nil
	case "save":
		return CommandSave, nil
	case "quit":
		return CommandQuit, nil
	}
	return 0, fmt.Errorf("unknown command %q", s)
}

// Command is sent to the loop from other goroutines.
type Command struct {
	Kind CommandKind
	Pose *config.PoseConfig // CommandSetPose only
}
