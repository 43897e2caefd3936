package xcore

import (
	"errors"
	"strings"
)

// ErrInvalidCommand indicates an unrecognized command.
var ErrInvalidCommand = errors.New("invalid command")

// CommandType enumerates administrative commands.
type CommandType int

// Command types.
const (
	CommandNone CommandType = iota
	CommandStatus
	CommandDownload
	CommandDelete
	CommandEraseAll
)

var commandNames = []string{"NONE", "STATUS", "DOWNLOAD", "DELETE", "ERASE_ALL"}

// String implements fmt.Stringer.
func (t CommandType) String() string {
	if t >= 0 && int(t) < len(commandNames) {
		return commandNames[t]
	}
	return "UNKNOWN"
}

// Valid reports whether t is a known command type.
func (t CommandType) Valid() bool {
	return t >= 0 && int(t) < len(commandNames)
}

// NeedsFile reports whether the command addresses a file.
func (t CommandType) NeedsFile() bool {
	return t == CommandDownload || t == CommandDelete
}

// ParseCommandType parses a command name, case-insensitive.
func ParseCommandType(s string) (CommandType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for n, cn := range commandNames {
		if cn == name {
			return CommandType(n), nil
		}
	}
	return CommandNone, ErrInvalidCommand
}

// Command is the content of the mailbox.
type Command struct {
	Type       CommandType
	FileNumber int
	// SystemPaused asks the storage context to run the command once the
	// sample queue is drained.
	SystemPaused bool
	// Seq correlates the command with its reply, zero for local commands.
	Seq uint32
}

// Pending reports whether the command waits for execution.
func (c Command) Pending() bool {
	return c.SystemPaused && c.Type != CommandNone
}
