package xcore

import "sync"

// Mailbox is a single command slot shared by the storage context and
// whoever parses external commands. The last Set wins.
type Mailbox struct {
	cmd  Command
	lock sync.Mutex
}

// Get copies the current command.
func (m *Mailbox) Get() Command {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.cmd
}

// Set overwrites the slot.
func (m *Mailbox) Set(cmd Command) {
	m.lock.Lock()
	m.cmd = cmd
	m.lock.Unlock()
}

// Clear resets the slot to an idle command.
func (m *Mailbox) Clear() {
	m.Set(Command{})
}
