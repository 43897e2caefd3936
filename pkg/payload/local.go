package payload

import (
	"context"
	"fmt"
	"sync"

	"github.com/robotalks/payload.go/pkg/msgs"
	"github.com/robotalks/payload.go/pkg/xcore"
)

// Local runs commands through the mailbox of the payload in this process,
// like the serial console of the flight hardware.
type Local struct {
	Mailbox *xcore.Mailbox

	lock    sync.Mutex
	waiters []chan *msgs.CommandReply
}

// Command sets the mailbox and waits until the storage context executed
// it. A command replaced before execution never completes, so ctx should
// carry a deadline.
func (l *Local) Command(ctx context.Context, cmdType string, fileNumber int) (*msgs.CommandReply, error) {
	t, err := xcore.ParseCommandType(cmdType)
	if err != nil || t == xcore.CommandNone {
		return nil, fmt.Errorf("%w: %q", xcore.ErrInvalidCommand, cmdType)
	}
	if t.NeedsFile() && fileNumber < 1 {
		return nil, fmt.Errorf("%w: %s needs a file number", xcore.ErrInvalidCommand, t)
	}
	ch := make(chan *msgs.CommandReply, 1)
	l.lock.Lock()
	l.waiters = append(l.waiters, ch)
	l.lock.Unlock()
	l.Mailbox.Set(xcore.Command{Type: t, FileNumber: fileNumber, SystemPaused: true})
	select {
	case reply := <-ch:
		return reply, reply.Err()
	case <-ctx.Done():
		l.remove(ch)
		return nil, ctx.Err()
	}
}

// CommandDone completes the oldest waiting local command. Commands with
// a sequence number came from the uplink and are ignored.
func (l *Local) CommandDone(cmd xcore.Command, output []byte, err error) {
	if cmd.Seq != 0 {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	if len(l.waiters) == 0 {
		return
	}
	ch := l.waiters[0]
	l.waiters = l.waiters[1:]
	reply := &msgs.CommandReply{Ok: err == nil, Output: output}
	if err != nil {
		reply.Error = err.Error()
	}
	ch <- reply
}

func (l *Local) remove(ch chan *msgs.CommandReply) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for n, w := range l.waiters {
		if w == ch {
			l.waiters = append(l.waiters[:n], l.waiters[n+1:]...)
			return
		}
	}
}
