// Package ground is the ground station side: it finds payloads, sends
// them commands and collects their telemetry.
package ground

import (
	"container/list"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/payload.go/pkg/comm/mqtt"
	fx "github.com/robotalks/payload.go/pkg/framework"
	"github.com/robotalks/payload.go/pkg/msgs"
)

// DefaultCommandExpiration is the default expiration expecting a reply.
// A download of a large file takes a while over a slow link.
const DefaultCommandExpiration = 30 * time.Second

var (
	// ErrCommandExpired indicates no reply arrived in time.
	ErrCommandExpired = errors.New("command expired")
)

// Queue is the MQTT access needed by Link.
type Queue interface {
	mqtt.Publisher
	mqtt.Subscriber
}

// Result is the outcome of a command.
type Result struct {
	Reply *msgs.CommandReply
	Err   error
}

// Future delivers exactly one Result.
type Future struct {
	seq      uint32
	expireAt time.Time
	elem     *list.Element
	result   chan Result
}

// ResultChan returns the channel receiving the result.
func (f *Future) ResultChan() <-chan Result {
	return f.result
}

// Wait waits for the result or ctx.
func (f *Future) Wait(ctx context.Context) (*msgs.CommandReply, error) {
	select {
	case r := <-f.result:
		if r.Err != nil {
			return r.Reply, r.Err
		}
		return r.Reply, r.Reply.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Link is the command connection to one payload. Replies are matched to
// requests by sequence number.
type Link struct {
	Queue      Queue
	Topics     mqtt.Topics
	Expiration time.Duration
	Clock      fx.Clock
	// Console receives the console output of the payload.
	Console io.Writer
	// OnStatus receives status reports.
	OnStatus func(*msgs.StatusReport)

	seq     uint32
	pending list.List
	seqMap  map[uint32]*Future
	lock    sync.Mutex
}

// NewLink creates a Link to payload id.
func NewLink(q Queue, id string) *Link {
	return &Link{
		Queue:      q,
		Topics:     mqtt.TopicsFor(id),
		Expiration: DefaultCommandExpiration,
		Clock:      fx.RealClock{},
		seqMap:     make(map[uint32]*Future),
	}
}

// Do sends a command request.
func (l *Link) Do(req *msgs.CommandRequest) *Future {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.seq++
	if l.seq == 0 {
		l.seq++
	}
	f := &Future{
		seq:      l.seq,
		expireAt: l.Clock.Now().Add(l.Expiration),
		result:   make(chan Result, 1),
	}
	data, err := msgs.Encode(req, f.seq)
	if err != nil {
		f.result <- Result{Err: err}
		return f
	}
	token := l.Queue.PubWith(l.Topics.Cmd(), data, 1, false)
	if mqtt.Done(token) && token != nil && token.Error() != nil {
		f.result <- Result{Err: token.Error()}
		return f
	}
	if l.seqMap == nil {
		l.seqMap = make(map[uint32]*Future)
	}
	f.elem = l.pending.PushBack(f)
	l.seqMap[f.seq] = f
	return f
}

// Command sends a request and waits for the reply.
func (l *Link) Command(ctx context.Context, cmdType string, fileNumber int) (*msgs.CommandReply, error) {
	return l.Do(&msgs.CommandRequest{Type: cmdType, FileNumber: int32(fileNumber)}).Wait(ctx)
}

// HandleReply handles a message on the reply topic.
func (l *Link) HandleReply(topic string, payload []byte) {
	msg, env, err := msgs.Decode(payload)
	if env == nil {
		glog.Warningf("link: bad reply: %v", err)
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	f := l.seqMap[env.Sequence]
	if f == nil {
		return
	}
	l.pending.Remove(f.elem)
	delete(l.seqMap, env.Sequence)
	result := Result{Err: err}
	if err == nil {
		if reply, ok := msg.(*msgs.CommandReply); ok {
			result.Reply = reply
		} else {
			result.Err = &msgs.ErrUnknownType{TypeID: env.TypeId}
		}
	}
	f.result <- result
	close(f.result)
}

// HandleStatus handles a message on the status topic.
func (l *Link) HandleStatus(topic string, payload []byte) {
	msg, _, err := msgs.Decode(payload)
	if err != nil {
		glog.Warningf("link: bad status: %v", err)
		return
	}
	if report, ok := msg.(*msgs.StatusReport); ok && l.OnStatus != nil {
		l.OnStatus(report)
	}
}

// HandleConsole handles a message on the console topic.
func (l *Link) HandleConsole(topic string, payload []byte) {
	msg, _, err := msgs.Decode(payload)
	if err != nil {
		glog.Warningf("link: bad console output: %v", err)
		return
	}
	if out, ok := msg.(*msgs.ConsoleOutput); ok && l.Console != nil {
		l.Console.Write(out.Data)
	}
}

// Pending is the number of commands waiting for replies.
func (l *Link) Pending() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.pending.Len()
}

// PurgeExpired fails the commands whose expiration passed.
func (l *Link) PurgeExpired() {
	now := l.Clock.Now()
	l.lock.Lock()
	defer l.lock.Unlock()
	for l.pending.Len() > 0 {
		elem := l.pending.Front()
		f := elem.Value.(*Future)
		if f.expireAt.After(now) {
			break
		}
		l.pending.Remove(elem)
		delete(l.seqMap, f.seq)
		f.result <- Result{Err: ErrCommandExpired}
		close(f.result)
	}
}

// Subscribe subscribes the reply, status and console topics.
func (l *Link) Subscribe() []*mqtt.Subscription {
	return []*mqtt.Subscription{
		l.Queue.Sub(l.Topics.Reply(), l.HandleReply),
		l.Queue.Sub(l.Topics.Status(), l.HandleStatus),
		l.Queue.Sub(l.Topics.Console(), l.HandleConsole),
	}
}

// AddToLoop implements fx.LoopAdder.
func (l *Link) AddToLoop(loop *fx.Loop) {
	loop.AddController(fx.PrLvIdle, fx.ControlFunc(func(fx.ControlContext) error {
		l.PurgeExpired()
		return nil
	}))
}

// Run subscribes and purges expired commands until ctx is done.
func (l *Link) Run(ctx context.Context) error {
	for _, sub := range l.Subscribe() {
		defer sub.Close()
	}
	return fx.NewLoop("link", 100*time.Millisecond).Add(l).Run(ctx)
}
