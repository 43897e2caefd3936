package payload

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/payload.go/pkg/comm/mqtt"
	"github.com/robotalks/payload.go/pkg/msgs"
	"github.com/robotalks/payload.go/pkg/xcore"
)

// UplinkQueue is the MQTT access needed by Uplink.
type UplinkQueue interface {
	mqtt.Publisher
	mqtt.Subscriber
}

// Uplink connects the payload to the ground over MQTT: it turns command
// requests into mailbox commands, replies with their outcome and
// publishes status reports.
type Uplink struct {
	Queue   UplinkQueue
	Topics  mqtt.Topics
	Mailbox *xcore.Mailbox
	// Status builds a status report.
	Status func() *msgs.StatusReport
	// Interval is the status report period, disabled if zero.
	Interval time.Duration
}

// HandleCommand handles a message on the command topic.
func (u *Uplink) HandleCommand(topic string, payload []byte) {
	msg, env, err := msgs.Decode(payload)
	if err != nil {
		glog.Warningf("uplink: bad command: %v", err)
		if env != nil {
			u.reply(env.Sequence, msgs.NewErrorReply(err))
		}
		return
	}
	req, ok := msg.(*msgs.CommandRequest)
	if !ok || !env.IsCommand() {
		u.reply(env.Sequence, msgs.NewErrorReply(&msgs.ErrUnknownType{TypeID: env.TypeId}))
		return
	}
	cmd, err := u.parse(req)
	if err != nil {
		glog.Warningf("uplink: %v", err)
		u.reply(env.Sequence, msgs.NewErrorReply(err))
		return
	}
	cmd.Seq = env.Sequence
	if prev := u.Mailbox.Get(); prev.Pending() {
		glog.Warningf("uplink: %s replaces pending %s", cmd.Type, prev.Type)
	}
	u.Mailbox.Set(cmd)
}

func (u *Uplink) parse(req *msgs.CommandRequest) (xcore.Command, error) {
	t, err := xcore.ParseCommandType(req.Type)
	if err != nil || t == xcore.CommandNone {
		return xcore.Command{}, fmt.Errorf("%w: %q", xcore.ErrInvalidCommand, req.Type)
	}
	if t.NeedsFile() && req.FileNumber < 1 {
		return xcore.Command{}, fmt.Errorf("%w: %s needs a file number", xcore.ErrInvalidCommand, t)
	}
	return xcore.Command{Type: t, FileNumber: int(req.FileNumber), SystemPaused: true}, nil
}

// CommandDone replies to a remote command. It is called by the storage
// context.
func (u *Uplink) CommandDone(cmd xcore.Command, output []byte, err error) {
	if cmd.Seq == 0 {
		return
	}
	reply := &msgs.CommandReply{Ok: err == nil, Output: output}
	if err != nil {
		reply.Error = err.Error()
	}
	u.reply(cmd.Seq, reply)
}

func (u *Uplink) reply(seq uint32, reply *msgs.CommandReply) {
	u.publish(u.Topics.Reply(), reply, seq)
}

// PublishStatus publishes one status report.
func (u *Uplink) PublishStatus() {
	if u.Status != nil {
		u.publish(u.Topics.Status(), u.Status(), 0)
	}
}

func (u *Uplink) publish(topic string, msg msgs.Message, seq uint32) {
	data, err := msgs.Encode(msg, seq)
	if err != nil {
		glog.Errorf("uplink: encode %T: %v", msg, err)
		return
	}
	u.Queue.PubWith(topic, data, mqtt.QoSFor(topic), false)
}

// Write implements io.Writer relaying console output.
func (u *Uplink) Write(p []byte) (int, error) {
	u.publish(u.Topics.Console(), &msgs.ConsoleOutput{Data: append([]byte(nil), p...)}, 0)
	return len(p), nil
}

// Run implements fx.Runnable.
func (u *Uplink) Run(ctx context.Context) error {
	sub := u.Queue.Sub(u.Topics.Cmd(), u.HandleCommand)
	defer sub.Close()
	if u.Interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(u.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			u.PublishStatus()
		}
	}
}
