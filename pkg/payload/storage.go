package payload

import (
	"bytes"
	"io"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/payload.go/pkg/flash"
	fx "github.com/robotalks/payload.go/pkg/framework"
	"github.com/robotalks/payload.go/pkg/metrics"
	"github.com/robotalks/payload.go/pkg/recovery"
	"github.com/robotalks/payload.go/pkg/sink"
	"github.com/robotalks/payload.go/pkg/telemetry"
	"github.com/robotalks/payload.go/pkg/xcore"
)

// CommandDoneFunc receives the outcome of an executed command.
type CommandDoneFunc func(cmd xcore.Command, output []byte, err error)

// Storage is the consumer context: it drains the queue into the sinks and
// runs paused commands once the queue is empty. It is the only user of
// the flash log and the sinks.
type Storage struct {
	Queue     *xcore.Queue
	Mailbox   *xcore.Mailbox
	Sinks     *sink.Registry
	Flash     *flash.Log
	Executor  *Executor
	Indicator *Indicator
	Metrics   *metrics.Metrics
	// TextMode stores decoded CSV rows instead of packets.
	TextMode bool
	// Decoder is required in TextMode.
	Decoder *telemetry.Decoder
	// Console receives command output.
	Console io.Writer
	// OnCommandDone is called after each command.
	OnCommandDone CommandDoneFunc

	lock     sync.Mutex
	snapshot flash.Status
	sinks    []recovery.State
}

// Setup verifies all sinks once.
func (s *Storage) Setup() {
	glog.Info("[Core 1] verifying storage...")
	if s.Sinks.VerifyAll() == 0 {
		glog.Error("[Core 1] no storage verified, output will be console only")
		s.Indicator.Raise(CodeCriticalFail)
	}
	s.updateSnapshot()
}

// AddToLoop implements fx.LoopAdder.
func (s *Storage) AddToLoop(l *fx.Loop) {
	l.AddController(fx.PrLvStore, fx.ControlFunc(func(fx.ControlContext) error {
		s.StoreNext()
		return nil
	}))
	l.AddController(fx.PrLvCommand, fx.ControlFunc(func(fx.ControlContext) error {
		s.RunCommand()
		return nil
	}))
}

// StoreNext dequeues at most one record and fans it out. It returns false
// if the queue was empty.
func (s *Storage) StoreNext() bool {
	record, ok := s.Queue.TryDequeue()
	if !ok {
		return false
	}
	h, err := telemetry.ParseHeader(record)
	if err != nil {
		glog.Warningf("[Core 1] bad record dropped: %v", err)
		return true
	}
	glog.V(1).Infof("[Core 1] packet received with millis = %d", h.Timestamp)
	if s.TextMode {
		row, err := s.Decoder.Decode(record)
		if err != nil {
			glog.Warningf("[Core 1] decode failed: %v", err)
			return true
		}
		s.Sinks.StoreText(row.CSV())
	} else {
		s.Sinks.StorePacket(record)
	}
	if s.Metrics != nil {
		s.Metrics.QueueDepth.Set(float64(s.Queue.Len()))
	}
	s.updateSnapshot()
	return true
}

// RunCommand executes the mailbox command if it is pending and the queue
// is drained, then clears the mailbox. It returns whether a command ran.
func (s *Storage) RunCommand() bool {
	cmd := s.Mailbox.Get()
	if !cmd.Pending() || s.Queue.Len() > 0 {
		return false
	}
	var out bytes.Buffer
	var w io.Writer = &out
	if s.Console != nil {
		w = io.MultiWriter(s.Console, &out)
	}
	err := s.Executor.Execute(cmd, w)
	if err != nil {
		glog.Warningf("[Core 1] %s failed: %v", cmd.Type, err)
	}
	s.Mailbox.Clear()
	if s.Metrics != nil {
		s.Metrics.ObserveCommand(cmd.Type.String(), err)
	}
	s.updateSnapshot()
	if s.OnCommandDone != nil {
		s.OnCommandDone(cmd, out.Bytes(), err)
	}
	return true
}

// FlashStatus is the flash status as of the last storage iteration.
func (s *Storage) FlashStatus() flash.Status {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.snapshot
}

// SinkStates is the sink recovery state as of the last storage iteration.
func (s *Storage) SinkStates() []recovery.State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.sinks
}

func (s *Storage) updateSnapshot() {
	var status flash.Status
	if s.Flash != nil {
		status = s.Flash.Status()
	}
	entries := s.Sinks.Entries()
	states := make([]recovery.State, len(entries))
	for n, e := range entries {
		states[n] = e.Recovery.Snapshot()
	}
	s.lock.Lock()
	s.snapshot, s.sinks = status, states
	s.lock.Unlock()
	if s.Metrics != nil {
		s.Metrics.FlashRemaining.Set(float64(status.Remaining))
		s.Metrics.FlashFiles.Set(float64(len(status.Files)))
		s.Metrics.ObserveDevices(states...)
	}
}
