package payload

import (
	"context"
	"errors"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/payload.go/pkg/framework"
	"github.com/robotalks/payload.go/pkg/metrics"
	"github.com/robotalks/payload.go/pkg/telemetry"
	"github.com/robotalks/payload.go/pkg/xcore"
)

var (
	// ErrNoChannels indicates that no channel verified at boot.
	ErrNoChannels = errors.New("no channel verified")
)

// HaltInterval is the blink period while halted.
const HaltInterval = time.Second

// Sampler is the producer context: it encodes one packet per iteration
// from the channels and offers it to the queue.
type Sampler struct {
	Channels  *telemetry.ChannelRegistry
	Queue     *xcore.Queue
	Indicator *Indicator
	Clock     *fx.BootClock
	Metrics   *metrics.Metrics
	// LowSensorCount raises CodeLowSensorCount when fewer channels verify.
	LowSensorCount int

	buf     []byte
	decoder *telemetry.Decoder
}

// Setup verifies all channels once. It returns ErrNoChannels if none
// verified, which calls for Halt.
func (s *Sampler) Setup() error {
	glog.Info("[Core 0] setup begin")
	count := s.Channels.VerifyAll()
	for _, e := range s.Channels.Entries() {
		if e.Recovery.Verified() {
			glog.Infof("[Core 0] %s: communication successful", e.Name())
		} else {
			glog.Warningf("[Core 0] %s: communication failed", e.Name())
		}
	}
	if count == 0 {
		glog.Error("[Core 0] all channel communications failed")
		s.Indicator.Raise(CodeCriticalFail)
		return ErrNoChannels
	}
	if count < s.LowSensorCount {
		s.Indicator.Raise(CodeLowSensorCount)
	}
	s.buf = make([]byte, s.Queue.RecordSize())
	s.decoder = s.Channels.Decoder()
	glog.Info("[Core 0] setup done")
	return nil
}

// AddToLoop implements fx.LoopAdder.
func (s *Sampler) AddToLoop(l *fx.Loop) {
	l.AddController(fx.PrLvSample, s)
}

// Control implements fx.Controller.
func (s *Sampler) Control(cc fx.ControlContext) error {
	s.Indicator.Toggle()
	glog.V(1).Infof("[Core 0] it: %d", cc.Iteration())
	_, err := s.Sample()
	return err
}

// Sample encodes one packet and offers it to the queue. It returns
// whether the packet was queued.
func (s *Sampler) Sample() (bool, error) {
	if s.buf == nil {
		s.buf = make([]byte, s.Queue.RecordSize())
		s.decoder = s.Channels.Decoder()
	}
	n, presence, err := s.Channels.Encode(s.buf, s.Clock.Millis())
	if err != nil {
		return false, err
	}
	pkt := s.buf[:n]
	glog.V(1).Infof("[Core 0] packet len: %d", n)
	if row, err := s.decoder.Decode(pkt); err != nil {
		glog.Warningf("[Core 0] self-decode failed: %v", err)
	} else {
		glog.V(1).Infof("[Data] %s", row.CSV())
		if !row.ChecksumOK && s.Metrics != nil {
			s.Metrics.ChecksumFailures.Inc()
		}
	}
	queued := s.Queue.TryEnqueue(pkt)
	if !queued {
		glog.Warningf("[Core 0] queue full, packet dropped")
	}
	if s.Metrics != nil {
		s.Metrics.PacketsEncoded.Inc()
		s.Metrics.PacketSize.Observe(float64(n))
		s.Metrics.ChannelsPresent.Set(float64(telemetry.Header{Presence: presence}.Count()))
		if !queued {
			s.Metrics.PacketsDropped.Inc()
		}
	}
	return queued, nil
}

// Halt blinks the indicator until ctx is done. It replaces the sampling
// loop when no channel is available.
func (s *Sampler) Halt(ctx context.Context) error {
	ticker := time.NewTicker(HaltInterval)
	defer ticker.Stop()
	for {
		s.Indicator.Toggle()
		glog.Error("[Core 0] Error")
		select {
		case <-ctx.Done():
			return ErrNoChannels
		case <-ticker.C:
		}
	}
}
