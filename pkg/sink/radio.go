package sink

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
	"golang.org/x/time/rate"

	"github.com/robotalks/payload.go/pkg/comm/mqtt"
	fx "github.com/robotalks/payload.go/pkg/framework"
	"github.com/robotalks/payload.go/pkg/telemetry"
)

// DefaultMinTransmitPeriod is the shortest interval between transmissions.
const DefaultMinTransmitPeriod = 10 * time.Second

// Radio relays records over MQTT. Delivery is best effort: a record is
// skipped while the previous publish is in flight or when the minimum
// transmit period has not elapsed.
type Radio struct {
	Publisher mqtt.Publisher
	Topics    mqtt.Topics
	// Connected reports the link state, used by Verify.
	Connected func() bool
	QoS       byte

	clock   fx.Clock
	limiter *rate.Limiter
	token   paho.Token
	skipped uint64
}

// NewRadio creates a Radio.
func NewRadio(pub mqtt.Publisher, topics mqtt.Topics, minPeriod time.Duration) *Radio {
	if minPeriod <= 0 {
		minPeriod = DefaultMinTransmitPeriod
	}
	return &Radio{
		Publisher: pub,
		Topics:    topics,
		clock:     fx.RealClock{},
		limiter:   rate.NewLimiter(rate.Every(minPeriod), 1),
	}
}

// WithClock replaces the clock.
func (r *Radio) WithClock(c fx.Clock) *Radio {
	r.clock = c
	return r
}

// Name implements Sink.
func (r *Radio) Name() string {
	return "radio"
}

// Skipped is the number of records not transmitted because of gating.
func (r *Radio) Skipped() uint64 {
	return r.skipped
}

// Verify implements Sink.
func (r *Radio) Verify() error {
	if r.Publisher == nil || (r.Connected != nil && !r.Connected()) {
		return ErrNotConnected
	}
	r.token = nil
	return nil
}

// StoreText implements Sink.
func (r *Radio) StoreText(s string) error {
	return r.transmit(r.Topics.Text(), []byte(s))
}

// StorePacket implements Sink.
func (r *Radio) StorePacket(record []byte) error {
	pkt, err := telemetry.Trim(record)
	if err != nil {
		return err
	}
	return r.transmit(r.Topics.Telemetry(), append([]byte(nil), pkt...))
}

func (r *Radio) transmit(topic string, payload []byte) error {
	if r.token != nil {
		if !mqtt.Done(r.token) {
			r.skip("previous transmission in flight")
			return nil
		}
		err := r.token.Error()
		r.token = nil
		if err != nil {
			return fmt.Errorf("previous transmission: %w", err)
		}
	}
	if !r.limiter.AllowN(r.clock.Now(), 1) {
		r.skip("minimum transmit period")
		return nil
	}
	r.token = r.Publisher.PubWith(topic, payload, r.QoS, false)
	return nil
}

func (r *Radio) skip(reason string) {
	r.skipped++
	glog.V(2).Infof("[Core 1] radio: skipped, %s", reason)
}
