// Package channels provides the concrete telemetry channels. Sensors
// without hardware on the host are simulated from an Atmosphere model.
package channels

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	fx "github.com/robotalks/payload.go/pkg/framework"
	"github.com/robotalks/payload.go/pkg/telemetry"
)

// Channel kinds.
const (
	KindBarometer  = "barometer"
	KindHygrometer = "hygrometer"
	KindThermistor = "thermistor"
	KindCoreTemp   = "coretemp"
	KindRTC        = "rtc"
	KindPowerMeter = "powermeter"
)

var (
	// ErrAbsent indicates the sensor does not respond.
	ErrAbsent = errors.New("sensor absent")
)

// UnknownKindError is returned by Build for an unsupported kind.
type UnknownKindError struct {
	Kind string
}

// Error implements error.
func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown channel kind %q", e.Kind)
}

// Config configures one channel. The order of a Config list is the
// presence bit order.
type Config struct {
	Kind string `yaml:"kind"`
	// Name overrides the default name.
	Name      string        `yaml:"name"`
	MinPeriod time.Duration `yaml:"min_period"`
	// Address is the Modbus endpoint of a powermeter or the thermal zone
	// file of coretemp.
	Address string `yaml:"address"`
	// Unit is the Modbus unit ID.
	Unit byte `yaml:"unit"`
	// Absent simulates a sensor which never answers.
	Absent bool `yaml:"absent"`
}

// DefaultConfigs is the standard flight sensor suite.
func DefaultConfigs() []Config {
	return []Config{
		{Kind: KindBarometer},
		{Kind: KindHygrometer},
		{Kind: KindThermistor, MinPeriod: time.Second},
		{Kind: KindCoreTemp},
		{Kind: KindRTC},
	}
}

// Build creates channels in configuration order. Simulated sensors share
// one Atmosphere started at clock's current time.
func Build(configs []Config, clock fx.Clock) ([]telemetry.Channel, error) {
	if clock == nil {
		clock = fx.RealClock{}
	}
	atmos := NewAtmosphere(clock)
	chs := make([]telemetry.Channel, 0, len(configs))
	for _, conf := range configs {
		var ch telemetry.Channel
		switch conf.Kind {
		case KindBarometer:
			ch = NewBarometer(conf, atmos)
		case KindHygrometer:
			ch = NewHygrometer(conf, atmos)
		case KindThermistor:
			ch = NewThermistor(conf, atmos)
		case KindCoreTemp:
			ch = NewCoreTemp(conf)
		case KindRTC:
			ch = NewRTC(conf, clock)
		case KindPowerMeter:
			ch = NewPowerMeter(conf)
		default:
			return nil, &UnknownKindError{Kind: conf.Kind}
		}
		chs = append(chs, ch)
	}
	return chs, nil
}

// base carries what every channel has in common.
type base struct {
	name   string
	fields []string
	period time.Duration
	absent bool
}

func newBase(conf Config, name string, fields ...string) base {
	if conf.Name != "" {
		name = conf.Name
	}
	return base{name: name, fields: fields, period: conf.MinPeriod, absent: conf.Absent}
}

func (b *base) Name() string                 { return b.name }
func (b *base) Fields() []string             { return b.fields }
func (b *base) MinimumPeriod() time.Duration { return b.period }

func (b *base) verifyPresent() error {
	if b.absent {
		return ErrAbsent
	}
	return nil
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// putFloat32s writes values in order, stopping at the first error.
func putFloat32s(c *telemetry.Cursor, values ...float32) error {
	for _, v := range values {
		if err := c.PutFloat32(v); err != nil {
			return err
		}
	}
	return nil
}

// float32s reads n values and formats them with two decimals.
func float32s(c *telemetry.Cursor, n int) ([]string, error) {
	out := make([]string, n)
	for i := range out {
		v, err := c.Float32()
		if err != nil {
			return nil, err
		}
		out[i] = formatFloat(float64(v), 2)
	}
	return out, nil
}

// KindOf is the kind of a channel built by Build, empty for others.
func KindOf(ch telemetry.Channel) string {
	switch ch.(type) {
	case *Barometer:
		return KindBarometer
	case *Hygrometer:
		return KindHygrometer
	case *Thermistor:
		return KindThermistor
	case *CoreTemp:
		return KindCoreTemp
	case *RTC:
		return KindRTC
	case *PowerMeter:
		return KindPowerMeter
	}
	return ""
}

// Decoding rebuilds channels able to decode the packets of a remote
// payload from its channel names and kinds. The channels are never
// verified or sampled.
func Decoding(names, kinds []string) ([]telemetry.Channel, error) {
	if len(names) != len(kinds) {
		return nil, fmt.Errorf("%d channel names for %d kinds", len(names), len(kinds))
	}
	configs := make([]Config, len(kinds))
	for n, kind := range kinds {
		configs[n] = Config{Kind: kind, Name: names[n]}
	}
	return Build(configs, nil)
}
