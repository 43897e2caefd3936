package channels

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	fx "github.com/robotalks/payload.go/pkg/framework"
	"github.com/robotalks/payload.go/pkg/telemetry"
)

// Barometer reports temperature, pressure and barometric altitude.
// Wire format: float64 C, float64 Pa, float32 m.
type Barometer struct {
	base
	atmos *Atmosphere
}

// NewBarometer creates a Barometer.
func NewBarometer(conf Config, atmos *Atmosphere) *Barometer {
	return &Barometer{base: newBase(conf, "BMP390", "temp_c", "pres_pa", "alt_m"), atmos: atmos}
}

// Verify implements telemetry.Channel.
func (b *Barometer) Verify() error {
	return b.verifyPresent()
}

// Encode implements telemetry.Channel.
func (b *Barometer) Encode(c *telemetry.Cursor) error {
	temp, pres := b.atmos.Temperature(), b.atmos.Pressure()
	if err := c.PutFloat64(temp); err != nil {
		return err
	}
	if err := c.PutFloat64(pres); err != nil {
		return err
	}
	return c.PutFloat32(float32(AltitudeFromPressure(pres, SeaLevelPressure)))
}

// Decode implements telemetry.Channel.
func (b *Barometer) Decode(c *telemetry.Cursor) ([]string, error) {
	temp, err := c.Float64()
	if err != nil {
		return nil, err
	}
	pres, err := c.Float64()
	if err != nil {
		return nil, err
	}
	alt, err := c.Float32()
	if err != nil {
		return nil, err
	}
	return []string{formatFloat(temp, 5), formatFloat(pres, 5), formatFloat(float64(alt), 5)}, nil
}

// Hygrometer reports temperature and relative humidity as two float32.
type Hygrometer struct {
	base
	atmos *Atmosphere
}

// NewHygrometer creates a Hygrometer.
func NewHygrometer(conf Config, atmos *Atmosphere) *Hygrometer {
	return &Hygrometer{base: newBase(conf, "SHTC3", "temp_c", "humidity"), atmos: atmos}
}

// Verify implements telemetry.Channel.
func (h *Hygrometer) Verify() error {
	return h.verifyPresent()
}

// Encode implements telemetry.Channel.
func (h *Hygrometer) Encode(c *telemetry.Cursor) error {
	return putFloat32s(c, float32(h.atmos.Temperature()), float32(h.atmos.Humidity()))
}

// Decode implements telemetry.Channel.
func (h *Hygrometer) Decode(c *telemetry.Cursor) ([]string, error) {
	return float32s(c, 2)
}

// Thermistor reports the raw 12-bit ADC reading of a thermistor divider
// as int32.
type Thermistor struct {
	base
	atmos *Atmosphere
}

// NewThermistor creates a Thermistor.
func NewThermistor(conf Config, atmos *Atmosphere) *Thermistor {
	return &Thermistor{base: newBase(conf, "AnalogTemp", "adc"), atmos: atmos}
}

// Verify implements telemetry.Channel.
func (t *Thermistor) Verify() error {
	return t.verifyPresent()
}

// Reading converts a temperature to the ADC count.
func (t *Thermistor) Reading(temp float64) int32 {
	v := int32(2048 + temp*20)
	switch {
	case v < 0:
		return 0
	case v > 4095:
		return 4095
	}
	return v
}

// Encode implements telemetry.Channel.
func (t *Thermistor) Encode(c *telemetry.Cursor) error {
	return c.PutInt32(t.Reading(t.atmos.Temperature()))
}

// Decode implements telemetry.Channel.
func (t *Thermistor) Decode(c *telemetry.Cursor) ([]string, error) {
	v, err := c.Int32()
	if err != nil {
		return nil, err
	}
	return []string{strconv.Itoa(int(v))}, nil
}

// DefaultThermalZone is the host CPU temperature in millidegrees.
const DefaultThermalZone = "/sys/class/thermal/thermal_zone0/temp"

// CoreTemp reports the processor temperature as float32 Celsius.
type CoreTemp struct {
	base
	path string
}

// NewCoreTemp creates a CoreTemp.
func NewCoreTemp(conf Config) *CoreTemp {
	path := conf.Address
	if path == "" {
		path = DefaultThermalZone
	}
	return &CoreTemp{base: newBase(conf, "PicoTemp", "core_c"), path: path}
}

// Verify implements telemetry.Channel.
func (t *CoreTemp) Verify() error {
	if err := t.verifyPresent(); err != nil {
		return err
	}
	_, err := t.read()
	return err
}

func (t *CoreTemp) read() (float64, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return 0, err
	}
	milli, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", t.path, err)
	}
	return float64(milli) / 1000, nil
}

// Encode implements telemetry.Channel.
func (t *CoreTemp) Encode(c *telemetry.Cursor) error {
	v, err := t.read()
	if err != nil {
		return err
	}
	return c.PutFloat32(float32(v))
}

// Decode implements telemetry.Channel.
func (t *CoreTemp) Decode(c *telemetry.Cursor) ([]string, error) {
	return float32s(c, 1)
}

// RTC reports the calendar time as uint16 year followed by month, day,
// hour, minute and second bytes.
type RTC struct {
	base
	clock fx.Clock
}

// NewRTC creates an RTC.
func NewRTC(conf Config, clock fx.Clock) *RTC {
	return &RTC{base: newBase(conf, "PCF8523", "time"), clock: clock}
}

// Verify implements telemetry.Channel.
func (r *RTC) Verify() error {
	return r.verifyPresent()
}

// Encode implements telemetry.Channel.
func (r *RTC) Encode(c *telemetry.Cursor) error {
	if c.Remaining() < 7 {
		return telemetry.ErrShortBuffer
	}
	now := r.clock.Now().UTC()
	c.PutUint16(uint16(now.Year()))
	for _, v := range []int{int(now.Month()), now.Day(), now.Hour(), now.Minute(), now.Second()} {
		c.PutUint8(uint8(v))
	}
	return nil
}

// Decode implements telemetry.Channel.
func (r *RTC) Decode(c *telemetry.Cursor) ([]string, error) {
	year, err := c.Uint16()
	if err != nil {
		return nil, err
	}
	var parts [5]uint8
	for i := range parts {
		if parts[i], err = c.Uint8(); err != nil {
			return nil, err
		}
	}
	return []string{fmt.Sprintf("%d/%d/%d %d:%d:%d", year, parts[0], parts[1], parts[2], parts[3], parts[4])}, nil
}

// Time parses the RTC text back to a time.
func (r *RTC) Time(text string) (time.Time, error) {
	return time.Parse("2006/1/2 15:4:5", text)
}
