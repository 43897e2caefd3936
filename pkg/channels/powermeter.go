package channels

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/goburrow/modbus"

	"github.com/robotalks/payload.go/pkg/telemetry"
)

// Power monitor input registers, INA260 resolution.
const (
	PowerRegisterBase  = 0
	PowerRegisterCount = 3

	currentLSB = 1.25 // mA
	voltageLSB = 1.25 // mV
	powerLSB   = 10.0 // mW
)

// DefaultModbusTimeout bounds one Modbus request.
const DefaultModbusTimeout = 500 * time.Millisecond

// RegisterReader reads Modbus input registers, implemented by modbus.Client.
type RegisterReader interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
}

// PowerMeter reads current, voltage and power from a Modbus TCP power
// monitor and reports them as three float32 in mA, mV and mW.
type PowerMeter struct {
	base
	address string
	unit    byte

	// Dial connects to the monitor, replaceable by tests.
	Dial func() (RegisterReader, func() error, error)

	reader RegisterReader
	close  func() error
}

// NewPowerMeter creates a PowerMeter.
func NewPowerMeter(conf Config) *PowerMeter {
	m := &PowerMeter{
		base:    newBase(conf, "INA260", "curr_ma", "volt_mv", "pow_mw"),
		address: conf.Address,
		unit:    conf.Unit,
	}
	m.Dial = m.dialTCP
	return m
}

func (m *PowerMeter) dialTCP() (RegisterReader, func() error, error) {
	h := modbus.NewTCPClientHandler(m.address)
	h.Timeout = DefaultModbusTimeout
	h.SlaveId = m.unit
	if err := h.Connect(); err != nil {
		return nil, nil, err
	}
	return modbus.NewClient(h), h.Close, nil
}

// Verify implements telemetry.Channel. It reconnects and probes the
// registers once.
func (m *PowerMeter) Verify() error {
	if err := m.verifyPresent(); err != nil {
		return err
	}
	m.Close()
	reader, closer, err := m.Dial()
	if err != nil {
		return err
	}
	m.reader, m.close = reader, closer
	if _, err := m.read(); err != nil {
		m.Close()
		return err
	}
	return nil
}

// Close drops the connection.
func (m *PowerMeter) Close() error {
	var err error
	if m.close != nil {
		err = m.close()
	}
	m.reader, m.close = nil, nil
	return err
}

func (m *PowerMeter) read() ([3]float32, error) {
	var out [3]float32
	if m.reader == nil {
		return out, ErrAbsent
	}
	data, err := m.reader.ReadInputRegisters(PowerRegisterBase, PowerRegisterCount)
	if err != nil {
		return out, err
	}
	if len(data) < PowerRegisterCount*2 {
		return out, fmt.Errorf("short register read: %d bytes", len(data))
	}
	// registers are big-endian on the wire.
	out[0] = float32(int16(binary.BigEndian.Uint16(data[0:]))) * currentLSB
	out[1] = float32(binary.BigEndian.Uint16(data[2:])) * voltageLSB
	out[2] = float32(binary.BigEndian.Uint16(data[4:])) * powerLSB
	return out, nil
}

// Encode implements telemetry.Channel.
func (m *PowerMeter) Encode(c *telemetry.Cursor) error {
	v, err := m.read()
	if err != nil {
		return err
	}
	return putFloat32s(c, v[0], v[1], v[2])
}

// Decode implements telemetry.Channel.
func (m *PowerMeter) Decode(c *telemetry.Cursor) ([]string, error) {
	return float32s(c, 3)
}
