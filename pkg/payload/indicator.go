package payload

import (
	"sync"

	"github.com/golang/glog"
)

// Code is a status indicator code. A lower value has a higher priority.
type Code int

// Indicator codes.
const (
	CodeCriticalFail Code = iota
	CodeSDCardFail
	CodeLowSensorCount
	CodePowerCycled
	CodeNone
)

var codeNames = []string{"CRITICAL_FAIL", "SD_CARD_FAIL", "LOW_SENSOR_COUNT", "POWER_CYCLED", "NONE"}

// String implements fmt.Stringer.
func (c Code) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return "UNKNOWN"
}

// Pattern is the 3-bit blink pattern showing c.
func (c Code) Pattern() uint8 {
	if c >= CodeNone {
		return 0x1
	}
	return uint8(7-c) & 0x7
}

// Indicator is the three-light status display shared by both contexts.
// It keeps the highest priority code raised since start.
type Indicator struct {
	// Output drives the lights with the current bits, all off on the low
	// phase of a blink.
	Output func(bits uint8)

	lock  sync.Mutex
	code  Code
	level bool
}

// NewIndicator creates an Indicator showing CodeNone.
func NewIndicator() *Indicator {
	return &Indicator{code: CodeNone, level: true}
}

// Raise sets c if it has a higher priority than the current code.
func (ind *Indicator) Raise(c Code) {
	ind.lock.Lock()
	defer ind.lock.Unlock()
	if c < ind.code {
		glog.Warningf("indicator: %s", c)
		ind.code = c
	}
}

// Code is the current code.
func (ind *Indicator) Code() Code {
	ind.lock.Lock()
	defer ind.lock.Unlock()
	return ind.code
}

// Toggle flips the blink phase and returns the bits shown.
func (ind *Indicator) Toggle() uint8 {
	ind.lock.Lock()
	ind.level = !ind.level
	var bits uint8
	if ind.level {
		bits = ind.code.Pattern()
	}
	out := ind.Output
	ind.lock.Unlock()
	if out != nil {
		out(bits)
	}
	return bits
}
