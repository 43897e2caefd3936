package channels

import (
	"math"
	"sync"
	"time"

	fx "github.com/robotalks/payload.go/pkg/framework"
)

// Standard atmosphere constants.
const (
	SeaLevelPressure    = 101325.0 // Pa
	SeaLevelTemperature = 15.0     // C
	TropopauseAltitude  = 11000.0  // m
	lapseRate           = 0.0065   // K/m
)

// Default flight profile.
const (
	DefaultAscentRate    = 5.0     // m/s
	DefaultBurstAltitude = 30000.0 // m
	DefaultDescentRate   = 10.0    // m/s
)

// Atmosphere models a balloon flight through the standard atmosphere and
// provides the readings for simulated sensors.
type Atmosphere struct {
	AscentRate    float64
	BurstAltitude float64
	DescentRate   float64

	clock  fx.Clock
	launch time.Time
	lock   sync.Mutex
}

// NewAtmosphere starts a flight at the current time.
func NewAtmosphere(clock fx.Clock) *Atmosphere {
	return &Atmosphere{
		AscentRate:    DefaultAscentRate,
		BurstAltitude: DefaultBurstAltitude,
		DescentRate:   DefaultDescentRate,
		clock:         clock,
		launch:        clock.Now(),
	}
}

// Altitude is the current altitude in meters.
func (a *Atmosphere) Altitude() float64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	t := a.clock.Now().Sub(a.launch).Seconds()
	if t <= 0 || a.AscentRate <= 0 {
		return 0
	}
	ascent := a.BurstAltitude / a.AscentRate
	if t <= ascent {
		return a.AscentRate * t
	}
	return math.Max(0, a.BurstAltitude-a.DescentRate*(t-ascent))
}

// Temperature is the air temperature in Celsius at the current altitude.
func (a *Atmosphere) Temperature() float64 {
	return temperatureAt(a.Altitude())
}

// Pressure is the static pressure in Pa at the current altitude.
func (a *Atmosphere) Pressure() float64 {
	return pressureAt(a.Altitude())
}

// Humidity is a relative humidity in percent, drying out with altitude.
func (a *Atmosphere) Humidity() float64 {
	h := a.Altitude()
	return 60 * math.Exp(-h/4000)
}

func temperatureAt(h float64) float64 {
	if h > TropopauseAltitude {
		h = TropopauseAltitude
	}
	return SeaLevelTemperature - lapseRate*h
}

func pressureAt(h float64) float64 {
	if h <= TropopauseAltitude {
		return SeaLevelPressure * math.Pow(1-2.25577e-5*h, 5.25588)
	}
	return 22632.1 * math.Exp(-(h-TropopauseAltitude)/6341.62)
}

// AltitudeFromPressure is the barometric altitude in meters for pressure
// in Pa relative to seaLevel in Pa.
func AltitudeFromPressure(pressure, seaLevel float64) float64 {
	return 44330 * (1 - math.Pow(pressure/seaLevel, 0.1903))
}
