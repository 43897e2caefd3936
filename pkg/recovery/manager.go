// Package recovery provides the reconnect/backoff state machine shared by
// every channel and sink.
package recovery

import (
	"sync"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/payload.go/pkg/framework"
)

// Unbounded disables the attempt limit.
const Unbounded = -1

// Default settings.
const (
	DefaultMaxAttempts = 1
	DefaultWaitFactor  = time.Minute
)

// Verifier checks whether a device is reachable.
type Verifier interface {
	Verify() error
}

// VerifyFunc is the func form of Verifier.
type VerifyFunc func() error

// Verify implements Verifier.
func (f VerifyFunc) Verify() error {
	return f()
}

// Config configures the backoff.
type Config struct {
	// MaxAttempts is the number of consecutive failures tolerated before the
	// device is given up, or Unbounded.
	MaxAttempts int `yaml:"max_attempts"`
	// WaitFactor is multiplied by the failure count to get the wait before
	// the next attempt.
	WaitFactor time.Duration `yaml:"wait_factor"`
}

// State is a snapshot of a Manager.
type State struct {
	Name        string
	Verified    bool
	Attempts    int
	MaxAttempts int
	LastAttempt time.Time
	Exhausted   bool
}

// Manager gates access to a device behind linear backoff. It is owned by a
// single execution context; the lock only protects snapshots taken by
// status reporting.
type Manager struct {
	name     string
	verifier Verifier
	clock    fx.Clock

	config      Config
	verified    bool
	attempts    int
	lastAttempt time.Time
	attempted   bool

	lock sync.Mutex
}

// New creates a Manager with default settings.
func New(name string, v Verifier) *Manager {
	return &Manager{
		name:     name,
		verifier: v,
		clock:    fx.RealClock{},
		config:   Config{MaxAttempts: DefaultMaxAttempts, WaitFactor: DefaultWaitFactor},
	}
}

// WithClock replaces the clock.
func (m *Manager) WithClock(c fx.Clock) *Manager {
	m.clock = c
	return m
}

// WithConfig sets the backoff settings.
func (m *Manager) WithConfig(c Config) *Manager {
	m.Configure(c.MaxAttempts, c.WaitFactor)
	return m
}

// Configure sets the attempt limit and the wait factor. Raising the limit
// of an exhausted device makes it eligible for attempts again.
func (m *Manager) Configure(maxAttempts int, waitFactor time.Duration) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.config = Config{MaxAttempts: maxAttempts, WaitFactor: waitFactor}
}

// Name returns the device name.
func (m *Manager) Name() string {
	return m.name
}

// AttemptConnection returns true if the device is usable, calling Verify
// when the device is unverified and its backoff has elapsed. Verify runs
// without the lock so snapshots never wait on device I/O.
func (m *Manager) AttemptConnection() bool {
	now, ok := m.beginAttempt()
	if !ok {
		return m.Verified()
	}
	err := m.verifier.Verify()

	m.lock.Lock()
	defer m.lock.Unlock()
	m.lastAttempt, m.attempted = now, true
	if err != nil {
		m.attempts++
		glog.Warningf("%s: verify failed (attempt %d): %v", m.name, m.attempts, err)
		if m.exhausted() {
			glog.Errorf("%s: giving up after %d attempts", m.name, m.attempts)
		}
		return false
	}
	glog.Infof("%s: verified", m.name)
	m.verified, m.attempts = true, 0
	return true
}

// beginAttempt reports whether Verify should be called now.
func (m *Manager) beginAttempt() (time.Time, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.verified || m.exhausted() {
		return time.Time{}, false
	}
	now := m.clock.Now()
	if m.attempted && now.Sub(m.lastAttempt) <= m.config.WaitFactor*time.Duration(m.attempts) {
		return now, false
	}
	return now, true
}

// Invalidate marks the device unverified after an I/O failure so it is
// verified again on a later attempt.
func (m *Manager) Invalidate() {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.verified {
		glog.Warningf("%s: flagged for reverification", m.name)
	}
	m.verified = false
}

// Verified reports the current state without attempting anything.
func (m *Manager) Verified() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.verified
}

// Exhausted reports whether the attempt limit is reached.
func (m *Manager) Exhausted() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.exhausted()
}

// NextWait is the backoff required after the last attempt.
func (m *Manager) NextWait() time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.config.WaitFactor * time.Duration(m.attempts)
}

// Snapshot captures the state.
func (m *Manager) Snapshot() State {
	m.lock.Lock()
	defer m.lock.Unlock()
	return State{
		Name:        m.name,
		Verified:    m.verified,
		Attempts:    m.attempts,
		MaxAttempts: m.config.MaxAttempts,
		LastAttempt: m.lastAttempt,
		Exhausted:   m.exhausted(),
	}
}

func (m *Manager) exhausted() bool {
	return !m.verified && m.config.MaxAttempts >= 0 && m.attempts >= m.config.MaxAttempts
}
