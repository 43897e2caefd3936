package recovery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeDevice struct {
	calls   int
	results []error
}

func (d *fakeDevice) Verify() error {
	d.calls++
	if len(d.results) == 0 {
		return nil
	}
	err := d.results[0]
	d.results = d.results[1:]
	return err
}

var errDown = errors.New("device down")

type recoveryTestEnv struct {
	clock  *fakeClock
	device *fakeDevice
	mgr    *Manager
}

func newRecoveryTestEnv(maxAttempts int, wait time.Duration, results ...error) *recoveryTestEnv {
	env := &recoveryTestEnv{
		clock:  &fakeClock{now: time.Unix(0, 0)},
		device: &fakeDevice{results: results},
	}
	env.mgr = New("dev", env.device).WithClock(env.clock)
	env.mgr.Configure(maxAttempts, wait)
	return env
}

func TestFirstAttemptHasNoWait(t *testing.T) {
	env := newRecoveryTestEnv(3, time.Second)
	require.True(t, env.mgr.AttemptConnection())
	require.Equal(t, 1, env.device.calls)
	require.True(t, env.mgr.Verified())
}

func TestVerifiedDeviceIsNotReverified(t *testing.T) {
	env := newRecoveryTestEnv(3, time.Second)
	for i := 0; i < 5; i++ {
		require.True(t, env.mgr.AttemptConnection())
	}
	require.Equal(t, 1, env.device.calls)
}

func TestGiveUpAfterMaxAttempts(t *testing.T) {
	env := newRecoveryTestEnv(3, 1000*time.Millisecond, errDown, errDown, errDown)

	require.False(t, env.mgr.AttemptConnection())
	require.Equal(t, 1, env.device.calls)

	// retries before each deadline never reach Verify.
	for k := 1; k <= 2; k++ {
		env.clock.advance(time.Duration(k) * 1000 * time.Millisecond)
		require.False(t, env.mgr.AttemptConnection())
		require.Equal(t, k, env.device.calls)
		env.clock.advance(time.Millisecond)
		require.False(t, env.mgr.AttemptConnection())
		require.Equal(t, k+1, env.device.calls)
	}

	require.True(t, env.mgr.Exhausted())
	env.clock.advance(24 * time.Hour)
	for i := 0; i < 10; i++ {
		require.False(t, env.mgr.AttemptConnection())
	}
	require.Equal(t, 3, env.device.calls)
}

func TestBackoffIsLinear(t *testing.T) {
	testCases := []struct {
		name     string
		failures int
		wait     time.Duration
	}{
		{"one failure", 1, time.Second},
		{"two failures", 2, 2 * time.Second},
		{"five failures", 5, 5 * time.Second},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			results := make([]error, tc.failures)
			for i := range results {
				results[i] = errDown
			}
			env := newRecoveryTestEnv(Unbounded, time.Second, results...)
			for k := 0; k < tc.failures; k++ {
				env.clock.advance(env.mgr.NextWait() + time.Millisecond)
				require.False(t, env.mgr.AttemptConnection())
			}
			require.Equal(t, tc.wait, env.mgr.NextWait())
			env.clock.advance(tc.wait)
			require.False(t, env.mgr.AttemptConnection())
			require.Equal(t, tc.failures, env.device.calls)
			env.clock.advance(time.Millisecond)
			require.True(t, env.mgr.AttemptConnection())
			require.Equal(t, 0, env.mgr.Snapshot().Attempts)
			require.Equal(t, time.Duration(0), env.mgr.NextWait())
		})
	}
}

func TestInvalidateForcesReverify(t *testing.T) {
	env := newRecoveryTestEnv(Unbounded, time.Second, nil, errDown)
	require.True(t, env.mgr.AttemptConnection())
	env.mgr.Invalidate()
	require.False(t, env.mgr.Verified())

	env.clock.advance(time.Millisecond)
	require.False(t, env.mgr.AttemptConnection())
	require.Equal(t, 2, env.device.calls)

	env.clock.advance(time.Second + time.Millisecond)
	require.True(t, env.mgr.AttemptConnection())
	require.Equal(t, 3, env.device.calls)
}

func TestConfigureRevivesExhaustedDevice(t *testing.T) {
	env := newRecoveryTestEnv(1, time.Second, errDown)
	require.False(t, env.mgr.AttemptConnection())
	require.True(t, env.mgr.Exhausted())

	env.mgr.Configure(2, time.Second)
	require.False(t, env.mgr.Exhausted())
	env.clock.advance(2 * time.Second)
	require.True(t, env.mgr.AttemptConnection())
}

func TestDefaults(t *testing.T) {
	mgr := New("dev", VerifyFunc(func() error { return errDown }))
	state := mgr.Snapshot()
	require.Equal(t, DefaultMaxAttempts, state.MaxAttempts)
	require.False(t, mgr.AttemptConnection())
	require.True(t, mgr.Exhausted())
	require.Equal(t, "dev", mgr.Snapshot().Name)
}

type blockingDevice struct {
	entered chan struct{}
	release chan struct{}
}

func (d *blockingDevice) Verify() error {
	close(d.entered)
	<-d.release
	return nil
}

func TestSnapshotDuringVerify(t *testing.T) {
	dev := &blockingDevice{entered: make(chan struct{}), release: make(chan struct{})}
	mgr := New("slow", dev).WithClock(&fakeClock{now: time.Unix(0, 0)})
	done := make(chan bool, 1)
	go func() { done <- mgr.AttemptConnection() }()
	<-dev.entered

	snapshot := make(chan State, 1)
	go func() { snapshot <- mgr.Snapshot() }()
	select {
	case state := <-snapshot:
		require.False(t, state.Verified)
		require.Equal(t, "slow", state.Name)
	case <-time.After(time.Second):
		t.Fatal("Snapshot blocked by Verify")
	}

	close(dev.release)
	require.True(t, <-done)
	require.True(t, mgr.Snapshot().Verified)
}
