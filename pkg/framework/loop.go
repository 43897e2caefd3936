package framework

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

// Loop is a cooperative executor. Each cycle runs every controller in
// priority order on the calling goroutine, then waits out the rest of
// Interval. A cycle is never preempted; one that takes longer than
// Interval counts as an overrun and the next starts immediately.
type Loop struct {
	Name     string
	Interval time.Duration
	Clock    Clock

	// OnCycle, if set, observes the duration of each cycle.
	OnCycle func(name string, took time.Duration)

	levels  [PriorityLevels]level
	runners []Runnable

	cycles   atomic.Uint64
	overruns atomic.Uint64
	failures atomic.Uint64
}

// LoopAdder provides specific logic to add components to loop.
type LoopAdder interface {
	AddToLoop(*Loop)
}

// LoopStats counts what a Loop has done so far.
type LoopStats struct {
	Cycles   uint64
	Overruns uint64
	Failures uint64
}

// DefaultInterval is the cycle period when Loop.Interval is zero.
const DefaultInterval = 100 * time.Millisecond

type level struct {
	lock     sync.Mutex
	ctls     []Controller
	oneShots []Controller
}

type cycle struct {
	loop  *Loop
	ctx   context.Context
	at    time.Time
	n     uint64
	level int
}

// NewLoop creates a Loop.
func NewLoop(name string, interval time.Duration) *Loop {
	return &Loop{Name: name, Interval: interval}
}

// Add lets each adder register its controllers.
func (l *Loop) Add(adders ...LoopAdder) *Loop {
	for _, adder := range adders {
		adder.AddToLoop(l)
	}
	return l
}

// AddController registers controllers at a priority level. Controllers
// that are also Runnable get started alongside the loop.
func (l *Loop) AddController(priorityLevel int, ctls ...Controller) *Loop {
	lv := &l.levels[priorityLevel]
	lv.ctls = append(lv.ctls, ctls...)
	for _, ctl := range ctls {
		if r, ok := ctl.(Runnable); ok {
			l.runners = append(l.runners, r)
		}
	}
	return l
}

// Run implements Runnable.
func (l *Loop) Run(ctx context.Context) error {
	runner := NewRunnerWith(ctx)
	runner.Go(l.runners...)
	defer runner.Wait()

	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		begin := time.Now()
		l.RunOnce(ctx)
		took := time.Since(begin)
		wait := interval - took
		if wait < 0 {
			l.overruns.Add(1)
			glog.V(1).Infof("%s: cycle took %s, over %s", l.Name, took, interval)
			wait = 0
		}
		timer.Reset(wait)
	}
}

// String implements fmt.Stringer.
func (l *Loop) String() string {
	return l.Name
}

// Iterations returns the number of started cycles.
func (l *Loop) Iterations() uint64 {
	return l.cycles.Load()
}

// Stats returns a snapshot of the counters.
func (l *Loop) Stats() LoopStats {
	return LoopStats{
		Cycles:   l.cycles.Load(),
		Overruns: l.overruns.Load(),
		Failures: l.failures.Load(),
	}
}

// PostRunAt implements LoopControl.
func (l *Loop) PostRunAt(priorityLevel int, hooks ...Controller) {
	lv := &l.levels[priorityLevel]
	lv.lock.Lock()
	lv.oneShots = append(lv.oneShots, hooks...)
	lv.lock.Unlock()
}

// RunOnce executes exactly one cycle in the calling goroutine.
func (l *Loop) RunOnce(ctx context.Context) {
	clock := l.Clock
	if clock == nil {
		clock = RealClock{}
	}
	c := &cycle{loop: l, ctx: ctx, at: clock.Now(), n: l.cycles.Add(1)}
	begin := time.Now()
	for i := range l.levels {
		c.level = i
		l.levels[i].run(c)
	}
	if l.OnCycle != nil {
		l.OnCycle(l.Name, time.Since(begin))
	}
}

func (c *cycle) Context() context.Context { return c.ctx }

func (c *cycle) Time() time.Time { return c.at }

func (c *cycle) Iteration() uint64 { return c.n }

func (c *cycle) PriorityLevel() int { return c.level }

func (c *cycle) PostRunAt(priorityLevel int, hooks ...Controller) {
	c.loop.PostRunAt(priorityLevel, hooks...)
}

func (lv *level) run(c *cycle) {
	c.exec(lv.ctls)
	lv.lock.Lock()
	hooks := lv.oneShots
	lv.oneShots = nil
	lv.lock.Unlock()
	c.exec(hooks)
}

func (c *cycle) exec(ctls []Controller) {
	for _, ctl := range ctls {
		if err := ctl.Control(c); err != nil {
			c.loop.failures.Add(1)
			glog.Errorf("%s: controller error: %v", c.loop.Name, err)
		}
	}
}
