package framework

import (
	"context"
	"time"
)

// Named is implemented by runnables that report a name in errors.
type Named interface {
	Name() string
}

// Runnable is a long running task stopped by cancelling its context.
type Runnable interface {
	Run(context.Context) error
}

// RunnableFunc is the func form of Runnable.
type RunnableFunc func(context.Context) error

// Run implements Runnable.
func (f RunnableFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Controller is one step executed in every cycle of a Loop. It must not
// block: a slow controller delays every lower priority one.
type Controller interface {
	Control(ControlContext) error
}

// ControlFunc is the func form of Controller.
type ControlFunc func(ControlContext) error

// Control implements Controller.
func (f ControlFunc) Control(cc ControlContext) error {
	return f(cc)
}

// ControlContext describes the cycle a Controller runs in.
type ControlContext interface {
	Context() context.Context
	// Time is the loop clock reading taken when the cycle started.
	Time() time.Time
	// Iteration counts cycles from 1.
	Iteration() uint64
	PriorityLevel() int

	LoopControl
}

// LoopControl exposes access to the running loop.
type LoopControl interface {
	// PostRunAt queues one-shot controllers to run after the regular ones
	// of priorityLevel, in this cycle if that level has not run yet.
	PostRunAt(priorityLevel int, controllers ...Controller)
}

// PriorityLevels is the number of levels; 0 runs first.
const PriorityLevels int = 16

// Priority levels.
const (
	PrLvTop    int = 0
	PrLvHigh   int = 4
	PrLvNormal int = 8
	PrLvLow    int = 12
	PrLvIdle   int = PriorityLevels - 1

	// PrLvSample reads channels and encodes the packet.
	PrLvSample = PrLvHigh
	// PrLvStore drains the cross-core queue into sinks.
	PrLvStore = PrLvHigh
	// PrLvCommand runs pending administrative commands once the queue is empty.
	PrLvCommand = PrLvNormal
)
