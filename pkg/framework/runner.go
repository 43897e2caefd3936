package framework

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/golang/glog"
)

// ErrForcedExit is returned by Wait after a second shutdown signal.
var ErrForcedExit = errors.New("forced exit")

type namedRunnable struct {
	Runnable
	name string
}

func (r *namedRunnable) Name() string {
	return r.name
}

// NamedRun wraps a Runnable with a name.
func NamedRun(name string, runnable Runnable) Runnable {
	return &namedRunnable{name: name, Runnable: runnable}
}

// NameOf is the name of a Named Runnable, empty otherwise.
func NameOf(r Runnable) string {
	if named, ok := r.(Named); ok {
		return named.Name()
	}
	return ""
}

// Runner starts Runnables on their own goroutines under one cancellable
// context and collects how they ended.
type Runner struct {
	// StopOnError cancels the others when one Runnable fails.
	StopOnError bool

	ctx    context.Context
	cancel context.CancelFunc
	forced chan struct{}

	wg      sync.WaitGroup
	lock    sync.Mutex
	started int
	errs    AggregatedError
}

// NewRunner creates a runner under context.Background.
func NewRunner() *Runner {
	return NewRunnerWith(context.Background())
}

// NewRunnerWith creates a runner whose context derives from ctx.
func NewRunnerWith(ctx context.Context) *Runner {
	r := &Runner{forced: make(chan struct{})}
	r.ctx, r.cancel = context.WithCancel(ctx)
	return r
}

// Context is passed to every Runnable.
func (r *Runner) Context() context.Context {
	return r.ctx
}

// HandleSignals cancels on SIGINT or SIGTERM. A second signal makes Wait
// return without waiting.
func (r *Runner) HandleSignals() *Runner {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		glog.Infof("%s: shutting down", sig)
		r.Cancel()
		<-sigCh
		glog.Error("second signal, exit without waiting")
		close(r.forced)
	}()
	return r
}

// Cancel stops all Runnables.
func (r *Runner) Cancel() {
	r.cancel()
}

// Go starts Runnables. Unnamed ones are named by their start order.
func (r *Runner) Go(runnables ...Runnable) *Runner {
	for _, runnable := range runnables {
		r.lock.Lock()
		name := NameOf(runnable)
		if name == "" {
			name = fmt.Sprintf("#%d", r.started)
		}
		r.started++
		r.lock.Unlock()
		r.wg.Add(1)
		go r.run(name, runnable)
	}
	return r
}

func (r *Runner) run(name string, runnable Runnable) {
	defer r.wg.Done()
	glog.V(4).Infof("%s: started", name)
	err := runnable.Run(r.ctx)
	glog.V(4).Infof("%s: stopped", name)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	glog.Errorf("%s: %v", name, err)
	r.lock.Lock()
	r.errs.Add(&RunError{Name: name, Err: err})
	r.lock.Unlock()
	if r.StopOnError {
		r.Cancel()
	}
}

// Wait blocks until every Runnable returned, then cancels the context.
// Failures come back as an AggregatedError of *RunError; cancellation is
// not a failure.
func (r *Runner) Wait() error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-r.forced:
		return ErrForcedExit
	}
	r.Cancel()
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.errs.Aggregate()
}

// RunWithContextCancel runs fn, which takes no context, until it returns
// or ctx is done. On ctx done, onCancel must make fn return.
func RunWithContextCancel(ctx context.Context, onCancel func(), fn func() error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	if onCancel != nil {
		onCancel()
	}
	<-errCh
	return context.Canceled
}

// RunWithContextCloser is RunWithContextCancel closing closer on cancel.
// closer is closed in either case.
func RunWithContextCloser(ctx context.Context, closer io.Closer, fn func() error) error {
	var once sync.Once
	closeOnce := func() { once.Do(func() { closer.Close() }) }
	defer closeOnce()
	return RunWithContextCancel(ctx, closeOnce, fn)
}
