// Package loop implements the cooperative single-threaded emulation loop:
// a task registry with reset-scoped cancellation, idleness tracking across
// every registered work source and event, and the thread-identity guard
// that state-mutating operations verify before running.
package loop

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tilesim/tilesim/internal/interfaces"
)

// GlobalTask is the sentinel address used for device-wide tasks that are
// not scoped to any one tile.
const GlobalTask = -1

type loopMarkerKey struct{}

func withLoopMarker(ctx context.Context) context.Context {
	return context.WithValue(ctx, loopMarkerKey{}, true)
}

// OnLoop reports whether ctx descends from this loop's own Run call, as
// opposed to an arbitrary external caller's context.
func OnLoop(ctx context.Context) bool {
	v, _ := ctx.Value(loopMarkerKey{}).(bool)
	return v
}

// loopError is this package's self-contained error type, classified by
// Kind rather than Go type so the top-level package can wrap it without an
// import cycle.
type loopError struct {
	kind string
	msg  string
}

func (e *loopError) Error() string { return e.msg }

// KindWrongThread classifies a mutation attempted off the emulation loop.
const KindWrongThread = "wrong_thread"

// KindTimeout classifies a WaitIdle deadline expiry.
const KindTimeout = "timeout"

// Kind reports the classification of an error returned by this package, or
// "" if err did not originate here.
func Kind(err error) string {
	if e, ok := err.(*loopError); ok {
		return e.kind
	}
	return ""
}

func wrongThreadError(op string) error {
	return &loopError{kind: KindWrongThread, msg: fmt.Sprintf("%s must be called from within the emulation loop", op)}
}

// ErrWaitIdleTimeout is returned by WaitIdle when its deadline expires
// before every registered work source and event settles.
var ErrWaitIdleTimeout error = &loopError{kind: KindTimeout, msg: "wait_idle deadline exceeded"}

// WorkSource is anything the loop consults for idleness, such as the RPC
// dispatcher's queued/pending state.
type WorkSource interface {
	Empty() bool
}

// EventSource is a registered condition that must be set for the loop to
// be considered idle (e.g. a subsystem's "initialized" latch).
type EventSource interface {
	Set() bool
}

// RequireOnLoop returns a wrong-thread error unless ctx descends from this
// loop's Run call. Collaborators call this before mutating emulation state.
func RequireOnLoop(ctx context.Context, op string) error {
	if !OnLoop(ctx) {
		return wrongThreadError(op)
	}
	return nil
}

type task struct {
	address int // GlobalTask for device-wide
	seq     int
	cancel  context.CancelFunc
	done    chan struct{}
}

// Loop is the single cooperative event loop owning all tile and engine
// state. Tasks are cooperative goroutines registered against it; they are
// cancelled and awaited together on tile reset or device stop.
type Loop struct {
	log interfaces.Logger
	obs interfaces.Observer

	rootCtx context.Context

	mu       sync.Mutex
	tasks    []*task
	seq      int
	workSrcs []WorkSource
	evtSrcs  []EventSource
}

// New creates a Loop. log and obs may be nil.
func New(log interfaces.Logger, obs interfaces.Observer) *Loop {
	return &Loop{log: log, obs: obs}
}

// Run marks ctx as the loop's own thread of execution and blocks until it
// is cancelled. Call this in its own goroutine for the lifetime of the
// device; every task this loop spawns, and every context collaborators
// must present to RequireOnLoop, descends from this call's ctx.
func (l *Loop) Run(ctx context.Context) {
	l.rootCtx = withLoopMarker(ctx)
	<-ctx.Done()
}

// RegisterTask spawns fn as a cooperative task tagged with address
// (loop.GlobalTask for device-wide work). fn receives a context that
// carries the loop marker and is cancelled when the task is reset or the
// loop stops.
func (l *Loop) RegisterTask(address int, fn func(ctx context.Context)) {
	base := l.rootCtx
	if base == nil {
		base = withLoopMarker(context.Background())
	}
	taskCtx, cancel := context.WithCancel(base)

	l.mu.Lock()
	l.seq++
	t := &task{address: address, seq: l.seq, cancel: cancel, done: make(chan struct{})}
	l.tasks = append(l.tasks, t)
	l.mu.Unlock()

	go func() {
		defer close(t.done)
		fn(taskCtx)
	}()
}

// Reset cancels every task registered under address and synchronously
// awaits their completion, per the cooperative-cancellation contract: a
// cancelled task may run one more yield point before exiting.
func (l *Loop) Reset(address int) {
	l.mu.Lock()
	var matched []*task
	var remaining []*task
	for _, t := range l.tasks {
		if t.address == address {
			matched = append(matched, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	l.tasks = remaining
	l.mu.Unlock()

	for _, t := range matched {
		t.cancel()
	}
	for _, t := range matched {
		<-t.done
	}
}

// Stop cancels every registered task in descending address order (tile
// tasks before device-wide tasks) and awaits each in turn, so subsystem
// teardown dependencies are respected.
func (l *Loop) Stop() {
	l.mu.Lock()
	ordered := append([]*task(nil), l.tasks...)
	l.tasks = nil
	l.mu.Unlock()

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].address != ordered[j].address {
			return ordered[i].address > ordered[j].address
		}
		return ordered[i].seq > ordered[j].seq
	})

	for _, t := range ordered {
		t.cancel()
		<-t.done
	}
}

// RegisterWorkSource adds ws to the set consulted by WaitIdle.
func (l *Loop) RegisterWorkSource(ws WorkSource) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.workSrcs = append(l.workSrcs, ws)
}

// RegisterEventSource adds es to the set consulted by WaitIdle.
func (l *Loop) RegisterEventSource(es EventSource) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evtSrcs = append(l.evtSrcs, es)
}

// Idle reports whether every registered work source is empty and every
// registered event source is set.
func (l *Loop) Idle() bool {
	l.mu.Lock()
	workSrcs := append([]WorkSource(nil), l.workSrcs...)
	evtSrcs := append([]EventSource(nil), l.evtSrcs...)
	l.mu.Unlock()

	for _, ws := range workSrcs {
		if !ws.Empty() {
			return false
		}
	}
	for _, es := range evtSrcs {
		if !es.Set() {
			return false
		}
	}
	return true
}

// WaitIdle blocks until Idle() holds or timeout elapses, whichever comes
// first. It is meant to be called from outside the loop.
func (l *Loop) WaitIdle(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	const pollInterval = time.Millisecond
	for {
		if l.Idle() {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrWaitIdleTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
