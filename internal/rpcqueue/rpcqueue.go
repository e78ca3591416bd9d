// Package rpcqueue implements the single-consumer RPC dispatcher described
// in §4.1: one goroutine drains a queue of (address, rpc_id, payload) work
// items in submission order, enforcing at most one in-flight RPC per tile
// and splitting completion into a synchronous and an asynchronous path.
package rpcqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tilesim/tilesim/internal/interfaces"
)

type loopMarkerKey struct{}

func withLoopMarker(ctx context.Context) context.Context {
	return context.WithValue(ctx, loopMarkerKey{}, true)
}

// OnLoop reports whether ctx descends from the dispatcher's own Run loop,
// as opposed to an arbitrary external caller's context.
func OnLoop(ctx context.Context) bool {
	v, _ := ctx.Value(loopMarkerKey{}).(bool)
	return v
}

// Handler resolves one RPC against a tile. A true pending return means the
// dispatcher should hold the caller's responder open for a later
// FinishAsync rather than complete it now.
type Handler interface {
	HandleRPC(ctx context.Context, address, rpcID uint16, payload []byte) (resp []byte, pending bool, err error)
}

type workItem struct {
	address   uint16
	rpcID     uint16
	payload   []byte
	responder chan result
}

type result struct {
	payload []byte
	err     error
}

type pendingAsync struct {
	rpcID     uint16
	responder chan result
}

// rpcError is this package's narrow error type, classified by Kind rather
// than by Go type, so it can be wrapped into *tilesim.Error at the top
// level without this package importing it back (which would cycle).
type rpcError struct {
	kind string
	msg  string
}

func (e *rpcError) Error() string { return e.msg }

// Error kind classifications, mirrored by tilesim.Kind at the top level.
const (
	KindBusy        = "busy"
	KindWrongThread = "wrong_thread"
)

// Kind reports the classification of an error returned by this package, or
// "" if err did not originate here.
func Kind(err error) string {
	if e, ok := err.(*rpcError); ok {
		return e.kind
	}
	return ""
}

func busyError(address uint16) error {
	return &rpcError{kind: KindBusy, msg: fmt.Sprintf("tile %d already has an rpc in flight", address)}
}

func wrongThreadError(op, reason string) error {
	return &rpcError{kind: KindWrongThread, msg: fmt.Sprintf("%s %s", op, reason)}
}

// Dispatcher is the single-consumer RPC queue.
type Dispatcher struct {
	handler Handler
	log     interfaces.Logger
	obs     interfaces.Observer

	items chan workItem

	mu      sync.Mutex
	pending map[uint16]pendingAsync
}

// New creates a Dispatcher. log and obs may be nil.
func New(handler Handler, log interfaces.Logger, obs interfaces.Observer) *Dispatcher {
	return &Dispatcher{
		handler: handler,
		log:     log,
		obs:     obs,
		items:   make(chan workItem, 64),
		pending: make(map[uint16]pendingAsync),
	}
}

// Run drains the queue until ctx is cancelled. It is meant to run for the
// lifetime of the device in its own goroutine; every context this
// dispatcher hands to the handler (and that FinishAsync/CallRPCInternal
// must be called with) descends from this call's ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	loopCtx := withLoopMarker(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-d.items:
			d.process(loopCtx, item)
		}
	}
}

func (d *Dispatcher) process(loopCtx context.Context, item workItem) {
	start := time.Now()

	d.mu.Lock()
	_, busy := d.pending[item.address]
	d.mu.Unlock()
	if busy {
		item.responder <- result{err: busyError(item.address)}
		d.observe(item.address, item.rpcID, start, false, false)
		return
	}

	resp, pending, err := d.handler.HandleRPC(loopCtx, item.address, item.rpcID, item.payload)
	if err != nil {
		item.responder <- result{err: err}
		d.observe(item.address, item.rpcID, start, false, false)
		return
	}

	if pending {
		d.mu.Lock()
		d.pending[item.address] = pendingAsync{rpcID: item.rpcID, responder: item.responder}
		d.mu.Unlock()
		d.observe(item.address, item.rpcID, start, true, true)
		return
	}

	item.responder <- result{payload: resp}
	d.observe(item.address, item.rpcID, start, false, true)
}

func (d *Dispatcher) observe(address, rpcID uint16, start time.Time, async, success bool) {
	if d.obs == nil {
		return
	}
	d.obs.ObserveRPC(address, rpcID, uint64(time.Since(start).Nanoseconds()), async, success)
}

// CallRPCExternal is the external boundary: it blocks the calling goroutine
// until a response or error has been recorded, per §4.1's "from the
// caller's point of view every RPC is synchronous" rule. It refuses to run
// from within the loop, per §4.1's thread-safety rule.
func (d *Dispatcher) CallRPCExternal(ctx context.Context, address, rpcID uint16, payload []byte) ([]byte, error) {
	if OnLoop(ctx) {
		return nil, wrongThreadError("call_rpc_external", "must not be called from within the emulation loop")
	}

	responder := make(chan result, 1)
	item := workItem{address: address, rpcID: rpcID, payload: payload, responder: responder}

	select {
	case d.items <- item:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-responder:
		return r.payload, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallRPCInternal invokes the handler directly, without going through the
// queue: the caller (a sensor-graph call_rpc processing function or a tile
// manager background task) is already executing on the dispatcher's own
// goroutine, so enqueuing and blocking on the same single-threaded queue
// would deadlock. It refuses to run from outside the loop. A nested RPC
// that itself returns PendingAsync is reported as an error, since a
// synchronous processing function has no way to wait for it.
func (d *Dispatcher) CallRPCInternal(ctx context.Context, address, rpcID uint16, payload []byte) ([]byte, error) {
	if !OnLoop(ctx) {
		return nil, wrongThreadError("call_rpc_internal", "must be called from within the emulation loop")
	}

	d.mu.Lock()
	_, busy := d.pending[address]
	d.mu.Unlock()
	if busy {
		return nil, busyError(address)
	}

	resp, pending, err := d.handler.HandleRPC(ctx, address, rpcID, payload)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, fmt.Errorf("rpc %d to address %d returned an asynchronous result from a nested call, which is not supported", rpcID, address)
	}
	return resp, nil
}

// CallRPC implements interfaces.RPCExecutor for on-loop collaborators.
func (d *Dispatcher) CallRPC(ctx context.Context, address, rpcID uint16, payload []byte) ([]byte, error) {
	return d.CallRPCInternal(ctx, address, rpcID, payload)
}

// FinishAsync completes a previously pending asynchronous RPC. Callable
// only from within the loop.
func (d *Dispatcher) FinishAsync(ctx context.Context, address, rpcID uint16, payload []byte, rpcErr error) error {
	if !OnLoop(ctx) {
		return wrongThreadError("finish_async_rpc", "must be called from within the emulation loop")
	}

	d.mu.Lock()
	p, ok := d.pending[address]
	if !ok || p.rpcID != rpcID {
		d.mu.Unlock()
		return fmt.Errorf("no pending async rpc %d for address %d", rpcID, address)
	}
	delete(d.pending, address)
	d.mu.Unlock()

	p.responder <- result{payload: payload, err: rpcErr}
	return nil
}

// Empty reports whether the dispatcher has no queued work and no in-flight
// asynchronous RPCs, satisfying the emulation loop's idle-source contract.
func (d *Dispatcher) Empty() bool {
	d.mu.Lock()
	n := len(d.pending)
	d.mu.Unlock()
	return n == 0 && len(d.items) == 0
}

var _ interfaces.RPCExecutor = (*Dispatcher)(nil)
