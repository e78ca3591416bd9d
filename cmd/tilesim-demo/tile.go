package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tilesim/tilesim"
	"github.com/tilesim/tilesim/internal/rpcqueue"
	"github.com/tilesim/tilesim/internal/wire"
)

// Well-known RPC ids this tile answers, matching the original reference
// emulator's demo peripheral.
const (
	rpcAsyncEcho = 0x8000
	rpcSyncEcho  = 0x8001
	rpcCounter   = 0x8002
)

// Config variable ids this tile declares on the controller.
const (
	configVarA = 0x8000 // uint32_t
	configVarB = 0x8001 // uint8_t[16]
)

// demoWork is one deferred echo, capturing the dispatcher-marked context
// the async RPC was originally invoked with: FinishAsyncRPC must be called
// with a context descending from the dispatcher's own Run loop, which is
// exactly the context HandleRPC received, not a context derived from this
// tile's own background task.
type demoWork struct {
	ctx   context.Context
	rpcID uint16
	arg   uint32
}

// demoTile is a peripheral showing the three kinds of RPC a tile can
// answer with: a plain synchronous RPC, one deferred to a background task,
// and one that just counts its own calls.
type demoTile struct {
	address uint16
	device  *tilesim.Device

	counter atomic.Uint32
	work    chan demoWork
}

func newDemoTile(address uint16, device *tilesim.Device) *demoTile {
	return &demoTile{
		address: address,
		device:  device,
		work:    make(chan demoWork, 16),
	}
}

// attach registers this tile's RPC handler and starts its background
// worker task, the Go analog of an EmulatedPeripheralTile's
// _application_main: it drains queued async echo work until the tile (or
// the device) is reset.
func (t *demoTile) attach() {
	t.device.AddTile(t.address, t)
	t.device.RegisterTileTask(t.address, t.run)
}

func (t *demoTile) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-t.work:
			_ = t.device.FinishAsyncRPC(item.ctx, t.address, item.rpcID, wire.MarshalU32(item.arg), nil)
		}
	}
}

// HandleRPC implements rpcqueue.Handler.
func (t *demoTile) HandleRPC(ctx context.Context, address, rpcID uint16, payload []byte) ([]byte, bool, error) {
	switch rpcID {
	case rpcSyncEcho:
		arg, err := wire.UnmarshalU32(payload)
		if err != nil {
			return nil, false, err
		}
		return wire.MarshalU32(arg), false, nil

	case rpcAsyncEcho:
		arg, err := wire.UnmarshalU32(payload)
		if err != nil {
			return nil, false, err
		}
		t.work <- demoWork{ctx: ctx, rpcID: rpcID, arg: arg}
		return nil, true, nil

	case rpcCounter:
		value := t.counter.Add(1) - 1
		return wire.MarshalU32(value), false, nil

	default:
		return nil, false, fmt.Errorf("demotile: no handler for rpc %#x", rpcID)
	}
}

var _ rpcqueue.Handler = (*demoTile)(nil)
