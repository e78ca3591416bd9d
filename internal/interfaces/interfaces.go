// Package interfaces holds the small set of interface types shared across
// internal packages, kept separate to avoid import cycles between the
// top-level package and its internal subpackages.
package interfaces

import "context"

// Logger is the minimal logging surface internal packages depend on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Observer receives metrics events from the emulation loop. Implementations
// must be safe for concurrent use: ObserveRPC is called from the dispatcher
// goroutine, but ObserveNodeEval and ObserveStreamerReport may be called
// synchronously from within it as well.
type Observer interface {
	ObserveRPC(address uint16, rpcID uint16, latencyNs uint64, async bool, success bool)
	ObserveNodeEval(triggered bool, readingsEmitted int)
	ObserveStreamerReport(streamerIndex int, readingCount int, bytes int)
	ObserveRollover(bufferName string, erased int)
}

// RPCExecutor is the collaborator used by sensor-graph processing functions
// (call_rpc) and by the tile manager to invoke RPCs against a tile address.
// A mock returns zero by default; a recorded map can be used for tests; a
// real implementation bridges to the emulation loop's dispatcher.
type RPCExecutor interface {
	CallRPC(ctx context.Context, address uint16, rpcID uint16, payload []byte) ([]byte, error)
}

// Transport stands in for the out-of-scope BLE/GATT and websocket
// collaborators. No implementation of it is included in this repository;
// any real transport is an external collaborator.
type Transport interface {
	Send(frame []byte) error
	Recv() <-chan []byte
	Close() error
}

// Signer stands in for the delegated cryptographic signing primitive used
// by SignedList report formats. Only a no-op implementation is provided
// here; real signing is an external collaborator.
type Signer interface {
	Sign(payload []byte) ([]byte, error)
}
