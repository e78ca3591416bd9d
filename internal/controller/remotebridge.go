package controller

import (
	"context"
	"sync"

	"github.com/tilesim/tilesim/internal/loop"
)

// BridgeStatus is the remote bridge's state machine position.
type BridgeStatus int

const (
	BridgeIdle BridgeStatus = iota
	BridgeWaiting
	BridgeReceived
)

// RemoteBridge implements the firmware-update script loader's state
// machine: IDLE -> WAITING -> RECEIVED -> (IDLE | error), per §4.5.
// Illegal transitions report a nonzero status without mutating state,
// following the original's begin/end/trigger/reset_script RPC quartet.
type RemoteBridge struct {
	mu sync.Mutex

	status BridgeStatus
	script []byte
	err    error

	initialized *loop.Event
}

// NewRemoteBridge creates a bridge starting in the idle state.
func NewRemoteBridge() *RemoteBridge {
	return &RemoteBridge{initialized: loop.NewEvent()}
}

// Status reports the bridge's current state.
func (b *RemoteBridge) Status() BridgeStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// LastError reports the error recorded by the most recent failed
// TriggerScript call, or nil.
func (b *RemoteBridge) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// BeginScript starts receiving a new update script. Legal from IDLE only;
// called while WAITING or RECEIVED returns a nonzero status untouched.
func (b *RemoteBridge) BeginScript() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status != BridgeIdle {
		return 1
	}

	b.status = BridgeWaiting
	b.err = nil
	b.script = nil
	return 0
}

// AppendData appends a chunk of script bytes while WAITING.
func (b *RemoteBridge) AppendData(chunk []byte) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status != BridgeWaiting {
		return 1
	}
	b.script = append(b.script, chunk...)
	return 0
}

// EndScript marks the script complete, transitioning WAITING -> RECEIVED.
func (b *RemoteBridge) EndScript() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status != BridgeWaiting {
		return 1
	}
	b.status = BridgeReceived
	return 0
}

// TriggerScript validates and "executes" (parses only, per the original's
// unimplemented execution path) a received script, returning to IDLE on
// success or recording an error and staying in RECEIVED on failure.
func (b *RemoteBridge) TriggerScript(parse func([]byte) error) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status != BridgeReceived {
		return 1
	}

	if parse != nil {
		if err := parse(b.script); err != nil {
			b.err = err
			return 0
		}
	}

	b.status = BridgeIdle
	b.err = nil
	return 0
}

// ResetScript clears any partially received script and returns to IDLE
// unconditionally.
func (b *RemoteBridge) ResetScript() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.status = BridgeIdle
	b.err = nil
	b.script = nil
	return 0
}

// RemoteBridgeState is the serializable snapshot of a remote bridge: its
// state-machine position and any partially received script. The last
// parse error is deliberately not carried across a snapshot boundary, since
// an error value has no stable serialized form and restoring one that
// happened before the snapshot was taken would be misleading.
type RemoteBridgeState struct {
	Status BridgeStatus
	Script []byte
}

// Dump returns the bridge's current state-machine position and buffer.
func (b *RemoteBridge) Dump() RemoteBridgeState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return RemoteBridgeState{Status: b.status, Script: append([]byte(nil), b.script...)}
}

// Restore replaces the bridge's state-machine position and buffer with a
// previously dumped state, clearing any recorded parse error.
func (b *RemoteBridge) Restore(state RemoteBridgeState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = state.Status
	b.script = append([]byte(nil), state.Script...)
	b.err = nil
}

// ClearToReset returns the bridge to its post-reset state.
func (b *RemoteBridge) ClearToReset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = BridgeIdle
	b.err = nil
	b.script = nil
	b.initialized.Reset()
}

// Initialized reports the event a reset vector awaits.
func (b *RemoteBridge) Initialized() *loop.Event { return b.initialized }

// ResetVector marks the subsystem initialized.
func (b *RemoteBridge) ResetVector(ctx context.Context) {
	b.initialized.Signal()
}
