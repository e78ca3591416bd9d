package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/tilesim/tilesim/internal/loop"
)

// RunLevel is the run-level value returned to a tile in its REGISTER_TILE
// response, telling it how to proceed after registration.
type RunLevel uint16

const (
	RunLevelStartOnCommand RunLevel = 0
	RunLevelSafeMode       RunLevel = 1
)

// TileState tracks a registered tile's progress through the config/start
// handshake.
type TileState int

const (
	TileStateJustRegistered TileState = iota
	TileStateBeingConfigured
	TileStateSafeMode
	TileStateRunning
)

// TileInfo is one entry in the tile manager's registration table.
type TileInfo struct {
	HWType    uint8
	Name      [6]byte
	APIMajor  uint8
	APIMinor  uint8
	FWVersion [3]uint8
	ExecInfo  [3]uint8
	Slot      uint8
	UniqueID  uint32
	Address   uint16
	State     TileState
}

// Executor submits an RPC call on behalf of a controller subsystem; backed
// by the emulation loop's rpcqueue.Dispatcher in production, or a fake in
// tests.
type Executor interface {
	CallRPC(ctx context.Context, address, rpcID uint16, payload []byte) ([]byte, error)
}

const startApplicationRPC = 6

// registrationQueueSize bounds how many just-registered tiles can be
// waiting on their config-then-start handshake at once. Sized generously;
// a full queue indicates tiles registering far faster than Run can drain
// them, not a size worth tuning per device.
const registrationQueueSize = 64

// registrationJob is one tile's queued config-streaming-then-start work,
// handed off from RegisterTile to Run.
type registrationJob struct {
	info  *TileInfo
	calls []RPCCall
}

// TileManager is the controller subsystem that tracks registered tiles and
// drives their config-streaming-then-start handshake, per §4.5.
type TileManager struct {
	configDB *ConfigDatabase
	exec     Executor

	mu        sync.Mutex
	tiles     map[uint8]*TileInfo // keyed by slot
	safeMode  bool
	debugMode bool

	queue chan registrationJob

	initialized *loop.Event
}

// NewTileManager creates a tile manager backed by configDB for config
// streaming and exec for issuing RPCs to newly registered tiles.
func NewTileManager(configDB *ConfigDatabase, exec Executor) *TileManager {
	return &TileManager{
		configDB:    configDB,
		exec:        exec,
		tiles:       make(map[uint8]*TileInfo),
		queue:       make(chan registrationJob, registrationQueueSize),
		initialized: loop.NewEvent(),
	}
}

// SetSafeMode toggles whether newly registered tiles skip config streaming
// and receive RunLevel.SAFE_MODE instead of starting normally.
func (m *TileManager) SetSafeMode(safe bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.safeMode = safe
}

// RegisterTile handles a REGISTER_TILE call: it assigns the tile's bus
// address, records it in the table, and (outside of safe mode) queues its
// matching config variables and START_APPLICATION for Run to stream in the
// background, returning the assigned address and run level immediately.
// The registering tile does not wait out its own config handshake to get
// an acknowledgement, and a failure partway through that handshake is
// isolated to the queued job rather than surfacing as a REGISTER_TILE
// error, matching tile_manager.py's register_tile/_reset_vector split.
func (m *TileManager) RegisterTile(ctx context.Context, hwType, apiMajor, apiMinor uint8, name [6]byte, fw, exec [3]uint8, slot uint8, uniqueID uint32) (address uint16, runLevel RunLevel, debugMode uint8, err error) {
	address = 10 + uint16(slot)

	m.mu.Lock()
	safe := m.safeMode
	debug := m.debugMode
	info := &TileInfo{
		HWType: hwType, Name: name, APIMajor: apiMajor, APIMinor: apiMinor,
		FWVersion: fw, ExecInfo: exec, Slot: slot, UniqueID: uniqueID,
		Address: address,
	}
	if safe {
		info.State = TileStateSafeMode
	} else {
		info.State = TileStateBeingConfigured
	}
	m.tiles[slot] = info
	m.mu.Unlock()

	debugVal := uint8(0)
	if debug {
		debugVal = 1
	}

	if safe {
		return address, RunLevelSafeMode, debugVal, nil
	}

	calls, err := m.configDB.StreamMatching(address, slot, name)
	if err != nil {
		return 0, 0, 0, err
	}

	select {
	case m.queue <- registrationJob{info: info, calls: calls}:
	default:
		return 0, 0, 0, fmt.Errorf("tile manager: registration queue is full")
	}

	return address, RunLevelStartOnCommand, debugVal, nil
}

// Run drains queued tile registrations, streaming each one's matching
// config variables and then START_APPLICATION, mirroring
// tile_manager.py's detached _reset_vector task so a slow or failing
// config handshake never blocks the REGISTER_TILE response itself.
// Intended to be registered as the tile manager's device-wide task via
// loop.Loop.RegisterTask, the same way the clock manager registers Run.
func (m *TileManager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.queue:
			m.runJob(ctx, job)
		}
	}
}

// runJob streams job's config RPCs and then START_APPLICATION to its
// tile's address. A failed call abandons the job where it stands, leaving
// the tile parked in TileStateBeingConfigured rather than retrying or
// propagating the failure anywhere a caller could observe it, the same
// fire-and-forget handling the clock manager gives a failed tick push.
func (m *TileManager) runJob(ctx context.Context, job registrationJob) {
	for _, call := range job.calls {
		if _, err := m.exec.CallRPC(ctx, call.Address, call.RPCID, call.Payload); err != nil {
			return
		}
	}
	if _, err := m.exec.CallRPC(ctx, job.info.Address, startApplicationRPC, nil); err != nil {
		return
	}

	m.mu.Lock()
	job.info.State = TileStateRunning
	m.mu.Unlock()
}

// Empty reports whether every queued registration has been streamed,
// satisfying loop.WorkSource so WaitIdle can observe a pending handshake.
func (m *TileManager) Empty() bool {
	return len(m.queue) == 0
}

// Tiles returns a snapshot of every registered tile, ordered by slot.
func (m *TileManager) Tiles() []TileInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TileInfo, 0, len(m.tiles))
	for _, info := range m.tiles {
		out = append(out, *info)
	}
	sortTilesBySlot(out)
	return out
}

func sortTilesBySlot(tiles []TileInfo) {
	for i := 1; i < len(tiles); i++ {
		for j := i; j > 0 && tiles[j-1].Slot > tiles[j].Slot; j-- {
			tiles[j-1], tiles[j] = tiles[j], tiles[j-1]
		}
	}
}

// TileManagerState is the serializable snapshot of a tile manager's
// registration table.
type TileManagerState struct {
	Tiles     []TileInfo
	SafeMode  bool
	DebugMode bool
}

// Dump returns the tile table and mode flags, ordered by slot.
func (m *TileManager) Dump() TileManagerState {
	m.mu.Lock()
	defer m.mu.Unlock()

	tiles := make([]TileInfo, 0, len(m.tiles))
	for _, info := range m.tiles {
		tiles = append(tiles, *info)
	}
	sortTilesBySlot(tiles)
	return TileManagerState{Tiles: tiles, SafeMode: m.safeMode, DebugMode: m.debugMode}
}

// Restore replaces the tile table and mode flags with a previously dumped
// state.
func (m *TileManager) Restore(state TileManagerState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tiles = make(map[uint8]*TileInfo, len(state.Tiles))
	for i := range state.Tiles {
		info := state.Tiles[i]
		m.tiles[info.Slot] = &info
	}
	m.safeMode = state.SafeMode
	m.debugMode = state.DebugMode
}

// ClearToReset drops every tile registration except the controller's own
// (slot 0), per §4.5's reset vector.
func (m *TileManager) ClearToReset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for slot := range m.tiles {
		if slot != 0 {
			delete(m.tiles, slot)
		}
	}
	m.safeMode = false
	m.debugMode = false
	m.initialized.Reset()
}

// Initialized reports the event a reset vector awaits to know the tile
// manager is ready to accept registrations again.
func (m *TileManager) Initialized() *loop.Event { return m.initialized }

// ResetVector marks the subsystem initialized; there is no further
// asynchronous setup work for the tile manager itself.
func (m *TileManager) ResetVector(ctx context.Context) {
	m.initialized.Signal()
}
