// Package controller implements the four always-on controller subsystems
// described in §4.5: the tile manager, the config database, the remote
// bridge script loader, and the clock manager. The tile manager, remote
// bridge and clock manager each expose ClearToReset and an initialized event
// so the top-level reset vector can drive them uniformly; the config
// database has neither and keeps its entries across a reset. The package
// follows the struct-holding-a-logger-and-mutex-guarded-table
// idiom of the teacher's internal/ctrl/control.go.
package controller

import (
	"fmt"
	"sync"

	"github.com/tilesim/tilesim/internal/wire"
)

// configEntry is one append-only config database record, targeting a tile
// selector and variable id with a chunk of raw little-endian value bytes.
type configEntry struct {
	target Selector
	varID  uint16
	data   []byte
	valid  bool
}

// dataSpace is how much of the data capacity this entry consumes.
func (e *configEntry) dataSpace() int { return len(e.data) }

// controlSpace is how much of the control capacity this entry consumes;
// matches the original's fixed per-entry control record size.
const controlSpaceBytes = 16

// Selector identifies which tile(s) a config entry targets: a specific
// slot, or a name match across every tile sharing that 6-byte name.
type Selector struct {
	Slot *uint8 // nil means "match by name" rather than by slot
	Name [6]byte
}

// SlotSelector targets one specific tile slot.
func SlotSelector(slot uint8) Selector {
	return Selector{Slot: &slot}
}

// NameSelector targets every tile whose registered name matches.
func NameSelector(name [6]byte) Selector {
	return Selector{Name: name}
}

func (s Selector) String() string {
	if s.Slot != nil {
		return fmt.Sprintf("slot %d", *s.Slot)
	}
	return fmt.Sprintf("name %q", string(s.Name[:]))
}

// matches reports whether this selector targets the tile registered at the
// given slot with the given name.
func (s Selector) matches(slot uint8, name [6]byte) bool {
	if s.Slot != nil {
		return *s.Slot == slot
	}
	return s.Name == name
}

// ConfigDatabase is the append-only log of config variable entries
// recorded for tiles to pick up on registration, per §4.5.
type ConfigDatabase struct {
	mu sync.Mutex

	controlSize int
	dataSize    int

	entries   []*configEntry
	dataIndex int
}

// NewConfigDatabase creates a database bounded by the given control and
// data capacities, in bytes.
func NewConfigDatabase(controlSize, dataSize int) *ConfigDatabase {
	return &ConfigDatabase{controlSize: controlSize, dataSize: dataSize}
}

// MaxEntries reports the largest number of entries the control capacity
// can ever hold (one slot is reserved, matching the original's bookkeeping
// convention).
func (db *ConfigDatabase) MaxEntries() int {
	return db.controlSize/controlSpaceBytes - 1
}

// Add records a new entry for target/varID, invalidating any earlier entry
// with the same (target, varID) pair so Compact can reclaim it later.
func (db *ConfigDatabase) Add(target Selector, varID uint16, data []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.dataSize-db.dataIndex < len(data) {
		return &controllerError{kind: KindInvalidArgument, msg: fmt.Sprintf("config database: not enough data space for %d bytes (have %d)", len(data), db.dataSize-db.dataIndex)}
	}
	if limit := db.controlSize/controlSpaceBytes - 1; len(db.entries) >= limit {
		return &controllerError{kind: KindInvalidArgument, msg: fmt.Sprintf("config database: control space full at %d entries", limit)}
	}

	for _, e := range db.entries {
		if e.valid && e.target == target && e.varID == varID {
			e.valid = false
		}
	}

	entry := &configEntry{target: target, varID: varID, data: append([]byte(nil), data...), valid: true}
	db.entries = append(db.entries, entry)
	db.dataIndex += entry.dataSpace()
	return nil
}

// Compact removes every invalidated entry, reclaiming its data space.
func (db *ConfigDatabase) Compact() {
	db.mu.Lock()
	defer db.mu.Unlock()

	kept := db.entries[:0]
	for _, e := range db.entries {
		if !e.valid {
			db.dataIndex -= e.dataSpace()
			continue
		}
		kept = append(kept, e)
	}
	db.entries = kept
}

// Clear drops every entry and resets capacity accounting.
func (db *ConfigDatabase) Clear() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.entries = nil
	db.dataIndex = 0
}

// Count reports the number of live (valid) entries and the total stored
// (including invalidated, pre-Compact) entries.
func (db *ConfigDatabase) Count() (valid, total int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, e := range db.entries {
		if e.valid {
			valid++
		}
	}
	return valid, len(db.entries)
}

// StreamMatching returns the ordered SET_CONFIG_VARIABLE RPC payloads
// needed to push every valid entry matching (slot, name) to address,
// chunked to the wire's 16-byte-per-RPC limit.
func (db *ConfigDatabase) StreamMatching(address uint16, slot uint8, name [6]byte) ([]RPCCall, error) {
	db.mu.Lock()
	matching := make([]*configEntry, 0, len(db.entries))
	for _, e := range db.entries {
		if e.valid && e.target.matches(slot, name) {
			matching = append(matching, e)
		}
	}
	db.mu.Unlock()

	var calls []RPCCall
	for _, e := range matching {
		for offset := 0; offset < len(e.data); offset += 16 {
			end := offset + 16
			if end > len(e.data) {
				end = len(e.data)
			}
			args := wire.SetConfigVariableArgs{ConfigID: e.varID, Offset: uint16(offset), Data: e.data[offset:end]}
			payload, err := wire.MarshalSetConfigVariableArgs(args)
			if err != nil {
				return nil, err
			}
			calls = append(calls, RPCCall{Address: address, RPCID: setConfigVariableRPC, Payload: payload})
		}
	}
	return calls, nil
}

// RPCCall is one queued RPC invocation: the address of the target tile,
// its well-known RPC id, and the already-marshalled argument payload.
type RPCCall struct {
	Address uint16
	RPCID   uint16
	Payload []byte
}

const setConfigVariableRPC = 12

// ConfigEntryState is one entry of a dumped config database, serialized in
// insertion order (invalidated entries included, matching the database's
// own pre-Compact bookkeeping).
type ConfigEntryState struct {
	Target Selector
	VarID  uint16
	Data   []byte
	Valid  bool
}

// Dump returns every entry currently held, in insertion order.
func (db *ConfigDatabase) Dump() []ConfigEntryState {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make([]ConfigEntryState, 0, len(db.entries))
	for _, e := range db.entries {
		out = append(out, ConfigEntryState{
			Target: e.target,
			VarID:  e.varID,
			Data:   append([]byte(nil), e.data...),
			Valid:  e.valid,
		})
	}
	return out
}

// Restore replaces the database's contents with a previously dumped state.
func (db *ConfigDatabase) Restore(state []ConfigEntryState) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.entries = make([]*configEntry, 0, len(state))
	db.dataIndex = 0
	for _, s := range state {
		entry := &configEntry{target: s.Target, varID: s.VarID, data: append([]byte(nil), s.Data...), valid: s.Valid}
		db.entries = append(db.entries, entry)
		db.dataIndex += entry.dataSpace()
	}
}
