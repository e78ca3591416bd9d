package controller

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/tilesim/tilesim/internal/loop"
	"github.com/tilesim/tilesim/internal/wire"
)

// Well-known RPC ids exercised by Controller.HandleRPC, per §6 and the
// remote bridge's script-loading quartet.
const (
	rpcReset                   = 1
	rpcStartApplication        = 6
	rpcListConfigVariables     = 10
	rpcDescribeConfigVariable  = 11
	rpcSetConfigVariable       = 12
	rpcGetConfigVariable       = 13
	rpcRegisterTile            = 0x2a00
	rpcBeginScript             = 0x2100
	rpcEndScript               = 0x2102
	rpcTriggerScript           = 0x2103
	rpcQueryRemoteBridgeStatus = 0x2104
	rpcResetScript             = 0x2105
)

// ConfigVarDescriptor declares one config variable the controller exposes
// through LIST/DESCRIBE/GET/SET_CONFIG_VARIABLE.
type ConfigVarDescriptor struct {
	ID           uint16
	DefaultValue uint32
	ConfigType   uint16
	Flags        uint16
}

// subsystem is the uniform shape every controller subsystem exposes to the
// reset vector, per §4.5.
type subsystem interface {
	ClearToReset()
	Initialized() *loop.Event
	ResetVector(ctx context.Context)
}

// Controller is the device's own tile: it owns the config database, the
// tile manager, the remote bridge, and the clock manager, and answers the
// controller-addressed RPCs named in §6.
type Controller struct {
	address uint16
	slot    uint8
	name    [6]byte

	configDB     *ConfigDatabase
	tileManager  *TileManager
	remoteBridge *RemoteBridge
	clockManager *ClockManager
	exec         Executor

	descriptors map[uint16]ConfigVarDescriptor
	values      map[uint16][]byte
}

// NewController wires the four subsystems into one controller tile
// addressed at address, identified by name for config-database matching.
func NewController(address uint16, name [6]byte, configDB *ConfigDatabase, tileManager *TileManager, remoteBridge *RemoteBridge, clockManager *ClockManager, exec Executor) *Controller {
	return &Controller{
		address:      address,
		name:         name,
		configDB:     configDB,
		tileManager:  tileManager,
		remoteBridge: remoteBridge,
		clockManager: clockManager,
		exec:         exec,
		descriptors:  make(map[uint16]ConfigVarDescriptor),
		values:       make(map[uint16][]byte),
	}
}

// ConfigDB returns the controller's config database, so a caller can seed
// config variables against a slot or name before the tile that consumes
// them ever registers.
func (c *Controller) ConfigDB() *ConfigDatabase { return c.configDB }

// DeclareConfigVariable registers a config variable the controller will
// answer LIST/DESCRIBE/GET/SET_CONFIG_VARIABLE RPCs about.
func (c *Controller) DeclareConfigVariable(desc ConfigVarDescriptor) {
	c.descriptors[desc.ID] = desc
}

func (c *Controller) defaultBytes(desc ConfigVarDescriptor) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, desc.DefaultValue)
	return buf
}

// Reset runs the reset vector described in §4.5: stream the recorded
// config variables to the controller itself through the RPC queue, latch
// them, invoke ClearToReset on every subsystem in registration order,
// await each subsystem's initialized event with a bounded timeout, then
// reset every peripheral tile in descending slot order via resetTile.
func (c *Controller) Reset(ctx context.Context, timeout time.Duration, resetTile func(slot uint8)) error {
	calls, err := c.configDB.StreamMatching(c.address, c.slot, c.name)
	if err != nil {
		return err
	}
	for _, call := range calls {
		if _, err := c.exec.CallRPC(ctx, call.Address, call.RPCID, call.Payload); err != nil {
			return err
		}
	}

	// Snapshot the tile roster before ClearToReset prunes it below, so the
	// peripherals reset at the end of this vector are the ones that were
	// actually registered going into this reset, not whatever (if anything)
	// survives the tile manager's own clear.
	priorTiles := descendingSlots(c.tileManager.Tiles())

	subsystems := []subsystem{c.tileManager, c.remoteBridge, c.clockManager}
	for _, s := range subsystems {
		s.ClearToReset()
	}
	for _, s := range subsystems {
		s.ResetVector(ctx)
	}
	for _, s := range subsystems {
		deadline, cancel := context.WithTimeout(ctx, timeout)
		ok := s.Initialized().Wait(deadline.Done())
		cancel()
		if !ok {
			return fmt.Errorf("controller reset: subsystem did not initialize within %s", timeout)
		}
	}

	if resetTile != nil {
		for _, slot := range priorTiles {
			resetTile(slot)
		}
	}

	return nil
}

// ControllerState is the serializable snapshot of the controller's own
// config-variable values and every subsystem's state, per §6's snapshot
// format ("controller subsystem states: tile table, config DB, remote
// bridge state"). Declared config-variable descriptors are not part of
// this state: they are fixed at startup by DeclareConfigVariable calls,
// not by runtime mutation, so only the latched values need restoring.
type ControllerState struct {
	Values       map[uint16][]byte
	ConfigDB     []ConfigEntryState
	TileManager  TileManagerState
	RemoteBridge RemoteBridgeState
	ClockManager ClockManagerState
}

// Dump returns every piece of this controller's runtime state.
func (c *Controller) Dump() ControllerState {
	values := make(map[uint16][]byte, len(c.values))
	for id, data := range c.values {
		values[id] = append([]byte(nil), data...)
	}
	return ControllerState{
		Values:       values,
		ConfigDB:     c.configDB.Dump(),
		TileManager:  c.tileManager.Dump(),
		RemoteBridge: c.remoteBridge.Dump(),
		ClockManager: c.clockManager.Dump(),
	}
}

// Restore replaces this controller's runtime state, and every subsystem's,
// with a previously dumped snapshot.
func (c *Controller) Restore(state ControllerState) {
	values := make(map[uint16][]byte, len(state.Values))
	for id, data := range state.Values {
		values[id] = append([]byte(nil), data...)
	}
	c.values = values

	c.configDB.Restore(state.ConfigDB)
	c.tileManager.Restore(state.TileManager)
	c.remoteBridge.Restore(state.RemoteBridge)
	c.clockManager.Restore(state.ClockManager)
}

func descendingSlots(tiles []TileInfo) []uint8 {
	slots := make([]uint8, 0, len(tiles))
	for _, t := range tiles {
		slots = append(slots, t.Slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] > slots[j] })
	return slots
}

// HandleRPC answers every RPC addressed to the controller itself. It
// satisfies rpcqueue.Handler's signature so a device's top-level dispatch
// can route address == c.address calls here directly.
func (c *Controller) HandleRPC(ctx context.Context, address, rpcID uint16, payload []byte) (resp []byte, pending bool, err error) {
	if address != c.address {
		return nil, false, fmt.Errorf("controller: rpc addressed to %d, not %d", address, c.address)
	}

	switch rpcID {
	case rpcSetConfigVariable:
		return c.handleSetConfigVariable(payload)
	case rpcGetConfigVariable:
		return c.handleGetConfigVariable(payload)
	case rpcListConfigVariables:
		return c.handleListConfigVariables(), false, nil
	case rpcDescribeConfigVariable:
		return c.handleDescribeConfigVariable(payload)
	case rpcRegisterTile:
		return c.handleRegisterTile(ctx, payload)
	case rpcBeginScript:
		return wire.MarshalU32(c.remoteBridge.BeginScript()), false, nil
	case rpcEndScript:
		return wire.MarshalU32(c.remoteBridge.EndScript()), false, nil
	case rpcTriggerScript:
		return wire.MarshalU32(c.remoteBridge.TriggerScript(nil)), false, nil
	case rpcResetScript:
		return wire.MarshalU32(c.remoteBridge.ResetScript()), false, nil
	case rpcQueryRemoteBridgeStatus:
		return c.handleQueryRemoteBridgeStatus(), false, nil
	case rpcStartApplication, rpcReset:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("controller: no handler for rpc %#x", rpcID)
	}
}

func (c *Controller) handleSetConfigVariable(payload []byte) ([]byte, bool, error) {
	args, err := wire.UnmarshalSetConfigVariableArgs(payload)
	if err != nil {
		return nil, false, err
	}

	if _, ok := c.descriptors[args.ConfigID]; !ok {
		return wire.MarshalSetConfigVariableResp(1), false, nil
	}

	buf := c.values[args.ConfigID]
	need := int(args.Offset) + len(args.Data)
	if len(buf) < need {
		grown := make([]byte, need)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[args.Offset:], args.Data)
	c.values[args.ConfigID] = buf

	return wire.MarshalSetConfigVariableResp(0), false, nil
}

func (c *Controller) handleGetConfigVariable(payload []byte) ([]byte, bool, error) {
	args, err := wire.UnmarshalGetConfigVariableArgs(payload)
	if err != nil {
		return nil, false, err
	}

	desc, ok := c.descriptors[args.ConfigID]
	if !ok {
		return nil, false, nil
	}

	buf, ok := c.values[args.ConfigID]
	if !ok {
		buf = c.defaultBytes(desc)
	}

	end := int(args.Offset) + 16
	if end > len(buf) {
		end = len(buf)
	}
	if int(args.Offset) > len(buf) {
		return nil, false, nil
	}
	return append([]byte(nil), buf[args.Offset:end]...), false, nil
}

func (c *Controller) handleListConfigVariables() []byte {
	ids := make([]uint16, 0, len(c.descriptors))
	for id := range c.descriptors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	resp := wire.ListConfigVariablesResp{Count: uint16(len(ids))}
	for i := 0; i < len(ids) && i < len(resp.ConfigIDs); i++ {
		resp.ConfigIDs[i] = ids[i]
	}
	return wire.MarshalListConfigVariablesResp(resp)
}

func (c *Controller) handleDescribeConfigVariable(payload []byte) ([]byte, bool, error) {
	id, err := wire.UnmarshalU32(payload)
	if err != nil {
		return nil, false, err
	}

	desc, ok := c.descriptors[uint16(id)]
	if !ok {
		return wire.MarshalDescribeConfigVariableResp(wire.DescribeConfigVariableResp{ErrCode: 1}), false, nil
	}

	return wire.MarshalDescribeConfigVariableResp(wire.DescribeConfigVariableResp{
		ConfigID:     desc.ID,
		DefaultValue: desc.DefaultValue,
		ConfigType:   desc.ConfigType,
		Flags:        desc.Flags,
	}), false, nil
}

func (c *Controller) handleRegisterTile(ctx context.Context, payload []byte) ([]byte, bool, error) {
	args, err := wire.UnmarshalRegisterTileArgs(payload)
	if err != nil {
		return nil, false, err
	}

	address, runLevel, debugMode, err := c.tileManager.RegisterTile(ctx, args.HWType, args.APIMajor, args.APIMinor, args.Name, args.FWVersion, args.ExecInfo, args.Slot, args.UniqueID)
	if err != nil {
		return nil, false, err
	}

	return wire.MarshalRegisterTileResp(wire.RegisterTileResp{
		AssignedAddress: address,
		RunLevel:        uint16(runLevel),
		DebugMode:       uint16(debugMode),
	}), false, nil
}

func (c *Controller) handleQueryRemoteBridgeStatus() []byte {
	status := uint32(c.remoteBridge.Status())
	errCode := uint32(0)
	if c.remoteBridge.LastError() != nil {
		errCode = 1
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], status)
	binary.LittleEndian.PutUint32(buf[4:8], errCode)
	return buf
}
