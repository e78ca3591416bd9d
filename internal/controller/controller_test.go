package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilesim/tilesim/internal/wire"
)

// loopbackExecutor routes any RPC addressed to the controller back into its
// own HandleRPC, the way a real device's dispatcher would; it also records
// every call for assertions, combining the roles recordingExecutor and a
// real dispatcher would split between them.
type loopbackExecutor struct {
	controller *Controller
	calls      []RPCCall
}

func (e *loopbackExecutor) CallRPC(ctx context.Context, address, rpcID uint16, payload []byte) ([]byte, error) {
	e.calls = append(e.calls, RPCCall{Address: address, RPCID: rpcID, Payload: payload})
	if e.controller != nil && address == e.controller.address {
		resp, _, err := e.controller.HandleRPC(ctx, address, rpcID, payload)
		return resp, err
	}
	return nil, nil
}

func newTestController() (*Controller, *loopbackExecutor) {
	db := NewConfigDatabase(256, 256)
	exec := &loopbackExecutor{}
	tm := NewTileManager(db, exec)
	rb := NewRemoteBridge()
	cm := NewClockManager(&fakeClockSource{}, &recordingPusher{}, 10)
	c := NewController(1, [6]byte{'c', 't', 'r', 'l', 0, 0}, db, tm, rb, cm, exec)
	exec.controller = c
	return c, exec
}

func TestControllerSetThenGetConfigVariableRoundTrips(t *testing.T) {
	c, _ := newTestController()
	c.DeclareConfigVariable(ConfigVarDescriptor{ID: 0x8000, DefaultValue: 0, ConfigType: 4})

	setArgs := wire.SetConfigVariableArgs{ConfigID: 0x8000, Offset: 0, Data: []byte{1, 2, 3, 4}}
	setPayload, err := wire.MarshalSetConfigVariableArgs(setArgs)
	require.NoError(t, err)

	resp, pending, err := c.HandleRPC(context.Background(), 1, rpcSetConfigVariable, setPayload)
	require.NoError(t, err)
	assert.False(t, pending)
	errCode, err := wire.UnmarshalSetConfigVariableResp(resp)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), errCode)

	getArgs := wire.MarshalGetConfigVariableArgs(wire.GetConfigVariableArgs{ConfigID: 0x8000, Offset: 0})
	got, _, err := c.HandleRPC(context.Background(), 1, rpcGetConfigVariable, getArgs)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestControllerGetConfigVariableBeforeAnySetReturnsDefault(t *testing.T) {
	c, _ := newTestController()
	c.DeclareConfigVariable(ConfigVarDescriptor{ID: 0x8000, DefaultValue: 0xCAFEBABE})

	getArgs := wire.MarshalGetConfigVariableArgs(wire.GetConfigVariableArgs{ConfigID: 0x8000, Offset: 0})
	got, _, err := c.HandleRPC(context.Background(), 1, rpcGetConfigVariable, getArgs)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xBE, 0xBA, 0xFE, 0xCA}, got)
}

func TestControllerListAndDescribeConfigVariables(t *testing.T) {
	c, _ := newTestController()
	c.DeclareConfigVariable(ConfigVarDescriptor{ID: 0x8000, DefaultValue: 1, ConfigType: 4})
	c.DeclareConfigVariable(ConfigVarDescriptor{ID: 0x8001, DefaultValue: 2, ConfigType: 4})

	listResp, _, err := c.HandleRPC(context.Background(), 1, rpcListConfigVariables, nil)
	require.NoError(t, err)
	list, err := wire.UnmarshalListConfigVariablesResp(listResp)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), list.Count)

	descResp, _, err := c.HandleRPC(context.Background(), 1, rpcDescribeConfigVariable, wire.MarshalU32(0x8000))
	require.NoError(t, err)
	desc, err := wire.UnmarshalDescribeConfigVariableResp(descResp)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), desc.ErrCode)
	assert.Equal(t, uint32(1), desc.DefaultValue)
}

func TestControllerDescribeUnknownConfigVariableReturnsErrorCode(t *testing.T) {
	c, _ := newTestController()
	resp, _, err := c.HandleRPC(context.Background(), 1, rpcDescribeConfigVariable, wire.MarshalU32(0x9999))
	require.NoError(t, err)
	desc, err := wire.UnmarshalDescribeConfigVariableResp(resp)
	require.NoError(t, err)
	assert.NotEqual(t, uint16(0), desc.ErrCode)
}

func TestControllerHandleRPCRejectsWrongAddress(t *testing.T) {
	c, _ := newTestController()
	_, _, err := c.HandleRPC(context.Background(), 99, rpcGetConfigVariable, nil)
	require.Error(t, err)
}

func TestControllerDumpRestoreRoundTripsLatchedValuesAndSubsystems(t *testing.T) {
	c, _ := newTestController()
	c.DeclareConfigVariable(ConfigVarDescriptor{ID: 0x8000, DefaultValue: 0})

	setArgs := wire.SetConfigVariableArgs{ConfigID: 0x8000, Offset: 0, Data: []byte{7, 7, 7, 7}}
	setPayload, err := wire.MarshalSetConfigVariableArgs(setArgs)
	require.NoError(t, err)
	_, _, err = c.HandleRPC(context.Background(), 1, rpcSetConfigVariable, setPayload)
	require.NoError(t, err)

	require.NoError(t, c.configDB.Add(SlotSelector(3), 0x9000, []byte{1, 2, 3, 4}))
	_, _, _, err = c.tileManager.RegisterTile(context.Background(), 0, 0, 0, [6]byte{}, [3]uint8{}, [3]uint8{}, 3, 0)
	require.NoError(t, err)
	c.remoteBridge.BeginScript()
	c.clockManager.Tick(context.Background())

	state := c.Dump()

	fresh, _ := newTestController()
	fresh.DeclareConfigVariable(ConfigVarDescriptor{ID: 0x8000, DefaultValue: 0})
	fresh.Restore(state)

	assert.Equal(t, []byte{7, 7, 7, 7}, fresh.values[0x8000])
	assert.Len(t, fresh.tileManager.Tiles(), 1)
	assert.Equal(t, BridgeWaiting, fresh.remoteBridge.Status())
	assert.Equal(t, uint32(1), fresh.clockManager.SimulatedSeconds())

	validBefore, totalBefore := c.configDB.Count()
	validAfter, totalAfter := fresh.configDB.Count()
	assert.Equal(t, validBefore, validAfter)
	assert.Equal(t, totalBefore, totalAfter)
}

func TestControllerResetStreamsConfigLatchesSubsystemsAndResetsPeripherals(t *testing.T) {
	c, exec := newTestController()
	c.DeclareConfigVariable(ConfigVarDescriptor{ID: 0x8000, DefaultValue: 0})

	require.NoError(t, c.configDB.Add(SlotSelector(0), 0x8000, []byte{9, 9, 9, 9}))

	_, _, _, err := c.tileManager.RegisterTile(context.Background(), 0, 0, 0, [6]byte{}, [3]uint8{}, [3]uint8{}, 2, 0)
	require.NoError(t, err)
	_, _, _, err = c.tileManager.RegisterTile(context.Background(), 0, 0, 0, [6]byte{}, [3]uint8{}, [3]uint8{}, 4, 0)
	require.NoError(t, err)

	exec.calls = nil // isolate the calls Reset itself issues from registration side effects above

	var resetOrder []uint8
	err = c.Reset(context.Background(), time.Second, func(slot uint8) {
		resetOrder = append(resetOrder, slot)
	})
	require.NoError(t, err)

	require.NotEmpty(t, exec.calls, "reset streams the controller's own recorded config variables to itself")
	assert.Equal(t, uint16(rpcSetConfigVariable), exec.calls[0].RPCID)

	got := c.values[0x8000]
	assert.Equal(t, []byte{9, 9, 9, 9}, got, "the streamed SET_CONFIG_VARIABLE call round-trips through HandleRPC and latches the value")

	assert.True(t, c.tileManager.Initialized().Set())
	assert.True(t, c.remoteBridge.Initialized().Set())
	assert.True(t, c.clockManager.Initialized().Set())

	assert.Equal(t, []uint8{4, 2}, resetOrder, "peripherals reset in descending slot order, using the roster captured before the tile manager's own clear")
}
