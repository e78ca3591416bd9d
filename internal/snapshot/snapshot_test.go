package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilesim/tilesim/internal/controller"
	"github.com/tilesim/tilesim/internal/reading"
	"github.com/tilesim/tilesim/internal/sensorlog"
	"github.com/tilesim/tilesim/internal/sg"
	"github.com/tilesim/tilesim/internal/stream"
	"github.com/tilesim/tilesim/internal/wire"
)

type noopExecutor struct{}

func (noopExecutor) CallRPC(ctx context.Context, address, rpcID uint16, payload []byte) ([]byte, error) {
	return nil, nil
}

func newDevice() (*controller.Controller, *sensorlog.SensorLog, *sg.Graph) {
	db := controller.NewConfigDatabase(256, 256)
	exec := noopExecutor{}
	tm := controller.NewTileManager(db, exec)
	rb := controller.NewRemoteBridge()
	cm := controller.NewClockManager(nil, nil, 10)
	c := controller.NewController(1, [6]byte{'c', 't', 'r', 'l'}, db, tm, rb, cm, exec)

	sl := sensorlog.New(sensorlog.DefaultConfig(), nil)
	g := sg.New(sg.Options{SensorLog: sl})
	return c, sl, g
}

func TestCaptureRestoreRoundTripsAcrossAllThreeSubsystems(t *testing.T) {
	c, sl, g := newDevice()
	c.DeclareConfigVariable(controller.ConfigVarDescriptor{ID: 0x8000, DefaultValue: 0})

	setArgs := wire.SetConfigVariableArgs{ConfigID: 0x8000, Offset: 0, Data: []byte{1, 2, 3, 4}}
	payload, err := wire.MarshalSetConfigVariableArgs(setArgs)
	require.NoError(t, err)
	_, _, err = c.HandleRPC(context.Background(), 1, 12 /* SET_CONFIG_VARIABLE */, payload)
	require.NoError(t, err)

	s := stream.Stream{Type: stream.Constant, Number: 5}
	g.DeclareConstant(s, 42)

	unbuffered := stream.Stream{Type: stream.Unbuffered, Number: 1}
	require.NoError(t, sl.Push(unbuffered, reading.New(unbuffered.Encode(), 0, 9)))

	state := Capture(c, sl, g)

	freshC, freshSL, freshG := newDevice()
	freshC.DeclareConfigVariable(controller.ConfigVarDescriptor{ID: 0x8000, DefaultValue: 0})

	require.NoError(t, Restore(state, freshC, freshSL, freshG, false))

	got, _, err := freshC.HandleRPC(context.Background(), 1, 13 /* GET_CONFIG_VARIABLE */, wire.MarshalGetConfigVariableArgs(wire.GetConfigVariableArgs{ConfigID: 0x8000, Offset: 0}))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)

	assert.Equal(t, int32(42), freshG.Constants()[s])

	r, ok := freshSL.InspectLast(unbuffered)
	require.True(t, ok)
	assert.Equal(t, int32(9), r.Value)
}
