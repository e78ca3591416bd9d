package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoteBridgeHappyPathReturnsToIdle(t *testing.T) {
	b := NewRemoteBridge()
	assert.Equal(t, BridgeIdle, b.Status())

	assert.Equal(t, uint32(0), b.BeginScript())
	assert.Equal(t, BridgeWaiting, b.Status())

	assert.Equal(t, uint32(0), b.AppendData([]byte{1, 2, 3}))
	assert.Equal(t, uint32(0), b.EndScript())
	assert.Equal(t, BridgeReceived, b.Status())

	assert.Equal(t, uint32(0), b.TriggerScript(nil))
	assert.Equal(t, BridgeIdle, b.Status())
}

func TestRemoteBridgeIllegalTransitionReturnsNonzeroWithoutMutatingState(t *testing.T) {
	b := NewRemoteBridge()

	assert.NotEqual(t, uint32(0), b.EndScript(), "end_script from IDLE is illegal")
	assert.Equal(t, BridgeIdle, b.Status(), "illegal transition leaves state untouched")

	assert.NotEqual(t, uint32(0), b.TriggerScript(nil), "trigger_script from IDLE is illegal")
	assert.Equal(t, BridgeIdle, b.Status())
}

func TestRemoteBridgeBeginScriptRejectedWhileReceived(t *testing.T) {
	b := NewRemoteBridge()
	b.BeginScript()
	b.EndScript()
	assert.Equal(t, BridgeReceived, b.Status())
	assert.NotEqual(t, uint32(0), b.BeginScript())
	assert.Equal(t, BridgeReceived, b.Status())
}

func TestRemoteBridgeTriggerScriptParseFailureRecordsErrorAndStaysReceived(t *testing.T) {
	b := NewRemoteBridge()
	b.BeginScript()
	b.AppendData([]byte{0xFF})
	b.EndScript()

	failParse := func([]byte) error { return errors.New("bad script") }
	assert.Equal(t, uint32(0), b.TriggerScript(failParse))
	assert.Equal(t, BridgeReceived, b.Status(), "a parse failure does not advance the state machine")
	assert.Error(t, b.LastError())
}

func TestRemoteBridgeResetScriptAlwaysReturnsToIdle(t *testing.T) {
	b := NewRemoteBridge()
	b.BeginScript()
	assert.Equal(t, uint32(0), b.ResetScript())
	assert.Equal(t, BridgeIdle, b.Status())
}

func TestRemoteBridgeDumpRestoreRoundTripsPartialScript(t *testing.T) {
	b := NewRemoteBridge()
	b.BeginScript()
	b.AppendData([]byte{1, 2, 3})

	state := b.Dump()

	fresh := NewRemoteBridge()
	fresh.Restore(state)

	assert.Equal(t, BridgeWaiting, fresh.Status())
	assert.Equal(t, uint32(0), fresh.EndScript())
	assert.Equal(t, BridgeReceived, fresh.Status())
}

func TestRemoteBridgeClearToResetSignalsInitializedAfterResetVector(t *testing.T) {
	b := NewRemoteBridge()
	b.BeginScript()
	b.ClearToReset()
	assert.Equal(t, BridgeIdle, b.Status())
	assert.False(t, b.Initialized().Set())

	b.ResetVector(context.Background())
	assert.True(t, b.Initialized().Set())
}
