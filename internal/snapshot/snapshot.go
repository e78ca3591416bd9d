// Package snapshot captures and restores an emulated device's runtime
// state as one in-memory value: no disk format, no reflection-driven
// generic marshalling, just an explicit Dump/Restore pair per subsystem
// composed into one aggregate, per the documented decision to replace a
// reflection-based snapshot mechanism with one explicit Serialize/Restore
// step per subsystem, walked in a fixed order.
package snapshot

import (
	"github.com/tilesim/tilesim/internal/controller"
	"github.com/tilesim/tilesim/internal/sensorlog"
	"github.com/tilesim/tilesim/internal/sg"
	"github.com/tilesim/tilesim/internal/stream"
)

// State is everything needed to restore a device to a previously captured
// point in time: per-tile config variable values, controller subsystem
// states (tile table, config database, remote bridge, clock manager),
// sensor log storage (including the reading id counter and every tracked
// stream walker's cursor), and the sensor graph's constant defaults.
type State struct {
	Controller controller.ControllerState
	SensorLog  sensorlog.SensorLogState
	Constants  map[stream.Stream]int32
}

// Capture dumps the controller, sensor log, and sensor graph constants, in
// that fixed order, into one State value.
func Capture(c *controller.Controller, sl *sensorlog.SensorLog, g *sg.Graph) State {
	return State{
		Controller: c.Dump(),
		SensorLog:  sl.Dump(),
		Constants:  g.Constants(),
	}
}

// Restore applies a previously captured State back onto the controller,
// sensor log, and sensor graph, in the same fixed order Capture used.
//
// permissive controls how the sensor log handles a currently tracked
// stream walker that has no corresponding entry in state: when false,
// Restore fails with an error satisfying sensorlog.IsSnapshotMismatch;
// when true, that walker is left at its current position instead.
func Restore(state State, c *controller.Controller, sl *sensorlog.SensorLog, g *sg.Graph, permissive bool) error {
	c.Restore(state.Controller)
	g.RestoreConstants(state.Constants)
	return sl.Restore(state.SensorLog, permissive)
}
