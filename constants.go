package tilesim

import "github.com/tilesim/tilesim/internal/stream"

// Well-known RPC ids, stable across every tile and exercised directly by
// Controller and by any peripheral's own dispatch table.
const (
	RPCReset                  = 1
	RPCStartApplication       = 6
	RPCListConfigVariables    = 10
	RPCDescribeConfigVariable = 11
	RPCSetConfigVariable      = 12
	RPCGetConfigVariable      = 13
	RPCRegisterTile           = 0x2a00
)

// ControllerAddress is the bus address reserved for the device's own
// controller tile; peripheral addresses are assigned starting at 10+slot
// by REGISTER_TILE.
const ControllerAddress uint16 = 8

// Well-known system streams, bit-exact with the ids a real device reports.
var (
	StreamSystemTick       = stream.Stream{Type: stream.Input, System: true, Number: 2}
	StreamUserTick         = stream.Stream{Type: stream.Input, System: true, Number: 3}
	StreamUserConnected    = stream.Stream{Type: stream.Input, System: true, Number: 1025}
	StreamUserDisconnected = stream.Stream{Type: stream.Input, System: true, Number: 1026}
	StreamSystemReset      = stream.Stream{Type: stream.Output, System: true, Number: 1024}
	StreamDataCleared      = stream.Stream{Type: stream.Output, System: true, Number: 1027}
)
