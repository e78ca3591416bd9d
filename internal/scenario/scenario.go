// Package scenario loads the named end-to-end fixtures exercised by
// scenario_test.go from YAML files under testdata, following the
// fixture-driven table test idiom used elsewhere in this module (compare
// devicemodel.LoadFile's own YAML-overlay-on-defaults approach).
package scenario

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the named fixture file under testdata into v.
func Load(name string, v any) error {
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("scenario: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("scenario: parsing %s: %w", path, err)
	}
	return nil
}

// SyncRPCEcho is scenario 1: a synchronous RPC call that echoes its
// argument straight back.
type SyncRPCEcho struct {
	Name    string `yaml:"name"`
	Address uint16 `yaml:"address"`
	RPCID   uint16 `yaml:"rpc_id"`
	Arg     uint32 `yaml:"arg"`
	Expect  uint32 `yaml:"expect"`
}

// AsyncRPCEcho is scenario 2: an RPC that defers its response to a
// background task, while the dispatcher reports the address busy until it
// completes.
type AsyncRPCEcho struct {
	Name    string `yaml:"name"`
	Address uint16 `yaml:"address"`
	RPCID   uint16 `yaml:"rpc_id"`
	Arg     uint32 `yaml:"arg"`
	Expect  uint32 `yaml:"expect"`
}

// ConfigStreamingBoot is scenario 3: a config variable recorded against a
// slot before its tile ever registers, expected to be latched onto that
// tile by the time it reaches START_APPLICATION.
type ConfigStreamingBoot struct {
	Name         string `yaml:"name"`
	Slot         uint8  `yaml:"slot"`
	VarID        uint16 `yaml:"var_id"`
	ConfigType   uint16 `yaml:"config_type"`
	DefaultValue uint32 `yaml:"default_value"`
}

// CopyLatestNode is scenario 4: a single input stream feeding a
// copy_latest_a node, firing once per push and emitting the most recently
// pushed value.
type CopyLatestNode struct {
	Name         string  `yaml:"name"`
	InputStream  int     `yaml:"input_stream"`
	OutputStream int     `yaml:"output_stream"`
	FuncName     string  `yaml:"func_name"`
	Pushes       []int32 `yaml:"pushes"`
	ExpectEvals  int     `yaml:"expect_evals"`
	ExpectValue  int32   `yaml:"expect_value"`
}

// StreamerPackaging is scenario 5: a list-format streamer draining a run of
// pushed readings into a single report.
type StreamerPackaging struct {
	Name         string `yaml:"name"`
	Format       string `yaml:"format"`
	DestSlot     uint8  `yaml:"dest_slot"`
	OutputStream int    `yaml:"output_stream"`
	MaxSize      int    `yaml:"max_size"`
	PushCount    int    `yaml:"push_count"`
	ExpectCount  int    `yaml:"expect_count"`
}

// RolloverNotification is scenario 6: two walkers at different cursors
// riding out a storage rollover whose erased block covers both cursors, so
// both are pulled forward to the new head.
type RolloverNotification struct {
	Name                string `yaml:"name"`
	StorageCapacity     int    `yaml:"storage_capacity"`
	EraseSize           int    `yaml:"erase_size"`
	WalkerBCreateAfter  int    `yaml:"walker_b_create_after"`
	PushCount           int    `yaml:"push_count"`
	ExpectWalkerAOffset uint64 `yaml:"expect_walker_a_offset"`
	ExpectWalkerACount  uint32 `yaml:"expect_walker_a_count"`
	ExpectWalkerBOffset uint64 `yaml:"expect_walker_b_offset"`
	ExpectWalkerBCount  uint32 `yaml:"expect_walker_b_count"`
	ExpectNextPopValue  int32  `yaml:"expect_next_pop_value"`
}
