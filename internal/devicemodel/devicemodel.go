// Package devicemodel holds the tunable resource limits a device is built
// against: node fan-in/fan-out bounds, graph and streamer capacity, and the
// two ring buffers' byte budgets. It follows the teacher's defaults-struct
// idiom: a populated literal from Default(), optionally overridden in part
// from a YAML file.
package devicemodel

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tilesim/tilesim/internal/sensorlog"
	"github.com/tilesim/tilesim/internal/sg"
)

// BytesPerReading is the on-wire size of one stored reading (a 2-byte stream
// id widened to 4 for alignment, a 4-byte reading id, a 4-byte timestamp, and
// a 4-byte value), used to convert the model's byte-denominated buffer sizes
// into the reading counts the storage engine actually budgets in.
const BytesPerReading = 16

// Model is every device-wide resource limit, mirroring the original
// DeviceModel's property table: node degree bounds, graph size bounds, and
// the two ring buffers' capacities in bytes.
type Model struct {
	MaxNodeInputs  int `yaml:"max_node_inputs"`
	MaxNodeOutputs int `yaml:"max_node_outputs"`
	MaxRootNodes   int `yaml:"max_root_nodes"`
	MaxStreamers   int `yaml:"max_streamers"`
	MaxNodes       int `yaml:"max_nodes"`

	MaxStorageBuffer   int `yaml:"max_storage_buffer"`   // bytes
	MaxStreamingBuffer int `yaml:"max_streaming_buffer"` // bytes
	BufferEraseSize    int `yaml:"buffer_erase_size"`    // bytes
}

// Default returns the stock resource limits, matching the original
// DeviceModel's built-in property defaults.
func Default() Model {
	return Model{
		MaxNodeInputs:      2,
		MaxNodeOutputs:     4,
		MaxRootNodes:       8,
		MaxStreamers:       8,
		MaxNodes:           32,
		MaxStorageBuffer:   16128,
		MaxStreamingBuffer: 48896,
		BufferEraseSize:    256,
	}
}

// LoadFile reads a YAML file at path and applies it on top of Default,
// overriding only the fields the file sets. An empty path returns the
// defaults untouched.
func LoadFile(path string) (Model, error) {
	m := Default()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Model{}, fmt.Errorf("devicemodel: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Model{}, fmt.Errorf("devicemodel: parsing %s: %w", path, err)
	}
	return m, nil
}

// StorageReadings converts MaxStorageBuffer into a reading count.
func (m Model) StorageReadings() int { return m.MaxStorageBuffer / BytesPerReading }

// StreamingReadings converts MaxStreamingBuffer into a reading count.
func (m Model) StreamingReadings() int { return m.MaxStreamingBuffer / BytesPerReading }

// EraseReadings converts BufferEraseSize into a reading count, floored at 1
// so a nonzero byte budget never rounds down to a no-op erase block.
func (m Model) EraseReadings() int {
	n := m.BufferEraseSize / BytesPerReading
	if n < 1 {
		n = 1
	}
	return n
}

// SensorLogConfig converts the byte-denominated buffer limits into the
// reading-count budget the storage engine actually enforces.
func (m Model) SensorLogConfig() sensorlog.Config {
	return sensorlog.Config{
		StorageCapacity:    m.StorageReadings(),
		StorageEraseSize:   m.EraseReadings(),
		StreamingCapacity:  m.StreamingReadings(),
		StreamingEraseSize: m.EraseReadings(),
	}
}

// GraphOptions returns the node degree bounds as sg.Options, leaving every
// other field (Registry, RPC, Observer, Logger, SensorLog) for the caller to
// fill in.
func (m Model) GraphOptions() sg.Options {
	return sg.Options{
		MaxNodeInputs:  m.MaxNodeInputs,
		MaxNodeOutputs: m.MaxNodeOutputs,
	}
}
