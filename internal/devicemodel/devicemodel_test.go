package devicemodel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesOriginalDeviceModelProperties(t *testing.T) {
	m := Default()
	assert.Equal(t, 2, m.MaxNodeInputs)
	assert.Equal(t, 4, m.MaxNodeOutputs)
	assert.Equal(t, 8, m.MaxRootNodes)
	assert.Equal(t, 8, m.MaxStreamers)
	assert.Equal(t, 32, m.MaxNodes)
	assert.Equal(t, 16128, m.MaxStorageBuffer)
	assert.Equal(t, 48896, m.MaxStreamingBuffer)
	assert.Equal(t, 256, m.BufferEraseSize)
}

func TestLoadFileEmptyPathReturnsDefaults(t *testing.T) {
	m, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, Default(), m)
}

func TestLoadFileOverridesOnlyGivenFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_nodes: 64\nmax_streamers: 16\n"), 0o644))

	m, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 64, m.MaxNodes)
	assert.Equal(t, 16, m.MaxStreamers)
	assert.Equal(t, 2, m.MaxNodeInputs, "fields absent from the file keep their default")
}

func TestLoadFileMissingReturnsError(t *testing.T) {
	_, err := LoadFile("/nonexistent/model.yaml")
	assert.Error(t, err)
}

func TestSensorLogConfigConvertsBytesToReadingCounts(t *testing.T) {
	m := Default()
	cfg := m.SensorLogConfig()
	assert.Equal(t, 16128/BytesPerReading, cfg.StorageCapacity)
	assert.Equal(t, 48896/BytesPerReading, cfg.StreamingCapacity)
	assert.Equal(t, 256/BytesPerReading, cfg.StorageEraseSize)
}

func TestGraphOptionsCarriesNodeDegreeBounds(t *testing.T) {
	m := Default()
	opts := m.GraphOptions()
	assert.Equal(t, m.MaxNodeInputs, opts.MaxNodeInputs)
	assert.Equal(t, m.MaxNodeOutputs, opts.MaxNodeOutputs)
}
