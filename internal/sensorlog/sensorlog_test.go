package sensorlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilesim/tilesim/internal/reading"
	"github.com/tilesim/tilesim/internal/stream"
)

func TestPushAssignsMonotonicIDs(t *testing.T) {
	sl := New(DefaultConfig(), nil)
	s := stream.Stream{Type: stream.Buffered, Number: 1}

	var lastID uint32
	for i := 0; i < 5; i++ {
		err := sl.Push(s, reading.New(s.Encode(), uint32(i), int32(i)))
		require.NoError(t, err)
	}

	w := sl.CreateWalker(stream.Exact(s), false)
	for i := 0; i < 5; i++ {
		r, err := w.Pop()
		require.NoError(t, err)
		if i > 0 {
			assert.Greater(t, r.ReadingID, lastID)
		}
		lastID = r.ReadingID
	}
}

func TestRolloverNotifiesTwoWalkersAtDifferentOffsets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageCapacity = 8
	cfg.StorageEraseSize = 4
	sl := New(cfg, nil)

	s := stream.Stream{Type: stream.Buffered, Number: 1}
	sel := stream.Exact(s)

	walkerA := sl.CreateWalker(sel, true)
	// push 2 before walker B is created, then create B (skip=true, so B starts at offset 2)
	require.NoError(t, sl.Push(s, reading.New(s.Encode(), 0, 0)))
	require.NoError(t, sl.Push(s, reading.New(s.Encode(), 1, 1)))
	walkerB := sl.CreateWalker(sel, true)

	for i := 2; i < 12; i++ {
		require.NoError(t, sl.Push(s, reading.New(s.Encode(), uint32(i), int32(i))))
	}

	assert.Equal(t, uint32(8), walkerA.Count())
	assert.Equal(t, uint32(6), walkerB.Count())

	r, err := walkerA.Pop()
	require.NoError(t, err)
	assert.Equal(t, int32(4), r.Value, "reading #5 (index 4) should be the oldest surviving after one erase block of 4")
}

func TestRingBufferFullWithoutRollover(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageCapacity = 2
	cfg.StorageEraseSize = 1
	sl := New(cfg, nil)
	require.NoError(t, sl.SetRollover("storage", false))

	s := stream.Stream{Type: stream.Buffered, Number: 1}
	require.NoError(t, sl.Push(s, reading.New(s.Encode(), 0, 0)))
	require.NoError(t, sl.Push(s, reading.New(s.Encode(), 1, 1)))
	err := sl.Push(s, reading.New(s.Encode(), 2, 2))
	assert.True(t, IsRingBufferFull(err))
}

func TestClearPreservesNextID(t *testing.T) {
	sl := New(DefaultConfig(), nil)
	s := stream.Stream{Type: stream.Buffered, Number: 1}
	for i := 0; i < 3; i++ {
		require.NoError(t, sl.Push(s, reading.New(s.Encode(), uint32(i), int32(i))))
	}
	before := sl.NextID()
	sl.Clear()
	assert.Equal(t, before, sl.NextID())

	storageCount, streamingCount := sl.Count()
	assert.Zero(t, storageCount)
	assert.Zero(t, streamingCount)
}

func TestDumpRestoreRoundTripsBufferedWalkerCursor(t *testing.T) {
	sl := New(DefaultConfig(), nil)
	s := stream.Stream{Type: stream.Buffered, Number: 1}
	sel := stream.Exact(s)

	for i := 0; i < 5; i++ {
		require.NoError(t, sl.Push(s, reading.New(s.Encode(), uint32(i), int32(i))))
	}
	w := sl.CreateWalker(sel, false)
	_, err := w.Pop()
	require.NoError(t, err)
	_, err = w.Pop()
	require.NoError(t, err)

	state := sl.Dump()

	fresh := New(DefaultConfig(), nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, fresh.Push(s, reading.New(s.Encode(), uint32(i), int32(i))))
	}
	freshWalker := fresh.CreateWalker(sel, false)
	require.NoError(t, fresh.Restore(state, false))

	assert.Equal(t, w.Count(), freshWalker.Count())
	r, err := freshWalker.Pop()
	require.NoError(t, err)
	assert.Equal(t, int32(2), r.Value, "restored walker resumes exactly where the dumped one left off")
}

func TestRestoreNonPermissiveFailsOnUnmatchedWalker(t *testing.T) {
	sl := New(DefaultConfig(), nil)
	state := sl.Dump()

	s := stream.Stream{Type: stream.Buffered, Number: 9}
	sl.CreateWalker(stream.Exact(s), true)

	err := sl.Restore(state, false)
	require.Error(t, err)
	assert.True(t, IsSnapshotMismatch(err))
}

func TestRestorePermissiveIgnoresUnmatchedWalker(t *testing.T) {
	sl := New(DefaultConfig(), nil)
	state := sl.Dump()

	s := stream.Stream{Type: stream.Buffered, Number: 9}
	sl.CreateWalker(stream.Exact(s), true)

	err := sl.Restore(state, true)
	require.NoError(t, err)
}

func TestDumpRestoreRoundTripsNextIDAndLastValues(t *testing.T) {
	sl := New(DefaultConfig(), nil)
	s := stream.Stream{Type: stream.Unbuffered, Number: 3}
	require.NoError(t, sl.Push(s, reading.New(s.Encode(), 0, 7)))

	state := sl.Dump()

	fresh := New(DefaultConfig(), nil)
	require.NoError(t, fresh.Restore(state, false))

	assert.Equal(t, sl.NextID(), fresh.NextID())
	r, ok := fresh.InspectLast(s)
	require.True(t, ok)
	assert.Equal(t, int32(7), r.Value)
}

func TestInspectLastWorksWithoutWalker(t *testing.T) {
	sl := New(DefaultConfig(), nil)
	s := stream.Stream{Type: stream.Unbuffered, Number: 1}
	require.NoError(t, sl.Push(s, reading.New(s.Encode(), 0, 42)))

	r, ok := sl.InspectLast(s)
	require.True(t, ok)
	assert.Equal(t, int32(42), r.Value)
}
