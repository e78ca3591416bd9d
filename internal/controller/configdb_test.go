package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDatabaseAddAndStreamMatchingChunksTo16Bytes(t *testing.T) {
	db := NewConfigDatabase(256, 256)
	name := [6]byte{'d', 'e', 'm', 'o', 0, 0}

	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, db.Add(SlotSelector(1), 0x8000, data))

	calls, err := db.StreamMatching(11, 1, name)
	require.NoError(t, err)
	require.Len(t, calls, 2, "20 bytes of data chunks into two 16-byte RPCs")
	assert.Equal(t, uint16(11), calls[0].Address)
	assert.Equal(t, 16, len(calls[0].Payload)-4, "first chunk carries a full 16 bytes")
	assert.Equal(t, 4, len(calls[1].Payload)-4, "second chunk carries the remaining 4 bytes")
}

func TestConfigDatabaseStreamMatchingIgnoresNonMatchingSelector(t *testing.T) {
	db := NewConfigDatabase(256, 256)
	require.NoError(t, db.Add(SlotSelector(2), 0x8000, []byte{1, 2, 3, 4}))

	calls, err := db.StreamMatching(11, 1, [6]byte{})
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestConfigDatabaseLaterEntryInvalidatesEarlierSameTarget(t *testing.T) {
	db := NewConfigDatabase(256, 256)
	sel := SlotSelector(1)
	require.NoError(t, db.Add(sel, 0x8000, []byte{1, 2, 3, 4}))
	require.NoError(t, db.Add(sel, 0x8000, []byte{5, 6, 7, 8}))

	valid, total := db.Count()
	assert.Equal(t, 1, valid)
	assert.Equal(t, 2, total)

	calls, err := db.StreamMatching(11, 1, [6]byte{})
	require.NoError(t, err)
	require.Len(t, calls, 1)
}

func TestConfigDatabaseCompactRemovesInvalidatedEntries(t *testing.T) {
	db := NewConfigDatabase(256, 256)
	sel := SlotSelector(1)
	require.NoError(t, db.Add(sel, 0x8000, []byte{1, 2, 3, 4}))
	require.NoError(t, db.Add(sel, 0x8000, []byte{5, 6, 7, 8}))

	db.Compact()

	valid, total := db.Count()
	assert.Equal(t, 1, valid)
	assert.Equal(t, 1, total)
}

func TestConfigDatabaseRejectsEntryExceedingDataCapacity(t *testing.T) {
	db := NewConfigDatabase(256, 4)
	err := db.Add(SlotSelector(1), 0x8000, []byte{1, 2, 3, 4, 5})
	require.Error(t, err)
	assert.Equal(t, KindInvalidArgument, Kind(err))
}

func TestConfigDatabaseClearDropsAllEntries(t *testing.T) {
	db := NewConfigDatabase(256, 256)
	require.NoError(t, db.Add(SlotSelector(1), 0x8000, []byte{1, 2, 3, 4}))
	db.Clear()

	valid, total := db.Count()
	assert.Equal(t, 0, valid)
	assert.Equal(t, 0, total)
}

func TestConfigDatabaseDumpRestoreRoundTripsInvalidatedEntries(t *testing.T) {
	db := NewConfigDatabase(256, 256)
	sel := SlotSelector(1)
	require.NoError(t, db.Add(sel, 0x8000, []byte{1, 2, 3, 4}))
	require.NoError(t, db.Add(sel, 0x8000, []byte{5, 6, 7, 8}))

	state := db.Dump()

	fresh := NewConfigDatabase(256, 256)
	fresh.Restore(state)

	validBefore, totalBefore := db.Count()
	validAfter, totalAfter := fresh.Count()
	assert.Equal(t, validBefore, validAfter)
	assert.Equal(t, totalBefore, totalAfter)

	calls, err := fresh.StreamMatching(11, 1, [6]byte{})
	require.NoError(t, err)
	require.Len(t, calls, 1, "only the live entry streams after restore")

	// Restored database still enforces its original data-capacity bound.
	require.NoError(t, fresh.Add(sel, 0x8001, []byte{9, 9, 9, 9}))
}

func TestNameSelectorMatchesByNameNotSlot(t *testing.T) {
	db := NewConfigDatabase(256, 256)
	name := [6]byte{'d', 'e', 'm', 'o', 0, 0}
	require.NoError(t, db.Add(NameSelector(name), 0x8000, []byte{1, 2, 3, 4}))

	calls, err := db.StreamMatching(99, 7, name)
	require.NoError(t, err)
	assert.Len(t, calls, 1)
}
