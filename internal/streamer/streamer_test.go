package streamer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilesim/tilesim/internal/reading"
	"github.com/tilesim/tilesim/internal/sensorlog"
	"github.com/tilesim/tilesim/internal/stream"
)

func pushReadings(t *testing.T, sl *sensorlog.SensorLog, s stream.Stream, values ...int32) {
	t.Helper()
	for i, v := range values {
		require.NoError(t, sl.Push(s, reading.New(s.Encode(), uint32(i), v)))
	}
}

type noopSigner struct{ sig []byte }

func (s noopSigner) Sign(payload []byte) ([]byte, error) { return s.sig, nil }

func TestHasDataAndTriggered(t *testing.T) {
	sl := sensorlog.New(sensorlog.DefaultConfig(), nil)
	s := stream.Stream{Type: stream.Buffered, Number: 1}

	str := New(stream.Exact(s), 10, Individual, false, nil)
	str.LinkToStorage(sl)

	assert.False(t, str.HasData())
	assert.False(t, str.Triggered(false), "manual streamer with no mark never fires")

	pushReadings(t, sl, s, 1)
	assert.True(t, str.HasData())
	assert.False(t, str.Triggered(false), "still not automatic and not marked")
	assert.True(t, str.Triggered(true), "manual mark fires it")
}

func TestAutomaticStreamerFiresOnData(t *testing.T) {
	sl := sensorlog.New(sensorlog.DefaultConfig(), nil)
	s := stream.Stream{Type: stream.Buffered, Number: 1}

	str := New(stream.Exact(s), 10, Individual, true, nil)
	str.LinkToStorage(sl)
	assert.False(t, str.Triggered(false))

	pushReadings(t, sl, s, 1)
	assert.True(t, str.Triggered(false))
}

func TestRequiresIDAndSigning(t *testing.T) {
	assert.False(t, New(stream.Selector{}, 0, Individual, false, nil).RequiresID())
	assert.True(t, New(stream.Selector{}, 0, HashedList, false, nil).RequiresID())
	assert.False(t, New(stream.Selector{}, 0, HashedList, false, nil).RequiresSigning())
	assert.True(t, New(stream.Selector{}, 0, SignedListUserKey, false, nil).RequiresSigning())
	assert.True(t, New(stream.Selector{}, 0, SignedListDeviceKey, false, nil).RequiresSigning())
}

func TestBuildReportIndividual(t *testing.T) {
	sl := sensorlog.New(sensorlog.DefaultConfig(), nil)
	s := stream.Stream{Type: stream.Buffered, Number: 1}
	str := New(stream.Exact(s), 10, Individual, true, nil)
	str.LinkToStorage(sl)

	pushReadings(t, sl, s, 42)

	rep, err := str.BuildReport(0, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.NumReadings)
	assert.Equal(t, int32(42), rep.Readings[0].Value)
}

func TestBuildReportIndividualEmptyIsError(t *testing.T) {
	sl := sensorlog.New(sensorlog.DefaultConfig(), nil)
	s := stream.Stream{Type: stream.Buffered, Number: 1}
	str := New(stream.Exact(s), 10, Individual, true, nil)
	str.LinkToStorage(sl)

	_, err := str.BuildReport(0, 0, nil)
	assert.ErrorIs(t, err, ErrEmptyStream)
}

func TestBuildReportHashedListChunksAndReportsHighestID(t *testing.T) {
	sl := sensorlog.New(sensorlog.DefaultConfig(), nil)
	s := stream.Stream{Type: stream.Buffered, Number: 1}
	str := New(stream.Exact(s), 10, HashedList, true, nil)
	str.LinkToStorage(sl)

	pushReadings(t, sl, s, 1, 2, 3, 4, 5)

	// max_readings = floor((max_size - 20 - 24) / 16); pick max_size so only
	// 2 readings fit per report.
	maxSize := 20 + 24 + 16*2
	rep, err := str.BuildReport(maxSize, 7, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.NumReadings)
	assert.Equal(t, uint32(1), rep.HighestID, "highest id among the first 2 drained readings (ids 0,1)")

	rep2, err := str.BuildReport(maxSize, 8, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rep2.NumReadings, "partial drain continues from where the last report left off")

	rep3, err := str.BuildReport(maxSize, 9, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep3.NumReadings, "final report is a short partial drain, not an error")
}

func TestBuildReportTooSmallErrors(t *testing.T) {
	sl := sensorlog.New(sensorlog.DefaultConfig(), nil)
	s := stream.Stream{Type: stream.Buffered, Number: 1}
	str := New(stream.Exact(s), 10, HashedList, true, nil)
	str.LinkToStorage(sl)
	pushReadings(t, sl, s, 1)

	_, err := str.BuildReport(10, 1, nil)
	assert.ErrorIs(t, err, ErrTooSmall)
}

func TestBuildReportSignedListRequiresSigner(t *testing.T) {
	sl := sensorlog.New(sensorlog.DefaultConfig(), nil)
	s := stream.Stream{Type: stream.Buffered, Number: 1}
	str := New(stream.Exact(s), 10, SignedListUserKey, true, nil)
	str.LinkToStorage(sl)
	pushReadings(t, sl, s, 1)

	_, err := str.BuildReport(1000, 1, nil)
	assert.Error(t, err)

	rep, err := str.BuildReport(1000, 1, noopSigner{sig: []byte{0xAA}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, rep.Signature)
}

func TestSetCheckStreamersDrainsManualMarksOnce(t *testing.T) {
	sl := sensorlog.New(sensorlog.DefaultConfig(), nil)
	s := stream.Stream{Type: stream.Buffered, Number: 1}

	set := NewSet()
	str := New(stream.Exact(s), 10, Individual, false, nil)
	str.LinkToStorage(sl)
	set.Register(str)

	pushReadings(t, sl, s, 1)
	set.Mark(0)

	assert.Equal(t, []int{0}, set.CheckStreamers())
	assert.Empty(t, set.CheckStreamers(), "mark is consumed; a second pass without re-marking does not fire")
}

func TestSetCheckStreamersWithOtherCoupling(t *testing.T) {
	sl := sensorlog.New(sensorlog.DefaultConfig(), nil)
	primary := stream.Stream{Type: stream.Buffered, Number: 1}
	secondary := stream.Stream{Type: stream.Buffered, Number: 2}

	set := NewSet()
	primaryStreamer := New(stream.Exact(primary), 10, Individual, true, nil)
	primaryStreamer.LinkToStorage(sl)
	primaryIdx := set.Register(primaryStreamer)

	coupled := &primaryIdx
	secondaryStreamer := New(stream.Exact(secondary), 10, Individual, false, coupled)
	secondaryStreamer.LinkToStorage(sl)
	set.Register(secondaryStreamer)

	pushReadings(t, sl, primary, 1)
	pushReadings(t, sl, secondary, 2)

	fired := set.CheckStreamers()
	assert.ElementsMatch(t, []int{0, 1}, fired, "secondary fires because its with_other target fired this pass")
}

func TestSetCheckStreamersWithOtherRequiresTargetActuallyTriggered(t *testing.T) {
	sl := sensorlog.New(sensorlog.DefaultConfig(), nil)
	primary := stream.Stream{Type: stream.Buffered, Number: 1}
	secondary := stream.Stream{Type: stream.Buffered, Number: 2}

	set := NewSet()
	primaryStreamer := New(stream.Exact(primary), 10, Individual, true, nil)
	primaryStreamer.LinkToStorage(sl)
	primaryIdx := set.Register(primaryStreamer)

	coupled := &primaryIdx
	secondaryStreamer := New(stream.Exact(secondary), 10, Individual, false, coupled)
	secondaryStreamer.LinkToStorage(sl)
	set.Register(secondaryStreamer)

	pushReadings(t, sl, secondary, 2) // primary has no data, never fires

	fired := set.CheckStreamers()
	assert.Empty(t, fired, "coupling only fires if the referenced streamer actually triggered")
}

func TestSetRegisterBoundedRejectsPastLimit(t *testing.T) {
	sl := sensorlog.New(sensorlog.DefaultConfig(), nil)
	s := stream.Stream{Type: stream.Buffered, Number: 1}

	set := NewSet()
	first := New(stream.Exact(s), 10, Individual, true, nil)
	first.LinkToStorage(sl)
	_, err := set.RegisterBounded(first, 1)
	require.NoError(t, err)

	second := New(stream.Exact(s), 10, Individual, true, nil)
	second.LinkToStorage(sl)
	_, err = set.RegisterBounded(second, 1)
	assert.Error(t, err)
}
