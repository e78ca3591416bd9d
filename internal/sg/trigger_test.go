package sg

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tilesim/tilesim/internal/reading"
	"github.com/tilesim/tilesim/internal/stream"
	"github.com/tilesim/tilesim/internal/walker"
)

func TestAlwaysAndNever(t *testing.T) {
	w := walker.NewVirtual(stream.Exact(stream.Stream{Type: stream.Unbuffered, Number: 1}))
	assert.True(t, Always.Triggered(w))
	assert.False(t, Never.Triggered(w))
}

func TestCompareSourceCount(t *testing.T) {
	s := stream.Stream{Type: stream.Buffered, Number: 1}
	sel := stream.Exact(s)
	w := walker.NewBuffered(sel, &fakeRing{}, true)

	trig := Compare{Source: SourceCount, Comparator: Ge, Reference: 1}
	assert.False(t, trig.Triggered(w))

	w.NotifyAdded(s, false)
	assert.True(t, trig.Triggered(w))
}

func TestCompareSourceValue(t *testing.T) {
	s := stream.Stream{Type: stream.Constant, Number: 1}
	sel := stream.Exact(s)
	w := walker.NewVirtual(sel)
	w.Push(s, reading.New(s.Encode(), 0, 42))

	assert.True(t, Compare{Source: SourceValue, Comparator: Eq, Reference: 42}.Triggered(w))
	assert.True(t, Compare{Source: SourceValue, Comparator: Ne, Reference: 41}.Triggered(w))
	assert.True(t, Compare{Source: SourceValue, Comparator: Lt, Reference: 43}.Triggered(w))
	assert.True(t, Compare{Source: SourceValue, Comparator: Le, Reference: 42}.Triggered(w))
	assert.True(t, Compare{Source: SourceValue, Comparator: Gt, Reference: 41}.Triggered(w))
	assert.True(t, Compare{Source: SourceValue, Comparator: Ge, Reference: 42}.Triggered(w))
}

func TestCompareSourceValueEmptyIsFalse(t *testing.T) {
	s := stream.Stream{Type: stream.Unbuffered, Number: 1}
	w := walker.NewVirtual(stream.Exact(s))
	assert.False(t, Compare{Source: SourceValue, Comparator: Eq, Reference: 0}.Triggered(w))
}

// fakeRing is a minimal walker.RingReader double for tests that only need a
// Buffered walker's NotifyAdded/NotifyRollover bookkeeping, not real storage.
type fakeRing struct{}

func (fakeRing) ReadingAt(output bool, offset uint64) (reading.Reading, stream.Stream, bool) {
	return reading.Reading{}, stream.Stream{}, false
}
func (fakeRing) Tail(output bool) uint64 { return 0 }
func (fakeRing) Head(output bool) uint64 { return 0 }
