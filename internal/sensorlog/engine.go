package sensorlog

import (
	"github.com/tilesim/tilesim/internal/reading"
	"github.com/tilesim/tilesim/internal/stream"
)

// entry pairs a reading with the stream it was pushed against, since a
// Reading on its own only carries the encoded 16-bit stream id.
type entry struct {
	r reading.Reading
	s stream.Stream
}

// ringBuffer is a fixed-capacity, slice-backed circular buffer of entries
// styled after the teacher's sharded byte-buffer backend, adapted from
// byte-range sharding to reading-slot indexing: a logical "head" index
// (offset of the oldest retained entry) and a slice holding the retained
// window.
type ringBuffer struct {
	capacity  int
	eraseSize int
	rollover  bool
	head      uint64 // logical index of entries[0]
	entries   []entry
}

func newRingBuffer(capacity, eraseSize int) *ringBuffer {
	return &ringBuffer{capacity: capacity, eraseSize: eraseSize, rollover: true}
}

func (rb *ringBuffer) tail() uint64 {
	return rb.head + uint64(len(rb.entries))
}

func (rb *ringBuffer) full() bool {
	return len(rb.entries) >= rb.capacity
}

func (rb *ringBuffer) push(e entry) {
	rb.entries = append(rb.entries, e)
}

// erase drops the oldest eraseSize entries (or fewer if not that many
// remain) and returns them for rollover notification.
func (rb *ringBuffer) erase() []entry {
	n := rb.eraseSize
	if n > len(rb.entries) {
		n = len(rb.entries)
	}
	erased := append([]entry(nil), rb.entries[:n]...)
	rb.entries = rb.entries[n:]
	rb.head += uint64(n)
	return erased
}

func (rb *ringBuffer) at(offset uint64) (entry, bool) {
	if offset < rb.head {
		return entry{}, false
	}
	idx := offset - rb.head
	if idx >= uint64(len(rb.entries)) {
		return entry{}, false
	}
	return rb.entries[idx], true
}

func (rb *ringBuffer) clear() {
	rb.head = rb.tail()
	rb.entries = nil
}

func (rb *ringBuffer) count() int {
	return len(rb.entries)
}

// entryState is the serializable form of a ring buffer entry: the stream
// it was pushed against, stored as a stream.Stream value since that is
// already a plain value type safe to copy directly.
type entryState struct {
	Stream  stream.Stream
	Reading reading.Reading
}

// ringBufferState is the serializable snapshot of one ring buffer: its
// logical head offset and the retained window of entries.
type ringBufferState struct {
	Rollover bool
	Head     uint64
	Entries  []entryState
}

func (rb *ringBuffer) dump() ringBufferState {
	out := ringBufferState{Rollover: rb.rollover, Head: rb.head, Entries: make([]entryState, len(rb.entries))}
	for i, e := range rb.entries {
		out.Entries[i] = entryState{Stream: e.s, Reading: e.r}
	}
	return out
}

// restore replaces this ring buffer's contents with a previously dumped
// state. capacity and eraseSize are left untouched, since they describe
// device-model limits rather than runtime state.
func (rb *ringBuffer) restore(state ringBufferState) {
	rb.rollover = state.Rollover
	rb.head = state.Head
	rb.entries = make([]entry, len(state.Entries))
	for i, e := range state.Entries {
		rb.entries[i] = entry{s: e.Stream, r: e.Reading}
	}
}
