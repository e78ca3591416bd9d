// Package walker implements the four stream walker variants used by the
// sensor log and sensor-graph engine to read from streams: Buffered,
// Virtual, Counter, and Invalid.
package walker

import (
	"github.com/tilesim/tilesim/internal/reading"
	"github.com/tilesim/tilesim/internal/stream"
)

// RingReader is the minimal surface a Buffered walker needs from the
// underlying storage engine: positional access into one of the two ring
// buffers by logical offset, and the current tail/fill count.
type RingReader interface {
	// ReadingAt returns the reading at absolute logical offset `offset` (the
	// same numbering as Tail and Head) in the named buffer, or false if that
	// offset is no longer or not yet retained.
	ReadingAt(output bool, offset uint64) (reading.Reading, stream.Stream, bool)
	// Tail returns the current write cursor (number of readings ever
	// pushed) for the named buffer.
	Tail(output bool) uint64
	// Head returns the logical offset of the oldest currently-retained
	// reading for the named buffer (entries before it have been erased).
	Head(output bool) uint64
}

// Walker is the common interface implemented by all four variants.
type Walker interface {
	Selector() stream.Selector
	Buffered() bool
	Matches(s stream.Stream) bool
	Count() uint32
	Pop() (reading.Reading, error)
	Peek() (reading.Reading, error)
	SkipAll()
}

// errEmpty is returned by Pop/Peek when a walker has no available data.
// Packaged by the caller into a *tilesim.Error with KindStreamEmpty; kept
// as a plain sentinel here so this package has no dependency on the
// top-level error type.
type errEmpty struct{ msg string }

func (e *errEmpty) Error() string { return e.msg }

// ErrEmpty is returned by Pop/Peek when there is no data available.
var ErrEmpty error = &errEmpty{"stream is empty"}

// ErrInvalid is returned by Push on an InvalidWalker.
var ErrInvalid error = &errEmpty{"cannot push to an unconnected input"}

// Buffered is a cursor into the storage or streaming ring buffer selected
// by selector.Output(). It tracks an offset (logical position of the next
// reading to pop) and an available count, both maintained by NotifyAdded
// and NotifyRollover as the sensor log pushes and erases data.
type Buffered struct {
	sel    stream.Selector
	engine RingReader
	output bool
	offset uint64
	count  uint32
}

// NewBuffered creates a buffered walker. When skipAll is true the walker
// starts at the current tail with count 0 (sees only future pushes); when
// false it starts at the current head with the engine's present fill
// count (sees everything already buffered).
func NewBuffered(sel stream.Selector, engine RingReader, skipAll bool) *Buffered {
	output := false
	if st, ok := sel.AsStream(); ok {
		output = st.Output()
	} else {
		output = sel.Type == stream.Output
	}

	w := &Buffered{sel: sel, engine: engine, output: output}
	if skipAll {
		w.offset = engine.Tail(output)
		w.count = 0
	} else {
		w.offset = engine.Head(output)
		var count uint32
		for off := w.offset; off < engine.Tail(output); off++ {
			if _, s, ok := engine.ReadingAt(output, off); ok && sel.Matches(s) {
				count++
			}
		}
		w.count = count
	}
	return w
}

func (w *Buffered) Selector() stream.Selector { return w.sel }
func (w *Buffered) Buffered() bool            { return true }
func (w *Buffered) Matches(s stream.Stream) bool {
	return w.sel.Matches(s)
}

func (w *Buffered) Count() uint32 { return w.count }

// Offset returns the walker's current logical read cursor, exposed for
// diagnostics and snapshot tests.
func (w *Buffered) Offset() uint64 { return w.offset }

// Pop advances past and returns the next matching reading, skipping any
// interleaved non-matching readings in the same buffer.
func (w *Buffered) Pop() (reading.Reading, error) {
	if w.count == 0 {
		return reading.Reading{}, ErrEmpty
	}

	for {
		r, s, ok := w.engine.ReadingAt(w.output, w.offset)
		w.offset++
		if !ok {
			return reading.Reading{}, ErrEmpty
		}
		if w.sel.Matches(s) {
			w.count--
			return r, nil
		}
	}
}

// Peek returns the next matching reading without consuming it.
func (w *Buffered) Peek() (reading.Reading, error) {
	if w.count == 0 {
		return reading.Reading{}, ErrEmpty
	}

	offset := w.offset
	for {
		r, s, ok := w.engine.ReadingAt(w.output, offset)
		offset++
		if !ok {
			return reading.Reading{}, ErrEmpty
		}
		if w.sel.Matches(s) {
			return r, nil
		}
	}
}

// SkipAll moves the cursor to the current tail and zeroes the available
// count, discarding anything not yet popped.
func (w *Buffered) SkipAll() {
	w.offset = w.engine.Tail(w.output)
	w.count = 0
}

// NotifyAdded is called by the sensor log after a successful push to
// buffer `output`. It only increments count when the push landed in this
// walker's buffer area and matches its selector.
func (w *Buffered) NotifyAdded(s stream.Stream, output bool) {
	if output == w.output && w.sel.Matches(s) {
		w.count++
	}
}

// NotifyRollover is called once per erased reading in buffer `output`. The
// engine addresses entries by an absolute, ever-growing position (unlike
// the original reference's relative list index), so a walker that had not
// yet read up to an erased entry must have its cursor advanced past it
// rather than shifted back: offset only moves forward, and only up to the
// buffer's new head, since engine.ReadingAt refuses anything below it. The
// count only decrements when the erased reading also matches this
// walker's selector.
func (w *Buffered) NotifyRollover(s stream.Stream, output bool) {
	if output != w.output {
		return
	}
	if w.offset < w.engine.Head(w.output) {
		w.offset++
	}
	if w.sel.Matches(s) && w.count > 0 {
		w.count--
	}
}

// Dump returns a serializable snapshot of this walker's cursor state.
func (w *Buffered) Dump() map[string]any {
	return map[string]any{"offset": w.offset, "count": w.count}
}

// Restore applies a previously dumped cursor state.
func (w *Buffered) Restore(state map[string]any) {
	if v, ok := state["offset"].(uint64); ok {
		w.offset = v
	}
	if v, ok := state["count"].(uint32); ok {
		w.count = v
	}
}

// Virtual is a single-latch walker for Unbuffered, Input, and Constant
// streams. Constant streams never exhaust: Count reports the inexhaustible
// sentinel and Pop does not clear the latch.
type Virtual struct {
	sel     stream.Selector
	reading *reading.Reading
}

// NewVirtual creates a virtual walker. sel must be a concrete (non-wildcard)
// selector.
func NewVirtual(sel stream.Selector) *Virtual {
	return &Virtual{sel: sel}
}

func (w *Virtual) Selector() stream.Selector    { return w.sel }
func (w *Virtual) Buffered() bool               { return false }
func (w *Virtual) Matches(s stream.Stream) bool { return w.sel.Matches(s) }

// Count returns 0xFFFFFFFF for constants (inexhaustible), else 0 or 1.
func (w *Virtual) Count() uint32 {
	if w.sel.Type == stream.Constant {
		return 0xFFFFFFFF
	}
	if w.reading == nil {
		return 0
	}
	return 1
}

// Push unconditionally overwrites the latch with the newest value.
func (w *Virtual) Push(s stream.Stream, r reading.Reading) {
	if !w.sel.Matches(s) {
		return
	}
	cp := r
	w.reading = &cp
}

func (w *Virtual) Pop() (reading.Reading, error) {
	if w.reading == nil {
		return reading.Reading{}, ErrEmpty
	}
	r := *w.reading
	if w.sel.Type != stream.Constant {
		w.reading = nil
	}
	return r, nil
}

func (w *Virtual) Peek() (reading.Reading, error) {
	if w.reading == nil {
		return reading.Reading{}, ErrEmpty
	}
	return *w.reading, nil
}

func (w *Virtual) SkipAll() {
	if w.sel.Type == stream.Constant {
		return
	}
	w.reading = nil
}

func (w *Virtual) Dump() map[string]any {
	if w.reading == nil {
		return map[string]any{"reading": nil}
	}
	return map[string]any{"reading": *w.reading}
}

func (w *Virtual) Restore(state map[string]any) {
	if v, ok := state["reading"].(reading.Reading); ok {
		cp := v
		w.reading = &cp
	}
}

// Counter is a single-latch walker that additionally tracks how many pushes
// have occurred since the last pop. Unlike Virtual, pop always returns the
// same latched value (the latest), decrementing the push count rather than
// clearing the latch.
type Counter struct {
	sel     stream.Selector
	reading *reading.Reading
	count   uint32
}

// NewCounter creates a counter walker. sel must be a concrete selector.
func NewCounter(sel stream.Selector) *Counter {
	return &Counter{sel: sel}
}

func (w *Counter) Selector() stream.Selector    { return w.sel }
func (w *Counter) Buffered() bool               { return false }
func (w *Counter) Matches(s stream.Stream) bool { return w.sel.Matches(s) }
func (w *Counter) Count() uint32                { return w.count }

// Push overwrites the latched value and increments the push count.
func (w *Counter) Push(s stream.Stream, r reading.Reading) {
	if !w.sel.Matches(s) {
		return
	}
	cp := r
	w.reading = &cp
	w.count++
}

func (w *Counter) Pop() (reading.Reading, error) {
	if w.count == 0 {
		return reading.Reading{}, ErrEmpty
	}
	w.count--
	return *w.reading, nil
}

func (w *Counter) Peek() (reading.Reading, error) {
	if w.reading == nil {
		return reading.Reading{}, ErrEmpty
	}
	return *w.reading, nil
}

func (w *Counter) SkipAll() {
	w.count = 0
}

func (w *Counter) Dump() map[string]any {
	return map[string]any{"count": w.count}
}

func (w *Counter) Restore(state map[string]any) {
	if v, ok := state["count"].(uint32); ok {
		w.count = v
	}
}

// Invalid represents an unconnected node input slot. It never matches
// anything, is always empty, and rejects pushes.
type Invalid struct{}

func (w *Invalid) Selector() stream.Selector       { return stream.Selector{} }
func (w *Invalid) Buffered() bool                  { return false }
func (w *Invalid) Matches(s stream.Stream) bool    { return false }
func (w *Invalid) Count() uint32                   { return 0 }
func (w *Invalid) Pop() (reading.Reading, error)   { return reading.Reading{}, ErrEmpty }
func (w *Invalid) Peek() (reading.Reading, error)  { return reading.Reading{}, ErrEmpty }
func (w *Invalid) SkipAll()                        {}
func (w *Invalid) Push(stream.Stream, reading.Reading) error {
	return ErrInvalid
}

var (
	_ Walker = (*Buffered)(nil)
	_ Walker = (*Virtual)(nil)
	_ Walker = (*Counter)(nil)
	_ Walker = (*Invalid)(nil)
)
