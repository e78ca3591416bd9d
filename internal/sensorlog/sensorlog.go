// Package sensorlog implements the ring-buffered storage engine and the
// SensorLog façade: push/erase/rollover semantics, stream walker creation
// and notification, last-value inspection, and monitor callbacks.
package sensorlog

import (
	"fmt"

	"github.com/tilesim/tilesim/internal/interfaces"
	"github.com/tilesim/tilesim/internal/reading"
	"github.com/tilesim/tilesim/internal/stream"
	"github.com/tilesim/tilesim/internal/walker"
)

// Config bounds the two ring buffers. Capacity is in readings;
// StorageEraseSize and StreamingEraseSize are the number of readings
// dropped on a single rollover.
type Config struct {
	StorageCapacity    int
	StorageEraseSize   int
	StreamingCapacity  int
	StreamingEraseSize int
}

// DefaultConfig mirrors a modest embedded device's storage budget.
func DefaultConfig() Config {
	return Config{
		StorageCapacity:    2048,
		StorageEraseSize:   32,
		StreamingCapacity:  2048,
		StreamingEraseSize: 32,
	}
}

// IDAssigner assigns a persistent reading_id to a reading about to be
// pushed to a buffered or output stream. If nil, the SensorLog assigns a
// simple monotonic counter itself.
type IDAssigner func(s stream.Stream, r reading.Reading) uint32

type monitor struct {
	sel *stream.Selector // nil means "matches everything"
	cb  func(stream.Stream, reading.Reading)
}

// SensorLog is the central storage and walker-tracking structure for one
// device's sensor-graph data.
type SensorLog struct {
	storage   *ringBuffer
	streaming *ringBuffer

	nextID uint32
	idFn   IDAssigner

	lastValues map[stream.Stream]reading.Reading
	monitors   []monitor

	bufferedWalkers []*walker.Buffered
	virtualWalkers  []walker.Walker // *Virtual or *Counter, keyed by identity

	obs interfaces.Observer
}

// New creates a SensorLog with the given ring buffer configuration.
func New(cfg Config, obs interfaces.Observer) *SensorLog {
	if obs == nil {
		obs = noopObserver{}
	}
	return &SensorLog{
		storage:    newRingBuffer(cfg.StorageCapacity, cfg.StorageEraseSize),
		streaming:  newRingBuffer(cfg.StreamingCapacity, cfg.StreamingEraseSize),
		lastValues: make(map[stream.Stream]reading.Reading),
		obs:        obs,
	}
}

type noopObserver struct{}

func (noopObserver) ObserveRPC(uint16, uint16, uint64, bool, bool)    {}
func (noopObserver) ObserveNodeEval(bool, int)                       {}
func (noopObserver) ObserveStreamerReport(int, int, int)             {}
func (noopObserver) ObserveRollover(string, int)                     {}

// SetRollover enables or disables rollover for the named buffer
// ("storage" or "streaming"); with rollover disabled the buffer is in
// fill-stop mode and a push to a full buffer fails.
func (sl *SensorLog) SetRollover(area string, enabled bool) error {
	switch area {
	case "storage":
		sl.storage.rollover = enabled
	case "streaming":
		sl.streaming.rollover = enabled
	default:
		return errInvalidArea(area)
	}
	return nil
}

type errInvalidArea string

func (e errInvalidArea) Error() string { return "invalid rollover area: " + string(e) }

// Watch registers a callback invoked on every push matching sel (nil
// matches every stream).
func (sl *SensorLog) Watch(sel *stream.Selector, cb func(stream.Stream, reading.Reading)) {
	sl.monitors = append(sl.monitors, monitor{sel: sel, cb: cb})
}

// CreateWalker builds the concrete walker variant implied by sel and
// begins tracking it for push/rollover notifications.
func (sl *SensorLog) CreateWalker(sel stream.Selector, skipAll bool) walker.Walker {
	if sel.Type == stream.Buffered || sel.Type == stream.Output {
		w := walker.NewBuffered(sel, sl, skipAll)
		sl.bufferedWalkers = append(sl.bufferedWalkers, w)
		return w
	}

	if sel.Type == stream.Counter {
		w := walker.NewCounter(sel)
		sl.virtualWalkers = append(sl.virtualWalkers, w)
		return w
	}

	w := walker.NewVirtual(sel)
	sl.virtualWalkers = append(sl.virtualWalkers, w)
	return w
}

// DestroyWalker stops tracking a previously created walker.
func (sl *SensorLog) DestroyWalker(w walker.Walker) {
	if bw, ok := w.(*walker.Buffered); ok {
		for i, existing := range sl.bufferedWalkers {
			if existing == bw {
				sl.bufferedWalkers = append(sl.bufferedWalkers[:i], sl.bufferedWalkers[i+1:]...)
				return
			}
		}
		return
	}
	for i, existing := range sl.virtualWalkers {
		if existing == w {
			sl.virtualWalkers = append(sl.virtualWalkers[:i], sl.virtualWalkers[i+1:]...)
			return
		}
	}
}

// DestroyAllWalkers drops every tracked walker.
func (sl *SensorLog) DestroyAllWalkers() {
	sl.bufferedWalkers = nil
	sl.virtualWalkers = nil
}

// Count returns the number of readings currently retained in (storage,
// streaming).
func (sl *SensorLog) Count() (int, int) {
	return sl.storage.count(), sl.streaming.count()
}

// Clear empties both ring buffers and skips every tracked walker. The
// caller is responsible for pushing the well-known DATA_CLEARED reading
// that records the highest allocated id, per the clear() contract.
func (sl *SensorLog) Clear() {
	for _, w := range sl.virtualWalkers {
		w.SkipAll()
	}
	sl.storage.clear()
	sl.streaming.clear()
	for _, w := range sl.bufferedWalkers {
		w.SkipAll()
	}
	sl.lastValues = make(map[stream.Stream]reading.Reading)
}

// NextID returns the id that would be assigned to the next pushed
// reading, without consuming it. Used by Clear's DATA_CLEARED reading and
// by snapshotting.
func (sl *SensorLog) NextID() uint32 { return sl.nextID }

// SetNextID restores the monotonic id counter, used by snapshot restore.
func (sl *SensorLog) SetNextID(id uint32) { sl.nextID = id }

// SetIDAssigner installs a custom reading_id assignment function.
func (sl *SensorLog) SetIDAssigner(fn IDAssigner) { sl.idFn = fn }

// Push records a reading against stream s, following the documented
// three-step policy: append if there is room; else erase one block and
// retry if rollover is enabled; else fail with RingBufferFull.
func (sl *SensorLog) Push(s stream.Stream, r reading.Reading) error {
	r.StreamID = s.Encode()

	if s.Buffered() {
		rb := sl.bufferAreaFor(s)

		if rb.full() {
			if !rb.rollover {
				return &bufferFullError{}
			}
			erased := rb.erase()
			sl.obs.ObserveRollover(bufferName(s.Output()), len(erased))
			for _, e := range erased {
				sl.notifyRollover(e.s, s.Output())
			}
		}

		if sl.idFn != nil {
			r = r.WithID(sl.idFn(s, r))
		} else {
			r = r.WithID(sl.nextID)
			sl.nextID++
		}

		rb.push(entry{r: r, s: s})
		sl.notifyAdded(s, s.Output())
	}

	for _, m := range sl.monitors {
		if m.sel == nil || m.sel.Matches(s) {
			m.cb(s, r)
		}
	}

	for _, w := range sl.virtualWalkers {
		switch vw := w.(type) {
		case *walker.Virtual:
			vw.Push(s, r)
		case *walker.Counter:
			vw.Push(s, r)
		}
	}

	sl.lastValues[s] = r
	return nil
}

type bufferFullError struct{}

func (e *bufferFullError) Error() string { return "ring buffer is full" }

// IsRingBufferFull reports whether err is the fill-stop overflow error.
func IsRingBufferFull(err error) bool {
	_, ok := err.(*bufferFullError)
	return ok
}

func (sl *SensorLog) bufferAreaFor(s stream.Stream) *ringBuffer {
	if s.Output() {
		return sl.streaming
	}
	return sl.storage
}

func bufferName(output bool) string {
	if output {
		return "streaming"
	}
	return "storage"
}

func (sl *SensorLog) notifyAdded(s stream.Stream, output bool) {
	for _, w := range sl.bufferedWalkers {
		w.NotifyAdded(s, output)
	}
}

func (sl *SensorLog) notifyRollover(s stream.Stream, output bool) {
	for _, w := range sl.bufferedWalkers {
		w.NotifyRollover(s, output)
	}
}

// InspectLast returns the last value pushed to stream s, regardless of
// whether any walker is currently listening to it.
func (sl *SensorLog) InspectLast(s stream.Stream) (reading.Reading, bool) {
	r, ok := sl.lastValues[s]
	return r, ok
}

// SensorLogState is the serializable snapshot of a SensorLog: both ring
// buffers, the next reading id, last-pushed values, and every tracked
// walker's cursor keyed by its selector string, mirroring the shape of
// sensor_log.py's dump()/restore() pair.
type SensorLogState struct {
	Storage    ringBufferState
	Streaming  ringBufferState
	NextID     uint32
	LastValues map[stream.Stream]reading.Reading
	Walkers    map[string]map[string]any
}

// Dump returns the full serializable state of this sensor log.
func (sl *SensorLog) Dump() SensorLogState {
	lastValues := make(map[stream.Stream]reading.Reading, len(sl.lastValues))
	for s, r := range sl.lastValues {
		lastValues[s] = r
	}

	walkers := make(map[string]map[string]any, len(sl.bufferedWalkers)+len(sl.virtualWalkers))
	for _, w := range sl.bufferedWalkers {
		walkers[w.Selector().String()] = w.Dump()
	}
	for _, w := range sl.virtualWalkers {
		walkers[w.Selector().String()] = w.Dump()
	}

	return SensorLogState{
		Storage:    sl.storage.dump(),
		Streaming:  sl.streaming.dump(),
		NextID:     sl.nextID,
		LastValues: lastValues,
		Walkers:    walkers,
	}
}

// Restore replaces this sensor log's ring buffers, id counter, and
// last-values with a previously dumped state, then applies walker cursors
// to whichever walkers are currently tracked: a walker present now but
// absent from the dump keeps its current cursor (it did not exist when
// dump() was called); a walker present in the dump but absent now is
// simply dropped.
// If permissive is false, any currently tracked walker missing from the
// dump is reported as a restore error rather than silently skipped,
// mirroring the original's non-permissive restore() behavior.
func (sl *SensorLog) Restore(state SensorLogState, permissive bool) error {
	sl.storage.restore(state.Storage)
	sl.streaming.restore(state.Streaming)
	sl.nextID = state.NextID

	sl.lastValues = make(map[stream.Stream]reading.Reading, len(state.LastValues))
	for s, r := range state.LastValues {
		sl.lastValues[s] = r
	}

	for _, w := range sl.bufferedWalkers {
		dumped, ok := state.Walkers[w.Selector().String()]
		if !ok {
			if !permissive {
				return &snapshotMismatchError{selector: w.Selector().String()}
			}
			continue
		}
		w.Restore(dumped)
	}
	for _, w := range sl.virtualWalkers {
		sel := w.Selector().String()
		dumped, ok := state.Walkers[sel]
		if !ok {
			if !permissive {
				return &snapshotMismatchError{selector: sel}
			}
			continue
		}
		switch vw := w.(type) {
		case *walker.Virtual:
			vw.Restore(dumped)
		case *walker.Counter:
			vw.Restore(dumped)
		}
	}

	return nil
}

type snapshotMismatchError struct {
	selector string
}

func (e *snapshotMismatchError) Error() string {
	return fmt.Sprintf("sensor log restore: no dumped state for walker %s", e.selector)
}

// IsSnapshotMismatch reports whether err is a restore failure caused by a
// currently tracked walker missing from the dumped state.
func IsSnapshotMismatch(err error) bool {
	_, ok := err.(*snapshotMismatchError)
	return ok
}

// ReadingAt implements walker.RingReader for Buffered walkers.
func (sl *SensorLog) ReadingAt(output bool, offset uint64) (reading.Reading, stream.Stream, bool) {
	rb := sl.storage
	if output {
		rb = sl.streaming
	}
	e, ok := rb.at(offset)
	if !ok {
		return reading.Reading{}, stream.Stream{}, false
	}
	return e.r, e.s, true
}

// Tail implements walker.RingReader for Buffered walkers.
func (sl *SensorLog) Tail(output bool) uint64 {
	if output {
		return sl.streaming.tail()
	}
	return sl.storage.tail()
}

// Head implements walker.RingReader for Buffered walkers.
func (sl *SensorLog) Head(output bool) uint64 {
	if output {
		return sl.streaming.head
	}
	return sl.storage.head
}
