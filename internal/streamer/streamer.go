// Package streamer implements the DataStreamer state machine and report
// builder: a streamer watches one selector for data, decides when it should
// fire (automatically or on a manual mark, optionally coupled to another
// streamer via with_other), and packages drained readings into a Report.
package streamer

import (
	"fmt"

	"github.com/tilesim/tilesim/internal/interfaces"
	"github.com/tilesim/tilesim/internal/reading"
	"github.com/tilesim/tilesim/internal/stream"
	"github.com/tilesim/tilesim/internal/walker"
)

// Format is one of the four wire report encodings a streamer can produce.
type Format int

const (
	Individual Format = iota
	HashedList
	SignedListUserKey
	SignedListDeviceKey
)

func (f Format) String() string {
	switch f {
	case Individual:
		return "individual"
	case HashedList:
		return "hashedlist"
	case SignedListUserKey:
		return "signedlist_userkey"
	case SignedListDeviceKey:
		return "signedlist_devicekey"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// SensorLog is the subset of the sensor log a streamer needs to watch its
// selector, kept narrow so tests can substitute a fake.
type SensorLog interface {
	CreateWalker(sel stream.Selector, skipAll bool) walker.Walker
}

// errKind lets this package construct *tilesim.Error-compatible failures
// without importing the top-level package (which would create an import
// cycle, since the top-level package wires up every internal package).
// Callers that want a tilesim.Error wrap these with tilesim.WrapError.
type errKind struct {
	kind string
	msg  string
}

func (e *errKind) Error() string { return e.msg }

// KindEmptyStream classifies ErrEmptyStream for callers that want to map it
// onto tilesim.KindStreamEmpty without this package importing tilesim.
const KindEmptyStream = "stream_empty"

// KindTooSmall classifies ErrTooSmall onto tilesim.KindInvalidArgument.
const KindTooSmall = "invalid_argument"

// Kind reports the classification string of an error returned by this
// package, or "" if err did not originate here.
func Kind(err error) string {
	if e, ok := err.(*errKind); ok {
		return e.kind
	}
	return ""
}

// ErrEmptyStream is returned by BuildReport when the streamer's walker has
// no data at all (ReadingReports requires triggered() to have been checked
// first, so this indicates a caller/trigger bug rather than a normal case).
var ErrEmptyStream error = &errKind{kind: KindEmptyStream, msg: "streamer has no data to report"}

// ErrTooSmall is returned by BuildReport when max_size cannot hold even a
// single reading in list formats.
var ErrTooSmall error = &errKind{kind: KindTooSmall, msg: "max_size is too small to hold even one reading"}

// Report is the result of a successful BuildReport call: the drained
// readings, the format they were packaged under, and bookkeeping the device
// needs regardless of whether it is recoverable from the report bytes.
type Report struct {
	Format        Format
	Readings      []reading.Reading
	NumReadings   int
	HighestID     uint32
	StreamerIndex int
	Signature     []byte // set only for SignedListUserKey/SignedListDeviceKey
}

// Streamer watches a selector for data and, when triggered, packages
// drained readings for a destination tile per its configured Format.
type Streamer struct {
	Selector   stream.Selector
	DestSlot   uint8
	Format     Format
	Automatic  bool
	WithOther  *int // index of another streamer that also triggers this one
	index      int
	walker     walker.Walker
	manualMark bool
}

// New creates a streamer with the given configuration. Call LinkToStorage
// before Triggered/BuildReport can be used.
func New(sel stream.Selector, destSlot uint8, format Format, automatic bool, withOther *int) *Streamer {
	return &Streamer{Selector: sel, DestSlot: destSlot, Format: format, Automatic: automatic, WithOther: withOther}
}

// LinkToStorage attaches this streamer to a sensor log, creating the walker
// it uses to detect and drain data. Safe to call again to rebind after a
// snapshot restore.
func (s *Streamer) LinkToStorage(sl SensorLog) {
	s.walker = sl.CreateWalker(s.Selector, false)
}

// SetIndex records this streamer's position in its owning set, stamped into
// list-format reports and used for with_other resolution.
func (s *Streamer) SetIndex(i int) { s.index = i }

// Index returns this streamer's registered position.
func (s *Streamer) Index() int { return s.index }

// HasData reports whether the streamer's walker currently has any available
// readings.
func (s *Streamer) HasData() bool {
	if s.walker == nil {
		return false
	}
	return s.walker.Count() > 0
}

// Triggered reports whether this streamer should fire right now: it must
// have data, and either be automatic or have been manually marked.
func (s *Streamer) Triggered(manual bool) bool {
	if !s.Automatic && !manual {
		return false
	}
	return s.HasData()
}

// RequiresID reports whether this streamer's format needs a caller-supplied
// report id (every format except Individual).
func (s *Streamer) RequiresID() bool {
	return s.Format != Individual
}

// RequiresSigning reports whether this streamer's format needs a Signer.
func (s *Streamer) RequiresSigning() bool {
	return s.Format == SignedListUserKey || s.Format == SignedListDeviceKey
}

// maxReadingsFor computes the per-reading framing budget for list formats,
// per §4.4's ⌊(max_size − 20 − 24) / 16⌋ formula.
func maxReadingsFor(maxSize int) int {
	return (maxSize - 20 - 24) / 16
}

// BuildReport drains readings from the streamer's walker and assembles a
// Report. reportID is ignored for Individual and, for the list formats,
// only enters the signed payload; signer is required for the two
// SignedList formats.
func (s *Streamer) BuildReport(maxSize int, reportID uint32, signer interfaces.Signer) (Report, error) {
	if s.walker == nil {
		return Report{}, fmt.Errorf("streamer %d: BuildReport called before LinkToStorage", s.index)
	}
	if s.RequiresSigning() && signer == nil {
		return Report{}, fmt.Errorf("streamer %d: format %s requires a signer", s.index, s.Format)
	}

	switch s.Format {
	case Individual:
		return s.buildIndividual()
	case HashedList, SignedListUserKey, SignedListDeviceKey:
		return s.buildList(maxSize, reportID, signer)
	default:
		return Report{}, fmt.Errorf("streamer %d: unsupported report format %s", s.index, s.Format)
	}
}

func (s *Streamer) buildIndividual() (Report, error) {
	r, err := s.walker.Pop()
	if err != nil {
		return Report{}, ErrEmptyStream
	}
	return Report{
		Format:        Individual,
		Readings:      []reading.Reading{r},
		NumReadings:   1,
		HighestID:     r.ReadingID,
		StreamerIndex: s.index,
	}, nil
}

func (s *Streamer) buildList(maxSize int, reportID uint32, signer interfaces.Signer) (Report, error) {
	maxReadings := maxReadingsFor(maxSize)
	if maxReadings <= 0 {
		return Report{}, ErrTooSmall
	}

	var readings []reading.Reading
	var highestID uint32
	for len(readings) < maxReadings {
		r, err := s.walker.Pop()
		if err != nil {
			break
		}
		readings = append(readings, r)
		if r.ReadingID > highestID {
			highestID = r.ReadingID
		}
	}
	if len(readings) == 0 {
		return Report{}, ErrEmptyStream
	}

	rep := Report{
		Format:        s.Format,
		Readings:      readings,
		NumReadings:   len(readings),
		HighestID:     highestID,
		StreamerIndex: s.index,
	}

	if s.RequiresSigning() {
		payload := encodeForSigning(readings, reportID, s.index)
		sig, err := signer.Sign(payload)
		if err != nil {
			return Report{}, fmt.Errorf("streamer %d: signing failed: %w", s.index, err)
		}
		rep.Signature = sig
	}

	return rep, nil
}

// encodeForSigning produces the deterministic byte payload a Signer signs
// over: every reading's stream id, raw time, value and reading id in
// order, followed by the report id and streamer index.
func encodeForSigning(readings []reading.Reading, reportID uint32, streamerIndex int) []byte {
	buf := make([]byte, 0, len(readings)*14+8)
	for _, r := range readings {
		buf = appendUint16(buf, r.StreamID)
		buf = appendUint32(buf, r.RawTime)
		buf = appendUint32(buf, uint32(r.Value))
		buf = appendUint32(buf, r.ReadingID)
	}
	buf = appendUint32(buf, reportID)
	buf = appendUint32(buf, uint32(streamerIndex))
	return buf
}

func appendUint16(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
