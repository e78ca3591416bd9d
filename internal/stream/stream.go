// Package stream implements the stream id and selector encoding used to
// address sensor-graph data: a 16-bit packed (type, system, number) tag and
// a wildcard selector pattern over those tags.
package stream

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is the 4-bit stream type tag.
type Type uint8

const (
	Buffered Type = iota
	Unbuffered
	Constant
	Input
	Counter
	Output
)

var typeNames = map[Type]string{
	Buffered:   "buffered",
	Unbuffered: "unbuffered",
	Constant:   "constant",
	Input:      "input",
	Counter:    "count",
	Output:     "output",
}

var namesToType = map[string]Type{
	"buffered":   Buffered,
	"unbuffered": Unbuffered,
	"constant":   Constant,
	"input":      Input,
	"count":      Counter,
	"output":     Output,
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", t)
}

// KnownBreakStreams lists the system stream numbers that MatchUserAndBreaks
// selectors are permitted to also match even though they are system streams.
var KnownBreakStreams = map[uint16]string{
	1024: "device_reboot",
}

// Stream is a concrete, fully-resolved stream identifier.
type Stream struct {
	Type   Type
	System bool
	Number uint16 // 11-bit stream number
}

// Buffered reports whether this stream persists readings in a ring buffer
// (as opposed to holding a single latched value).
func (s Stream) Buffered() bool {
	return s.Type == Buffered || s.Type == Output
}

// Output reports whether this stream's persistent data lives in the
// "streaming" ring buffer rather than the "storage" one. Only meaningful
// for buffered streams.
func (s Stream) Output() bool {
	return s.Type == Output
}

// Encode packs the stream into its 16-bit wire representation:
// (stream_type<<12) | (system<<11) | stream_number.
func (s Stream) Encode() uint16 {
	sys := uint16(0)
	if s.System {
		sys = 1
	}
	return (uint16(s.Type) << 12) | (sys << 11) | (s.Number & 0x7FF)
}

// Decode unpacks a 16-bit wire stream id.
func Decode(encoded uint16) Stream {
	return Stream{
		Type:   Type((encoded >> 12) & 0xF),
		System: (encoded & (1 << 11)) != 0,
		Number: encoded & 0x7FF,
	}
}

func (s Stream) String() string {
	prefix := ""
	if s.System {
		prefix = "system "
	}
	return fmt.Sprintf("%s%s %d", prefix, s.Type, s.Number)
}

// FromString parses the canonical textual form:
// "[system] (buffered|unbuffered|constant|input|count|output) <integer>".
func FromString(s string) (Stream, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	system := false
	if len(fields) > 0 && fields[0] == "system" {
		system = true
		fields = fields[1:]
	}

	if len(fields) != 2 {
		return Stream{}, fmt.Errorf("invalid stream string %q", s)
	}

	typ, ok := namesToType[fields[0]]
	if !ok {
		return Stream{}, fmt.Errorf("unknown stream type %q in %q", fields[0], s)
	}

	num, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return Stream{}, fmt.Errorf("invalid stream number in %q: %w", s, err)
	}

	return Stream{Type: typ, System: system, Number: uint16(num)}, nil
}

// MatchSpec selects which subset of a wildcard match_type a Selector
// matches: system-only, user-only, a combination of both, or user plus a
// small set of known break streams.
type MatchSpec uint8

const (
	MatchSystemOnly MatchSpec = iota + 1
	MatchCombined
	MatchUserOnly
	MatchUserAndBreaks
)

// matchAllCode is the sentinel match_id value meaning "any number", taken
// from the low 11 bits all set.
const matchAllCode = (1 << 11) - 1

var specEncoding = map[MatchSpec]uint16{
	MatchSystemOnly:    1 << 11,
	MatchUserOnly:      0,
	MatchUserAndBreaks: 1 << 15,
	MatchCombined:      (1 << 11) | (1 << 15),
}

// Selector matches either one concrete stream (MatchID != nil) or a class
// of streams sharing a Type and a MatchSpec.
type Selector struct {
	Type    Type
	Spec    MatchSpec
	MatchID *uint16 // nil means "any number" (wildcard)
}

// Wildcard constructs a selector with no concrete stream number.
func Wildcard(t Type, spec MatchSpec) Selector {
	return Selector{Type: t, Spec: spec}
}

// Exact constructs a selector matching exactly one stream.
func Exact(s Stream) Selector {
	n := s.Number
	spec := MatchUserOnly
	if s.System {
		spec = MatchSystemOnly
	}
	return Selector{Type: s.Type, Spec: spec, MatchID: &n}
}

// AsStream converts an exact (non-wildcard) selector back to a concrete
// Stream. Only valid when MatchID is non-nil.
func (sel Selector) AsStream() (Stream, bool) {
	if sel.MatchID == nil {
		return Stream{}, false
	}
	return Stream{Type: sel.Type, System: sel.Spec == MatchSystemOnly, Number: *sel.MatchID}, true
}

// Inexhaustible reports whether this selector (or the stream it resolves
// to) refers to a Constant stream, which never runs dry.
func (sel Selector) Inexhaustible() bool {
	return sel.Type == Constant
}

// Matches reports whether a concrete stream satisfies this selector,
// following the original reference semantics exactly: type must match
// first; an exact MatchID requires an exact number match; otherwise the
// MatchSpec governs which system/user streams are accepted.
func (sel Selector) Matches(s Stream) bool {
	if sel.Type != s.Type {
		return false
	}

	if sel.MatchID != nil {
		return *sel.MatchID == s.Number && sel.matchesSystemFlag(s)
	}

	switch sel.Spec {
	case MatchUserOnly:
		return !s.System
	case MatchSystemOnly:
		return s.System
	case MatchUserAndBreaks:
		if !s.System {
			return true
		}
		_, known := KnownBreakStreams[s.Number]
		return known
	case MatchCombined:
		return true
	default:
		return false
	}
}

func (sel Selector) matchesSystemFlag(s Stream) bool {
	switch sel.Spec {
	case MatchSystemOnly:
		return s.System
	case MatchUserOnly:
		return !s.System
	default:
		return true
	}
}

// Encode packs the selector into its 16-bit wire representation.
func (sel Selector) Encode() uint16 {
	id := uint16(matchAllCode)
	if sel.MatchID != nil {
		id = *sel.MatchID
	}
	return (uint16(sel.Type) << 12) | specEncoding[sel.Spec] | id
}

// String renders the canonical textual form of a selector, mirroring
// FromString's grammar.
func (sel Selector) String() string {
	if st, ok := sel.AsStream(); ok {
		return st.String()
	}

	scope := "user"
	switch sel.Spec {
	case MatchSystemOnly:
		scope = "system"
	case MatchCombined:
		scope = "combined"
	case MatchUserAndBreaks:
		scope = "user_and_breaks"
	}
	return fmt.Sprintf("all %s %ss", scope, sel.Type)
}

// SelectorFromString parses either a concrete stream string or a wildcard
// selector string of the form "all [system|user|combined|user_and_breaks] <type>s".
func SelectorFromString(s string) (Selector, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "all ") {
		st, err := FromString(s)
		if err != nil {
			return Selector{}, err
		}
		return Exact(st), nil
	}

	rest := strings.Fields(strings.TrimPrefix(s, "all "))
	var scope, typeWord string
	switch len(rest) {
	case 1:
		scope, typeWord = "user", rest[0]
	case 2:
		scope, typeWord = rest[0], rest[1]
	default:
		return Selector{}, fmt.Errorf("invalid selector string %q", s)
	}

	typeWord = strings.TrimSuffix(typeWord, "s")
	typ, ok := namesToType[typeWord]
	if !ok {
		return Selector{}, fmt.Errorf("unknown stream type %q in %q", typeWord, s)
	}

	var spec MatchSpec
	switch scope {
	case "system":
		spec = MatchSystemOnly
	case "user":
		spec = MatchUserOnly
	case "combined":
		spec = MatchCombined
	case "user_and_breaks":
		spec = MatchUserAndBreaks
	default:
		return Selector{}, fmt.Errorf("unknown selector scope %q in %q", scope, s)
	}

	return Wildcard(typ, spec), nil
}
