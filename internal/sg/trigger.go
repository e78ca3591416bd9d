package sg

import "github.com/tilesim/tilesim/internal/walker"

// Source selects what an InputTrigger compares: the walker's available
// count, or the value of its next unpopped reading.
type Source int

const (
	SourceCount Source = iota
	SourceValue
)

// Comparator is one of the six comparison operators a Compare trigger may
// use. Eq/Ne/Lt/Le/Gt/Ge map onto the original reference's five operators
// plus Ne, a deliberate addition documented in DESIGN.md.
type Comparator int

const (
	Eq Comparator = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

func compare(cmp Comparator, a, b int64) bool {
	switch cmp {
	case Eq:
		return a == b
	case Ne:
		return a != b
	case Lt:
		return a < b
	case Le:
		return a <= b
	case Gt:
		return a > b
	case Ge:
		return a >= b
	default:
		return false
	}
}

// Trigger evaluates whether a node input should fire given its walker.
type Trigger interface {
	Triggered(w walker.Walker) bool
}

type alwaysTrigger struct{}

func (alwaysTrigger) Triggered(walker.Walker) bool { return true }

// Always is a trigger that is always satisfied.
var Always Trigger = alwaysTrigger{}

type neverTrigger struct{}

func (neverTrigger) Triggered(walker.Walker) bool { return false }

// Never is a trigger that is never satisfied; the default for unconnected
// (Invalid-walker) inputs.
var Never Trigger = neverTrigger{}

// Compare is a trigger that compares a walker's count or the value of its
// next unpopped reading (Peek) against a fixed reference using one of the
// six comparators.
type Compare struct {
	Source     Source
	Comparator Comparator
	Reference  int64
}

func (c Compare) Triggered(w walker.Walker) bool {
	if c.Source == SourceCount {
		return compare(c.Comparator, int64(w.Count()), c.Reference)
	}

	if w.Count() == 0 {
		return false
	}
	r, err := w.Peek()
	if err != nil {
		return false
	}
	return compare(c.Comparator, int64(r.Value), c.Reference)
}

var (
	_ Trigger = Compare{}
)
