// Package reading defines the single data value type that flows through
// streams, walkers, the sensor-graph engine, and streamers.
package reading

// Reading is one timestamped value recorded against a stream. ReadingID is
// assigned by the sensor log only for readings pushed to a buffered or
// output stream; it is zero (and HasID false) for values held only in a
// virtual/counter walker latch.
type Reading struct {
	StreamID  uint16
	RawTime   uint32
	Value     int32
	ReadingID uint32
	HasID     bool
}

// New constructs a Reading with no assigned id, as produced by a processing
// function before it is pushed into a stream.
func New(streamID uint16, rawTime uint32, value int32) Reading {
	return Reading{StreamID: streamID, RawTime: rawTime, Value: value}
}

// WithID returns a copy of r stamped with the given persistent id.
func (r Reading) WithID(id uint32) Reading {
	r.ReadingID = id
	r.HasID = true
	return r
}
