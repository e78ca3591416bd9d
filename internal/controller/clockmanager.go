package controller

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tilesim/tilesim/internal/loop"
	"github.com/tilesim/tilesim/internal/reading"
	"github.com/tilesim/tilesim/internal/stream"
)

// Well-known system input streams the clock manager drives, per §6.
var (
	systemTickStream = stream.Stream{Type: stream.Input, System: true, Number: 2}
	userTickStream   = stream.Stream{Type: stream.Input, System: true, Number: 3}
)

const systemTickPeriodSeconds = 10

// SensorGraphPusher is the collaborator the clock manager drives root
// stream pushes into: push the reading into storage, then run the graph
// evaluation pass rooted at that stream.
type SensorGraphPusher interface {
	Push(s stream.Stream, r reading.Reading) error
	ProcessPush(ctx context.Context, s stream.Stream, rawTime uint32)
}

// ClockSource abstracts the monotonic time source the simulated-second
// ticker paces against. Production code samples golang.org/x/sys/unix's
// CLOCK_MONOTONIC rather than wall-clock time.Now(), so that scenarios
// replay deterministically under a fake clock source in tests.
type ClockSource interface {
	Now() time.Duration
}

// MonotonicClock samples CLOCK_MONOTONIC via golang.org/x/sys/unix.
type MonotonicClock struct{}

func (MonotonicClock) Now() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Sec)*time.Second + time.Duration(ts.Nsec)
}

// ClockManager ticks once per simulated second, driving the system tick
// (every 10 simulated seconds) and a configurable-period user tick into
// the sensor-graph's root streams, per §4.5.
type ClockManager struct {
	clock  ClockSource
	pusher SensorGraphPusher

	mu             sync.Mutex
	simSeconds     uint32
	userTickPeriod uint32 // simulated seconds, >= 1

	initialized *loop.Event
}

// NewClockManager creates a clock manager driving pusher, sampling time
// from clock. userTickPeriod is clamped to a minimum of 1 second.
func NewClockManager(clock ClockSource, pusher SensorGraphPusher, userTickPeriod uint32) *ClockManager {
	if userTickPeriod < 1 {
		userTickPeriod = 1
	}
	return &ClockManager{
		clock:          clock,
		pusher:         pusher,
		userTickPeriod: userTickPeriod,
		initialized:    loop.NewEvent(),
	}
}

// SetUserTickPeriod changes the user tick's period, in simulated seconds.
func (c *ClockManager) SetUserTickPeriod(seconds uint32) {
	if seconds < 1 {
		seconds = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userTickPeriod = seconds
}

// SimulatedSeconds reports the number of simulated-second ticks elapsed
// since the last ClearToReset.
func (c *ClockManager) SimulatedSeconds() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.simSeconds
}

// Tick advances the simulated clock by one second and pushes a system
// and/or user tick reading when their respective periods elapse. It must
// run on the emulation loop, since it calls into the sensor-graph pusher.
func (c *ClockManager) Tick(ctx context.Context) {
	c.mu.Lock()
	c.simSeconds++
	seconds := c.simSeconds
	period := c.userTickPeriod
	c.mu.Unlock()

	if seconds%systemTickPeriodSeconds == 0 {
		c.push(ctx, systemTickStream, seconds)
	}
	if seconds%period == 0 {
		c.push(ctx, userTickStream, seconds)
	}
}

func (c *ClockManager) push(ctx context.Context, s stream.Stream, rawTime uint32) {
	r := reading.New(s.Encode(), rawTime, int32(rawTime))
	if err := c.pusher.Push(s, r); err != nil {
		return
	}
	c.pusher.ProcessPush(ctx, s, rawTime)
}

// Run polls the monotonic clock source and calls Tick once per elapsed
// simulated second, until ctx is cancelled. Intended to be registered as
// the clock manager's device-wide task via loop.Loop.RegisterTask.
func (c *ClockManager) Run(ctx context.Context) {
	const pollInterval = time.Millisecond
	last := c.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}

		now := c.clock.Now()
		for now-last >= time.Second {
			last += time.Second
			c.Tick(ctx)
		}
	}
}

// ClockManagerState is the serializable snapshot of a clock manager's
// simulated-second counter and user-tick period.
type ClockManagerState struct {
	SimulatedSeconds uint32
	UserTickPeriod   uint32
}

// Dump returns the clock manager's current counters.
func (c *ClockManager) Dump() ClockManagerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClockManagerState{SimulatedSeconds: c.simSeconds, UserTickPeriod: c.userTickPeriod}
}

// Restore replaces the clock manager's counters with a previously dumped
// state.
func (c *ClockManager) Restore(state ClockManagerState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.simSeconds = state.SimulatedSeconds
	if state.UserTickPeriod >= 1 {
		c.userTickPeriod = state.UserTickPeriod
	}
}

// ClearToReset resets the simulated clock back to zero.
func (c *ClockManager) ClearToReset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.simSeconds = 0
	c.initialized.Reset()
}

// Initialized reports the event a reset vector awaits.
func (c *ClockManager) Initialized() *loop.Event { return c.initialized }

// ResetVector marks the subsystem initialized.
func (c *ClockManager) ResetVector(ctx context.Context) {
	c.initialized.Signal()
}
