package loop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventStartsUnset(t *testing.T) {
	e := NewEvent()
	assert.False(t, e.Set())
}

func TestEventSignalIsIdempotentAndSticky(t *testing.T) {
	e := NewEvent()
	e.Signal()
	e.Signal()
	assert.True(t, e.Set())
}

func TestEventResetClearsSignal(t *testing.T) {
	e := NewEvent()
	e.Signal()
	e.Reset()
	assert.False(t, e.Set())
}

func TestEventWaitUnblocksOnSignal(t *testing.T) {
	e := NewEvent()
	done := make(chan struct{})

	go func() {
		time.Sleep(5 * time.Millisecond)
		e.Signal()
	}()

	ok := e.Wait(done)
	assert.True(t, ok)
}

func TestEventWaitReturnsFalseWhenDoneClosedFirst(t *testing.T) {
	e := NewEvent()
	done := make(chan struct{})
	close(done)

	ok := e.Wait(done)
	assert.False(t, ok)
}

func TestEventSatisfiesEventSource(t *testing.T) {
	l := New(nil, nil)
	e := NewEvent()
	l.RegisterEventSource(e)

	assert.False(t, l.Idle())
	e.Signal()
	assert.True(t, l.Idle())
}
