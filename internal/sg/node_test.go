package sg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilesim/tilesim/internal/stream"
	"github.com/tilesim/tilesim/internal/walker"
)

func TestNewNodeStartsWithInvalidInputs(t *testing.T) {
	n := NewNode(stream.Stream{Type: stream.Unbuffered, Number: 1}, 2, 4)
	assert.Equal(t, 0, n.NumInputs())
	assert.False(t, n.Triggered())
}

func TestConnectInputOutOfRange(t *testing.T) {
	n := NewNode(stream.Stream{Type: stream.Unbuffered, Number: 1}, 2, 4)
	err := n.ConnectInput(5, walker.NewVirtual(stream.Exact(stream.Stream{Type: stream.Unbuffered, Number: 2})), Always)
	assert.Error(t, err)
}

func TestOrCombinerFiresOnAnyTrigger(t *testing.T) {
	n := NewNode(stream.Stream{Type: stream.Unbuffered, Number: 1}, 2, 4)
	require.NoError(t, n.ConnectInput(0, walker.NewVirtual(stream.Exact(stream.Stream{Type: stream.Unbuffered, Number: 2})), Never))
	require.NoError(t, n.ConnectInput(1, walker.NewVirtual(stream.Exact(stream.Stream{Type: stream.Unbuffered, Number: 3})), Always))
	assert.True(t, n.Triggered())
}

func TestAndCombinerRequiresAll(t *testing.T) {
	n := NewNode(stream.Stream{Type: stream.Unbuffered, Number: 1}, 2, 4)
	n.Combiner = AndCombiner
	require.NoError(t, n.ConnectInput(0, walker.NewVirtual(stream.Exact(stream.Stream{Type: stream.Unbuffered, Number: 2})), Never))
	require.NoError(t, n.ConnectInput(1, walker.NewVirtual(stream.Exact(stream.Stream{Type: stream.Unbuffered, Number: 3})), Always))
	assert.False(t, n.Triggered())

	require.NoError(t, n.ConnectInput(0, walker.NewVirtual(stream.Exact(stream.Stream{Type: stream.Unbuffered, Number: 2})), Always))
	assert.True(t, n.Triggered())
}

func TestConnectOutputRespectsMaxOutputs(t *testing.T) {
	producer := NewNode(stream.Stream{Type: stream.Unbuffered, Number: 1}, 2, 1)
	a := NewNode(stream.Stream{Type: stream.Unbuffered, Number: 2}, 2, 1)
	b := NewNode(stream.Stream{Type: stream.Unbuffered, Number: 3}, 2, 1)

	require.NoError(t, producer.ConnectOutput(a))
	assert.Equal(t, 0, producer.FreeOutputs())
	assert.Error(t, producer.ConnectOutput(b))
}

func TestInputStreamsReturnsConcreteSelectors(t *testing.T) {
	n := NewNode(stream.Stream{Type: stream.Unbuffered, Number: 1}, 2, 4)
	target := stream.Stream{Type: stream.Unbuffered, Number: 9}
	require.NoError(t, n.ConnectInput(0, walker.NewVirtual(stream.Exact(target)), Always))

	streams := n.InputStreams()
	require.Len(t, streams, 1)
	assert.Equal(t, target, streams[0])
}
