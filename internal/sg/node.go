package sg

import (
	"fmt"

	"github.com/tilesim/tilesim/internal/stream"
	"github.com/tilesim/tilesim/internal/walker"
)

// Combiner determines how a node's per-input trigger results combine into
// a single fire/no-fire decision.
type Combiner int

const (
	OrCombiner Combiner = iota
	AndCombiner
)

// Input is one (walker, trigger) pair occupying a node input slot.
type Input struct {
	Walker  walker.Walker
	Trigger Trigger
}

// Node is one vertex in the sensor-graph DAG: it reads its Inputs, and
// when triggered, invokes Func and publishes the results to Output.
type Node struct {
	Output       stream.Stream
	FuncName     string
	Func         ProcessingFunc
	Combiner     Combiner
	Inputs       []Input
	maxInputs    int
	maxOutputs   int
	outputLinks  []*Node // downstream nodes reading Output
}

// NewNode creates a node publishing to output, with all input slots
// initially unconnected (Invalid walker, Never trigger) up to the device
// model's configured maxInputs/maxOutputs.
func NewNode(output stream.Stream, maxInputs, maxOutputs int) *Node {
	n := &Node{
		Output:     output,
		maxInputs:  maxInputs,
		maxOutputs: maxOutputs,
		Combiner:   OrCombiner,
	}
	n.Inputs = make([]Input, maxInputs)
	for i := range n.Inputs {
		n.Inputs[i] = Input{Walker: &walker.Invalid{}, Trigger: Never}
	}
	return n
}

// ConnectInput wires walker w (with trigger t, defaulting to Always if
// nil) into input slot index.
func (n *Node) ConnectInput(index int, w walker.Walker, t Trigger) error {
	if index < 0 || index >= len(n.Inputs) {
		return fmt.Errorf("input index %d out of range (max %d)", index, len(n.Inputs))
	}
	if t == nil {
		t = Always
	}
	n.Inputs[index] = Input{Walker: w, Trigger: t}
	return nil
}

// NumInputs reports how many input slots are actually connected (i.e. not
// the default Invalid walker).
func (n *Node) NumInputs() int {
	count := 0
	for _, in := range n.Inputs {
		if _, invalid := in.Walker.(*walker.Invalid); !invalid {
			count++
		}
	}
	return count
}

// FreeOutputs reports how many more downstream links this node can accept
// before hitting the device model's output-degree bound.
func (n *Node) FreeOutputs() int {
	return n.maxOutputs - len(n.outputLinks)
}

// MaxOutputs returns the device-model-configured output degree bound.
func (n *Node) MaxOutputs() int { return n.maxOutputs }

// ConnectOutput appends a downstream node, enforcing the output-degree
// bound (invariant 5 in §3.3 — callers are expected to have already
// inserted a copy_all_a fan-out node if the bound would be exceeded).
func (n *Node) ConnectOutput(downstream *Node) error {
	if len(n.outputLinks) >= n.maxOutputs {
		return fmt.Errorf("node producing %s already has %d downstream links (max %d)", n.Output, len(n.outputLinks), n.maxOutputs)
	}
	n.outputLinks = append(n.outputLinks, downstream)
	return nil
}

// OutputLinks returns the node's current downstream links.
func (n *Node) OutputLinks() []*Node { return n.outputLinks }

// InputStreams returns the concrete (non-wildcard) streams this node
// reads from, used to find roots when a push arrives.
func (n *Node) InputStreams() []stream.Stream {
	var out []stream.Stream
	for _, in := range n.Inputs {
		if st, ok := in.Walker.Selector().AsStream(); ok {
			out = append(out, st)
		}
	}
	return out
}

// Triggered evaluates every input's trigger and combines them per the
// node's Combiner: OR is satisfied by any true trigger, AND requires all
// of them true.
func (n *Node) Triggered() bool {
	if n.Combiner == AndCombiner {
		for _, in := range n.Inputs {
			if !in.Trigger.Triggered(in.Walker) {
				return false
			}
		}
		return true
	}

	for _, in := range n.Inputs {
		if in.Trigger.Triggered(in.Walker) {
			return true
		}
	}
	return false
}

// Walkers returns the node's input walkers in slot order, the signature a
// ProcessingFunc consumes.
func (n *Node) Walkers() []walker.Walker {
	ws := make([]walker.Walker, len(n.Inputs))
	for i, in := range n.Inputs {
		ws[i] = in.Walker
	}
	return ws
}
