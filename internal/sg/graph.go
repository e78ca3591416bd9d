// Package sg implements the sensor-graph dataflow engine: a DAG of nodes
// fed by stream walkers and driven by input triggers, with breadth-first
// evaluation and automatic copy-node fan-out when a node's output degree
// is exceeded.
package sg

import (
	"context"
	"fmt"

	"github.com/tilesim/tilesim/internal/interfaces"
	"github.com/tilesim/tilesim/internal/reading"
	"github.com/tilesim/tilesim/internal/stream"
	"github.com/tilesim/tilesim/internal/walker"
)

// SensorLog is the subset of the sensor log the graph engine needs:
// pushing processing-function output and creating walkers for fan-out
// splitter node inputs. Kept as a narrow interface so tests can
// substitute a fake.
type SensorLog interface {
	Push(s stream.Stream, r reading.Reading) error
	CreateWalker(sel stream.Selector, skipAll bool) walker.Walker
}

// Graph owns the full set of sensor-graph nodes and drives evaluation.
type Graph struct {
	registry   *Registry
	rpc        interfaces.RPCExecutor
	obs        interfaces.Observer
	log        interfaces.Logger
	sl         SensorLog
	maxInputs  int
	maxOutputs int

	nodes       []*Node
	producerOf  map[stream.Stream]*Node
	constants   map[stream.Stream]int32
	splitterFor map[*Node]*Node // producer -> the copy_all_a splitter already fanning it out, if any
}

// Options configures a new Graph.
type Options struct {
	MaxNodeInputs  int
	MaxNodeOutputs int
	Registry       *Registry
	RPC            interfaces.RPCExecutor
	Observer       interfaces.Observer
	Logger         interfaces.Logger
	SensorLog      SensorLog
}

// New creates an empty Graph.
func New(opts Options) *Graph {
	if opts.MaxNodeInputs == 0 {
		opts.MaxNodeInputs = 2
	}
	if opts.MaxNodeOutputs == 0 {
		opts.MaxNodeOutputs = 4
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	return &Graph{
		registry:    opts.Registry,
		rpc:         opts.RPC,
		obs:         opts.Observer,
		log:         opts.Logger,
		sl:          opts.SensorLog,
		maxInputs:   opts.MaxNodeInputs,
		maxOutputs:  opts.MaxNodeOutputs,
		producerOf:  make(map[stream.Stream]*Node),
		constants:   make(map[stream.Stream]int32),
		splitterFor: make(map[*Node]*Node),
	}
}

// NewNode allocates a node publishing to output, sized per this graph's
// device-model input/output bounds, and registers it as the producer of
// that output stream.
func (g *Graph) NewNode(output stream.Stream) *Node {
	n := NewNode(output, g.maxInputs, g.maxOutputs)
	g.nodes = append(g.nodes, n)
	g.producerOf[output] = n
	return n
}

// Nodes returns every node in insertion (and therefore evaluation tie-break) order.
func (g *Graph) Nodes() []*Node { return g.nodes }

// NewNodeBounded is NewNode subject to a device-model node count limit, the
// cap a device's loader enforces when building its graph from configuration.
// Splitter nodes inserted internally by ConnectOutput bypass this check:
// they are a consequence of the fan-out rule, not new configured nodes.
func (g *Graph) NewNodeBounded(output stream.Stream, max int) (*Node, error) {
	if len(g.nodes) >= max {
		return nil, fmt.Errorf("graph already holds %d nodes, at its configured limit of %d", len(g.nodes), max)
	}
	return g.NewNode(output), nil
}

// RootCount returns how many nodes currently read s directly as an input,
// for a loader to check against a device model's root-node limit before
// adding another.
func (g *Graph) RootCount(s stream.Stream) int {
	return len(g.rootsFor(s))
}

// SetFunc resolves funcName in the registry and attaches it to the node.
func (g *Graph) SetFunc(n *Node, funcName string) bool {
	fn, ok := g.registry.Lookup(funcName)
	if !ok {
		return false
	}
	n.FuncName = funcName
	n.Func = fn
	return true
}

// ConnectOutput links producer -> consumer, inserting an intermediate
// copy_all_a splitter node when producer's output-degree bound would
// otherwise be exceeded, per §4.2's fan-out rule. It returns the node
// consumer should actually treat as its upstream producer (either
// `producer` itself, or the splitter now fanning it out).
//
// Once a producer has been fanned out once, every later overflow is routed
// through the same splitter (itself subject to the same rule, so a deep
// fan-out nests splitters rather than erroring).
func (g *Graph) ConnectOutput(producer, consumer *Node) (*Node, error) {
	if splitter, ok := g.splitterFor[producer]; ok {
		return g.ConnectOutput(splitter, consumer)
	}

	if producer.FreeOutputs() > 0 {
		if err := producer.ConnectOutput(consumer); err != nil {
			return nil, err
		}
		return producer, nil
	}

	if producer.MaxOutputs() < 2 {
		return nil, fmt.Errorf("node producing %s has an output-degree bound of %d, too small to ever fan out to more than one consumer", producer.Output, producer.MaxOutputs())
	}

	// No splitter yet and no free slots: retrofit one, evicting only
	// producer's most recent direct link down into it. Keeping the rest of
	// producer's links untouched guarantees each retrofit frees exactly one
	// producer slot, so a chain of N consumers beyond the bound converges
	// after at most N nested splitters rather than looping.
	if len(producer.outputLinks) == 0 {
		return nil, fmt.Errorf("node producing %s has no free outputs and no existing link to retrofit a splitter onto", producer.Output)
	}
	last := len(producer.outputLinks) - 1
	evicted := producer.outputLinks[last]
	producer.outputLinks = producer.outputLinks[:last]

	fresh := g.freshStreamFor(producer.Output)
	splitter := g.NewNode(fresh)
	g.SetFunc(splitter, "copy_all_a")

	splitterInput := g.sl.CreateWalker(stream.Exact(producer.Output), true)
	if err := splitter.ConnectInput(0, splitterInput, Always); err != nil {
		return nil, err
	}

	if err := producer.ConnectOutput(splitter); err != nil {
		return nil, err
	}
	g.splitterFor[producer] = splitter

	if producer.Output.Type == stream.Constant {
		if v, ok := g.constants[producer.Output]; ok {
			g.constants[fresh] = v
		}
	}

	if _, err := g.ConnectOutput(splitter, evicted); err != nil {
		return nil, err
	}
	if _, err := g.ConnectOutput(splitter, consumer); err != nil {
		return nil, err
	}

	return splitter, nil
}

// freshStreamFor allocates a new unbuffered stream number for a fan-out
// splitter's output, distinct from every stream a node in the graph
// already produces; streams that are only consumed are not checked.
func (g *Graph) freshStreamFor(base stream.Stream) stream.Stream {
	n := uint16(2048)
	for {
		candidate := stream.Stream{Type: stream.Unbuffered, System: false, Number: n}
		if _, exists := g.producerOf[candidate]; !exists {
			return candidate
		}
		n++
	}
}

// DeclareConstant records the default value for a Constant stream
// referenced by a node input, satisfying invariant 4 of §3.3. Returns
// whether this was a newly-recorded default (false if already present).
func (g *Graph) DeclareConstant(s stream.Stream, defaultValue int32) bool {
	if _, ok := g.constants[s]; ok {
		return false
	}
	g.constants[s] = defaultValue
	return true
}

// Constants returns every constant stream's recorded default, for
// testability per invariant 4.
func (g *Graph) Constants() map[stream.Stream]int32 {
	out := make(map[stream.Stream]int32, len(g.constants))
	for k, v := range g.constants {
		out[k] = v
	}
	return out
}

// RestoreConstants overwrites every recorded constant default from a
// previously dumped snapshot, unlike DeclareConstant which only records a
// default the first time a given stream is seen during graph construction.
func (g *Graph) RestoreConstants(m map[stream.Stream]int32) {
	for s, v := range m {
		g.constants[s] = v
	}
}

// rootsFor returns, in node-insertion order, every node that reads stream
// s directly as one of its inputs.
func (g *Graph) rootsFor(s stream.Stream) []*Node {
	var roots []*Node
	for _, n := range g.nodes {
		for _, in := range n.InputStreams() {
			if in == s {
				roots = append(roots, n)
				break
			}
		}
	}
	return roots
}

// ProcessPush drives evaluation after a reading has been pushed to stream
// s (with the given raw_time), per §4.2: breadth-first from every node
// that reads s, each firing node's output stamped with rawTime and
// pushed, downstream nodes visited only if at least one reading was
// produced.
func (g *Graph) ProcessPush(ctx context.Context, s stream.Stream, rawTime uint32) {
	queue := g.rootsFor(s)

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		if !n.Triggered() {
			continue
		}

		if n.Func == nil {
			continue
		}

		values, err := n.Func(ctx, n.Walkers(), g.rpc)
		if err != nil {
			if g.log != nil {
				g.log.Error("sensor-graph processing function failed", "node_output", n.Output.String(), "func", n.FuncName, "error", err)
			}
			if g.obs != nil {
				g.obs.ObserveNodeEval(false, 0)
			}
			continue
		}

		if g.obs != nil {
			g.obs.ObserveNodeEval(len(values) > 0, len(values))
		}

		if len(values) == 0 {
			continue
		}

		for _, v := range values {
			r := reading.New(n.Output.Encode(), rawTime, v)
			if g.sl != nil {
				if err := g.sl.Push(n.Output, r); err != nil {
					if g.log != nil {
						g.log.Error("sensor-graph push failed", "node_output", n.Output.String(), "func", n.FuncName, "error", err)
					}
					if g.obs != nil {
						g.obs.ObserveNodeEval(false, 0)
					}
				}
			}
		}

		queue = append(queue, n.OutputLinks()...)
	}
}
