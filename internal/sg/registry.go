package sg

import (
	"context"
	"fmt"

	"github.com/tilesim/tilesim/internal/interfaces"
	"github.com/tilesim/tilesim/internal/walker"
)

// ProcessingFunc is the signature every node's Func implements. It
// receives its input walkers in slot order and an RPC executor handle,
// and returns the raw values to emit — the graph engine stamps each with
// the triggering input's raw_time and the node's output stream id before
// pushing, per §4.2.
type ProcessingFunc func(ctx context.Context, inputs []walker.Walker, rpc interfaces.RPCExecutor) ([]int32, error)

// Registry is a name -> ProcessingFunc lookup, populated at startup by
// the embedder and held by the engine as resolved function pointers
// (never by name at evaluation time).
type Registry struct {
	funcs map[string]ProcessingFunc
}

// NewRegistry creates a Registry pre-populated with the required builtin
// functions listed in §4.2.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]ProcessingFunc)}
	r.Register("copy_latest_a", copyLatestA)
	r.Register("copy_all_a", copyAllA)
	r.Register("copy_count_a", copyCountA)
	r.Register("call_rpc", callRPC)
	r.Register("trigger_streamer", triggerStreamerFn)
	r.Register("subtract_a_from_b", subtractAFromB)
	r.Register("average_a", averageA)
	return r
}

// Register adds or overrides a named processing function.
func (r *Registry) Register(name string, fn ProcessingFunc) {
	r.funcs[name] = fn
}

// Lookup resolves a processing function by name.
func (r *Registry) Lookup(name string) (ProcessingFunc, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

// TriggerStreamerHook is installed by the streamer subsystem so the
// trigger_streamer processing function can mark a streamer index without
// the sg package importing the streamer package (which itself depends on
// sensorlog, not sg — but keeping the dependency one-directional here
// avoids an import cycle either way).
var TriggerStreamerHook func(index int)

func copyLatestA(ctx context.Context, inputs []walker.Walker, rpc interfaces.RPCExecutor) ([]int32, error) {
	a := inputs[0]
	var last int32
	var any bool
	for a.Count() > 0 {
		r, err := a.Pop()
		if err != nil {
			break
		}
		last = r.Value
		any = true
	}
	if !any {
		return nil, nil
	}
	return []int32{last}, nil
}

func copyAllA(ctx context.Context, inputs []walker.Walker, rpc interfaces.RPCExecutor) ([]int32, error) {
	a := inputs[0]
	var out []int32
	for a.Count() > 0 {
		r, err := a.Pop()
		if err != nil {
			break
		}
		out = append(out, r.Value)
	}
	return out, nil
}

func copyCountA(ctx context.Context, inputs []walker.Walker, rpc interfaces.RPCExecutor) ([]int32, error) {
	a := inputs[0]
	count := a.Count()
	a.SkipAll()
	return []int32{int32(count)}, nil
}

func callRPC(ctx context.Context, inputs []walker.Walker, rpc interfaces.RPCExecutor) ([]int32, error) {
	b := inputs[1]
	r, err := b.Peek()
	if err != nil {
		return nil, fmt.Errorf("call_rpc: constant input B is empty: %w", err)
	}

	packed := uint32(r.Value)
	address := uint16(packed >> 16)
	rpcID := uint16(packed & 0xFFFF)

	resp, err := rpc.CallRPC(ctx, address, rpcID, nil)
	if err != nil {
		return nil, err
	}

	var result int32
	for i := 0; i < len(resp) && i < 4; i++ {
		result |= int32(resp[i]) << (8 * i)
	}
	return []int32{result}, nil
}

func triggerStreamerFn(ctx context.Context, inputs []walker.Walker, rpc interfaces.RPCExecutor) ([]int32, error) {
	b := inputs[1]
	r, err := b.Peek()
	if err != nil {
		return nil, fmt.Errorf("trigger_streamer: constant input is empty: %w", err)
	}
	if TriggerStreamerHook != nil {
		TriggerStreamerHook(int(r.Value))
	}
	return nil, nil
}

func subtractAFromB(ctx context.Context, inputs []walker.Walker, rpc interfaces.RPCExecutor) ([]int32, error) {
	a, b := inputs[0], inputs[1]
	aReading, err := a.Peek()
	if err != nil {
		return nil, err
	}
	bReading, err := b.Pop()
	if err != nil {
		return nil, err
	}
	return []int32{bReading.Value - aReading.Value}, nil
}

func averageA(ctx context.Context, inputs []walker.Walker, rpc interfaces.RPCExecutor) ([]int32, error) {
	a := inputs[0]
	var sum int64
	var n int64
	for a.Count() > 0 {
		r, err := a.Pop()
		if err != nil {
			break
		}
		sum += int64(r.Value)
		n++
	}
	if n == 0 {
		return nil, nil
	}
	return []int32{int32(sum / n)}, nil
}
