package tilesim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tilesim/tilesim/internal/controller"
	"github.com/tilesim/tilesim/internal/devicemodel"
	"github.com/tilesim/tilesim/internal/interfaces"
	"github.com/tilesim/tilesim/internal/logging"
	"github.com/tilesim/tilesim/internal/loop"
	"github.com/tilesim/tilesim/internal/reading"
	"github.com/tilesim/tilesim/internal/rpcqueue"
	"github.com/tilesim/tilesim/internal/sensorlog"
	"github.com/tilesim/tilesim/internal/sg"
	"github.com/tilesim/tilesim/internal/snapshot"
	"github.com/tilesim/tilesim/internal/stream"
	"github.com/tilesim/tilesim/internal/streamer"
)

// defaultResetTimeout bounds how long Reset waits for every controller
// subsystem to signal initialized before giving up, per §4.5.
const defaultResetTimeout = 5 * time.Second

// Device is one emulated IOTile device: a controller tile, zero or more
// peripheral tiles, the sensor log, the sensor graph, and the streamer set
// that packages data off of it, all driven by one cooperative emulation
// loop and dispatched through one single-consumer RPC queue.
type Device struct {
	ID uuid.UUID

	model devicemodel.Model
	log   interfaces.Logger
	obs   interfaces.Observer

	loop       *loop.Loop
	dispatcher *rpcqueue.Dispatcher

	configDB     *controller.ConfigDatabase
	tileManager  *controller.TileManager
	remoteBridge *controller.RemoteBridge
	clockManager *controller.ClockManager
	controller   *controller.Controller

	sensorLog *sensorlog.SensorLog
	graph     *sg.Graph
	streamers *streamer.Set

	resetTimeout time.Duration

	mu    sync.RWMutex
	tiles map[uint16]rpcqueue.Handler

	metrics *Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options configures a new Device. Every field is optional.
type Options struct {
	// Context governs the device's background goroutines (the emulation
	// loop, the RPC dispatcher, and the clock manager's ticker). If nil,
	// context.Background() is used and the caller must call Stop to tear
	// the device down.
	Context context.Context

	// Logger receives structured log output. If nil, logging.Default() is
	// used, matching the stock controller's behavior when unconfigured.
	Logger interfaces.Logger

	// Observer receives metrics events. If nil, a fresh MetricsObserver is
	// created and exposed via Device.Metrics.
	Observer interfaces.Observer

	// Model carries the device's resource limits (node/streamer/graph
	// bounds and ring buffer budgets). Defaults to devicemodel.Default().
	Model devicemodel.Model

	// Name is the controller's 6-byte tile name used for config-database
	// selector matching. Defaults to "ctrl\x00\x00".
	Name [6]byte

	// UserTickPeriod is the user tick's period in simulated seconds,
	// forwarded to the clock manager. Defaults to 10.
	UserTickPeriod uint32

	// ResetTimeout bounds how long Reset waits for a subsystem to report
	// initialized. Defaults to 5s.
	ResetTimeout time.Duration

	// Clock overrides the clock manager's time source. Defaults to
	// controller.MonotonicClock{}.
	Clock controller.ClockSource
}

var defaultControllerName = [6]byte{'c', 't', 'r', 'l'}

// NewDevice wires a controller, sensor log, sensor graph, and streamer set
// into one Device and starts its background goroutines: the emulation
// loop, the RPC dispatcher, and the clock manager's simulated-second
// ticker. Callers add peripheral tiles with AddTile before issuing the
// first RESET.
func NewDevice(opts Options) *Device {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}

	model := opts.Model
	if (model == devicemodel.Model{}) {
		model = devicemodel.Default()
	}

	name := opts.Name
	if name == ([6]byte{}) {
		name = defaultControllerName
	}

	userTickPeriod := opts.UserTickPeriod
	if userTickPeriod == 0 {
		userTickPeriod = 10
	}

	resetTimeout := opts.ResetTimeout
	if resetTimeout == 0 {
		resetTimeout = defaultResetTimeout
	}

	clock := opts.Clock
	if clock == nil {
		clock = controller.MonotonicClock{}
	}

	d := &Device{
		ID:           uuid.New(),
		model:        model,
		log:          log,
		resetTimeout: resetTimeout,
		tiles:        make(map[uint16]rpcqueue.Handler),
	}

	obs := opts.Observer
	if obs == nil {
		metrics := NewMetrics()
		d.metrics = metrics
		obs = NewMetricsObserver(metrics)
	}
	d.obs = obs

	d.configDB = controller.NewConfigDatabase(256, 256)
	d.tileManager = controller.NewTileManager(d.configDB, d)
	d.remoteBridge = controller.NewRemoteBridge()

	d.sensorLog = sensorlog.New(model.SensorLogConfig(), obs)
	graphOpts := model.GraphOptions()
	graphOpts.RPC = d
	graphOpts.Observer = obs
	graphOpts.Logger = log
	graphOpts.SensorLog = d.sensorLog
	d.graph = sg.New(graphOpts)
	d.streamers = streamer.NewSet()

	d.clockManager = controller.NewClockManager(clock, &graphPusher{d}, userTickPeriod)
	d.controller = controller.NewController(ControllerAddress, name, d.configDB, d.tileManager, d.remoteBridge, d.clockManager, d)

	d.loop = loop.New(log, obs)
	d.dispatcher = rpcqueue.New(d, log, obs)
	d.loop.RegisterWorkSource(d.dispatcher)
	d.loop.RegisterWorkSource(d.tileManager)

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.loop.Run(runCtx)
	}()
	go func() {
		defer d.wg.Done()
		d.dispatcher.Run(runCtx)
	}()
	d.loop.RegisterTask(loop.GlobalTask, d.clockManager.Run)
	d.loop.RegisterTask(loop.GlobalTask, d.tileManager.Run)

	return d
}

// graphPusher adapts a Device's sensor log and graph into the clock
// manager's SensorGraphPusher collaborator.
type graphPusher struct{ d *Device }

func (p *graphPusher) Push(s stream.Stream, r reading.Reading) error {
	return p.d.sensorLog.Push(s, r)
}

func (p *graphPusher) ProcessPush(ctx context.Context, s stream.Stream, rawTime uint32) {
	p.d.graph.ProcessPush(ctx, s, rawTime)
}

// AddTile registers a peripheral tile's RPC handler at address, to be
// dispatched to by CallRPC and RESET alongside the controller.
func (d *Device) AddTile(address uint16, handler rpcqueue.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tiles[address] = handler
}

// RegisterTileTask spawns fn as a background task scoped to address, so
// Reset cancels and awaits it alongside the rest of that tile's state when
// the controller resets the peripheral at its slot. A tile's own
// application-main loop (the Go analog of an EmulatedPeripheralTile's
// `_application_main`) is registered this way.
func (d *Device) RegisterTileTask(address uint16, fn func(ctx context.Context)) {
	d.loop.RegisterTask(int(address), fn)
}

// RemoveTile removes a previously registered peripheral tile.
func (d *Device) RemoveTile(address uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tiles, address)
}

// HandleRPC satisfies rpcqueue.Handler: it routes a call addressed to the
// controller's own address to the controller, and every other address to
// a registered peripheral tile.
func (d *Device) HandleRPC(ctx context.Context, address, rpcID uint16, payload []byte) ([]byte, bool, error) {
	if address == ControllerAddress {
		return d.controller.HandleRPC(ctx, address, rpcID, payload)
	}

	d.mu.RLock()
	tile, ok := d.tiles[address]
	d.mu.RUnlock()
	if !ok {
		return nil, false, fmt.Errorf("device: no tile registered at address %d", address)
	}
	return tile.HandleRPC(ctx, address, rpcID, payload)
}

// CallRPC implements interfaces.RPCExecutor and controller.Executor,
// routing through the dispatcher's internal (on-loop) call path. It is
// the collaborator handed to the sensor graph's call_rpc processing
// function and to the tile manager's config-streaming handshake.
func (d *Device) CallRPC(ctx context.Context, address, rpcID uint16, payload []byte) ([]byte, error) {
	return d.dispatcher.CallRPC(ctx, address, rpcID, payload)
}

// Call is the external entry point: it blocks the calling goroutine until
// a response or error is recorded, per §4.1's external-caller contract.
// It must not be called from within the emulation loop.
func (d *Device) Call(ctx context.Context, address, rpcID uint16, payload []byte) ([]byte, error) {
	return d.dispatcher.CallRPCExternal(ctx, address, rpcID, payload)
}

// FinishAsyncRPC completes a previously pending asynchronous RPC from a
// peripheral tile's own background task. Callable only from within the
// emulation loop.
func (d *Device) FinishAsyncRPC(ctx context.Context, address, rpcID uint16, payload []byte, rpcErr error) error {
	return d.dispatcher.FinishAsync(ctx, address, rpcID, payload, rpcErr)
}

// Reset runs the controller's full reset vector, then resets every
// registered peripheral tile's own loop-scoped tasks in descending slot
// order, per §4.5. A tile's loop-scoped tasks are addressed by its bus
// address (10+slot, per REGISTER_TILE's assignment in tilemanager.go),
// matching the address RegisterTileTask was called with.
func (d *Device) Reset(ctx context.Context) error {
	return d.controller.Reset(ctx, d.resetTimeout, func(slot uint8) {
		d.loop.Reset(int(10 + uint16(slot)))
	})
}

// WaitIdle blocks until the emulation loop has no queued RPC work, no
// pending asynchronous RPCs, and every registered event source is set, or
// until timeout elapses. Intended for deterministic test synchronization.
func (d *Device) WaitIdle(ctx context.Context, timeout time.Duration) error {
	return d.loop.WaitIdle(ctx, timeout)
}

// Graph returns the device's sensor-graph engine, for a scenario loader to
// wire nodes into.
func (d *Device) Graph() *sg.Graph { return d.graph }

// SensorLog returns the device's sensor log, for a scenario loader to
// declare walkers and push seed readings into.
func (d *Device) SensorLog() *sensorlog.SensorLog { return d.sensorLog }

// Streamers returns the device's streamer set, for a scenario loader to
// register streamers into.
func (d *Device) Streamers() *streamer.Set { return d.streamers }

// Controller returns the device's controller tile, for a scenario loader
// to declare config variables against.
func (d *Device) Controller() *controller.Controller { return d.controller }

// Model returns the resource limits this device was built against.
func (d *Device) Model() devicemodel.Model { return d.model }

// Metrics returns the device's metrics collector, or nil if a custom
// Observer was supplied in Options instead of the default one.
func (d *Device) Metrics() *Metrics { return d.metrics }

// Dump captures the controller, sensor log, and sensor graph constants
// into one restorable snapshot.
func (d *Device) Dump() snapshot.State {
	return snapshot.Capture(d.controller, d.sensorLog, d.graph)
}

// Restore applies a previously captured snapshot back onto the
// controller, sensor log, and sensor graph. permissive controls how a
// currently tracked stream walker with no corresponding entry in state is
// handled; see snapshot.Restore.
func (d *Device) Restore(state snapshot.State, permissive bool) error {
	return snapshot.Restore(state, d.controller, d.sensorLog, d.graph, permissive)
}

// Stop cancels the emulation loop, the RPC dispatcher, and every
// registered task, and awaits their completion.
func (d *Device) Stop() {
	d.loop.Stop()
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	if d.metrics != nil {
		d.metrics.Stop()
	}
}

var _ interfaces.RPCExecutor = (*Device)(nil)
var _ controller.Executor = (*Device)(nil)
var _ rpcqueue.Handler = (*Device)(nil)
