package tilesim

import (
	"sync/atomic"
	"time"

	"github.com/tilesim/tilesim/internal/interfaces"
)

// LatencyBuckets defines the RPC latency histogram buckets in nanoseconds,
// logarithmically spaced from 1us to 10s.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks operational statistics for one device: RPC counts and
// latency, sensor-graph evaluation throughput, streamer report sizes, and
// ring-buffer rollovers.
type Metrics struct {
	RPCCalls    atomic.Uint64
	RPCAsync    atomic.Uint64
	RPCErrors   atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	NodeEvals      atomic.Uint64
	NodeTriggered  atomic.Uint64
	ReadingsEmitted atomic.Uint64

	StreamerReports atomic.Uint64
	StreamerReadings atomic.Uint64
	StreamerBytes    atomic.Uint64

	Rollovers     atomic.Uint64
	RolloverCount atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with its start time stamped now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRPC records one completed RPC dispatch.
func (m *Metrics) RecordRPC(latencyNs uint64, async, success bool) {
	m.RPCCalls.Add(1)
	if async {
		m.RPCAsync.Add(1)
	}
	if !success {
		m.RPCErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// RecordNodeEval records one sensor-graph node evaluation.
func (m *Metrics) RecordNodeEval(triggered bool, readingsEmitted int) {
	m.NodeEvals.Add(1)
	if triggered {
		m.NodeTriggered.Add(1)
	}
	m.ReadingsEmitted.Add(uint64(readingsEmitted))
}

// RecordStreamerReport records one built streamer report.
func (m *Metrics) RecordStreamerReport(readingCount, bytes int) {
	m.StreamerReports.Add(1)
	m.StreamerReadings.Add(uint64(readingCount))
	m.StreamerBytes.Add(uint64(bytes))
}

// RecordRollover records one ring-buffer rollover.
func (m *Metrics) RecordRollover(erased int) {
	m.Rollovers.Add(1)
	m.RolloverCount.Add(uint64(erased))
}

// Stop marks the device as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics, safe to read without
// further synchronization.
type MetricsSnapshot struct {
	RPCCalls  uint64
	RPCAsync  uint64
	RPCErrors uint64

	AvgLatencyNs uint64
	UptimeNs     uint64
	LatencyHistogram [numLatencyBuckets]uint64

	NodeEvals       uint64
	NodeTriggered   uint64
	ReadingsEmitted uint64

	StreamerReports  uint64
	StreamerReadings uint64
	StreamerBytes    uint64

	Rollovers     uint64
	RolloverCount uint64
}

// Snapshot returns a point-in-time snapshot of these metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		RPCCalls:        m.RPCCalls.Load(),
		RPCAsync:        m.RPCAsync.Load(),
		RPCErrors:       m.RPCErrors.Load(),
		NodeEvals:       m.NodeEvals.Load(),
		NodeTriggered:   m.NodeTriggered.Load(),
		ReadingsEmitted: m.ReadingsEmitted.Load(),
		StreamerReports:  m.StreamerReports.Load(),
		StreamerReadings: m.StreamerReadings.Load(),
		StreamerBytes:    m.StreamerBytes.Load(),
		Rollovers:     m.Rollovers.Load(),
		RolloverCount: m.RolloverCount.Load(),
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	return snap
}

// Reset zeroes every counter and restamps the start time, for use between
// test cases that share one Metrics instance.
func (m *Metrics) Reset() {
	m.RPCCalls.Store(0)
	m.RPCAsync.Store(0)
	m.RPCErrors.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.NodeEvals.Store(0)
	m.NodeTriggered.Store(0)
	m.ReadingsEmitted.Store(0)
	m.StreamerReports.Store(0)
	m.StreamerReadings.Store(0)
	m.StreamerBytes.Store(0)
	m.Rollovers.Store(0)
	m.RolloverCount.Store(0)
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// MetricsObserver implements interfaces.Observer by recording into a
// *Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRPC(address, rpcID uint16, latencyNs uint64, async, success bool) {
	o.metrics.RecordRPC(latencyNs, async, success)
}

func (o *MetricsObserver) ObserveNodeEval(triggered bool, readingsEmitted int) {
	o.metrics.RecordNodeEval(triggered, readingsEmitted)
}

func (o *MetricsObserver) ObserveStreamerReport(streamerIndex, readingCount, bytes int) {
	o.metrics.RecordStreamerReport(readingCount, bytes)
}

func (o *MetricsObserver) ObserveRollover(bufferName string, erased int) {
	o.metrics.RecordRollover(erased)
}

var _ interfaces.Observer = (*MetricsObserver)(nil)
