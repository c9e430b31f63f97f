package ubibdev

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for a device or
// channel.
type Metrics struct {
	ReadOps  atomic.Uint64
	WriteOps atomic.Uint64
	FlushOps atomic.Uint64

	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	ReadErrors  atomic.Uint64
	WriteErrors atomic.Uint64
	FlushErrors atomic.Uint64

	// StripesFetched and StripesFlushed mirror the device's own counters
	// (invariant 3: StripesFlushed <= StripesFetched); kept here too so a
	// channel's close-time log line can report its share of the work
	// (supplemented from original_source's per-channel destroy-time log).
	StripesFetched atomic.Uint64
	StripesFlushed atomic.Uint64

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// LatencyBuckets[i] is the cumulative count of operations observed with
	// latency <= LatencyBuckets[i] (the package-level histogram bounds).
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRead records a read operation.
func (m *Metrics) RecordRead(bytes uint64, latencyNs uint64, success bool) {
	m.ReadOps.Add(1)
	if success {
		m.ReadBytes.Add(bytes)
	} else {
		m.ReadErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordWrite records a write operation.
func (m *Metrics) RecordWrite(bytes uint64, latencyNs uint64, success bool) {
	m.WriteOps.Add(1)
	if success {
		m.WriteBytes.Add(bytes)
	} else {
		m.WriteErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordFlush records a flush operation.
func (m *Metrics) RecordFlush(latencyNs uint64, success bool) {
	m.FlushOps.Add(1)
	if !success {
		m.FlushErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordStripeFetch records one stripe completing its fetch (§4.2).
func (m *Metrics) RecordStripeFetch() {
	m.StripesFetched.Add(1)
}

// RecordStripesFlushed raises the flushed counter to n if n is larger than
// the current value, matching invariant 3's "raise to the snapshot" rule.
func (m *Metrics) RecordStripesFlushed(n uint64) {
	for {
		cur := m.StripesFlushed.Load()
		if n <= cur {
			return
		}
		if m.StripesFlushed.CompareAndSwap(cur, n) {
			return
		}
	}
}

// RecordQueueDepth records current queue depth for statistics.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)

	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
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

// Stop marks the device or channel as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics with derived rates.
type MetricsSnapshot struct {
	ReadOps  uint64
	WriteOps uint64
	FlushOps uint64

	ReadBytes  uint64
	WriteBytes uint64

	ReadErrors  uint64
	WriteErrors uint64
	FlushErrors uint64

	StripesFetched uint64
	StripesFlushed uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	ReadIOPS       float64
	WriteIOPS      float64
	ReadBandwidth  float64
	WriteBandwidth float64
	TotalOps       uint64
	TotalBytes     uint64
	ErrorRate      float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ReadOps:        m.ReadOps.Load(),
		WriteOps:       m.WriteOps.Load(),
		FlushOps:       m.FlushOps.Load(),
		ReadBytes:      m.ReadBytes.Load(),
		WriteBytes:     m.WriteBytes.Load(),
		ReadErrors:     m.ReadErrors.Load(),
		WriteErrors:    m.WriteErrors.Load(),
		FlushErrors:    m.FlushErrors.Load(),
		StripesFetched: m.StripesFetched.Load(),
		StripesFlushed: m.StripesFlushed.Load(),
		MaxQueueDepth:  m.MaxQueueDepth.Load(),
	}

	snap.TotalOps = snap.ReadOps + snap.WriteOps + snap.FlushOps
	snap.TotalBytes = snap.ReadBytes + snap.WriteBytes

	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ReadIOPS = float64(snap.ReadOps) / uptimeSeconds
		snap.WriteIOPS = float64(snap.WriteOps) / uptimeSeconds
		snap.ReadBandwidth = float64(snap.ReadBytes) / uptimeSeconds
		snap.WriteBandwidth = float64(snap.WriteBytes) / uptimeSeconds
	}

	totalErrors := snap.ReadErrors + snap.WriteErrors + snap.FlushErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing).
func (m *Metrics) Reset() {
	m.ReadOps.Store(0)
	m.WriteOps.Store(0)
	m.FlushOps.Store(0)
	m.ReadBytes.Store(0)
	m.WriteBytes.Store(0)
	m.ReadErrors.Store(0)
	m.WriteErrors.Store(0)
	m.FlushErrors.Store(0)
	m.StripesFetched.Store(0)
	m.StripesFlushed.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection.
type Observer interface {
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveFlush(latencyNs uint64, success bool)
	ObserveStripeFetch()
	ObserveQueueDepth(depth uint32)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRead(uint64, uint64, bool)  {}
func (NoOpObserver) ObserveWrite(uint64, uint64, bool) {}
func (NoOpObserver) ObserveFlush(uint64, bool)         {}
func (NoOpObserver) ObserveStripeFetch()               {}
func (NoOpObserver) ObserveQueueDepth(uint32)          {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRead(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordRead(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveWrite(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordWrite(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveFlush(latencyNs uint64, success bool) {
	o.metrics.RecordFlush(latencyNs, success)
}

func (o *MetricsObserver) ObserveStripeFetch() {
	o.metrics.RecordStripeFetch()
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
