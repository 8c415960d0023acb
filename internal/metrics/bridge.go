package metrics

import "time"

// BridgeMetrics holds the metrics recorded by the editable bridge.
// A nil *BridgeMetrics is valid and records nothing.
type BridgeMetrics struct {
	registry *Registry

	// Counters
	SessionsTotal           *Counter
	ProtocolViolationsTotal *Counter
	QueueOrderingErrors     *Counter
	RangesEncodedTotal      *Counter
	ResyncsTotal            *Counter

	// Gauges
	QueueDepth      *Gauge
	FocusedSessions *Gauge

	// Histograms
	SyncWait *Histogram
}

// NewBridgeMetrics creates and registers the bridge metrics.
func NewBridgeMetrics(registry *Registry) *BridgeMetrics {
	if registry == nil {
		registry = NewRegistry("imebridge", "")
	}

	return &BridgeMetrics{
		registry: registry,

		SessionsTotal: registry.RegisterCounter(
			"sessions_total",
			"Total number of focus sessions started",
			nil,
		),
		ProtocolViolationsTotal: registry.RegisterCounter(
			"protocol_violations_total",
			"Engine notifications rejected for bad offsets or payloads",
			nil,
		),
		QueueOrderingErrors: registry.RegisterCounter(
			"queue_ordering_errors_total",
			"Replies received with no pending action",
			nil,
		),
		RangesEncodedTotal: registry.RegisterCounter(
			"ranges_encoded_total",
			"Composition ranges sent to the engine",
			nil,
		),
		ResyncsTotal: registry.RegisterCounter(
			"resyncs_total",
			"Composition and selection re-syncs sent to the engine",
			nil,
		),

		QueueDepth: registry.RegisterGauge(
			"queue_depth",
			"Actions awaiting an engine reply",
			nil,
		),
		FocusedSessions: registry.RegisterGauge(
			"focused_sessions",
			"Sessions currently focused",
			nil,
		),

		SyncWait: registry.RegisterHistogram(
			"sync_wait_seconds",
			"Time the UI loop spent blocked waiting for the engine",
			nil,
			BarrierBuckets,
		),
	}
}

// Registry returns the registry the metrics are registered with.
func (m *BridgeMetrics) Registry() *Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordOffer counts an action handed to the engine.
func (m *BridgeMetrics) RecordOffer(kind string) {
	if m == nil {
		return
	}
	m.registry.RegisterCounter("actions_offered_total", "Actions offered to the engine", Labels{"kind": kind}).Inc()
	m.QueueDepth.Inc()
}

// RecordReply counts an engine reply to the action of the given kind.
func (m *BridgeMetrics) RecordReply(kind string) {
	if m == nil {
		return
	}
	m.registry.RegisterCounter("replies_total", "Engine replies processed", Labels{"kind": kind}).Inc()
	m.QueueDepth.Dec()
}

// RecordDiscarded removes actions dropped with a closed session, or retracted
// after a failed send, from the queue depth.
func (m *BridgeMetrics) RecordDiscarded(n int) {
	if m == nil || n == 0 {
		return
	}
	m.QueueDepth.Add(int64(-n))
}

// RecordStale counts a notification dropped by the staleness guard.
func (m *BridgeMetrics) RecordStale(notification string) {
	if m == nil {
		return
	}
	m.registry.RegisterCounter("stale_notifications_total", "Notifications superseded before they ran", Labels{"notification": notification}).Inc()
}

// RecordViolation counts a rejected engine notification.
func (m *BridgeMetrics) RecordViolation() {
	if m == nil {
		return
	}
	m.ProtocolViolationsTotal.Inc()
}

// RecordOrderingError counts a reply with nothing pending.
func (m *BridgeMetrics) RecordOrderingError() {
	if m == nil {
		return
	}
	m.QueueOrderingErrors.Inc()
}

// RecordResync counts a re-sync and the ranges it carried.
func (m *BridgeMetrics) RecordResync(ranges int) {
	if m == nil {
		return
	}
	m.ResyncsTotal.Inc()
	m.RangesEncodedTotal.Add(uint64(ranges))
}

// RecordSyncWait records time spent in the read barrier.
func (m *BridgeMetrics) RecordSyncWait(d time.Duration) {
	if m == nil {
		return
	}
	m.SyncWait.ObserveDuration(d)
}

// SessionStarted records a focus.
func (m *BridgeMetrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.FocusedSessions.Inc()
}

// SessionEnded records a blur.
func (m *BridgeMetrics) SessionEnded() {
	if m == nil {
		return
	}
	m.FocusedSessions.Dec()
}

// Snapshot returns a snapshot of the bridge metrics.
func (m *BridgeMetrics) Snapshot() map[string]interface{} {
	if m == nil {
		return nil
	}
	return m.registry.Snapshot()
}
