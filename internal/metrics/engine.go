package metrics

import (
	"sync"
	"time"
)

// EngineMetrics holds all ghostd-specific metrics.
type EngineMetrics struct {
	registry *Registry

	// Key listener metrics
	KeysObserved *Counter
	KeysFiltered *Counter
	KeysInjected *Counter
	PausesFired  *Counter

	// Context query metrics. The per-tier counters record which chain
	// position answered, in probe order; the miss counters record
	// queries no tier answered.
	ContextQueries    *Counter
	ContextTextTiers  []*Counter
	ContextTextMiss   *Counter
	ContextCaretTiers []*Counter
	ContextCaretMiss  *Counter

	// Overlay metrics
	OverlayRenders   *Counter
	OverlayRecreates *Counter
	OverlayDropped   *Counter

	// Bridge metrics
	BridgePublished *Counter
	BridgeDropped   *Counter
	BridgePanics    *Counter
	FocusChanges    *Counter

	// State gauges
	MonitorActive  *Gauge
	OverlayVisible *Gauge
	Subscribers    *Gauge
	UptimeSeconds  *Gauge

	// Latency distributions
	ContextQueryDuration *Histogram
	PauseGap             *Histogram
}

// textTierNames follow the probe order of the focus reader chain.
var textTierNames = []string{"caret_tail", "selection", "document", "value", "name"}

// caretTierNames follow the probe order; the pointer fallback sits one
// past the reader tiers.
var caretTierNames = []string{"extents", "frame", "pointer"}

// NewEngineMetrics creates the ghostd metrics set.
func NewEngineMetrics(registry *Registry) *EngineMetrics {
	if registry == nil {
		registry = Default()
	}

	m := &EngineMetrics{registry: registry}

	// Key listener metrics
	m.KeysObserved = registry.RegisterCounter(
		"keys_observed_total",
		"Total key events seen by the listener",
	)
	m.KeysFiltered = registry.RegisterCounter(
		"keys_filtered_total",
		"Key events discarded by the filter",
	)
	m.KeysInjected = registry.RegisterCounter(
		"keys_injected_total",
		"Key events flagged as synthetic",
	)
	m.PausesFired = registry.RegisterCounter(
		"pauses_fired_total",
		"Typing pauses delivered after the debounce interval",
	)

	// Context query metrics
	m.ContextQueries = registry.RegisterCounter(
		"context_queries_total",
		"Context queries issued against the focused window",
	)
	m.ContextTextTiers = make([]*Counter, len(textTierNames))
	for i, tier := range textTierNames {
		m.ContextTextTiers[i] = registry.RegisterCounter(
			"context_text_"+tier+"_total",
			"Context queries answered by the "+tier+" text tier",
		)
	}
	m.ContextTextMiss = registry.RegisterCounter(
		"context_text_miss_total",
		"Context queries no text tier answered",
	)
	m.ContextCaretTiers = make([]*Counter, len(caretTierNames))
	for i, tier := range caretTierNames {
		m.ContextCaretTiers[i] = registry.RegisterCounter(
			"context_caret_"+tier+"_total",
			"Context queries answered by the "+tier+" caret tier",
		)
	}
	m.ContextCaretMiss = registry.RegisterCounter(
		"context_caret_miss_total",
		"Context queries no caret tier answered",
	)

	// Overlay metrics
	m.OverlayRenders = registry.RegisterCounter(
		"overlay_renders_total",
		"Overlay frames drawn",
	)
	m.OverlayRecreates = registry.RegisterCounter(
		"overlay_recreates_total",
		"Overlay surfaces recreated after loss",
	)
	m.OverlayDropped = registry.RegisterCounter(
		"overlay_dropped_total",
		"Overlay updates dropped because the surface was gone",
	)

	// Bridge metrics
	m.BridgePublished = registry.RegisterCounter(
		"bridge_published_total",
		"Events delivered to the registered callback",
	)
	m.BridgeDropped = registry.RegisterCounter(
		"bridge_dropped_total",
		"Events dropped on the bridge queue",
	)
	m.BridgePanics = registry.RegisterCounter(
		"bridge_panics_total",
		"Panics recovered in callback dispatch",
	)
	m.FocusChanges = registry.RegisterCounter(
		"focus_changes_total",
		"Focus transitions observed",
	)

	// State gauges
	m.MonitorActive = registry.RegisterGauge(
		"monitor_active",
		"Whether the key listener is running (1) or stopped (0)",
	)
	m.OverlayVisible = registry.RegisterGauge(
		"overlay_visible",
		"Whether the overlay surface is mapped (1) or hidden (0)",
	)
	m.Subscribers = registry.RegisterGauge(
		"subscribers",
		"Connected clients subscribed to events",
	)
	m.UptimeSeconds = registry.RegisterGauge(
		"uptime_seconds",
		"Seconds since the daemon started",
	)

	// Latency distributions
	m.ContextQueryDuration = registry.RegisterHistogram(
		"context_query_duration_seconds",
		"Time to resolve text and caret context",
		DefaultBuckets,
	)
	m.PauseGap = registry.RegisterHistogram(
		"pause_gap_seconds",
		"Spacing between consecutive typing pauses",
		PauseGapBuckets,
	)

	return m
}

// RecordKeyObserved records a raw key event.
func (m *EngineMetrics) RecordKeyObserved() {
	m.KeysObserved.Inc()
}

// RecordKeyFiltered records a key event the filter discarded.
func (m *EngineMetrics) RecordKeyFiltered() {
	m.KeysFiltered.Inc()
}

// RecordKeyInjected records a key event flagged as synthetic.
func (m *EngineMetrics) RecordKeyInjected() {
	m.KeysInjected.Inc()
}

// RecordPauseFired records a delivered typing pause.
func (m *EngineMetrics) RecordPauseFired() {
	m.PausesFired.Inc()
}

// RecordContextText records which text tier answered a query. Tiers
// outside the known chain are counted as misses.
func (m *EngineMetrics) RecordContextText(tier int) {
	if tier < 0 || tier >= len(m.ContextTextTiers) {
		m.ContextTextMiss.Inc()
		return
	}
	m.ContextTextTiers[tier].Inc()
}

// RecordContextCaret records which caret tier answered a query.
func (m *EngineMetrics) RecordContextCaret(tier int) {
	if tier < 0 || tier >= len(m.ContextCaretTiers) {
		m.ContextCaretMiss.Inc()
		return
	}
	m.ContextCaretTiers[tier].Inc()
}

// StartContextQuery returns a timer for a context query and counts it.
func (m *EngineMetrics) StartContextQuery() *HistogramTimer {
	m.ContextQueries.Inc()
	return m.ContextQueryDuration.Timer()
}

// RecordPauseGap records the spacing since the previous pause.
func (m *EngineMetrics) RecordPauseGap(d time.Duration) {
	m.PauseGap.ObserveDuration(d)
}

// RecordOverlayRender records a drawn overlay frame.
func (m *EngineMetrics) RecordOverlayRender() {
	m.OverlayRenders.Inc()
}

// RecordOverlayRecreate records a surface rebuilt after loss.
func (m *EngineMetrics) RecordOverlayRecreate() {
	m.OverlayRecreates.Inc()
}

// RecordOverlayDropped records an update dropped without a surface.
func (m *EngineMetrics) RecordOverlayDropped() {
	m.OverlayDropped.Inc()
}

// RecordBridgePublish records an event delivered to the callback.
func (m *EngineMetrics) RecordBridgePublish() {
	m.BridgePublished.Inc()
}

// RecordBridgeDrop records an event dropped on the queue.
func (m *EngineMetrics) RecordBridgeDrop() {
	m.BridgeDropped.Inc()
}

// RecordBridgePanic records a recovered callback panic.
func (m *EngineMetrics) RecordBridgePanic() {
	m.BridgePanics.Inc()
}

// RecordFocusChange records a focus transition.
func (m *EngineMetrics) RecordFocusChange() {
	m.FocusChanges.Inc()
}

// SetMonitorActive sets the listener state gauge.
func (m *EngineMetrics) SetMonitorActive(active bool) {
	if active {
		m.MonitorActive.Set(1)
	} else {
		m.MonitorActive.Set(0)
	}
}

// SetOverlayVisible sets the overlay visibility gauge.
func (m *EngineMetrics) SetOverlayVisible(visible bool) {
	if visible {
		m.OverlayVisible.Set(1)
	} else {
		m.OverlayVisible.Set(0)
	}
}

// SetSubscribers sets the subscribed-client count.
func (m *EngineMetrics) SetSubscribers(n int) {
	m.Subscribers.Set(int64(n))
}

// SetUptime sets the uptime gauge.
func (m *EngineMetrics) SetUptime(d time.Duration) {
	m.UptimeSeconds.Set(int64(d.Seconds()))
}

// Registry returns the underlying registry.
func (m *EngineMetrics) Registry() *Registry {
	return m.registry
}

// Snapshot returns a snapshot of all engine metrics.
func (m *EngineMetrics) Snapshot() map[string]interface{} {
	return m.registry.Snapshot()
}

// Global engine metrics.
var (
	globalMetrics *EngineMetrics
	metricsOnce   sync.Once
)

// GetMetrics returns the global engine metrics, creating them on the
// default registry on first use.
func GetMetrics() *EngineMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewEngineMetrics(nil)
	})
	return globalMetrics
}

// InitMetrics initializes the global metrics on a specific registry.
func InitMetrics(registry *Registry) *EngineMetrics {
	globalMetrics = NewEngineMetrics(registry)
	metricsOnce.Do(func() {})
	return globalMetrics
}
