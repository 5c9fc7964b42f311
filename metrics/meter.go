// Package metrics wraps the module's dual metrics stack: VictoriaMetrics
// histograms/counters for response-time recording (the teacher's own
// preferred library) and rcrowley/go-metrics histograms for the
// reconciler's duration tracking, registered in rcrowley's default
// registry. Core.Diagnostics reports neither.
package metrics

import (
	"fmt"
	"sync"

	vm "github.com/VictoriaMetrics/metrics"
	rcrowley "github.com/rcrowley/go-metrics"
)

// ValueRecorder records individual observed durations for one
// (service, operation, host) triple, per spec.md §6 "Value recorders
// tagged with service, operation".
type ValueRecorder interface {
	RecordValueNanos(nanos int64)
}

// vmRecorder adapts a VictoriaMetrics histogram to ValueRecorder.
type vmRecorder struct {
	histogram *vm.Histogram
}

func (r *vmRecorder) RecordValueNanos(nanos int64) {
	r.histogram.Update(float64(nanos) / 1e6) // milliseconds
}

// Meter is the compute-if-absent registry backing Core.responseMetric:
// one ValueRecorder per distinct metric key, allocated on first use and
// reused thereafter.
type Meter struct {
	namespace string

	mu        sync.Mutex
	recorders map[string]*vmRecorder
}

// NewMeter creates a Meter publishing under namespace.
func NewMeter(namespace string) *Meter {
	return &Meter{
		namespace: namespace,
		recorders: make(map[string]*vmRecorder),
	}
}

// Recorder returns the ValueRecorder for (service, host, operation),
// creating it on first use.
func (m *Meter) Recorder(service, host, operation string) ValueRecorder {
	key := fmt.Sprintf(`%s{service=%q,host=%q,operation=%q}`, m.namespace, service, host, operation)

	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.recorders[key]; ok {
		return r
	}
	r := &vmRecorder{histogram: vm.GetOrCreateHistogram(key)}
	m.recorders[key] = r
	return r
}

// ReconcileDurationHistogram is the shared rcrowley histogram the
// reconciler feeds successful pass durations into, sampled with a
// uniform reservoir the way rcrowley's own examples set one up.
var ReconcileDurationHistogram = rcrowley.NewHistogram(rcrowley.NewUniformSample(512))

func init() {
	rcrowley.DefaultRegistry.Register("corekit.reconcile.duration_ms", ReconcileDurationHistogram)
}

// RecordReconcileDuration feeds a completed reconciliation pass's
// duration, in milliseconds, into ReconcileDurationHistogram.
func RecordReconcileDuration(ms int64) {
	ReconcileDurationHistogram.Update(ms)
}
