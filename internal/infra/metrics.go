package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	cyclesRun       atomic.Uint64
	cyclesSkipped   atomic.Uint64 // stale book / missing mid
	ordersPlaced    atomic.Uint64
	ordersCancelled atomic.Uint64
	ordersFilled    atomic.Uint64
	placeRetries    atomic.Uint64
	reconcileRuns   atomic.Uint64
	errorsTotal     atomic.Uint64

	// Gauges
	activeOrders      atomic.Int32
	activeConnections atomic.Int32
	emergencyStopped  atomic.Int32 // 1 = stopped
}

// RecordCycle records one decision-loop iteration.
func (m *Metrics) RecordCycle() {
	m.cyclesRun.Add(1)
}

// RecordSkippedCycle records a cycle skipped on stale or missing data.
func (m *Metrics) RecordSkippedCycle() {
	m.cyclesSkipped.Add(1)
}

// RecordOrderPlaced records a confirmed placement.
func (m *Metrics) RecordOrderPlaced() {
	m.ordersPlaced.Add(1)
}

// RecordOrderCancelled records a confirmed cancellation.
func (m *Metrics) RecordOrderCancelled() {
	m.ordersCancelled.Add(1)
}

// RecordOrderFilled records a filled order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// RecordPlaceRetry records one failed placement attempt that was retried.
func (m *Metrics) RecordPlaceRetry() {
	m.placeRetries.Add(1)
}

// RecordReconcile records a reconciliation pass.
func (m *Metrics) RecordReconcile() {
	m.reconcileRuns.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// SetActiveOrders sets the current active-order count.
func (m *Metrics) SetActiveOrders(count int32) {
	m.activeOrders.Store(count)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// SetEmergencyStopped sets the emergency-stop gauge.
func (m *Metrics) SetEmergencyStopped(stopped bool) {
	if stopped {
		m.emergencyStopped.Store(1)
	} else {
		m.emergencyStopped.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	CyclesRun         uint64
	CyclesSkipped     uint64
	OrdersPlaced      uint64
	OrdersCancelled   uint64
	OrdersFilled      uint64
	PlaceRetries      uint64
	ReconcileRuns     uint64
	ErrorsTotal       uint64
	ActiveOrders      int32
	ActiveConnections int32
	EmergencyStopped  bool
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		CyclesRun:         m.cyclesRun.Load(),
		CyclesSkipped:     m.cyclesSkipped.Load(),
		OrdersPlaced:      m.ordersPlaced.Load(),
		OrdersCancelled:   m.ordersCancelled.Load(),
		OrdersFilled:      m.ordersFilled.Load(),
		PlaceRetries:      m.placeRetries.Load(),
		ReconcileRuns:     m.reconcileRuns.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		ActiveOrders:      m.activeOrders.Load(),
		ActiveConnections: m.activeConnections.Load(),
		EmergencyStopped:  m.emergencyStopped.Load() == 1,
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.cyclesRun.Store(0)
	m.cyclesSkipped.Store(0)
	m.ordersPlaced.Store(0)
	m.ordersCancelled.Store(0)
	m.ordersFilled.Store(0)
	m.placeRetries.Store(0)
	m.reconcileRuns.Store(0)
	m.errorsTotal.Store(0)
	m.activeOrders.Store(0)
	m.activeConnections.Store(0)
	m.emergencyStopped.Store(0)
}
