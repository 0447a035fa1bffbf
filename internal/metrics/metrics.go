// Package metrics exposes the kernel's Prometheus surface: queue depth,
// active worker count, task outcomes, schedule triggers, and output
// buffer overflows. It subscribes to the same bus every other handler
// does rather than having callers instrument themselves inline.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/haasonsaas/taskd/internal/eventbus"
	"github.com/haasonsaas/taskd/internal/taskqueue"
)

// Metrics holds every counter/gauge the kernel reports. Construct once
// with NewMetrics and register it against the bus with Subscribe.
type Metrics struct {
	QueueDepth prometheus.Gauge

	// ActiveWorkers tracks currently running workers.
	ActiveWorkers prometheus.Gauge

	// TasksTotal counts terminal task outcomes.
	// Labels: outcome (completed|failed|cancelled|timeout)
	TasksTotal *prometheus.CounterVec

	// SchedulesTriggeredTotal counts schedule materializations.
	// Labels: outcome (triggered|missed)
	SchedulesTriggeredTotal *prometheus.CounterVec

	// OutputBufferOverflowsTotal counts tasks killed for exceeding
	// their captured-output limit.
	OutputBufferOverflowsTotal prometheus.Counter
}

// NewMetrics creates and registers the kernel's metrics against
// Prometheus's default registry. Call once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "taskd_queue_depth",
			Help: "Number of tasks currently waiting in the ready queue",
		}),
		ActiveWorkers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "taskd_active_workers",
			Help: "Number of workers currently running a task",
		}),
		TasksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "taskd_tasks_total",
			Help: "Total number of tasks reaching a terminal state, by outcome",
		}, []string{"outcome"}),
		SchedulesTriggeredTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "taskd_schedules_triggered_total",
			Help: "Total number of schedule tick outcomes, by outcome",
		}, []string{"outcome"}),
		OutputBufferOverflowsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "taskd_output_buffer_overflows_total",
			Help: "Total number of tasks killed for exceeding their output buffer limit",
		}),
	}
}

// Subscribe wires m to bus: every queue mutation updates QueueDepth from
// queue directly (rather than trusting event payloads to stay in sync
// with the heap's true size), and every terminal task/schedule event
// increments the matching counter.
func (m *Metrics) Subscribe(bus *eventbus.Bus, queue *taskqueue.Queue) error {
	refreshQueueDepth := func(ctx context.Context, evt eventbus.Event) error {
		m.QueueDepth.Set(float64(queue.Size()))
		return nil
	}
	for _, typ := range []eventbus.Type{eventbus.TaskQueued, eventbus.TaskCancelled} {
		if _, err := bus.Subscribe(typ, refreshQueueDepth); err != nil {
			return err
		}
	}

	if _, err := bus.Subscribe(eventbus.TaskStarted, func(ctx context.Context, evt eventbus.Event) error {
		m.ActiveWorkers.Inc()
		return nil
	}); err != nil {
		return err
	}

	outcomes := map[eventbus.Type]string{
		eventbus.TaskCompleted: "completed",
		eventbus.TaskFailed:    "failed",
		eventbus.TaskCancelled: "cancelled",
		eventbus.TaskTimeout:   "timeout",
	}
	for typ, outcome := range outcomes {
		outcome := outcome
		if _, err := bus.Subscribe(typ, func(ctx context.Context, evt eventbus.Event) error {
			m.ActiveWorkers.Dec()
			m.TasksTotal.WithLabelValues(outcome).Inc()
			return nil
		}); err != nil {
			return err
		}
	}

	if _, err := bus.Subscribe(eventbus.ScheduleTriggered, func(ctx context.Context, evt eventbus.Event) error {
		m.SchedulesTriggeredTotal.WithLabelValues("triggered").Inc()
		return nil
	}); err != nil {
		return err
	}
	if _, err := bus.Subscribe(eventbus.ScheduleMissed, func(ctx context.Context, evt eventbus.Event) error {
		m.SchedulesTriggeredTotal.WithLabelValues("missed").Inc()
		return nil
	}); err != nil {
		return err
	}

	return nil
}

// RecordOutputBufferOverflow increments the overflow counter. Called by
// the output handler when a task is killed for exceeding
// MaxOutputBufferBytes rather than inferred from TaskCancelled, since
// not every cancellation is an overflow.
func (m *Metrics) RecordOutputBufferOverflow() {
	m.OutputBufferOverflowsTotal.Inc()
}
