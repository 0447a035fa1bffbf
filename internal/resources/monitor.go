// Package resources samples system CPU/memory utilization and gates new
// worker spawns against configured thresholds and a minimum inter-spawn
// delay, mirroring the teacher's command-queue admission-counting style
// (a per-lane concurrency limit) but driven by system load rather than a
// fixed concurrency number.
package resources

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/taskd/internal/eventbus"
)

// Config bounds the monitor's admission predicate.
type Config struct {
	MaxConcurrentWorkers   int
	CPUThresholdPercent    float64
	MemoryThresholdPercent float64
	SampleInterval         time.Duration
	SpawnSettleWindow      time.Duration
}

// Monitor periodically samples system resources and answers whether a new
// worker may spawn right now.
type Monitor struct {
	cfg     Config
	sampler Sampler
	bus     *eventbus.Bus

	mu       sync.Mutex
	last     Snapshot
	lastSpawn time.Time

	workerCount atomic.Int64

	stop chan struct{}
	done chan struct{}
}

// New constructs a Monitor. It does not start sampling until Start is
// called.
func New(cfg Config, sampler Sampler) *Monitor {
	if sampler == nil {
		sampler = NewProcSampler()
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 2 * time.Second
	}
	return &Monitor{cfg: cfg, sampler: sampler, stop: make(chan struct{}), done: make(chan struct{})}
}

// SetBus wires bus so every completed sample announces
// SystemResourcesUpdated, which the worker pool treats as an admission
// retrigger. Must be called before Start; nil leaves sampling silent
// (used by tests that only need CanSpawn).
func (m *Monitor) SetBus(bus *eventbus.Bus) {
	m.bus = bus
}

// Start samples on cfg.SampleInterval until ctx is cancelled or Stop is
// called. It takes one synchronous sample before returning so CanSpawn has
// a reading to work with immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.sampleOnce(ctx)

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.sampleOnce(ctx)
			}
		}
	}()
}

func (m *Monitor) sampleOnce(ctx context.Context) {
	snap, err := m.sampler.Sample()
	if err != nil {
		return
	}
	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()

	if m.bus != nil {
		_ = m.bus.Emit(ctx, eventbus.SystemResourcesUpdated, eventbus.SystemResourcesUpdatedPayload{
			CPUPercent:    snap.CPUPercent,
			MemoryPercent: snap.MemoryPercent,
		})
	}
}

// Stop halts background sampling. Safe to call more than once.
func (m *Monitor) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}

// Snapshot returns the most recent resource reading.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// WorkerCount returns the number of workers currently counted as running.
func (m *Monitor) WorkerCount() int {
	return int(m.workerCount.Load())
}

// IncrementWorkerCount records that a worker has spawned.
func (m *Monitor) IncrementWorkerCount() {
	m.workerCount.Add(1)
}

// DecrementWorkerCount records that a worker has exited.
func (m *Monitor) DecrementWorkerCount() {
	if m.workerCount.Add(-1) < 0 {
		m.workerCount.Store(0)
	}
}

// RecordSpawn marks the moment a worker spawn was admitted, starting the
// settle window before the next spawn is allowed.
func (m *Monitor) RecordSpawn() {
	m.mu.Lock()
	m.lastSpawn = time.Now()
	m.mu.Unlock()
}

// CanSpawn reports whether a new worker may be admitted right now: the
// concurrent worker count must be under the configured cap, CPU and memory
// must be under their thresholds, and at least SpawnSettleWindow must have
// elapsed since the last admitted spawn.
func (m *Monitor) CanSpawn() bool {
	if m.cfg.MaxConcurrentWorkers > 0 && m.WorkerCount() >= m.cfg.MaxConcurrentWorkers {
		return false
	}

	m.mu.Lock()
	snap := m.last
	sinceSpawn := time.Since(m.lastSpawn)
	m.mu.Unlock()

	if m.cfg.CPUThresholdPercent > 0 && snap.CPUPercent >= m.cfg.CPUThresholdPercent {
		return false
	}
	if m.cfg.MemoryThresholdPercent > 0 && snap.MemoryPercent >= m.cfg.MemoryThresholdPercent {
		return false
	}
	if m.cfg.SpawnSettleWindow > 0 && !m.lastSpawn.IsZero() && sinceSpawn < m.cfg.SpawnSettleWindow {
		return false
	}
	return true
}
