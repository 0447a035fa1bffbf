package resources

import (
	"context"
	"testing"
	"time"
)

type fakeSampler struct {
	snap Snapshot
	err  error
}

func (f *fakeSampler) Sample() (Snapshot, error) { return f.snap, f.err }

func TestCanSpawnRespectsWorkerCap(t *testing.T) {
	m := New(Config{MaxConcurrentWorkers: 2}, &fakeSampler{})
	m.IncrementWorkerCount()
	if !m.CanSpawn() {
		t.Error("CanSpawn() = false with 1/2 workers, want true")
	}
	m.IncrementWorkerCount()
	if m.CanSpawn() {
		t.Error("CanSpawn() = true at worker cap, want false")
	}
	m.DecrementWorkerCount()
	if !m.CanSpawn() {
		t.Error("CanSpawn() = false after decrementing below cap, want true")
	}
}

func TestCanSpawnRespectsCPUThreshold(t *testing.T) {
	m := New(Config{CPUThresholdPercent: 90}, &fakeSampler{snap: Snapshot{CPUPercent: 95}})
	m.Start(context.Background())
	defer m.Stop()
	time.Sleep(10 * time.Millisecond)

	if m.CanSpawn() {
		t.Error("CanSpawn() = true at 95% CPU with 90% threshold, want false")
	}
}

func TestCanSpawnRespectsMemoryThreshold(t *testing.T) {
	m := New(Config{MemoryThresholdPercent: 90}, &fakeSampler{snap: Snapshot{MemoryPercent: 95}})
	m.Start(context.Background())
	defer m.Stop()
	time.Sleep(10 * time.Millisecond)

	if m.CanSpawn() {
		t.Error("CanSpawn() = true at 95% memory with 90% threshold, want false")
	}
}

func TestCanSpawnRespectsSettleWindow(t *testing.T) {
	m := New(Config{SpawnSettleWindow: 50 * time.Millisecond}, &fakeSampler{})

	m.RecordSpawn()
	if m.CanSpawn() {
		t.Error("CanSpawn() = true immediately after a spawn, want false within settle window")
	}

	time.Sleep(60 * time.Millisecond)
	if !m.CanSpawn() {
		t.Error("CanSpawn() = false after settle window elapsed, want true")
	}
}

func TestCanSpawnDefaultsToTrueWithNoThresholds(t *testing.T) {
	m := New(Config{}, &fakeSampler{})
	if !m.CanSpawn() {
		t.Error("CanSpawn() = false with no configured limits, want true")
	}
}

func TestWorkerCountNeverGoesNegative(t *testing.T) {
	m := New(Config{}, &fakeSampler{})
	m.DecrementWorkerCount()
	if m.WorkerCount() != 0 {
		t.Errorf("WorkerCount() = %d, want 0 after decrementing below zero", m.WorkerCount())
	}
}

func TestStartTakesSynchronousSample(t *testing.T) {
	m := New(Config{}, &fakeSampler{snap: Snapshot{CPUPercent: 42, MemoryPercent: 7}})
	m.Start(context.Background())
	defer m.Stop()

	snap := m.Snapshot()
	if snap.CPUPercent != 42 || snap.MemoryPercent != 7 {
		t.Errorf("Snapshot() = %+v, want {42 7}", snap)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	m := New(Config{}, &fakeSampler{})
	m.Start(context.Background())
	m.Stop()
	m.Stop() // must not panic on double-close
}
