// Package workerpool is the only component that spawns or kills a task's
// child process. It owns the active worker set, one stdout/stderr pump
// and one timeout watcher per running task, and the per-task lock that
// makes child exit, timer fire, and cancellation request mutually
// exclusive — the first of the three wins, the others become no-ops.
package workerpool

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/taskd/internal/eventbus"
	"github.com/haasonsaas/taskd/internal/metrics"
	"github.com/haasonsaas/taskd/internal/output"
	"github.com/haasonsaas/taskd/internal/resources"
	"github.com/haasonsaas/taskd/internal/spawner"
	"github.com/haasonsaas/taskd/internal/taskqueue"
	"github.com/haasonsaas/taskd/internal/worktree"
	"github.com/haasonsaas/taskd/pkg/domain"
)

// reason distinguishes why a running task's worker was torn down, since
// the terminal event differs per spec.md §4.7.
type reason int

const (
	reasonExit reason = iota
	reasonTimeout
	reasonCancel
)

// errWorkerTimedOut and errOutputLimitExceeded are returned by a group
// goroutine to cancel its siblings; neither is surfaced to the bus
// directly, the caller that observes the group settling does that.
var (
	errWorkerTimedOut       = errors.New("workerpool: task exceeded its timeout")
	errOutputLimitExceeded  = errors.New("workerpool: output buffer limit exceeded")
)

type runningWorker struct {
	mu       sync.Mutex
	settled  bool // true once one of {exit, timer, cancel} has won
	worker   *domain.Worker
	task     *domain.Task
	child    *spawner.Child
	alloc    worktree.Allocation
	cancel   context.CancelFunc
	killedAt time.Time
}

// Pool is the active set of running children plus the scheduling loop
// that admits new ones.
type Pool struct {
	queue     *taskqueue.Queue
	monitor   *resources.Monitor
	spawner   *spawner.Spawner
	output    *output.Manager
	bus       *eventbus.Bus
	worktree  worktree.Manager
	metrics   *metrics.Metrics
	killGrace time.Duration

	mu      sync.Mutex
	running map[string]*runningWorker // by taskID
}

// New constructs a Pool. killGrace is the delay between SIGTERM and
// SIGKILL for a task past its timeout or under cancellation. wt prepares
// and tears down each task's working directory; worktree.NoopManager{}
// is the default when a task never requests isolated execution.
func New(queue *taskqueue.Queue, monitor *resources.Monitor, sp *spawner.Spawner, out *output.Manager, bus *eventbus.Bus, wt worktree.Manager, killGrace time.Duration) *Pool {
	if killGrace <= 0 {
		killGrace = 5 * time.Second
	}
	if wt == nil {
		wt = worktree.NoopManager{}
	}
	return &Pool{
		queue:     queue,
		monitor:   monitor,
		spawner:   sp,
		output:    out,
		bus:       bus,
		worktree:  wt,
		killGrace: killGrace,
		running:   make(map[string]*runningWorker),
	}
}

// SetMetrics wires m so an output-buffer breach increments the kernel's
// overflow counter. Nil leaves the pool unmeasured (used by tests that
// don't construct a Prometheus registry).
func (p *Pool) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

// Subscribe wires the pool into the bus: TaskQueued and
// SystemResourcesUpdated both trigger an admission pass, and
// TaskCancellationRequested kills a running worker (a queued task's
// removal is handled by the dependency/queue handler, not here).
func (p *Pool) Subscribe(ctx context.Context) error {
	for _, typ := range []eventbus.Type{eventbus.TaskQueued, eventbus.SystemResourcesUpdated} {
		if _, err := p.bus.Subscribe(typ, func(ctx context.Context, evt eventbus.Event) error {
			p.pump(ctx)
			return nil
		}); err != nil {
			return err
		}
	}
	_, err := p.bus.Subscribe(eventbus.TaskCancellationRequested, func(ctx context.Context, evt eventbus.Event) error {
		payload, ok := evt.Payload.(eventbus.TaskCancellationRequestedPayload)
		if !ok {
			return nil
		}
		p.Cancel(ctx, payload.TaskID)
		return nil
	})
	return err
}

// pump admits as many ready tasks as resource admission allows, one at a
// time, re-checking CanSpawn before each.
func (p *Pool) pump(ctx context.Context) {
	for p.monitor.CanSpawn() {
		task := p.queue.Dequeue()
		if task == nil {
			return
		}
		p.start(ctx, task)
	}
}

// GetWorkerCount returns the number of currently running workers.
func (p *Pool) GetWorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}

// GetWorkerForTask returns the worker assigned to taskID, if it is
// currently running.
func (p *Pool) GetWorkerForTask(taskID string) *domain.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	rw, ok := p.running[taskID]
	if !ok {
		return nil
	}
	return rw.worker
}

func (p *Pool) start(ctx context.Context, task *domain.Task) {
	_ = p.bus.Emit(ctx, eventbus.TaskStarting, eventbus.TaskStartingPayload{Task: task})

	alloc, err := p.worktree.Allocate(ctx, task)
	if err != nil {
		_ = p.bus.Emit(ctx, eventbus.TaskFailed, eventbus.TaskFailedPayload{
			Task: task,
			Err:  domain.NewError(domain.ErrCodeSystemError, err.Error()),
		})
		return
	}

	child, derr := p.spawner.Spawn(ctx, task.ID, task.Prompt, alloc.WorkingDirectory)
	if derr != nil {
		_ = p.worktree.Release(ctx, task, alloc)
		_ = p.bus.Emit(ctx, eventbus.TaskFailed, eventbus.TaskFailedPayload{Task: task, Err: derr})
		return
	}

	p.monitor.IncrementWorkerCount()
	p.monitor.RecordSpawn()
	p.output.Open(task.ID, task.MaxOutputBufferBytes)

	worker := &domain.Worker{
		ID:            task.ID,
		TaskID:        task.ID,
		PID:           child.PID,
		SpawnedAt:     time.Now(),
		LastHeartbeat: time.Now(),
		Status:        domain.WorkerStatusBusy,
	}
	workerCtx, cancel := context.WithCancel(ctx)
	rw := &runningWorker{worker: worker, task: task, child: child, alloc: alloc, cancel: cancel}

	p.mu.Lock()
	p.running[task.ID] = rw
	p.mu.Unlock()

	_ = p.bus.Emit(ctx, eventbus.TaskStarted, eventbus.TaskStartedPayload{Task: task, Worker: worker})

	// One errgroup per worker ties the stdout pump, stderr pump, and
	// timeout watcher together: whichever returns first (output-limit
	// breach or timeout) cancels gctx, stopping the other two without
	// each needing to know why.
	g, gctx := errgroup.WithContext(workerCtx)
	g.Go(func() error { return p.pumpStream(gctx, rw, domain.StreamStdout, child.Stdout()) })
	g.Go(func() error { return p.pumpStream(gctx, rw, domain.StreamStderr, child.Stderr()) })
	g.Go(func() error { return p.watchTimeout(gctx, rw, time.Duration(task.TimeoutMs)*time.Millisecond) })

	go func() {
		exitCode := rw.child.Wait()
		rw.cancel()
		_ = g.Wait()

		rw.mu.Lock()
		if rw.settled {
			rw.mu.Unlock()
			return
		}
		rw.settled = true
		rw.mu.Unlock()

		p.finish(ctx, rw, reasonExit, exitCode)
	}()
}

func (p *Pool) pumpStream(ctx context.Context, rw *runningWorker, stream domain.OutputStream, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := scanner.Text() + "\n"
		if derr := p.output.Append(rw.task.ID, stream, line); derr != nil && derr.Code == domain.ErrCodeOutputBufferLimitExceeded {
			if p.metrics != nil {
				p.metrics.RecordOutputBufferOverflow()
			}
			p.Cancel(ctx, rw.task.ID)
			return errOutputLimitExceeded
		}
		_ = p.bus.Emit(ctx, eventbus.OutputCaptured, eventbus.OutputCapturedPayload{
			TaskID: rw.task.ID, Stream: stream, Chunk: line,
		})
	}
	return nil
}

// watchTimeout fires onTimeout once d elapses without gctx already having
// been cancelled by a sibling (exit or an output-limit breach).
func (p *Pool) watchTimeout(ctx context.Context, rw *runningWorker, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
		p.onTimeout(ctx, rw)
		return errWorkerTimedOut
	}
}

func (p *Pool) onTimeout(ctx context.Context, rw *runningWorker) {
	rw.mu.Lock()
	if rw.settled {
		rw.mu.Unlock()
		return
	}
	rw.settled = true
	rw.worker.Status = domain.WorkerStatusKilling
	rw.mu.Unlock()

	p.escalateKill(ctx, rw)
	exitCode := rw.child.Wait()
	p.finish(ctx, rw, reasonTimeout, exitCode)
}

// Cancel tears down a running task's worker, or is a no-op if the task is
// not currently running (a queued task's cancellation is the queue
// handler's responsibility).
func (p *Pool) Cancel(ctx context.Context, taskID string) {
	p.mu.Lock()
	rw, ok := p.running[taskID]
	p.mu.Unlock()
	if !ok {
		return
	}

	rw.mu.Lock()
	if rw.settled {
		rw.mu.Unlock()
		return
	}
	rw.settled = true
	rw.worker.Status = domain.WorkerStatusKilling
	rw.mu.Unlock()

	p.escalateKill(ctx, rw)
	exitCode := rw.child.Wait()
	p.finish(ctx, rw, reasonCancel, exitCode)
}

// escalateKill sends SIGTERM immediately and schedules a SIGKILL after
// killGrace if the child has not exited by then.
func (p *Pool) escalateKill(ctx context.Context, rw *runningWorker) {
	_ = spawner.Kill(rw.child)
	time.AfterFunc(p.killGrace, func() {
		_ = spawner.ForceKill(rw.child)
	})
}

func (p *Pool) finish(ctx context.Context, rw *runningWorker, why reason, exitCode int) {
	rw.cancel()

	p.mu.Lock()
	delete(p.running, rw.task.ID)
	p.mu.Unlock()

	p.monitor.DecrementWorkerCount()
	_ = p.worktree.Release(ctx, rw.task, rw.alloc)
	rw.worker.Status = domain.WorkerStatusKilled

	task := rw.task
	code := exitCode
	task.ExitCode = &code

	switch why {
	case reasonCancel:
		_ = p.bus.Emit(ctx, eventbus.TaskCancelled, eventbus.TaskCancelledPayload{Task: task})
	case reasonTimeout:
		_ = p.bus.Emit(ctx, eventbus.TaskTimeout, eventbus.TaskTimeoutPayload{Task: task})
	default:
		if exitCode == 0 {
			_ = p.bus.Emit(ctx, eventbus.TaskCompleted, eventbus.TaskCompletedPayload{Task: task})
		} else {
			_ = p.bus.Emit(ctx, eventbus.TaskFailed, eventbus.TaskFailedPayload{
				Task: task,
				Err:  domain.NewError(domain.ErrCodeSystemError, "child exited nonzero"),
			})
		}
	}

	p.pump(ctx)
}
