// Package scheduleexec runs the single periodic tick that finds due
// schedules and dispatches them to either a missed-run policy or a
// ScheduleTriggered event. It owns no task state of its own beyond the
// in-memory set of schedule ids with a still-live triggered task, used
// to avoid double-scheduling a slow run. Materializing the concrete
// task for a trigger is the ScheduleTriggered handler's job, registered
// separately so the executor never touches the task-creation path.
package scheduleexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/taskd/internal/eventbus"
	"github.com/haasonsaas/taskd/internal/kernelstore"
	"github.com/haasonsaas/taskd/internal/obs"
	"github.com/haasonsaas/taskd/pkg/domain"
)

// cronParser supports both standard (5-field) and extended (6-field
// with seconds) cron expressions.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

const (
	defaultCheckInterval        = 60 * time.Second
	defaultMissedRunGracePeriod = 5 * time.Minute
	dueBatchSize                = 100
)

// Config controls the executor's tick cadence and lateness tolerance.
type Config struct {
	CheckInterval        time.Duration
	MissedRunGracePeriod time.Duration
}

// DefaultConfig mirrors the documented defaults: a 60s tick and a 5min
// missed-run grace period.
func DefaultConfig() Config {
	return Config{
		CheckInterval:        defaultCheckInterval,
		MissedRunGracePeriod: defaultMissedRunGracePeriod,
	}
}

// Executor ticks once per Config.CheckInterval, finds due schedules,
// and dispatches each to ScheduleTriggered or the configured
// missed-run policy.
type Executor struct {
	store  *kernelstore.Store
	bus    *eventbus.Bus
	cfg    Config
	logger *obs.Logger

	mu      sync.Mutex
	live    map[string]string // scheduleID -> taskID ("" once triggered, until materialized)
	subIDs  []string
	ticker  *time.Ticker
	stopped chan struct{}
}

// New constructs an Executor. A zero Config is replaced with
// DefaultConfig.
func New(store *kernelstore.Store, bus *eventbus.Bus, cfg Config, logger *obs.Logger) *Executor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.MissedRunGracePeriod <= 0 {
		cfg.MissedRunGracePeriod = defaultMissedRunGracePeriod
	}
	if logger == nil {
		logger = obs.NewLogger(obs.LogConfig{})
	}
	return &Executor{
		store:  store,
		bus:    bus,
		cfg:    cfg,
		logger: logger.WithFields("component", "schedule-executor"),
		live:   make(map[string]string),
	}
}

// Start subscribes to the terminal events that clear a schedule's live
// marker, then begins the periodic tick in its own goroutine.
func (e *Executor) Start(ctx context.Context) error {
	for _, typ := range []eventbus.Type{eventbus.TaskCompleted, eventbus.TaskFailed, eventbus.TaskCancelled, eventbus.TaskTimeout} {
		id, err := e.bus.Subscribe(typ, e.clearLiveOnTerminal)
		if err != nil {
			return err
		}
		e.subIDs = append(e.subIDs, id)
	}

	e.mu.Lock()
	e.ticker = time.NewTicker(e.cfg.CheckInterval)
	e.stopped = make(chan struct{})
	ticker := e.ticker
	stopped := e.stopped
	e.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopped:
				return
			case <-ticker.C:
				e.tick(ctx)
			}
		}
	}()
	return nil
}

// Stop clears the tick timer and releases every bus subscription so
// the executor never keeps the process alive.
func (e *Executor) Stop() {
	e.mu.Lock()
	if e.ticker != nil {
		e.ticker.Stop()
	}
	if e.stopped != nil {
		close(e.stopped)
		e.stopped = nil
	}
	subIDs := e.subIDs
	e.subIDs = nil
	e.mu.Unlock()

	for _, id := range subIDs {
		e.bus.Unsubscribe(id)
	}
}

func (e *Executor) clearLiveOnTerminal(ctx context.Context, evt eventbus.Event) error {
	var taskID string
	switch evt.Type {
	case eventbus.TaskCompleted:
		taskID = evt.Payload.(eventbus.TaskCompletedPayload).Task.ID
	case eventbus.TaskFailed:
		taskID = evt.Payload.(eventbus.TaskFailedPayload).Task.ID
	case eventbus.TaskCancelled:
		taskID = evt.Payload.(eventbus.TaskCancelledPayload).Task.ID
	case eventbus.TaskTimeout:
		taskID = evt.Payload.(eventbus.TaskTimeoutPayload).Task.ID
	}
	if taskID == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for scheduleID, liveTaskID := range e.live {
		if liveTaskID == taskID {
			delete(e.live, scheduleID)
			break
		}
	}
	return nil
}

func (e *Executor) tick(ctx context.Context) {
	now := time.Now()
	due, err := e.store.ListDueSchedules(ctx, now, dueBatchSize)
	if err != nil {
		e.logger.Error(ctx, "list due schedules failed", "error", err)
		return
	}

	for _, sch := range due {
		e.process(ctx, sch, now)
	}
}

func (e *Executor) process(ctx context.Context, sch *domain.Schedule, now time.Time) {
	e.mu.Lock()
	_, stillLive := e.live[sch.ID]
	e.mu.Unlock()
	if stillLive {
		e.logger.Debug(ctx, "skipping schedule with a still-live task", "schedule_id", sch.ID)
		return
	}

	if sch.NextRunAt == nil {
		return
	}
	nextRunAt := *sch.NextRunAt
	delay := now.Sub(nextRunAt)
	if delay > e.cfg.MissedRunGracePeriod {
		e.dispatchMissed(ctx, sch, nextRunAt, now)
		return
	}

	e.trigger(ctx, sch, nextRunAt)
}

func (e *Executor) dispatchMissed(ctx context.Context, sch *domain.Schedule, scheduledFor, now time.Time) {
	switch sch.MissedRunPolicy {
	case domain.MissedRunPolicyCatchup:
		// Run once for the latest missed slot; the triggered timestamp
		// still carries the original schedule time so callers can
		// observe the lateness.
		e.trigger(ctx, sch, scheduledFor)
		return
	case domain.MissedRunPolicyFail:
		sch.Status = domain.ScheduleStatusCancelled
		if err := e.store.UpdateSchedule(ctx, sch); err != nil {
			e.logger.Error(ctx, "cancel schedule on missed-run fail policy failed", "schedule_id", sch.ID, "error", err)
		}
		e.recordExecution(ctx, sch.ID, "", scheduledFor, now, domain.ScheduleExecutionMissed, "missed run, policy=fail")
	default: // skip
		if err := Advance(ctx, e.store, sch, now); err != nil {
			e.logger.Error(ctx, "advance schedule after missed-run skip failed", "schedule_id", sch.ID, "error", err)
		}
		e.recordExecution(ctx, sch.ID, "", scheduledFor, now, domain.ScheduleExecutionMissed, "missed run, policy=skip")
	}
	if err := e.bus.Emit(ctx, eventbus.ScheduleMissed, eventbus.ScheduleMissedPayload{Schedule: sch}); err != nil {
		e.logger.Error(ctx, "ScheduleMissed handler failed", "schedule_id", sch.ID, "error", err)
	}
}

// trigger reserves the schedule's live slot and emits ScheduleTriggered.
// The ScheduleTriggered handler owns task materialization, execution
// persistence, and advancing the schedule to its next occurrence; it
// calls MarkTriggered once the real task id is known.
func (e *Executor) trigger(ctx context.Context, sch *domain.Schedule, scheduledFor time.Time) {
	e.mu.Lock()
	e.live[sch.ID] = ""
	e.mu.Unlock()

	if err := e.bus.Emit(ctx, eventbus.ScheduleTriggered, eventbus.ScheduleTriggeredPayload{Schedule: sch, ScheduledFor: scheduledFor}); err != nil {
		e.logger.Error(ctx, "ScheduleTriggered handler failed", "schedule_id", sch.ID, "error", err)
		e.mu.Lock()
		delete(e.live, sch.ID)
		e.mu.Unlock()
	}
}

func (e *Executor) recordExecution(ctx context.Context, scheduleID, taskID string, scheduledFor, executedAt time.Time, status domain.ScheduleExecutionStatus, errMsg string) {
	if err := RecordExecution(ctx, e.store, scheduleID, taskID, scheduledFor, executedAt, status, errMsg); err != nil {
		e.logger.Error(ctx, "record schedule execution failed", "schedule_id", scheduleID, "error", err)
	}
}

// MarkTriggered records the real task id materialized for a
// ScheduleTriggered event, called by the handler that owns task
// construction once it has assigned an id. It replaces the placeholder
// reserved by trigger so clearLiveOnTerminal can find it later. A
// schedule id with no reserved slot (already cleared, e.g. the task
// finished before the handler returned) is a silent no-op.
func (e *Executor) MarkTriggered(scheduleID, taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.live[scheduleID]; ok {
		e.live[scheduleID] = taskID
	}
}

// Advance moves sch to its next nextRunAt (cron), marks it completed
// (one_time, exhausted maxRuns, or past expiresAt), or disables it if
// its cron expression no longer parses. Shared by the executor's
// missed-run-skip path and the ScheduleTriggered handler's normal
// trigger path.
func Advance(ctx context.Context, store *kernelstore.Store, sch *domain.Schedule, now time.Time) error {
	sch.RunCount++
	lastRunAt := now
	sch.LastRunAt = &lastRunAt

	if sch.ScheduleType == domain.ScheduleTypeOneTime || sch.Exhausted(now) {
		sch.Status = domain.ScheduleStatusCompleted
		sch.NextRunAt = nil
		return store.UpdateSchedule(ctx, sch)
	}

	next, err := NextCronRun(sch, now)
	if err != nil {
		sch.Status = domain.ScheduleStatusCancelled
		sch.NextRunAt = nil
		if uerr := store.UpdateSchedule(ctx, sch); uerr != nil {
			return uerr
		}
		return fmt.Errorf("invalid cron expression, schedule %s disabled: %w", sch.ID, err)
	}
	sch.NextRunAt = &next
	return store.UpdateSchedule(ctx, sch)
}

// NextCronRun computes sch's next occurrence strictly after after, in
// sch's configured timezone (UTC if unset or unresolvable).
func NextCronRun(sch *domain.Schedule, after time.Time) (time.Time, error) {
	if sch.CronExpression == "" {
		return time.Time{}, fmt.Errorf("schedule %s has no cron expression", sch.ID)
	}
	loc := time.UTC
	if sch.Timezone != "" {
		if tz, err := time.LoadLocation(sch.Timezone); err == nil {
			loc = tz
		}
	}
	spec, err := cronParser.Parse(sch.CronExpression)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression: %w", err)
	}
	next := spec.Next(after.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron schedule %s produced no next occurrence", sch.ID)
	}
	return next, nil
}

// RecordExecution persists a single schedule-trigger audit record.
func RecordExecution(ctx context.Context, store *kernelstore.Store, scheduleID, taskID string, scheduledFor, executedAt time.Time, status domain.ScheduleExecutionStatus, errMsg string) error {
	exec := &domain.ScheduleExecution{
		ID:           uuid.NewString(),
		ScheduleID:   scheduleID,
		TaskID:       taskID,
		ScheduledFor: scheduledFor,
		ExecutedAt:   executedAt,
		Status:       status,
		ErrorMessage: errMsg,
	}
	return store.CreateScheduleExecution(ctx, exec)
}

// ResolveChainedDependency looks up afterScheduleID's most recent
// execution record and returns the dependency task id a newly
// materialized task chained after it should depend on, or "" if no
// such dependency applies (no prior execution, no task id recorded, or
// the referenced task has already reached a terminal state).
func ResolveChainedDependency(ctx context.Context, store *kernelstore.Store, afterScheduleID string) (string, error) {
	if afterScheduleID == "" {
		return "", nil
	}
	execs, err := store.ListScheduleExecutions(ctx, afterScheduleID, 1)
	if err != nil {
		return "", err
	}
	if len(execs) == 0 || execs[0].TaskID == "" {
		return "", nil
	}
	task, err := store.GetTask(ctx, execs[0].TaskID)
	if err != nil {
		return "", err
	}
	if task == nil || task.Status.IsTerminal() {
		return "", nil
	}
	return task.ID, nil
}
