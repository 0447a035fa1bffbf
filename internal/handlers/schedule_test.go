package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/taskd/internal/eventbus"
	"github.com/haasonsaas/taskd/internal/output"
	"github.com/haasonsaas/taskd/internal/scheduleexec"
	"github.com/haasonsaas/taskd/pkg/domain"
)

func newTestSchedule(id string) *domain.Schedule {
	next := time.Now().Add(-time.Second)
	return &domain.Schedule{
		ID: id,
		TaskTemplate: domain.DelegateTaskRequest{
			Prompt:           "run nightly",
			WorkingDirectory: "/tmp/work",
			TimeoutMs:        domain.DefaultTimeoutMs,
		},
		ScheduleType:    domain.ScheduleTypeCron,
		CronExpression:  "0 0 * * *",
		Timezone:        "UTC",
		MissedRunPolicy: domain.MissedRunPolicySkip,
		Status:          domain.ScheduleStatusActive,
		NextRunAt:       &next,
	}
}

func TestScheduleHandlerMaterializesTaskAndAdvancesSchedule(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultOptions())
	store := newTestStore(t)
	exec := scheduleexec.New(store, bus, scheduleexec.DefaultConfig(), nil)

	if err := RegisterPersistence(bus, store, output.NewManager(1024, 10)); err != nil {
		t.Fatalf("RegisterPersistence() error = %v", err)
	}
	if err := RegisterSchedule(bus, store, exec, nil); err != nil {
		t.Fatalf("RegisterSchedule() error = %v", err)
	}

	sch := newTestSchedule("sched-1")
	if err := store.CreateSchedule(context.Background(), sch); err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}

	var delegated *domain.Task
	if _, err := bus.Subscribe(eventbus.TaskDelegated, func(ctx context.Context, evt eventbus.Event) error {
		delegated = evt.Payload.(eventbus.TaskDelegatedPayload).Task
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := bus.Emit(context.Background(), eventbus.ScheduleTriggered, eventbus.ScheduleTriggeredPayload{
		Schedule:     sch,
		ScheduledFor: *sch.NextRunAt,
	}); err != nil {
		t.Fatalf("Emit(ScheduleTriggered) error = %v", err)
	}

	if delegated == nil {
		t.Fatal("TaskDelegated not emitted")
	}
	if delegated.Prompt != sch.TaskTemplate.Prompt {
		t.Errorf("Prompt = %q, want %q", delegated.Prompt, sch.TaskTemplate.Prompt)
	}

	got, err := store.GetSchedule(context.Background(), "sched-1")
	if err != nil {
		t.Fatalf("GetSchedule() error = %v", err)
	}
	if got.RunCount != 1 {
		t.Errorf("RunCount = %d, want 1", got.RunCount)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(*sch.NextRunAt) {
		t.Errorf("NextRunAt = %v, want advanced past %v", got.NextRunAt, sch.NextRunAt)
	}

	execs, err := store.ListScheduleExecutions(context.Background(), "sched-1", 0)
	if err != nil {
		t.Fatalf("ListScheduleExecutions() error = %v", err)
	}
	if len(execs) != 1 || execs[0].TaskID != delegated.ID {
		t.Errorf("ListScheduleExecutions() = %+v, want single execution for task %s", execs, delegated.ID)
	}
}

func TestScheduleHandlerChainsDependencyOnNonTerminalUpstream(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultOptions())
	store := newTestStore(t)
	exec := scheduleexec.New(store, bus, scheduleexec.DefaultConfig(), nil)

	if err := RegisterPersistence(bus, store, output.NewManager(1024, 10)); err != nil {
		t.Fatalf("RegisterPersistence() error = %v", err)
	}
	if err := RegisterSchedule(bus, store, exec, nil); err != nil {
		t.Fatalf("RegisterSchedule() error = %v", err)
	}

	upstreamTask := newTask(domain.TaskStatusRunning)
	if err := store.CreateTask(context.Background(), upstreamTask); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	upstream := newTestSchedule("upstream")
	if err := store.CreateSchedule(context.Background(), upstream); err != nil {
		t.Fatalf("CreateSchedule(upstream) error = %v", err)
	}
	upstreamExec := &domain.ScheduleExecution{
		ID: "exec-1", ScheduleID: "upstream", TaskID: upstreamTask.ID,
		ScheduledFor: time.Now(), ExecutedAt: time.Now(), Status: domain.ScheduleExecutionTriggered,
	}
	if err := store.CreateScheduleExecution(context.Background(), upstreamExec); err != nil {
		t.Fatalf("CreateScheduleExecution() error = %v", err)
	}

	sch := newTestSchedule("chained")
	sch.AfterScheduleID = "upstream"
	if err := store.CreateSchedule(context.Background(), sch); err != nil {
		t.Fatalf("CreateSchedule(chained) error = %v", err)
	}

	var delegated *domain.Task
	if _, err := bus.Subscribe(eventbus.TaskDelegated, func(ctx context.Context, evt eventbus.Event) error {
		delegated = evt.Payload.(eventbus.TaskDelegatedPayload).Task
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := bus.Emit(context.Background(), eventbus.ScheduleTriggered, eventbus.ScheduleTriggeredPayload{
		Schedule:     sch,
		ScheduledFor: *sch.NextRunAt,
	}); err != nil {
		t.Fatalf("Emit(ScheduleTriggered) error = %v", err)
	}

	if delegated == nil {
		t.Fatal("TaskDelegated not emitted")
	}
	if len(delegated.DependsOn) != 1 || delegated.DependsOn[0] != upstreamTask.ID {
		t.Errorf("DependsOn = %v, want [%s]", delegated.DependsOn, upstreamTask.ID)
	}
}
