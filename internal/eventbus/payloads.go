package eventbus

import (
	"time"

	"github.com/haasonsaas/taskd/pkg/domain"
)

// TaskDelegatedPayload carries a newly accepted task before it has been
// persisted.
type TaskDelegatedPayload struct {
	Task *domain.Task
}

// TaskPersistedPayload confirms a task row now exists in the store.
type TaskPersistedPayload struct {
	Task *domain.Task
}

// TaskQueuedPayload announces a task is ready and sitting in the priority
// queue.
type TaskQueuedPayload struct {
	Task *domain.Task
}

// TaskStartingPayload announces the worker pool is about to spawn a child
// for Task.
type TaskStartingPayload struct {
	Task *domain.Task
}

// TaskStartedPayload confirms a child has been spawned for Task.
type TaskStartedPayload struct {
	Task   *domain.Task
	Worker *domain.Worker
}

// OutputCapturedPayload carries one chunk of a running task's stdout or
// stderr.
type OutputCapturedPayload struct {
	TaskID string
	Stream domain.OutputStream
	Chunk  string
}

// TaskCompletedPayload announces a task's child exited 0.
type TaskCompletedPayload struct {
	Task *domain.Task
}

// TaskFailedPayload announces a task's child exited nonzero, or could not
// be spawned at all.
type TaskFailedPayload struct {
	Task *domain.Task
	Err  *domain.Error
}

// TaskCancelledPayload announces a task reached cancelled, whether from
// the queue or from a running worker.
type TaskCancelledPayload struct {
	Task *domain.Task
}

// TaskTimeoutPayload announces a running task's timeoutMs elapsed and the
// worker pool is escalating to kill it.
type TaskTimeoutPayload struct {
	Task *domain.Task
}

// TaskUnblockedPayload announces a task's dependencies all resolved
// favorably and it is now ready to enqueue.
type TaskUnblockedPayload struct {
	Task *domain.Task
}

// TaskCancellationRequestedPayload carries a caller's request to cancel a
// task, queued or running.
type TaskCancellationRequestedPayload struct {
	TaskID string
	Reason string
}

// SystemResourcesUpdatedPayload carries the resource monitor's latest
// sample.
type SystemResourcesUpdatedPayload struct {
	CPUPercent    float64
	MemoryPercent float64
}

// TaskStatusQueryPayload requests the current state of one task.
type TaskStatusQueryPayload struct {
	TaskID string
}

// TaskStatusResponsePayload answers a TaskStatusQuery.
type TaskStatusResponsePayload struct {
	Task *domain.Task
	Err  *domain.Error
}

// TaskListQueryPayload requests every task known to the store, most
// recently used by getStatus() called with no taskId.
type TaskListQueryPayload struct{}

// TaskListResponsePayload answers a TaskListQuery.
type TaskListResponsePayload struct {
	Tasks []*domain.Task
	Err   *domain.Error
}

// TaskLogsQueryPayload requests captured output for one task, optionally
// only the last N lines per stream.
type TaskLogsQueryPayload struct {
	TaskID string
	Tail   int
}

// TaskLogsResponsePayload answers a TaskLogsQuery.
type TaskLogsResponsePayload struct {
	Output *domain.TaskOutput
	Err    *domain.Error
}

// TaskCheckpointQueryPayload requests the latest checkpoint recorded for
// a task, used by resume() to seed a replacement task's prompt.
type TaskCheckpointQueryPayload struct {
	TaskID string
}

// TaskCheckpointResponsePayload answers a TaskCheckpointQuery. Checkpoint
// is nil when the task never reached a terminal state.
type TaskCheckpointResponsePayload struct {
	Checkpoint *domain.TaskCheckpoint
	Err        *domain.Error
}

// ScheduleTriggeredPayload announces a schedule's due time arrived and a
// task should be created from its template. ScheduledFor is the slot
// that triggered (not necessarily now: a catchup run reports the
// original missed slot).
type ScheduleTriggeredPayload struct {
	Schedule     *domain.Schedule
	ScheduledFor time.Time
}

// ScheduleMissedPayload announces a schedule tick was skipped under the
// catchup missed-run policy (all but the latest missed slot).
type ScheduleMissedPayload struct {
	Schedule *domain.Schedule
}

// RecoveryCompletedPayload announces the recovery manager finished its
// startup reconciliation pass.
type RecoveryCompletedPayload struct {
	RequeuedTaskIDs []string
	FailedTaskIDs   []string
}
