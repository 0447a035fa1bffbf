// Package eventbus implements the kernel's single in-process publish/
// subscribe bus with correlated request/response for queries.
package eventbus

// Type identifies the shape of an event's Payload. Handlers switch on this
// tag to recover the concrete payload type.
type Type string

const (
	TaskDelegated             Type = "TaskDelegated"
	TaskPersisted             Type = "TaskPersisted"
	TaskQueued                Type = "TaskQueued"
	TaskStarting              Type = "TaskStarting"
	TaskStarted               Type = "TaskStarted"
	OutputCaptured            Type = "OutputCaptured"
	TaskCompleted             Type = "TaskCompleted"
	TaskFailed                Type = "TaskFailed"
	TaskCancelled             Type = "TaskCancelled"
	TaskTimeout               Type = "TaskTimeout"
	TaskUnblocked             Type = "TaskUnblocked"
	TaskCancellationRequested Type = "TaskCancellationRequested"

	SystemResourcesUpdated Type = "SystemResourcesUpdated"

	TaskStatusQuery        Type = "TaskStatusQuery"
	TaskStatusResponse     Type = "TaskStatusResponse"
	TaskListQuery          Type = "TaskListQuery"
	TaskListResponse       Type = "TaskListResponse"
	TaskLogsQuery          Type = "TaskLogsQuery"
	TaskLogsResponse       Type = "TaskLogsResponse"
	TaskCheckpointQuery    Type = "TaskCheckpointQuery"
	TaskCheckpointResponse Type = "TaskCheckpointResponse"

	ScheduleTriggered Type = "ScheduleTriggered"
	ScheduleMissed    Type = "ScheduleMissed"

	RecoveryCompleted Type = "RecoveryCompleted"
)

// Event is the envelope carried through the bus. Payload is typed per
// Type; handlers assert it to the concrete struct they expect.
// CorrelationID is set only on request()/response() pairs.
type Event struct {
	Type          Type
	Payload       any
	CorrelationID string
}
