package domain

import "time"

// ScheduleType distinguishes recurring cron schedules from single-shot
// one-time schedules.
type ScheduleType string

const (
	ScheduleTypeCron    ScheduleType = "cron"
	ScheduleTypeOneTime ScheduleType = "one_time"
)

// MissedRunPolicy controls what happens when a schedule's nextRunAt falls
// further than the grace period behind the clock.
type MissedRunPolicy string

const (
	MissedRunPolicySkip    MissedRunPolicy = "skip"
	MissedRunPolicyCatchup MissedRunPolicy = "catchup"
	MissedRunPolicyFail    MissedRunPolicy = "fail"
)

// ScheduleStatus is a schedule's lifecycle state.
type ScheduleStatus string

const (
	ScheduleStatusActive    ScheduleStatus = "active"
	ScheduleStatusPaused    ScheduleStatus = "paused"
	ScheduleStatusCompleted ScheduleStatus = "completed"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
	ScheduleStatusExpired   ScheduleStatus = "expired"
)

// DelegateTaskRequest is the full request captured by a schedule's
// taskTemplate and replayed into a concrete Task on each trigger.
type DelegateTaskRequest struct {
	Prompt               string           `json:"prompt"`
	Priority             TaskPriority     `json:"priority,omitempty"`
	WorkingDirectory     string           `json:"working_directory"`
	Worktree             WorktreeOptions  `json:"worktree,omitempty"`
	TimeoutMs            int64            `json:"timeout_ms,omitempty"`
	MaxOutputBufferBytes int64            `json:"max_output_buffer_bytes,omitempty"`
	DependsOn            []string         `json:"depends_on,omitempty"`
	ContinueFrom         string           `json:"continue_from,omitempty"`
}

// Schedule drives recurring or one-time materialization of a task from a
// template.
type Schedule struct {
	ID             string              `json:"id"`
	TaskTemplate   DelegateTaskRequest `json:"task_template"`
	ScheduleType   ScheduleType        `json:"schedule_type"`
	CronExpression string              `json:"cron_expression,omitempty"`
	ScheduledAt    *time.Time          `json:"scheduled_at,omitempty"`
	Timezone       string              `json:"timezone"`
	MissedRunPolicy MissedRunPolicy    `json:"missed_run_policy"`
	Status         ScheduleStatus      `json:"status"`
	MaxRuns        *int                `json:"max_runs,omitempty"`
	RunCount       int                 `json:"run_count"`
	LastRunAt      *time.Time          `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time          `json:"next_run_at,omitempty"`
	ExpiresAt      *time.Time          `json:"expires_at,omitempty"`
	AfterScheduleID string             `json:"after_schedule_id,omitempty"`
}

// Exhausted reports whether the schedule has satisfied its completion
// conditions as of now: MaxRuns reached or ExpiresAt passed.
func (s *Schedule) Exhausted(now time.Time) bool {
	if s == nil {
		return false
	}
	if s.MaxRuns != nil && s.RunCount >= *s.MaxRuns {
		return true
	}
	if s.ExpiresAt != nil && now.After(*s.ExpiresAt) {
		return true
	}
	return false
}

// ScheduleExecutionStatus is the outcome of a single trigger attempt.
type ScheduleExecutionStatus string

const (
	ScheduleExecutionPending   ScheduleExecutionStatus = "pending"
	ScheduleExecutionTriggered ScheduleExecutionStatus = "triggered"
	ScheduleExecutionCompleted ScheduleExecutionStatus = "completed"
	ScheduleExecutionFailed    ScheduleExecutionStatus = "failed"
	ScheduleExecutionMissed    ScheduleExecutionStatus = "missed"
	ScheduleExecutionSkipped   ScheduleExecutionStatus = "skipped"
)

// ScheduleExecution is an immutable audit record of one trigger attempt.
type ScheduleExecution struct {
	ID           string                  `json:"id"`
	ScheduleID   string                  `json:"schedule_id"`
	TaskID       string                  `json:"task_id,omitempty"`
	ScheduledFor time.Time               `json:"scheduled_for"`
	ExecutedAt   time.Time               `json:"executed_at"`
	Status       ScheduleExecutionStatus `json:"status"`
	ErrorMessage string                  `json:"error_message,omitempty"`
}
