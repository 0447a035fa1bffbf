package domain

import "time"

// TaskCheckpoint is an append-only snapshot of a task's prompt and
// terminal state, used only to seed a resumed task's prompt.
type TaskCheckpoint struct {
	ID              string    `json:"id"`
	TaskID          string    `json:"task_id"`
	CreatedAt       time.Time `json:"created_at"`
	PriorPrompt     string    `json:"prior_prompt"`
	PriorStatus     TaskStatus `json:"prior_status"`
	PriorExitCode   *int      `json:"prior_exit_code,omitempty"`
	OutputPrefix    string    `json:"output_prefix"`
}

// OutputStream distinguishes captured stdout from stderr.
type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

// TaskOutput is a frozen snapshot of a task's captured output, returned by
// getLogs regardless of whether the source is the live capture component
// or the flushed output table.
type TaskOutput struct {
	Stdout    []string `json:"stdout"`
	Stderr    []string `json:"stderr"`
	TotalSize int64    `json:"total_size"`
}
