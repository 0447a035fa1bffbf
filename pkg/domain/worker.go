package domain

import "time"

// WorkerStatus is a worker's position in the spawn/kill state machine
// described by the worker pool.
type WorkerStatus string

const (
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusKilling WorkerStatus = "killing"
	WorkerStatusKilled  WorkerStatus = "killed"
)

// Worker is the running child process carrying out one task. It is
// in-memory only; the state store never persists workers directly, only
// the task fields they mutate.
type Worker struct {
	ID            string       `json:"id"`
	TaskID        string       `json:"task_id"`
	PID           int          `json:"pid"`
	SpawnedAt     time.Time    `json:"spawned_at"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	Status        WorkerStatus `json:"status"`
}
