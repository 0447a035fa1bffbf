package output

import (
	"sync"

	"github.com/haasonsaas/taskd/pkg/domain"
)

// taskBuffers holds both stream buffers for one task.
type taskBuffers struct {
	stdout *buffer
	stderr *buffer
}

// Manager owns every running and recently-completed task's captured
// output. Completed tasks are retained up to maxCompleted, evicted oldest
// first, mirroring the teacher's dedupe-cache size enforcement.
type Manager struct {
	mu            sync.Mutex
	defaultLimit  int64
	maxCompleted  int
	live          map[string]*taskBuffers
	completedKeys []string // oldest first, insertion order
}

// NewManager constructs a Manager. defaultLimit bounds a task's buffer size
// when it does not override MaxOutputBufferBytes; maxCompleted bounds how
// many completed tasks' output stays resident before eviction.
func NewManager(defaultLimit int64, maxCompleted int) *Manager {
	if defaultLimit <= 0 {
		defaultLimit = domain.DefaultOutputBufferBytes
	}
	if maxCompleted < 0 {
		maxCompleted = 0
	}
	return &Manager{
		defaultLimit: defaultLimit,
		maxCompleted: maxCompleted,
		live:         make(map[string]*taskBuffers),
	}
}

// Open allocates buffers for taskID with the given byte limit (or the
// manager's default if limit is zero). Calling Open again for a task
// already open is a no-op.
func (m *Manager) Open(taskID string, limit int64) {
	if limit <= 0 {
		limit = m.defaultLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live[taskID]; ok {
		return
	}
	m.live[taskID] = &taskBuffers{stdout: newBuffer(limit), stderr: newBuffer(limit)}
}

// Append captures one output chunk for taskID on the given stream. It
// returns ErrCodeOutputBufferLimitExceeded if the chunk would overflow the
// task's buffer, or ErrCodeTaskNotFound if Open was never called (or the
// task has already been evicted).
func (m *Manager) Append(taskID string, stream domain.OutputStream, chunk string) *domain.Error {
	m.mu.Lock()
	bufs, ok := m.live[taskID]
	m.mu.Unlock()
	if !ok {
		return domain.NewError(domain.ErrCodeTaskNotFound, "no open output buffer for task "+taskID)
	}

	switch stream {
	case domain.StreamStdout:
		return bufs.stdout.append(chunk)
	case domain.StreamStderr:
		return bufs.stderr.append(chunk)
	default:
		return domain.NewError(domain.ErrCodeValidation, "unknown output stream "+string(stream))
	}
}

// Get returns the captured output for taskID, or nil if nothing is
// buffered (the task never opened a buffer, or it was evicted).
func (m *Manager) Get(taskID string) *domain.TaskOutput {
	m.mu.Lock()
	bufs, ok := m.live[taskID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	stdout, stdoutSize := bufs.stdout.snapshot()
	stderr, stderrSize := bufs.stderr.snapshot()
	return &domain.TaskOutput{Stdout: stdout, Stderr: stderr, TotalSize: stdoutSize + stderrSize}
}

// Tail returns at most n chunks per stream from the end of taskID's buffer.
func (m *Manager) Tail(taskID string, n int) *domain.TaskOutput {
	m.mu.Lock()
	bufs, ok := m.live[taskID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return &domain.TaskOutput{Stdout: bufs.stdout.tail(n), Stderr: bufs.stderr.tail(n)}
}

// Close marks taskID complete, keeping its buffers resident until the
// completed-task retention window evicts it. It returns the id of any
// task evicted as a result, or "" if none was.
func (m *Manager) Close(taskID string) (evicted string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live[taskID]; !ok {
		return ""
	}
	m.completedKeys = append(m.completedKeys, taskID)

	if m.maxCompleted == 0 {
		delete(m.live, taskID)
		m.completedKeys = m.completedKeys[:len(m.completedKeys)-1]
		return taskID
	}

	if len(m.completedKeys) <= m.maxCompleted {
		return ""
	}

	oldest := m.completedKeys[0]
	m.completedKeys = m.completedKeys[1:]
	delete(m.live, oldest)
	return oldest
}

// Discard immediately drops a task's buffers without going through the
// completed-task retention window, used when a flush to durable storage
// has already happened and the in-memory copy is no longer needed.
func (m *Manager) Discard(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, taskID)
	for i, id := range m.completedKeys {
		if id == taskID {
			m.completedKeys = append(m.completedKeys[:i], m.completedKeys[i+1:]...)
			break
		}
	}
}
