package output

import (
	"strings"
	"testing"

	"github.com/haasonsaas/taskd/pkg/domain"
)

func TestManagerAppendAndGet(t *testing.T) {
	t.Run("captures chunks per stream", func(t *testing.T) {
		m := NewManager(1024, 10)
		m.Open("task-1", 0)

		if err := m.Append("task-1", domain.StreamStdout, "hello "); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if err := m.Append("task-1", domain.StreamStdout, "world"); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if err := m.Append("task-1", domain.StreamStderr, "warn"); err != nil {
			t.Fatalf("Append() error = %v", err)
		}

		out := m.Get("task-1")
		if out == nil {
			t.Fatal("Get() = nil, want output")
		}
		if strings.Join(out.Stdout, "") != "hello world" {
			t.Errorf("Stdout = %v, want [hello world]", out.Stdout)
		}
		if strings.Join(out.Stderr, "") != "warn" {
			t.Errorf("Stderr = %v, want [warn]", out.Stderr)
		}
		if out.TotalSize != int64(len("hello world")+len("warn")) {
			t.Errorf("TotalSize = %d, want %d", out.TotalSize, len("hello world")+len("warn"))
		}
	})

	t.Run("returns nil for unopened task", func(t *testing.T) {
		m := NewManager(1024, 10)
		if out := m.Get("missing"); out != nil {
			t.Errorf("Get() = %+v, want nil", out)
		}
	})

	t.Run("append to unopened task errors TASK_NOT_FOUND", func(t *testing.T) {
		m := NewManager(1024, 10)
		err := m.Append("missing", domain.StreamStdout, "x")
		if domain.CodeOf(err) != domain.ErrCodeTaskNotFound {
			t.Fatalf("error code = %v, want TASK_NOT_FOUND", domain.CodeOf(err))
		}
	})
}

func TestManagerAppendRejectsOverflow(t *testing.T) {
	m := NewManager(10, 10)
	m.Open("task-1", 0)

	if err := m.Append("task-1", domain.StreamStdout, "12345"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	err := m.Append("task-1", domain.StreamStdout, "123456")
	if domain.CodeOf(err) != domain.ErrCodeOutputBufferLimitExceeded {
		t.Fatalf("error code = %v, want OUTPUT_BUFFER_LIMIT_EXCEEDED", domain.CodeOf(err))
	}

	// Partial chunk must not have been admitted.
	out := m.Get("task-1")
	if strings.Join(out.Stdout, "") != "12345" {
		t.Errorf("Stdout = %v, want only the first chunk retained", out.Stdout)
	}

	// Once overflowed, the buffer stays rejecting even for a chunk that
	// would otherwise fit.
	err = m.Append("task-1", domain.StreamStdout, "x")
	if domain.CodeOf(err) != domain.ErrCodeOutputBufferLimitExceeded {
		t.Fatalf("error code after overflow = %v, want OUTPUT_BUFFER_LIMIT_EXCEEDED", domain.CodeOf(err))
	}
}

func TestManagerOpenIsIdempotent(t *testing.T) {
	m := NewManager(1024, 10)
	m.Open("task-1", 0)
	if err := m.Append("task-1", domain.StreamStdout, "a"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	m.Open("task-1", 0) // must not reset the buffer
	if err := m.Append("task-1", domain.StreamStdout, "b"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	out := m.Get("task-1")
	if strings.Join(out.Stdout, "") != "ab" {
		t.Errorf("Stdout = %v, want [ab]", out.Stdout)
	}
}

func TestManagerTail(t *testing.T) {
	m := NewManager(1024, 10)
	m.Open("task-1", 0)
	for _, chunk := range []string{"a", "b", "c", "d"} {
		if err := m.Append("task-1", domain.StreamStdout, chunk); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	tail := m.Tail("task-1", 2)
	if got := strings.Join(tail.Stdout, ""); got != "cd" {
		t.Errorf("Tail(2) = %q, want %q", got, "cd")
	}

	all := m.Tail("task-1", 0)
	if got := strings.Join(all.Stdout, ""); got != "abcd" {
		t.Errorf("Tail(0) = %q, want %q", got, "abcd")
	}
}

func TestManagerCloseEvictsOldestBeyondRetention(t *testing.T) {
	m := NewManager(1024, 2)
	for _, id := range []string{"t1", "t2", "t3"} {
		m.Open(id, 0)
	}

	if evicted := m.Close("t1"); evicted != "" {
		t.Errorf("Close(t1) evicted = %q, want none yet", evicted)
	}
	if evicted := m.Close("t2"); evicted != "" {
		t.Errorf("Close(t2) evicted = %q, want none yet", evicted)
	}
	evicted := m.Close("t3")
	if evicted != "t1" {
		t.Errorf("Close(t3) evicted = %q, want t1 (oldest completed)", evicted)
	}

	if out := m.Get("t1"); out != nil {
		t.Errorf("Get(t1) after eviction = %+v, want nil", out)
	}
	if out := m.Get("t2"); out == nil {
		t.Error("Get(t2) = nil, want still retained")
	}
}

func TestManagerCloseWithZeroRetentionEvictsImmediately(t *testing.T) {
	m := NewManager(1024, 0)
	m.Open("task-1", 0)

	evicted := m.Close("task-1")
	if evicted != "task-1" {
		t.Errorf("Close() evicted = %q, want task-1", evicted)
	}
	if out := m.Get("task-1"); out != nil {
		t.Errorf("Get() after close = %+v, want nil", out)
	}
}

func TestManagerDiscard(t *testing.T) {
	m := NewManager(1024, 10)
	m.Open("task-1", 0)
	m.Close("task-1")
	m.Discard("task-1")

	if out := m.Get("task-1"); out != nil {
		t.Errorf("Get() after discard = %+v, want nil", out)
	}

	// A later Close for an already-discarded id must not panic or
	// resurrect stale completedKeys bookkeeping.
	evicted := m.Close("task-1")
	if evicted != "" {
		t.Errorf("Close() after discard evicted = %q, want none", evicted)
	}
}
