// Package spawner forks and kills the delegated binary for one task. It is
// the only package in taskd that touches os/exec directly; the worker pool
// calls it and nothing else does.
package spawner

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"

	execsafety "github.com/haasonsaas/taskd/internal/exec"
	"github.com/haasonsaas/taskd/pkg/domain"
)

// Child is a spawned process and the pipes needed to capture its output
// and report its exit.
type Child struct {
	PID    int
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

// Stdout returns the child's stdout pipe for the caller to pump.
func (c *Child) Stdout() io.ReadCloser { return c.stdout }

// Stderr returns the child's stderr pipe for the caller to pump.
func (c *Child) Stderr() io.ReadCloser { return c.stderr }

// Wait blocks until the child exits and returns its exit code, or -1 if
// the process could not report one (e.g. killed by signal).
func (c *Child) Wait() int {
	err := c.cmd.Wait()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// WriteStdin writes to the child's stdin, discarding the write silently if
// the pipe is already closed or the child has already exited. The worker
// pool must never treat a dead child's closed pipe as an error worth
// surfacing, nor let it propagate and kill a live peer's goroutine.
func (c *Child) WriteStdin(p []byte) {
	if c.stdin == nil {
		return
	}
	_, _ = c.stdin.Write(p)
}

// Spawner forks the delegated binary, one child per task.
type Spawner struct {
	binary string
}

// New constructs a Spawner that execs binary for every task, with the
// task's prompt as its sole positional argument.
func New(binary string) *Spawner {
	return &Spawner{binary: binary}
}

// Spawn starts the delegated binary in workingDirectory with prompt as its
// sole argument, inheriting the parent's environment. It fails fast on
// ENOENT, EACCES, EMFILE, and any ETIMEDOUT/ECONNRESET the OS surfaces,
// wrapping the original error in a PROCESS_SPAWN_FAILED domain.Error.
func (s *Spawner) Spawn(ctx context.Context, taskID, prompt, workingDirectory string) (*Child, *domain.Error) {
	if !execsafety.IsSafeExecutableValue(s.binary) {
		return nil, domain.NewError(domain.ErrCodeProcessSpawnFailed, "unsafe executable value").
			WithContext(map[string]any{"task_id": taskID})
	}

	cmd := exec.CommandContext(ctx, s.binary, prompt)
	cmd.Dir = workingDirectory
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, wrapSpawnErr(taskID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, wrapSpawnErr(taskID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, wrapSpawnErr(taskID, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, wrapSpawnErr(taskID, err)
	}

	return &Child{
		PID:    cmd.Process.Pid,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

// Kill sends SIGTERM to the child's process group. The worker pool is
// responsible for scheduling a SIGKILL escalation after killGracePeriodMs
// if the child has not exited by then.
func Kill(c *Child) error {
	if c == nil || c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	return signalGroup(c.cmd.Process.Pid, syscall.SIGTERM)
}

// ForceKill sends SIGKILL to the child's process group, for use after the
// grace period following Kill has elapsed without the child exiting.
func ForceKill(c *Child) error {
	if c == nil || c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	return signalGroup(c.cmd.Process.Pid, syscall.SIGKILL)
}

func signalGroup(pid int, sig syscall.Signal) error {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		pgid = pid
	}
	err = syscall.Kill(-pgid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func wrapSpawnErr(taskID string, err error) *domain.Error {
	return domain.Wrap(domain.ErrCodeProcessSpawnFailed, spawnErrMessage(err), err).
		WithContext(map[string]any{"task_id": taskID, "errno": errnoOf(err)})
}

func spawnErrMessage(err error) string {
	switch {
	case errors.Is(err, syscall.ENOENT):
		return "executable not found"
	case errors.Is(err, syscall.EACCES):
		return "permission denied"
	case errors.Is(err, syscall.EMFILE):
		return "too many open files"
	case errors.Is(err, syscall.ETIMEDOUT):
		return "spawn timed out"
	case errors.Is(err, syscall.ECONNRESET):
		return "connection reset during spawn"
	default:
		return "failed to spawn process"
	}
}

// errnoOf extracts the underlying syscall.Errno from a wrapped exec/os
// error, if any, so the original OS code survives into the domain.Error's
// context for diagnostics.
func errnoOf(err error) string {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno.Error()
	}
	return ""
}
