package process

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kralicky/voicebox/pkg/tasks"
)

// Confiner places a process into a resource-limited group before it is
// started. It may modify attr, and returns a function that releases the group
// once the process has exited.
type Confiner interface {
	Confine(runID string, attr *syscall.SysProcAttr) (release func(), err error)
}

// DefaultInputTimeout bounds a single write to the stdin of an interactive
// process that has stopped reading it.
const DefaultInputTimeout = 5 * time.Second

type Options struct {
	Category tasks.Category
	RunID    string
	Confiner Confiner
	// How long WriteLine may wait for the process to accept a line. Defaults
	// to DefaultInputTimeout.
	InputTimeout time.Duration
}

// Handle is a single spawned process. The process is started in its own
// process group so that signals reach any children it spawns as well.
//
// The stdout and stderr read ends are owned by the caller, who must read them
// until they are exhausted and then call CloseOutput.
type Handle struct {
	category tasks.Category
	runID    string
	cmd      *exec.Cmd
	pid      int
	started  time.Time
	stdout   *os.File
	stderr   *os.File

	interactive  bool
	inputTimeout time.Duration
	// Held while writing to or closing stdin. A channel rather than a mutex
	// so that waiting for it can time out.
	stdinLock chan struct{}
	stdin     *os.File // nil unless interactive, or after CloseStdin
	stdinFile *os.File // the write end, kept after CloseStdin for deadlines

	exited chan struct{}
	state  *os.ProcessState
}

// Spawn starts the command. On failure, the returned error wraps
// tasks.ErrSpawnFailed and no resources are left open.
func Spawn(c tasks.Command, opts Options) (_ *Handle, retErr error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	lg := slog.With("category", opts.Category, "run", opts.RunID)

	cmd := exec.Command(c.Args[0], c.Args[1:]...)
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Dir = c.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var toClose, childEnds []io.Closer
	defer func() {
		for _, f := range childEnds {
			f.Close()
		}
		if retErr != nil {
			for _, f := range toClose {
				f.Close()
			}
		}
	}()

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tasks.ErrSpawnFailed, err)
	}
	toClose = append(toClose, stdoutR)
	childEnds = append(childEnds, stdoutW)

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tasks.ErrSpawnFailed, err)
	}
	toClose = append(toClose, stderrR)
	childEnds = append(childEnds, stderrW)

	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	var stdinW *os.File
	if c.Stdin == tasks.StdinInteractive {
		var stdinR *os.File
		stdinR, stdinW, err = os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", tasks.ErrSpawnFailed, err)
		}
		toClose = append(toClose, stdinW)
		childEnds = append(childEnds, stdinR)
		cmd.Stdin = stdinR
	}

	release := func() {}
	if opts.Confiner != nil {
		release, err = opts.Confiner.Confine(opts.RunID, cmd.SysProcAttr)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", tasks.ErrSpawnFailed, err)
		}
	}

	if err := cmd.Start(); err != nil {
		release()
		lg.Error("failed to start command", "command", cmd.Path, "error", err)
		return nil, fmt.Errorf("%w: %w", tasks.ErrSpawnFailed, err)
	}

	h := &Handle{
		category:     opts.Category,
		runID:        opts.RunID,
		cmd:          cmd,
		pid:          cmd.Process.Pid,
		started:      time.Now(),
		stdout:       stdoutR,
		stderr:       stderrR,
		stdin:        stdinW,
		stdinFile:    stdinW,
		interactive:  stdinW != nil,
		inputTimeout: cmp.Or(opts.InputTimeout, DefaultInputTimeout),
		stdinLock:    make(chan struct{}, 1),
		exited:       make(chan struct{}),
	}
	lg.Info("command started", "command", cmd.Path, "pid", h.pid)

	go func() {
		if err := cmd.Wait(); err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				lg.Warn("error waiting for command", "error", err)
			}
		}
		h.state = cmd.ProcessState
		// Releasing the cgroup may wait for stray children to be killed, so
		// the process is reported as exited first.
		close(h.exited)
		defer release()
		code, sig := h.exitStatus()
		lg.With(
			"pid", h.pid,
			"exitCode", code,
			"signal", sig,
			"duration", time.Since(h.started),
		).Info("command terminated")
	}()
	return h, nil
}

func (h *Handle) Category() tasks.Category { return h.category }
func (h *Handle) RunID() string            { return h.runID }
func (h *Handle) PID() int                 { return h.pid }
func (h *Handle) Started() time.Time       { return h.started }
func (h *Handle) Interactive() bool        { return h.interactive }

// Stdout returns the read end of the process's stdout pipe.
func (h *Handle) Stdout() *os.File { return h.stdout }

// Stderr returns the read end of the process's stderr pipe.
func (h *Handle) Stderr() *os.File { return h.stderr }

// Alive reports whether the process is still running. The answer is computed
// at the time of the call.
func (h *Handle) Alive() bool {
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}

// Exited returns a channel that is closed once the process has terminated
// and been reaped.
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

// ExitStatus returns the exit code of the process, and the name of the signal
// that terminated it, if any. It must only be called after Exited is closed.
// A process terminated by a signal reports exit code -1.
func (h *Handle) ExitStatus() (code int, signal string) {
	<-h.exited
	return h.exitStatus()
}

func (h *Handle) exitStatus() (int, string) {
	if h.state == nil {
		return -1, ""
	}
	ws, ok := h.state.Sys().(syscall.WaitStatus)
	if !ok {
		return h.state.ExitCode(), ""
	}
	if ws.Signaled() {
		return -1, unix.SignalName(ws.Signal())
	}
	return ws.ExitStatus(), ""
}

// WriteLine writes payload followed by a newline to the process's stdin. The
// pipe is unbuffered, so the line is visible to the process immediately. If
// the process does not accept the line within the input timeout, WriteLine
// fails with tasks.ErrWriteFailed and part of the line may have been written.
func (h *Handle) WriteLine(payload string) error {
	return h.writeLine(payload, time.Now().Add(h.inputTimeout))
}

func (h *Handle) writeLine(payload string, deadline time.Time) error {
	if !h.interactive {
		return tasks.ErrNotInteractive
	}
	if !h.lockStdin(deadline) {
		return fmt.Errorf("%w: stdin is busy", tasks.ErrWriteFailed)
	}
	defer h.unlockStdin()
	return h.writeLineLocked(payload, deadline)
}

func (h *Handle) writeLineLocked(payload string, deadline time.Time) error {
	if h.stdin == nil || !h.Alive() {
		return tasks.ErrNotRunning
	}
	if err := h.stdin.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %w", tasks.ErrWriteFailed, err)
	}
	if _, err := h.stdin.WriteString(payload + "\n"); err != nil {
		return fmt.Errorf("%w: %w", tasks.ErrWriteFailed, err)
	}
	return nil
}

// lockStdin reports whether the stdin lock was acquired before deadline.
func (h *Handle) lockStdin(deadline time.Time) bool {
	select {
	case h.stdinLock <- struct{}{}:
		return true
	default:
	}
	t := time.NewTimer(time.Until(deadline))
	defer t.Stop()
	select {
	case h.stdinLock <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

func (h *Handle) unlockStdin() {
	<-h.stdinLock
}

// CloseStdin closes the process's stdin pipe, signalling end of input. It is
// a no-op if the process is not interactive or stdin is already closed.
func (h *Handle) CloseStdin() error {
	if !h.interactive {
		return nil
	}
	h.stdinLock <- struct{}{}
	defer h.unlockStdin()
	return h.closeStdinLocked()
}

func (h *Handle) closeStdinLocked() error {
	if h.stdin == nil {
		return nil
	}
	err := h.stdin.Close()
	h.stdin = nil
	return err
}

// sendStopToken writes token to stdin and closes it, giving up at deadline.
// Pending input writes are aborted first, since input no longer matters once
// the process is asked to exit.
func (h *Handle) sendStopToken(token string, deadline time.Time) error {
	h.stdinFile.SetWriteDeadline(time.Now())
	if !h.lockStdin(deadline) {
		return fmt.Errorf("%w: stdin is busy", tasks.ErrWriteFailed)
	}
	defer h.unlockStdin()
	return errors.Join(h.writeLineLocked(token, deadline), h.closeStdinLocked())
}

// CloseOutput closes the read ends of the stdout and stderr pipes, and stdin
// if it is still open.
func (h *Handle) CloseOutput() error {
	return errors.Join(h.stdout.Close(), h.stderr.Close(), h.CloseStdin())
}

// Terminate sends SIGTERM to the process group.
func (h *Handle) Terminate() error {
	return h.signalGroup(unix.SIGTERM)
}

// Kill sends SIGKILL to the process group.
func (h *Handle) Kill() error {
	return h.signalGroup(unix.SIGKILL)
}

func (h *Handle) signalGroup(sig syscall.Signal) error {
	err := unix.Kill(-h.pid, sig)
	if errors.Is(err, unix.ESRCH) {
		// the whole group is already gone
		return nil
	}
	return err
}

// StopWithin asks the process to exit and waits up to grace for it to do so,
// after which the process group is killed. If stopToken is non-empty and the
// process is interactive, the token is written to stdin and stdin is closed;
// otherwise SIGTERM is sent. Canceling ctx shortens the grace period.
//
// A process that exits on its own while StopWithin is in progress is
// reported as tasks.OutcomeStopped.
func (h *Handle) StopWithin(ctx context.Context, grace time.Duration, stopToken string) (tasks.StopOutcome, error) {
	lg := slog.With("category", h.category, "run", h.runID, "pid", h.pid)
	if !h.Alive() {
		return tasks.OutcomeStopped, nil
	}

	// The stop token write and the grace period share one deadline, so a
	// process that stopped reading stdin is still killed on time.
	deadline := time.Now().Add(grace)
	if h.interactive && stopToken != "" {
		lg.Debug("sending stop token")
		if err := h.sendStopToken(stopToken, deadline); err != nil && h.Alive() {
			lg.Debug("failed to send stop token, falling back to SIGTERM", "error", err)
			if err := h.Terminate(); err != nil {
				lg.Error("failed to send SIGTERM", "error", err)
			}
		}
	} else {
		lg.Debug("sending SIGTERM")
		if err := h.Terminate(); err != nil {
			lg.Error("failed to send SIGTERM", "error", err)
		}
	}

	start := time.Now()
	timeout := time.NewTimer(time.Until(deadline))
	defer timeout.Stop()
	select {
	case <-h.exited:
		lg.Debug("process exited within grace period", "took", time.Since(start))
		return tasks.OutcomeStopped, nil
	case <-timeout.C:
		if !h.Alive() {
			return tasks.OutcomeStopped, nil
		}
		lg.Warn("process did not exit within grace period, sending SIGKILL")
	case <-ctx.Done():
		lg.Warn("stop canceled, sending SIGKILL", "cause", context.Cause(ctx))
	}
	if err := h.Kill(); err != nil {
		lg.Error("failed to send SIGKILL", "error", err)
		return tasks.OutcomeForceKilled, fmt.Errorf("failed to kill process group %d: %w", h.pid, err)
	}
	<-h.exited
	return tasks.OutcomeForceKilled, nil
}
