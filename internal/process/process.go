//go:build !windows

package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

const (
	defaultShell          = "/bin/sh"
	defaultInterruptGrace = 2 * time.Second
	defaultTerminateGrace = time.Second
	defaultPollInterval   = 25 * time.Millisecond
	killSettle            = 500 * time.Millisecond
)

// ErrSpawn reports that the operating system refused to create the process.
var ErrSpawn = errors.New("spawn failed")

// State tags the lifecycle of a Handle. Transitions only move forward.
type State int32

const (
	StateRunning State = iota
	StateTerminating
	StateDead
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateDead:
		return "dead"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Spec describes a command to launch. Stdout and Stderr writers that also have
// a Flush() error method are flushed once the stream reaches EOF.
type Spec struct {
	Command string
	Dir     string
	Stdout  io.Writer
	Stderr  io.Writer
}

type flusher interface {
	Flush() error
}

// Supervisor spawns processes and carries the termination timings applied to
// the handles it creates. The zero value is ready to use.
type Supervisor struct {
	// Shell interprets Spec.Command. Defaults to /bin/sh.
	Shell string
	// InterruptGrace is how long descendants get to exit after SIGINT.
	InterruptGrace time.Duration
	// TerminateGrace is how long survivors get to exit after SIGTERM.
	TerminateGrace time.Duration
	// PollInterval is the liveness polling period while waiting.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Spawn starts spec.Command through the shell in a new process group.
func (s *Supervisor) Spawn(spec Spec) (*Handle, error) {
	if err := checkDir(spec.Dir); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	shell := s.Shell
	if shell == "" {
		shell = defaultShell
	}
	cmd := shellCommand(shell, spec.Command, spec.Dir)

	var copiers []func()
	stdout, closeStdout, copyStdout, err := attachOutput(spec.Stdout)
	if err != nil {
		return nil, fmt.Errorf("%w: stdout: %w", ErrSpawn, err)
	}
	stderr, closeStderr, copyStderr, err := attachOutput(spec.Stderr)
	if err != nil {
		closeStdout(true)
		return nil, fmt.Errorf("%w: stderr: %w", ErrSpawn, err)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	copiers = append(copiers, copyStdout, copyStderr)

	startedAt := time.Now()
	if err := cmd.Start(); err != nil {
		closeStdout(true)
		closeStderr(true)
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	closeStdout(false)
	closeStderr(false)
	for _, fn := range copiers {
		if fn != nil {
			go fn()
		}
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handle{
		pid:       cmd.Process.Pid,
		command:   spec.Command,
		dir:       spec.Dir,
		startedAt: startedAt,
		cmd:       cmd,
		waitDone:  make(chan struct{}),
		dead:      make(chan struct{}),
		timing:    s.timing(),
		logger:    logger.With("pid", cmd.Process.Pid),
	}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.waitDone)
	}()
	return h, nil
}

func (s *Supervisor) timing() timing {
	t := timing{
		interrupt: s.InterruptGrace,
		terminate: s.TerminateGrace,
		poll:      s.PollInterval,
	}
	if t.interrupt <= 0 {
		t.interrupt = defaultInterruptGrace
	}
	if t.terminate <= 0 {
		t.terminate = defaultTerminateGrace
	}
	if t.poll <= 0 {
		t.poll = defaultPollInterval
	}
	return t
}

type timing struct {
	interrupt time.Duration
	terminate time.Duration
	poll      time.Duration
}

func checkDir(dir string) error {
	if dir == "" {
		return nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("working directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("working directory %s is not a directory", dir)
	}
	return nil
}

// attachOutput returns the writer handed to the child. Writers that are not
// files are fed through an OS pipe so that cmd.Wait returns as soon as the
// root exits, even while descendants still hold the write end.
func attachOutput(w io.Writer) (io.Writer, func(failed bool), func(), error) {
	noop := func(bool) {}
	if w == nil {
		return nil, noop, nil, nil
	}
	if f, ok := w.(*os.File); ok {
		return f, noop, nil, nil
	}
	r, pw, err := os.Pipe()
	if err != nil {
		return nil, noop, nil, err
	}
	closeFn := func(failed bool) {
		_ = pw.Close()
		if failed {
			_ = r.Close()
		}
	}
	copyFn := func() {
		defer r.Close()
		_, _ = io.Copy(w, r)
		if f, ok := w.(flusher); ok {
			_ = f.Flush()
		}
	}
	return pw, closeFn, copyFn, nil
}

// Handle tracks one spawned process tree.
type Handle struct {
	pid       int
	command   string
	dir       string
	startedAt time.Time

	cmd      *exec.Cmd
	waitDone chan struct{}
	waitErr  error

	timing timing
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	dead   chan struct{}
	report Report
}

// Pid returns the pid of the root process, which is also its process group id.
func (h *Handle) Pid() int { return h.pid }

// Command returns the exact command string handed to the shell.
func (h *Handle) Command() string { return h.command }

// Dir returns the working directory the process was started in.
func (h *Handle) Dir() string { return h.dir }

// StartedAt returns the spawn time.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// State returns the current lifecycle tag.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Alive reports whether the root process is still running. It never blocks.
func (h *Handle) Alive() bool {
	select {
	case <-h.waitDone:
		return false
	default:
		return true
	}
}

// Exited is closed once the root process has been reaped.
func (h *Handle) Exited() <-chan struct{} {
	return h.waitDone
}

// ExitErr returns the root's wait error. Only meaningful after Exited closes.
func (h *Handle) ExitErr() error {
	select {
	case <-h.waitDone:
		return h.waitErr
	default:
		return nil
	}
}
