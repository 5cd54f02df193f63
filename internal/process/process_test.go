//go:build !windows

package process

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	psprocess "github.com/shirou/gopsutil/v4/process"
)

func fastSupervisor() *Supervisor {
	return &Supervisor{
		InterruptGrace: 200 * time.Millisecond,
		TerminateGrace: 200 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	}
}

func gone(pid int) bool {
	p, err := psprocess.NewProcess(int32(pid))
	if err != nil {
		return true
	}
	return exited(p)
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readPid(t *testing.T, path string) int {
	t.Helper()
	var pid int
	waitFor(t, 2*time.Second, "pid file "+path, func() bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		value, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			return false
		}
		pid = value
		return true
	})
	return pid
}

func TestSpawnRunsInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	h, err := fastSupervisor().Spawn(Spec{Command: "pwd > out.txt", Dir: dir})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	t.Cleanup(func() { h.Terminate() })

	select {
	case <-h.Exited():
	case <-time.After(2 * time.Second):
		t.Fatalf("process did not exit")
	}

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(string(data)))
	want, _ := filepath.EvalSymlinks(dir)
	if got != want {
		t.Fatalf("expected working directory %q, got %q", want, got)
	}
	if h.Command() != "pwd > out.txt" || h.Dir() != dir {
		t.Fatalf("unexpected handle metadata: %q %q", h.Command(), h.Dir())
	}
	if h.State() != StateRunning {
		t.Fatalf("expected state running before terminate, got %s", h.State())
	}
}

func TestSpawnFailsForMissingDirectory(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	_, err := fastSupervisor().Spawn(Spec{Command: "true", Dir: missing})
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
}

func TestSpawnFailsWhenDirectoryIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := fastSupervisor().Spawn(Spec{Command: "true", Dir: file})
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
}

func TestSpawnFailsForMissingShell(t *testing.T) {
	sup := fastSupervisor()
	sup.Shell = filepath.Join(t.TempDir(), "no-shell")
	_, err := sup.Spawn(Spec{Command: "true"})
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
}

func TestAliveTurnsFalseAfterExit(t *testing.T) {
	h, err := fastSupervisor().Spawn(Spec{Command: "exit 3"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitFor(t, 2*time.Second, "exit", func() bool { return !h.Alive() })
	if h.ExitErr() == nil {
		t.Fatalf("expected non-nil exit error for status 3")
	}

	report := h.Terminate()
	if report.Escalation != EscalationNone {
		t.Fatalf("expected no escalation for exited process, got %s", report.Escalation)
	}
	if h.State() != StateDead {
		t.Fatalf("expected dead state, got %s", h.State())
	}
}

func TestTerminateStopsProcessTree(t *testing.T) {
	dir := t.TempDir()
	h, err := fastSupervisor().Spawn(Spec{
		Command: "sleep 30 & echo $! > a.pid; sleep 30 & echo $! > b.pid; wait",
		Dir:     dir,
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	a := readPid(t, filepath.Join(dir, "a.pid"))
	b := readPid(t, filepath.Join(dir, "b.pid"))

	report := h.Terminate()

	for _, pid := range []int{h.Pid(), a, b} {
		if !gone(pid) {
			t.Fatalf("pid %d survived termination (report %+v)", pid, report)
		}
	}
	if h.Alive() {
		t.Fatalf("root still reported alive")
	}
	if h.State() != StateDead {
		t.Fatalf("expected dead, got %s", h.State())
	}
	if len(report.Targets) < 3 {
		t.Fatalf("expected root and two children as targets, got %v", report.Targets)
	}
}

func TestTerminateEscalatesToKill(t *testing.T) {
	dir := t.TempDir()
	h, err := fastSupervisor().Spawn(Spec{
		Command: "trap '' INT TERM; sleep 30 & echo $! > child.pid; wait",
		Dir:     dir,
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	child := readPid(t, filepath.Join(dir, "child.pid"))

	start := time.Now()
	report := h.Terminate()
	elapsed := time.Since(start)

	if report.Escalation != EscalationKill {
		t.Fatalf("expected kill escalation, got %s", report.Escalation)
	}
	if len(report.Killed) == 0 {
		t.Fatalf("expected killed pids in report")
	}
	if !gone(child) || !gone(h.Pid()) {
		t.Fatalf("processes survived kill: root=%d child=%d", h.Pid(), child)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("termination exceeded bound: %s", elapsed)
	}
}

func TestTerminateFindsOrphanedGroupMembers(t *testing.T) {
	dir := t.TempDir()
	h, err := fastSupervisor().Spawn(Spec{
		Command: "(sleep 30 & echo $! > orphan.pid); exit 0",
		Dir:     dir,
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	orphan := readPid(t, filepath.Join(dir, "orphan.pid"))
	waitFor(t, 2*time.Second, "root exit", func() bool { return !h.Alive() })

	if gone(orphan) {
		t.Fatalf("orphan exited before terminate")
	}
	h.Terminate()
	if !gone(orphan) {
		t.Fatalf("orphan %d survived termination", orphan)
	}
}

func TestTerminateIsIdempotent(t *testing.T) {
	h, err := fastSupervisor().Spawn(Spec{Command: "sleep 30"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	first := h.Terminate()

	start := time.Now()
	second := h.Terminate()
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("second terminate was not a no-op")
	}
	if first.Escalation != second.Escalation || first.Duration != second.Duration {
		t.Fatalf("expected identical reports, got %+v and %+v", first, second)
	}
	select {
	case <-h.Dead():
	default:
		t.Fatalf("dead channel not closed")
	}
}

func TestTerminateConcurrentCallersShareRun(t *testing.T) {
	h, err := fastSupervisor().Spawn(Spec{Command: "sleep 30"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	var wg sync.WaitGroup
	reports := make([]Report, 4)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i] = h.Terminate()
		}(i)
	}
	wg.Wait()

	for _, r := range reports[1:] {
		if r.Duration != reports[0].Duration {
			t.Fatalf("expected callers to observe the same run: %+v", reports)
		}
	}
	if !gone(h.Pid()) {
		t.Fatalf("process survived concurrent terminate")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpawnStreamsOutputToWriters(t *testing.T) {
	var stdout, stderr syncBuffer
	h, err := fastSupervisor().Spawn(Spec{
		Command: "echo hello; echo oops >&2",
		Stdout:  &stdout,
		Stderr:  &stderr,
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	t.Cleanup(func() { h.Terminate() })

	waitFor(t, 2*time.Second, "stdout", func() bool { return strings.Contains(stdout.String(), "hello") })
	waitFor(t, 2*time.Second, "stderr", func() bool { return strings.Contains(stderr.String(), "oops") })
}

func TestAliveDoesNotWaitForDescendantsHoldingOutput(t *testing.T) {
	var stdout syncBuffer
	dir := t.TempDir()
	h, err := fastSupervisor().Spawn(Spec{
		Command: "(sleep 30 & echo $! > held.pid); exit 0",
		Dir:     dir,
		Stdout:  &stdout,
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	t.Cleanup(func() { h.Terminate() })
	readPid(t, filepath.Join(dir, "held.pid"))

	waitFor(t, 2*time.Second, "root exit", func() bool { return !h.Alive() })
}

type flushingBuffer struct {
	syncBuffer
	flushed atomic.Bool
}

func (b *flushingBuffer) Flush() error {
	b.flushed.Store(true)
	return nil
}

func TestSpawnFlushesWriterAtEOF(t *testing.T) {
	var stdout flushingBuffer
	h, err := fastSupervisor().Spawn(Spec{Command: "printf tail", Stdout: &stdout})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	t.Cleanup(func() { h.Terminate() })

	waitFor(t, 2*time.Second, "flush", stdout.flushed.Load)
	if got := stdout.String(); got != "tail" {
		t.Fatalf("unexpected output %q", got)
	}
}

// startForeignTree starts a process tree outside any Handle, standing in for
// whatever took over a pid after the supervised root was reaped.
func startForeignTree(t *testing.T) (root, child int) {
	t.Helper()
	dir := t.TempDir()
	cmd := shellCommand(defaultShell, "sleep 30 & echo $! > child.pid; wait", dir)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		_ = killGroup(cmd.Process.Pid)
		_ = cmd.Wait()
	})
	return cmd.Process.Pid, readPid(t, filepath.Join(dir, "child.pid"))
}

func TestDescendantsIgnoresRecycledRootPid(t *testing.T) {
	root, child := startForeignTree(t)
	past := time.Now().Add(-time.Minute)

	procs, recycled, err := descendants(root, past, func() bool { return false })
	if err != nil {
		t.Fatalf("descendants: %v", err)
	}
	if recycled || !containsPid(procs, child) {
		t.Fatalf("live root: expected child %d, got %v recycled=%v", child, pids(procs), recycled)
	}

	procs, recycled, err = descendants(root, past, func() bool { return true })
	if err != nil {
		t.Fatalf("descendants: %v", err)
	}
	if !recycled || len(procs) != 0 {
		t.Fatalf("reaped root: expected nothing, got %v recycled=%v", pids(procs), recycled)
	}
}

func TestDescendantsSkipsProcessesOlderThanRoot(t *testing.T) {
	root, child := startForeignTree(t)

	procs, _, err := descendants(root, time.Now().Add(time.Minute), func() bool { return false })
	if err != nil {
		t.Fatalf("descendants: %v", err)
	}
	if containsPid(procs, child) {
		t.Fatalf("child %d created before cutoff was returned", child)
	}
}

func containsPid(procs []*psprocess.Process, pid int) bool {
	for _, p := range procs {
		if int(p.Pid) == pid {
			return true
		}
	}
	return false
}

func pids(procs []*psprocess.Process) []int32 {
	out := make([]int32, 0, len(procs))
	for _, p := range procs {
		out = append(out, p.Pid)
	}
	return out
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateRunning:     "running",
		StateTerminating: "terminating",
		StateDead:        "dead",
		State(9):         "state(9)",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String()=%q, want %q", state, got, want)
		}
	}
}
