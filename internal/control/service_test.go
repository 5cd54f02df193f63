//go:build !windows

package control

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/Paintersrp/remotelaunch/internal/process"
	"github.com/Paintersrp/remotelaunch/internal/registry"
)

func newTestService(t *testing.T, specs ...registry.Spec) (*Service, *registry.Registry) {
	t.Helper()
	reg := registry.New(specs)
	t.Cleanup(reg.Close)
	sup := &process.Supervisor{
		InterruptGrace: 200 * time.Millisecond,
		TerminateGrace: 200 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return New(reg, sup, WithLogger(logger)), reg
}

func pidGone(pid int) bool {
	err := syscall.Kill(pid, 0)
	if errors.Is(err, syscall.ESRCH) {
		return true
	}
	data, readErr := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if readErr != nil {
		return err != nil
	}
	// Zombies are dead for our purposes.
	fields := strings.Fields(string(data[bytes.LastIndexByte(data, ')')+1:]))
	return len(fields) > 0 && fields[0] == "Z"
}

func TestStartStopLifecycle(t *testing.T) {
	dir := t.TempDir()
	svc, reg := newTestService(t, registry.Spec{Name: "sleeper", Command: "sleep 30", Workdir: dir})
	ctx := context.Background()

	if err := svc.StartEntry(ctx, 0, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	entry, _ := reg.Get(0)
	if !entry.Running() {
		t.Fatalf("expected entry to be running")
	}
	pid := entry.Handle().Pid()

	if err := svc.StopEntry(ctx, 0); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if entry.Running() {
		t.Fatalf("expected entry to be stopped")
	}
	if !pidGone(pid) {
		t.Fatalf("pid %d survived stop", pid)
	}

	if err := svc.StartEntry(ctx, 0, ""); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
}

func TestStartUnknownEntry(t *testing.T) {
	svc, _ := newTestService(t, registry.Spec{Name: "pingTest", Command: "sleep 30", Workdir: t.TempDir()})

	err := svc.StartEntry(context.Background(), 99, "")
	if !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	err = svc.StartEntry(context.Background(), 1, "")
	if !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID for id == len, got %v", err)
	}
}

func TestStopUnknownEntry(t *testing.T) {
	svc, _ := newTestService(t, registry.Spec{Name: "a", Command: "sleep 30"})
	if err := svc.StopEntry(context.Background(), 7); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestStartTwiceReportsAlreadyRunning(t *testing.T) {
	svc, reg := newTestService(t, registry.Spec{Name: "sleeper", Command: "sleep 30", Workdir: t.TempDir()})
	ctx := context.Background()

	if err := svc.StartEntry(ctx, 0, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	entry, _ := reg.Get(0)
	first := entry.Handle()

	for i := 0; i < 3; i++ {
		if err := svc.StartEntry(ctx, 0, ""); !errors.Is(err, ErrAlreadyRunning) {
			t.Fatalf("attempt %d: expected ErrAlreadyRunning, got %v", i, err)
		}
	}
	if entry.Handle() != first {
		t.Fatalf("handle replaced by rejected start")
	}
	if !first.Alive() || first.State() != process.StateRunning {
		t.Fatalf("original process disturbed by rejected start")
	}
}

func TestStopWhenNotRunning(t *testing.T) {
	svc, _ := newTestService(t, registry.Spec{Name: "idle", Command: "sleep 30"})
	if err := svc.StopEntry(context.Background(), 0); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestStartDiscardsInjectedArguments(t *testing.T) {
	svc, reg := newTestService(t, registry.Spec{Name: "pingTest", Command: "sleep 30", Workdir: t.TempDir()})

	if err := svc.StartEntry(context.Background(), 0, "; rm -rf /"); err != nil {
		t.Fatalf("start: %v", err)
	}
	entry, _ := reg.Get(0)
	h := entry.Handle()
	if got := h.Command(); got != "sleep 30 " {
		t.Fatalf("expected command %q, got %q", "sleep 30 ", got)
	}

	cmdline, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(h.Pid()), "cmdline"))
	if err != nil {
		t.Skipf("no /proc cmdline available: %v", err)
	}
	if bytes.Contains(cmdline, []byte("rm")) {
		t.Fatalf("injected segment present in argument list: %q", cmdline)
	}
}

func TestStartAppendsArguments(t *testing.T) {
	svc, reg := newTestService(t, registry.Spec{Name: "sleeper", Command: "sleep", Workdir: t.TempDir()})

	if err := svc.StartEntry(context.Background(), 0, "30"); err != nil {
		t.Fatalf("start: %v", err)
	}
	entry, _ := reg.Get(0)
	if got := entry.Handle().Command(); got != "sleep 30" {
		t.Fatalf("expected %q, got %q", "sleep 30", got)
	}
}

func TestStartSpawnFailureLeavesEntryIdle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "later")
	svc, reg := newTestService(t, registry.Spec{Name: "missing", Command: "sleep 30", Workdir: dir})

	err := svc.StartEntry(context.Background(), 0, "")
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
	entry, _ := reg.Get(0)
	if entry.Running() {
		t.Fatalf("failed start mutated entry")
	}

	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := svc.StartEntry(context.Background(), 0, ""); err != nil {
		t.Fatalf("retry after fixing workdir: %v", err)
	}
}

func TestStopWithCancelledCallerStillTerminates(t *testing.T) {
	svc, reg := newTestService(t, registry.Spec{
		Name:    "stubborn",
		Command: "trap '' INT TERM; sleep 30",
		Workdir: t.TempDir(),
	})
	if err := svc.StartEntry(context.Background(), 0, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	entry, _ := reg.Get(0)
	pid := entry.Handle().Pid()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := svc.StopEntry(ctx, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	svc.Wait()
	if entry.Running() {
		t.Fatalf("termination did not complete after caller left")
	}
	if !pidGone(pid) {
		t.Fatalf("pid %d survived", pid)
	}
}

func TestStartRejectsCancelledContext(t *testing.T) {
	svc, reg := newTestService(t, registry.Spec{Name: "a", Command: "sleep 30"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.StartEntry(ctx, 0, ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	entry, _ := reg.Get(0)
	if entry.Running() {
		t.Fatalf("cancelled start mutated entry")
	}
}

func TestStartAbandonedDuringStopDoesNotSpawn(t *testing.T) {
	svc, reg := newTestService(t, registry.Spec{
		Name:    "stubborn",
		Command: "trap '' INT TERM; sleep 30",
		Workdir: t.TempDir(),
	})
	if err := svc.StartEntry(context.Background(), 0, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	entry, _ := reg.Get(0)
	h := entry.Handle()

	stopErr := make(chan error, 1)
	go func() { stopErr <- svc.StopEntry(context.Background(), 0) }()
	deadline := time.Now().Add(2 * time.Second)
	for h.State() != process.StateTerminating {
		if time.Now().After(deadline) {
			t.Fatalf("stop never began terminating")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.StartEntry(ctx, 0, ""); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if err := <-stopErr; err != nil {
		t.Fatalf("stop: %v", err)
	}
	if entry.Running() {
		t.Fatalf("abandoned start spawned a process")
	}
}

func TestLogOutputFlushesPartialLine(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	svc, reg := newTestService(t, registry.Spec{Name: "printer", Command: "printf 'tail'", Workdir: t.TempDir()})
	svc.output = LogOutput(logger)

	if err := svc.StartEntry(context.Background(), 0, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	entry, _ := reg.Get(0)
	select {
	case <-entry.Handle().Exited():
	case <-time.After(2 * time.Second):
		t.Fatalf("printer did not exit")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(buf.String(), "msg=tail") {
		if time.Now().After(deadline) {
			t.Fatalf("unterminated last line never logged:\n%s", buf.String())
		}
		time.Sleep(10 * time.Millisecond)
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

func TestSanitizeArgs(t *testing.T) {
	tests := map[string]string{
		"":                 "",
		"-c 5":             "-c 5",
		"; rm -rf /":       "",
		"a && b":           "",
		"x & y":            "",
		"$(whoami) | tee":  "$(whoami) | tee",
		"--flag=value;":    "",
		"plain words here": "plain words here",
	}
	for in, want := range tests {
		if got := SanitizeArgs(in); got != want {
			t.Fatalf("SanitizeArgs(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestBuildCommandKeepsSeparator(t *testing.T) {
	if got := BuildCommand("ping -c 100 localhost", ""); got != "ping -c 100 localhost " {
		t.Fatalf("unexpected command %q", got)
	}
}

func TestLogOutputEmitsLines(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	stdout, stderr := LogOutput(logger)(3, registry.Spec{Name: "echoer"})

	stdout.Write([]byte("first\nsec"))
	stdout.Write([]byte("ond\n"))
	stderr.Write([]byte("bad thing\r\n"))
	stderr.Write([]byte("no newline"))
	if f, ok := stderr.(interface{ Flush() error }); !ok || f.Flush() != nil {
		t.Fatalf("stderr writer does not flush")
	}

	out := buf.String()
	for _, want := range []string{"msg=first", "msg=second", `msg="bad thing"`, `msg="no newline"`, "level=WARN", "name=echoer", "id=3", "source=stderr"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in log output:\n%s", want, out)
		}
	}
}
