//go:build !windows

package process

import (
	"errors"
	"os"
	"syscall"
	"time"

	psprocess "github.com/shirou/gopsutil/v4/process"
)

// Escalation names the strongest signal a termination had to use.
type Escalation string

const (
	EscalationNone      Escalation = "none"
	EscalationInterrupt Escalation = "interrupt"
	EscalationTerminate Escalation = "terminate"
	EscalationKill      Escalation = "kill"
)

// Report summarises one run of the termination protocol.
type Report struct {
	Targets     []int
	Interrupted []int
	Terminated  []int
	Killed      []int
	Escalation  Escalation
	Duration    time.Duration
}

type target struct {
	pid  int
	proc *psprocess.Process
}

// Terminate stops the root process and all of its descendants with SIGINT,
// then SIGTERM, then SIGKILL, waiting between stages for voluntary exit. It
// always returns within the configured grace periods and leaves the handle
// Dead. Calls on a Dead handle return the earlier report; concurrent calls wait
// for the run already in progress.
func (h *Handle) Terminate() Report {
	h.mu.Lock()
	switch h.state {
	case StateDead:
		r := h.report
		h.mu.Unlock()
		return r
	case StateTerminating:
		h.mu.Unlock()
		<-h.dead
		h.mu.Lock()
		r := h.report
		h.mu.Unlock()
		return r
	}
	h.state = StateTerminating
	h.mu.Unlock()

	report := h.escalate()

	h.mu.Lock()
	h.state = StateDead
	h.report = report
	close(h.dead)
	h.mu.Unlock()
	return report
}

// Dead is closed once Terminate has completed.
func (h *Handle) Dead() <-chan struct{} {
	return h.dead
}

func (h *Handle) escalate() Report {
	start := time.Now()
	report := Report{Escalation: EscalationNone}

	targets := []target{{pid: h.pid}}
	procs, recycled, err := descendants(h.pid, h.startedAt, func() bool { return !h.Alive() })
	if err != nil {
		h.logger.Warn("enumerate descendants", "err", err)
	}
	if recycled {
		h.logger.Debug("root pid reused after exit; skipping its tree")
	}
	for _, p := range procs {
		targets = append(targets, target{pid: int(p.Pid), proc: p})
	}
	for _, t := range targets {
		report.Targets = append(report.Targets, t.pid)
	}

	pending := h.alive(targets)
	if len(pending) > 0 {
		report.Escalation = EscalationInterrupt
		report.Interrupted = h.signal(pending, syscall.SIGINT)
		pending = h.waitExit(pending, h.timing.interrupt)
	}
	if len(pending) > 0 {
		report.Escalation = EscalationTerminate
		report.Terminated = h.signal(pending, syscall.SIGTERM)
		pending = h.waitExit(pending, h.timing.terminate)
	}
	if len(pending) > 0 {
		report.Escalation = EscalationKill
		report.Killed = h.signal(pending, syscall.SIGKILL)
		if !recycled {
			if err := killGroup(h.pid); err != nil {
				h.logger.Debug("kill process group", "err", err)
			}
		}
		h.waitExit(pending, killSettle)
	}

	report.Duration = time.Since(start)
	h.logger.Debug("terminated",
		"targets", len(report.Targets),
		"escalation", report.Escalation,
		"duration", report.Duration)
	return report
}

func (h *Handle) alive(targets []target) []target {
	out := targets[:0:0]
	for _, t := range targets {
		if h.targetAlive(t) {
			out = append(out, t)
		}
	}
	return out
}

func (h *Handle) targetAlive(t target) bool {
	if t.proc == nil {
		return h.Alive()
	}
	return !exited(t.proc)
}

// signal delivers sig to every target and returns the pids it reached.
// Targets that vanished in the meantime are skipped.
func (h *Handle) signal(targets []target, sig syscall.Signal) []int {
	var delivered []int
	for _, t := range targets {
		var err error
		if t.proc == nil {
			err = h.cmd.Process.Signal(sig)
			if errors.Is(err, os.ErrProcessDone) {
				continue
			}
		} else {
			err = t.proc.SendSignal(sig)
		}
		if err != nil {
			if !errors.Is(err, syscall.ESRCH) {
				h.logger.Debug("signal", "target", t.pid, "signal", sig.String(), "err", err)
			}
			continue
		}
		delivered = append(delivered, t.pid)
	}
	return delivered
}

// waitExit polls targets until all have exited or d elapses, returning the
// ones still alive.
func (h *Handle) waitExit(targets []target, d time.Duration) []target {
	pending := h.alive(targets)
	if len(pending) == 0 {
		return nil
	}
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	ticker := time.NewTicker(h.timing.poll)
	defer ticker.Stop()
	for {
		select {
		case <-deadline.C:
			return h.alive(pending)
		case <-ticker.C:
			pending = h.alive(pending)
			if len(pending) == 0 {
				return nil
			}
		}
	}
}
