package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/Paintersrp/remotelaunch/internal/metrics"
	"github.com/Paintersrp/remotelaunch/internal/process"
	"github.com/Paintersrp/remotelaunch/internal/registry"
)

// Spawner launches processes. *process.Supervisor satisfies it.
type Spawner interface {
	Spawn(process.Spec) (*process.Handle, error)
}

// OutputFunc chooses where an entry's stdout and stderr go. Nil writers
// discard the stream.
type OutputFunc func(id uint, spec registry.Spec) (stdout, stderr io.Writer)

// Service validates start and stop requests against the registry and drives
// the supervisor.
type Service struct {
	registry *registry.Registry
	spawner  Spawner
	logger   *slog.Logger
	output   OutputFunc

	stops sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for request outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOutput routes the output of started processes.
func WithOutput(fn OutputFunc) Option {
	return func(s *Service) {
		s.output = fn
	}
}

// New constructs a Service over reg using spawner for process creation.
func New(reg *registry.Registry, spawner Spawner, opts ...Option) *Service {
	s := &Service{
		registry: reg,
		spawner:  spawner,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "control")
	return s
}

// SanitizeArgs drops the whole argument string when it contains '&' or ';'.
// This is not shell escaping: every other metacharacter passes through.
func SanitizeArgs(args string) string {
	if strings.ContainsAny(args, "&;") {
		return ""
	}
	return args
}

// BuildCommand joins an entry command and its (sanitized) arguments with a
// single space. The separator is kept even when args is empty.
func BuildCommand(command, args string) string {
	return command + " " + args
}

// StartEntry launches the entry's command with extraArgs appended. It fails
// with ErrInvalidID, ErrAlreadyRunning or an error wrapping ErrSpawn; on
// failure the entry is left exactly as it was. A ctx that ends while the
// entry is busy with a stop makes StartEntry return ctx.Err() without
// spawning.
func (s *Service) StartEntry(ctx context.Context, id uint, extraArgs string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry, err := s.registry.Get(id)
	if err != nil {
		s.logger.Warn("start rejected: unknown entry", "id", id)
		metrics.RecordStart("", "", metrics.ResultInvalidID)
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	logger := s.logger.With("id", id, "name", entry.Name())
	idLabel := metrics.EntryLabel(id)

	args := SanitizeArgs(extraArgs)
	if args != extraArgs {
		logger.Warn("discarded arguments containing '&' or ';'", "args", extraArgs)
	}

	h, err := entry.Attach(func(spec registry.Spec) (*process.Handle, error) {
		// The slot may have been held by a stop for seconds.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var stdout, stderr io.Writer
		if s.output != nil {
			stdout, stderr = s.output(id, spec)
		}
		return s.spawner.Spawn(process.Spec{
			Command: BuildCommand(spec.Command, args),
			Dir:     spec.Workdir,
			Stdout:  stdout,
			Stderr:  stderr,
		})
	})
	switch {
	case errors.Is(err, registry.ErrOccupied):
		logger.Warn("start rejected: already running")
		metrics.RecordStart(idLabel, entry.Name(), metrics.ResultAlreadyRunning)
		return fmt.Errorf("%w: %d", ErrAlreadyRunning, id)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		logger.Warn("start abandoned: caller gone", "err", err)
		return err
	case err != nil:
		logger.Error("start failed", "err", err)
		metrics.RecordStart(idLabel, entry.Name(), metrics.ResultSpawnFailed)
		return fmt.Errorf("start entry %d: %w", id, err)
	}

	logger.Info("started", "pid", h.Pid(), "command", h.Command())
	metrics.RecordStart(idLabel, entry.Name(), metrics.ResultOK)
	metrics.SetEntryRunning(idLabel, entry.Name(), true)
	return nil
}

// StopEntry terminates the entry's process tree and detaches the handle. It
// blocks until termination completes or ctx ends; in the latter case the
// termination still runs to completion in the background.
func (s *Service) StopEntry(ctx context.Context, id uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry, err := s.registry.Get(id)
	if err != nil {
		s.logger.Warn("stop rejected: unknown entry", "id", id)
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	logger := s.logger.With("id", id, "name", entry.Name())
	idLabel := metrics.EntryLabel(id)

	done := make(chan bool, 1)
	s.stops.Add(1)
	go func() {
		defer s.stops.Done()
		report, released := entry.Release()
		if released {
			logger.Info("stopped",
				"escalation", report.Escalation,
				"targets", len(report.Targets),
				"duration", report.Duration)
			metrics.ObserveTermination(string(report.Escalation), report.Duration)
			metrics.RecordStop(idLabel, entry.Name())
			metrics.SetEntryRunning(idLabel, entry.Name(), false)
		}
		done <- released
	}()

	select {
	case released := <-done:
		if !released {
			logger.Warn("stop rejected: not running")
			return fmt.Errorf("%w: %d", ErrNotRunning, id)
		}
		return nil
	case <-ctx.Done():
		logger.Warn("stop caller gone; termination continues", "err", ctx.Err())
		return ctx.Err()
	}
}

// Wait blocks until every in-flight stop has finished.
func (s *Service) Wait() {
	s.stops.Wait()
}
