package status

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Paintersrp/remotelaunch/internal/metrics"
	"github.com/Paintersrp/remotelaunch/internal/registry"
)

const defaultInterval = time.Second

// Publisher receives every snapshot the reporter produces.
type Publisher interface {
	Publish(Snapshot) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Snapshot) error

// Publish calls f.
func (f PublisherFunc) Publish(s Snapshot) error { return f(s) }

// Reporter polls the registry on a fixed cadence, reaps processes that exited
// on their own and publishes ordered snapshots.
type Reporter struct {
	registry   *registry.Registry
	interval   time.Duration
	publishers []Publisher
	logger     *slog.Logger

	mu     sync.Mutex
	seq    uint64
	latest *Snapshot

	reaps sync.WaitGroup
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithInterval sets the tick period. Non-positive values keep the default of
// one second.
func WithInterval(d time.Duration) Option {
	return func(r *Reporter) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithPublisher adds a snapshot destination.
func WithPublisher(p Publisher) Option {
	return func(r *Reporter) {
		if p != nil {
			r.publishers = append(r.publishers, p)
		}
	}
}

// WithLogger sets the reporter's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reporter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReporter constructs a Reporter over reg.
func NewReporter(reg *registry.Registry, opts ...Option) *Reporter {
	r := &Reporter{
		registry: reg,
		interval: defaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "status")
	return r
}

// Interval returns the tick period.
func (r *Reporter) Interval() time.Duration {
	return r.interval
}

// Run ticks until ctx is done, producing one snapshot immediately.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Tick()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Tick()
		}
	}
}

// Tick reaps exited processes, builds a snapshot and publishes it. Entries
// busy with a start or stop are reported without waiting for them.
func (r *Reporter) Tick() Snapshot {
	entries := r.registry.List()
	statuses := make([]EntryStatus, 0, len(entries))
	for _, entry := range entries {
		r.reap(entry)
		statuses = append(statuses, entryStatus(entry.TryInfo()))
	}

	r.mu.Lock()
	r.seq++
	snap := Snapshot{
		Sequence:    r.seq,
		GeneratedAt: time.Now().UTC(),
		Entries:     statuses,
	}
	r.latest = &snap
	r.mu.Unlock()

	metrics.IncStatusTicks()
	for _, p := range r.publishers {
		if err := p.Publish(snap); err != nil {
			r.logger.Warn("publish snapshot", "sequence", snap.Sequence, "err", err)
		}
	}
	return snap
}

// reap detaches a handle whose root has exited. Descendants it left behind are
// terminated on a separate goroutine so the tick never blocks on them.
func (r *Reporter) reap(entry *registry.Entry) {
	h, ok := entry.Reap()
	if !ok {
		return
	}
	idLabel := metrics.EntryLabel(entry.ID())
	r.logger.Info("process exited",
		"id", entry.ID(),
		"name", entry.Name(),
		"pid", h.Pid(),
		"err", h.ExitErr())
	metrics.RecordExit(idLabel, entry.Name())
	metrics.SetEntryRunning(idLabel, entry.Name(), false)

	r.reaps.Add(1)
	go func() {
		defer r.reaps.Done()
		report := h.Terminate()
		if len(report.Interrupted) > 0 {
			r.logger.Info("cleaned up leftover descendants",
				"id", entry.ID(),
				"escalation", report.Escalation,
				"targets", len(report.Targets))
		}
	}()
}

// Latest returns the most recent snapshot.
func (r *Reporter) Latest() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return Snapshot{}, false
	}
	return *r.latest, true
}

// Wait blocks until background cleanup of reaped handles has finished.
func (r *Reporter) Wait() {
	r.reaps.Wait()
}
