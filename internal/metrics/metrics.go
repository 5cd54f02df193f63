package metrics

import (
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Start outcomes recorded by RecordStart.
const (
	ResultOK             = "ok"
	ResultInvalidID      = "invalid_id"
	ResultAlreadyRunning = "already_running"
	ResultSpawnFailed    = "spawn_failed"
)

var (
	registry = prometheus.NewRegistry()

	entryRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "remotelaunch",
		Name:      "entry_running",
		Help:      "Whether an entry currently owns a process (1=running, 0=not running).",
	}, []string{"entry", "name"})

	entryStarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remotelaunch",
		Name:      "entry_starts_total",
		Help:      "Start requests per entry, partitioned by outcome.",
	}, []string{"entry", "name", "result"})

	entryStops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remotelaunch",
		Name:      "entry_stops_total",
		Help:      "Successful stop requests per entry.",
	}, []string{"entry", "name"})

	entryExits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remotelaunch",
		Name:      "entry_exits_total",
		Help:      "Processes that exited on their own and were reaped by the status loop.",
	}, []string{"entry", "name"})

	terminationEscalations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remotelaunch",
		Name:      "termination_escalations_total",
		Help:      "Terminations by the strongest signal they required.",
	}, []string{"signal"})

	terminationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "remotelaunch",
		Name:      "termination_seconds",
		Help:      "Duration of the escalating termination protocol in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
	})

	statusTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "remotelaunch",
		Name:      "status_ticks_total",
		Help:      "Status snapshots produced.",
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "remotelaunch",
		Name:      "build_info",
		Help:      "Build metadata for the running remotelaunch binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(
		entryRunning,
		entryStarts,
		entryStops,
		entryExits,
		terminationEscalations,
		terminationSeconds,
		statusTicks,
		buildInfo,
	)
}

// Registry returns the Prometheus registry containing all remotelaunch metrics.
func Registry() *prometheus.Registry {
	return registry
}

// EntryLabel formats an entry id for use as a label value.
func EntryLabel(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// SetEntryRunning records whether the entry owns a process.
func SetEntryRunning(entry, name string, running bool) {
	if entry == "" {
		return
	}
	value := 0.0
	if running {
		value = 1.0
	}
	entryRunning.WithLabelValues(entry, name).Set(value)
}

// RecordStart counts a start request. Requests for unknown ids are recorded
// under the "unknown" entry.
func RecordStart(entry, name, result string) {
	if entry == "" {
		entry = "unknown"
	}
	entryStarts.WithLabelValues(entry, name, result).Inc()
}

// RecordStop counts a successful stop.
func RecordStop(entry, name string) {
	if entry == "" {
		return
	}
	entryStops.WithLabelValues(entry, name).Inc()
}

// RecordExit counts a process found dead by the status loop.
func RecordExit(entry, name string) {
	if entry == "" {
		return
	}
	entryExits.WithLabelValues(entry, name).Inc()
}

// ObserveTermination records how far a termination escalated and how long it
// took.
func ObserveTermination(signal string, d time.Duration) {
	label := signal
	if label == "" {
		label = "none"
	}
	terminationEscalations.WithLabelValues(label).Inc()
	terminationSeconds.Observe(d.Seconds())
}

// IncStatusTicks counts one produced snapshot.
func IncStatusTicks() {
	statusTicks.Inc()
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
