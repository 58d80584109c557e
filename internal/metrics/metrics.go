// Package metrics holds the Prometheus instrumentation for the store.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Load sources, used as the "source" label.
const (
	SourcePrimary   = "primary"
	SourceBootstrap = "bootstrap"
	SourceBackup    = "backup"
	SourceDefault   = "default"
)

// Metrics records load, save and backup activity.
type Metrics struct {
	loads          *prometheus.CounterVec
	loadErrors     prometheus.Counter
	saves          *prometheus.CounterVec
	saveDuration   prometheus.Histogram
	backupsCreated prometheus.Counter
	backupsPruned  prometheus.Counter
	backupErrors   prometheus.Counter
	logLines       prometheus.Counter
}

// New registers the collectors with reg and returns them.
// Panics if registration fails, like promauto.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		loads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rocky_store_loads_total",
			Help: "Documents returned by load, by where they came from",
		}, []string{"source"}),
		loadErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "rocky_store_load_errors_total",
			Help: "Loads that failed with an I/O error on the primary file",
		}),
		saves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rocky_store_saves_total",
			Help: "Saves by result",
		}, []string{"result"}),
		saveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rocky_store_save_duration_seconds",
			Help:    "Save duration in seconds, backup maintenance included",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		}),
		backupsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "rocky_backups_created_total",
			Help: "Backup snapshots written",
		}),
		backupsPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "rocky_backups_pruned_total",
			Help: "Backup snapshots removed by retention",
		}),
		backupErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "rocky_backup_errors_total",
			Help: "Backup maintenance failures (absorbed, never returned to callers)",
		}),
		logLines: factory.NewCounter(prometheus.CounterOpts{
			Name: "rocky_log_lines_total",
			Help: "Lines appended to the debug log",
		}),
	}
}

// ObserveLoad counts a successful load from source.
func (m *Metrics) ObserveLoad(source string) {
	if m == nil {
		return
	}

	m.loads.WithLabelValues(source).Inc()
}

// LoadFailed counts a load that returned an error.
func (m *Metrics) LoadFailed() {
	if m == nil {
		return
	}

	m.loadErrors.Inc()
}

// ObserveSave counts a save and its duration.
func (m *Metrics) ObserveSave(d time.Duration, err error) {
	if m == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}

	m.saves.WithLabelValues(result).Inc()
	m.saveDuration.Observe(d.Seconds())
}

// BackupCreated counts a new snapshot.
func (m *Metrics) BackupCreated() {
	if m == nil {
		return
	}

	m.backupsCreated.Inc()
}

// BackupsPruned counts snapshots removed by retention.
func (m *Metrics) BackupsPruned(n int) {
	if m == nil || n <= 0 {
		return
	}

	m.backupsPruned.Add(float64(n))
}

// BackupFailed counts an absorbed backup maintenance failure.
func (m *Metrics) BackupFailed() {
	if m == nil {
		return
	}

	m.backupErrors.Inc()
}

// LogLineAppended counts a debug log line.
func (m *Metrics) LogLineAppended() {
	if m == nil {
		return
	}

	m.logLines.Inc()
}
