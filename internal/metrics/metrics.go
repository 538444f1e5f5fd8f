// Package metrics exposes run counters for the node_exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pprload"

// Recorder holds the metrics of one process on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	acquired     prometheus.Counter
	malformed    prometheus.Counter
	collisions   prometheus.Counter
	inserted     prometheus.Counter
	deleted      prometheus.Counter
	snapshotSize prometheus.Gauge
	duration     *prometheus.GaugeVec
	lastSuccess  prometheus.Gauge
	runs         *prometheus.CounterVec
}

// New creates a Recorder with all metrics registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		acquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_acquired_total",
			Help:      "Raw records read from the register archive.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_malformed_total",
			Help:      "Raw records skipped because they could not be normalized.",
		}),
		collisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_collisions_total",
			Help:      "Snapshot records sharing a natural key with an earlier record.",
		}),
		inserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_inserted_total",
			Help:      "Records inserted into the clean table.",
		}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_deleted_total",
			Help:      "Records deleted from the clean table.",
		}),
		snapshotSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_records",
			Help:      "Keyed records in the latest snapshot.",
		}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage in the latest run.",
		}, []string{"stage"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"status"}),
	}

	r.registry.MustRegister(
		r.acquired, r.malformed, r.collisions, r.inserted, r.deleted,
		r.snapshotSize, r.duration, r.lastSuccess, r.runs,
	)
	return r
}

// Registry returns the registry the metrics live on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Acquired counts raw records read.
func (r *Recorder) Acquired(n int) { r.acquired.Add(float64(n)) }

// Malformed counts records skipped by normalization.
func (r *Recorder) Malformed(n int) { r.malformed.Add(float64(n)) }

// Collisions counts records that shared a natural key.
func (r *Recorder) Collisions(n int) { r.collisions.Add(float64(n)) }

// Inserted counts rows added to the clean table.
func (r *Recorder) Inserted(n int64) { r.inserted.Add(float64(n)) }

// Deleted counts rows removed from the clean table.
func (r *Recorder) Deleted(n int64) { r.deleted.Add(float64(n)) }

// SnapshotSize sets the size of the latest snapshot.
func (r *Recorder) SnapshotSize(n int) { r.snapshotSize.Set(float64(n)) }

// StageDuration records how long stage took.
func (r *Recorder) StageDuration(stage string, d time.Duration) {
	r.duration.WithLabelValues(stage).Set(d.Seconds())
}

// RunFinished counts a run outcome; success also stamps the last success time.
func (r *Recorder) RunFinished(at time.Time, err error) {
	if err != nil {
		r.runs.WithLabelValues("failed").Inc()
		return
	}
	r.runs.WithLabelValues("succeeded").Inc()
	r.lastSuccess.Set(float64(at.Unix()))
}

// WriteTextfile writes all metrics to path in the text exposition format.
// The file is replaced atomically so the collector never reads a partial file.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
