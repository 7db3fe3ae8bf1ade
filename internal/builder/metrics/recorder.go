package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/narvanalabs/mydra/internal/models"
)

const namespace = "mydra"

// OutcomeSucceeded labels units that produced an artifact. Failed units are
// labelled with their failure reason.
const OutcomeSucceeded = "SUCCEEDED"

// Recorder records build pass metrics. A nil *Recorder discards everything.
type Recorder struct {
	registry       *prom.Registry
	unitOutcomes   *prom.CounterVec
	cacheHits      prom.Counter
	buildDuration  prom.Histogram
	workingSetSize prom.Gauge
}

// NewRecorder creates a Recorder and registers its metrics on reg. A nil reg
// gets a fresh registry.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		registry: reg,
		unitOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "unit_outcomes_total",
			Help:      "Build unit outcomes by final status",
		}, []string{"outcome"}),
		cacheHits: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Units reported failed from the failure cache without a build",
		}),
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Wall-clock duration of build passes",
			Buckets:   prom.ExponentialBuckets(1, 4, 10),
		}),
		workingSetSize: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "working_set_units",
			Help:      "Units in the working set of the last build pass",
		}),
	}
	reg.MustRegister(r.unitOutcomes, r.cacheHits, r.buildDuration, r.workingSetSize)
	return r
}

// RecordResult counts every outcome of result.
func (r *Recorder) RecordResult(result *models.Result) error {
	if r == nil {
		return nil
	}
	if result == nil {
		return ErrNilResult
	}
	if n := len(result.Successes); n > 0 {
		r.unitOutcomes.WithLabelValues(OutcomeSucceeded).Add(float64(n))
	}
	for reason, n := range result.CountByReason() {
		r.unitOutcomes.WithLabelValues(reason.String()).Add(float64(n))
	}
	return nil
}

// IncCacheHits adds n units answered from the failure cache.
func (r *Recorder) IncCacheHits(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.cacheHits.Add(float64(n))
}

// ObserveBuildDuration records the duration of one build pass.
func (r *Recorder) ObserveBuildDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.buildDuration.Observe(d.Seconds())
}

// SetWorkingSetSize records the size of the expanded working set.
func (r *Recorder) SetWorkingSetSize(n int) {
	if r == nil {
		return
	}
	r.workingSetSize.Set(float64(n))
}

// Gatherer returns the registry the metrics are registered on.
func (r *Recorder) Gatherer() prom.Gatherer {
	if r == nil {
		return prom.NewRegistry()
	}
	return r.registry
}

// WriteTextfile writes the metrics in the text exposition format to path,
// for collection by the node exporter's textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return ErrEmptyTextfilePath
	}
	return prom.WriteToTextfile(path, r.Gatherer())
}
