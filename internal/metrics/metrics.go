// Package metrics records the outcome of a run as Prometheus gauges.
//
// A run is a short-lived process, so nothing is served over HTTP: the
// registry is written to a node_exporter textfile after each run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ppiankov/grantwatch/internal/pipeline"
)

const namespace = "grantwatch"

// Recorder holds the gauges of one run on a private registry.
type Recorder struct {
	reg *prometheus.Registry

	sourceEntries *prometheus.GaugeVec
	sourceUp      *prometheus.GaugeVec
	payloads      *prometheus.GaugeVec
	seenLinks     prometheus.Gauge
	outcome       *prometheus.GaugeVec
	lastRun       prometheus.Gauge
	duration      prometheus.Gauge
}

// New registers every gauge on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		sourceEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_entries",
			Help:      "Entries extracted from a source in the last run, by stage (found, new)",
		}, []string{"source", "stage"}),
		sourceUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_up",
			Help:      "1 if the source was fetched and extracted in the last run",
		}, []string{"source"}),
		payloads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "payloads",
			Help:      "Payloads of the last run, by result (delivered, failed)",
		}, []string{"result"}),
		seenLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "seen_links",
			Help:      "Links in the seen-set after the last run",
		}),
		outcome: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_outcome",
			Help:      "1 for the outcome of the last run, 0 for the others",
		}, []string{"outcome"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run",
		}),
	}
	r.reg.MustRegister(r.sourceEntries, r.sourceUp, r.payloads, r.seenLinks, r.outcome, r.lastRun, r.duration)
	return r
}

// Observe copies a finished run into the gauges.
func (r *Recorder) Observe(rep *pipeline.Report, started, finished time.Time) {
	for _, s := range rep.Sources {
		r.sourceEntries.WithLabelValues(s.Name, "found").Set(float64(s.Found))
		r.sourceEntries.WithLabelValues(s.Name, "new").Set(float64(s.New))
		up := 1.0
		if s.Err != nil {
			up = 0
		}
		r.sourceUp.WithLabelValues(s.Name).Set(up)
	}

	r.payloads.WithLabelValues("delivered").Set(float64(rep.Notify.Delivered()))
	r.payloads.WithLabelValues("failed").Set(float64(rep.Notify.Failed()))
	r.seenLinks.Set(float64(rep.Seen.Len()))

	for _, o := range []pipeline.Outcome{pipeline.OutcomeNoNews, pipeline.OutcomeNotified, pipeline.OutcomeFailed} {
		v := 0.0
		if rep.Outcome == o {
			v = 1
		}
		r.outcome.WithLabelValues(string(o)).Set(v)
	}

	r.lastRun.Set(float64(finished.Unix()))
	r.duration.Set(finished.Sub(started).Seconds())
}

// Gatherer exposes the registry, mainly for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer { return r.reg }

// WriteTextfile atomically replaces path with the current gauges.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
