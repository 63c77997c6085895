// Package metrics counts events into Prometheus collectors.
//
// debstore runs as a short-lived command, so the registry is not served over
// HTTP: it is written in text exposition format for the node exporter's
// textfile collector.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/etnz/debstore/events"
)

const namespace = "debstore"

// Metrics holds the collectors fed by Observe.
type Metrics struct {
	registry *prometheus.Registry

	records    *prometheus.CounterVec
	changesets *prometheus.CounterVec
	members    *prometheus.CounterVec
	retries    *prometheus.CounterVec
	noChange   *prometheus.CounterVec
	exported   *prometheus.CounterVec
	fetchRetry prometheus.Counter
	files      *prometheus.CounterVec
}

// New returns Metrics registered in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stanzas_total",
			Help:      "Imported stanzas by outcome.",
		}, []string{"result"}),
		changesets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changesets_total",
			Help:      "Changesets appended per suite.",
		}, []string{"suite"}),
		members: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "membership_changes_total",
			Help:      "Records added to or removed from suites.",
		}, []string{"suite", "op"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_retries_total",
			Help:      "Reconciliations started over after a concurrent append.",
		}, []string{"suite"}),
		noChange: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_noop_total",
			Help:      "Reconciliations that found nothing to change.",
		}, []string{"suite"}),
		exported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exported_records_total",
			Help:      "Records written out per suite.",
		}, []string{"suite"}),
		fetchRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Source downloads retried.",
		}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_files_total",
			Help:      "Published files by outcome.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.records, m.changesets, m.members, m.retries,
		m.noChange, m.exported, m.fetchRetry, m.files)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe is an events.Listener updating the counters.
func (m *Metrics) Observe(e fmt.Stringer) {
	switch e := e.(type) {
	case events.EventRecordCreated:
		m.records.WithLabelValues("created").Inc()
	case events.EventRecordFound:
		m.records.WithLabelValues("found").Inc()
	case events.EventStanzaSkipped:
		m.records.WithLabelValues("skipped").Inc()
	case events.EventChangesetAppended:
		m.changesets.WithLabelValues(e.Suite).Inc()
		m.members.WithLabelValues(e.Suite, "add").Add(float64(e.Added))
		m.members.WithLabelValues(e.Suite, "remove").Add(float64(e.Removed))
	case events.EventReconcileRetry:
		m.retries.WithLabelValues(e.Suite).Inc()
	case events.EventNoChange:
		m.noChange.WithLabelValues(e.Suite).Inc()
	case events.EventSuiteExported:
		m.exported.WithLabelValues(e.Suite).Add(float64(e.Records))
	case events.EventFetchRetry:
		m.fetchRetry.Inc()
	case events.EventFileOperation:
		switch {
		case e.Created:
			m.files.WithLabelValues("created").Inc()
		case e.Updated:
			m.files.WithLabelValues("updated").Inc()
		default:
			m.files.WithLabelValues("unchanged").Inc()
		}
	}
}

// WriteTextfile writes every metric to path, atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
