package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts run outcomes across a job. A nil *Metrics records
// nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	Runs        *prometheus.CounterVec
	Rows        prometheus.Counter
	Records     prometheus.Counter
	SkippedRows prometheus.Counter
	FieldErrors *prometheus.CounterVec
}

// New registers the counters on a fresh registry
func New() *Metrics {
	return NewWith(prometheus.NewRegistry())
}

// NewWith registers the counters on reg
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queryload",
			Name:      "runs_total",
			Help:      "Query runs by outcome.",
		}, []string{"status"}),
		Rows: f.NewCounter(prometheus.CounterOpts{
			Namespace: "queryload",
			Name:      "rows_read_total",
			Help:      "Rows read from query cursors.",
		}),
		Records: f.NewCounter(prometheus.CounterOpts{
			Namespace: "queryload",
			Name:      "records_written_total",
			Help:      "Records appended to output pages.",
		}),
		SkippedRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: "queryload",
			Name:      "rows_skipped_total",
			Help:      "Rows dropped because a field failed conversion.",
		}),
		FieldErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queryload",
			Name:      "field_errors_total",
			Help:      "Fields that failed conversion, by column.",
		}, []string{"column"}),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// ObserveRun records the counters of one finished run
func (m *Metrics) ObserveRun(failed bool, rows, records, skipped int64, fieldErrors map[string]int64) {
	if m == nil {
		return
	}
	status := "success"
	if failed {
		status = "failure"
	}
	m.Runs.WithLabelValues(status).Inc()
	m.Rows.Add(float64(rows))
	m.Records.Add(float64(records))
	m.SkippedRows.Add(float64(skipped))
	for column, n := range fieldErrors {
		m.FieldErrors.WithLabelValues(column).Add(float64(n))
	}
}

// WriteTextfile writes the current values in the text exposition format,
// for collection by node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if m.gatherer == nil {
		return fmt.Errorf("metrics registerer is not a gatherer")
	}
	if err := prometheus.WriteToTextfile(path, m.gatherer); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
