package estimator

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "eventbench_run_"

var (
	completionDesc = prometheus.NewDesc(
		metricPrefix+"completion_ratio",
		"Estimated completion of the run",
		[]string{"run"},
		nil,
	)
	resultsDesc = prometheus.NewDesc(
		metricPrefix+"results",
		"Number of results recorded for the run",
		[]string{"run", "outcome"},
		nil,
	)
)

// Collector exposes the estimates of a run as prometheus gauges.
type Collector struct {
	runId     string
	estimator CompletionEstimator
}

func NewCollector(runId string, estimator CompletionEstimator) *Collector {
	return &Collector{runId: runId, estimator: estimator}
}

func (c *Collector) Describe(desc chan<- *prometheus.Desc) {
	desc <- completionDesc
	desc <- resultsDesc
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	metrics <- prometheus.MustNewConstMetric(completionDesc, prometheus.GaugeValue, c.estimator.Completion(), c.runId)
	metrics <- prometheus.MustNewConstMetric(resultsDesc, prometheus.GaugeValue, float64(c.estimator.ResultsSuccess()), c.runId, "success")
	metrics <- prometheus.MustNewConstMetric(resultsDesc, prometheus.GaugeValue, float64(c.estimator.ResultsFail()), c.runId, "failure")
}
