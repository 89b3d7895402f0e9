package httptransport

import "expvar"

var (
	metricDecisionSubmitTotal   = expvar.NewInt("http_decision_submit_total")
	metricDecisionRejectedTotal = expvar.NewInt("http_decision_rejected_total")
	metricDecisionEnqueueErrors = expvar.NewInt("http_decision_enqueue_errors_total")
	metricJobStatusTotal        = expvar.NewInt("http_job_status_total")
	metricHealthFailuresTotal   = expvar.NewInt("http_health_failures_total")
)
