package aiworker

import "expvar"

var (
	metricJobsTotal           = expvar.NewInt("decision_jobs_total")
	metricModelDecisionsTotal = expvar.NewInt("decision_model_total")
	metricFallbackTotal       = expvar.NewInt("decision_fallback_total")
	metricModelErrorsTotal    = expvar.NewInt("decision_model_errors_total")
	metricInvalidOutputTotal  = expvar.NewInt("decision_invalid_output_total")
	metricInvalidPayloadTotal = expvar.NewInt("decision_invalid_payload_total")
	metricPublishErrorsTotal  = expvar.NewInt("decision_publish_errors_total")
	metricExhaustedTotal      = expvar.NewInt("decision_exhausted_total")
	metricModelLatencyMs      = expvar.NewInt("decision_model_latency_ms")
)
