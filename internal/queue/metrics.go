package queue

import "expvar"

var (
	metricSubmittedTotal   = expvar.NewInt("queue_submitted_total")
	metricClaimedTotal     = expvar.NewInt("queue_claimed_total")
	metricCompletedTotal   = expvar.NewInt("queue_completed_total")
	metricRetryTotal       = expvar.NewInt("queue_retry_total")
	metricFailedTotal      = expvar.NewInt("queue_failed_total")
	metricStalledTotal     = expvar.NewInt("queue_stalled_total")
	metricStoreErrorsTotal = expvar.NewInt("queue_store_errors_total")
	metricLeaseLostTotal   = expvar.NewInt("queue_lease_lost_total")
	metricInFlight         = expvar.NewInt("queue_in_flight")
)
