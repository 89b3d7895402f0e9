package chat

import "expvar"

var (
	metricSessionsOpen     = expvar.NewInt("chat_sessions_open")
	metricSessionsSeeded   = expvar.NewInt("chat_sessions_seeded_total")
	metricSessionsExpired  = expvar.NewInt("chat_sessions_expired_total")
	metricSessionsRejected = expvar.NewInt("chat_sessions_rejected_total")
	metricMessagesTotal    = expvar.NewInt("chat_messages_total")
	metricRepliesTotal     = expvar.NewInt("chat_replies_total")
	metricFallbackTotal    = expvar.NewInt("chat_fallback_total")
	metricPublishErrors    = expvar.NewInt("chat_publish_errors_total")
	metricEnqueueErrors    = expvar.NewInt("chat_enqueue_errors_total")
	metricExhaustedTotal   = expvar.NewInt("chat_exhausted_total")
)
