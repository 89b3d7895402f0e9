package bus

import "expvar"

var (
	metricPublishedTotal  = expvar.NewInt("bus_published_total")
	metricReceivedTotal   = expvar.NewInt("bus_received_total")
	metricDroppedTotal    = expvar.NewInt("bus_dropped_total")
	metricReconnectsTotal = expvar.NewInt("bus_listen_reconnects_total")
)
