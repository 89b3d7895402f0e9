package delivery

import "expvar"

var (
	metricConnections     = expvar.NewInt("delivery_connections")
	metricBroadcastTotal  = expvar.NewInt("delivery_broadcast_total")
	metricUnicastTotal    = expvar.NewInt("delivery_unicast_total")
	metricUnicastMissed   = expvar.NewInt("delivery_unicast_missed_total")
	metricSendDropped     = expvar.NewInt("delivery_send_dropped_total")
	metricInboundTotal    = expvar.NewInt("delivery_inbound_total")
	metricInboundRejected = expvar.NewInt("delivery_inbound_rejected_total")
)
