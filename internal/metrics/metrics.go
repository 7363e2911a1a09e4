package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OnlineConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rs_realtime_online_conns",
		Help: "Current online websocket connections on this node.",
	})

	PushOK = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rs_realtime_push_ok_total",
		Help: "Total envelopes queued to a local connection.",
	})
	PushOffline = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rs_realtime_push_offline_total",
		Help: "Total envelope sends with no local connection for the uid.",
	})

	AuditProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rs_realtime_audit_processed_total",
		Help: "Total queue records fully processed by the screening consumer.",
	})
	AuditPassed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rs_realtime_audit_passed_total",
		Help: "Total submissions that passed machine screening.",
	})
	AuditRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rs_realtime_audit_rejected_total",
		Help: "Total submissions returned to draft by machine screening.",
	})
	AuditSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rs_realtime_audit_skipped_total",
		Help: "Total queue records acknowledged without side effects.",
	})
	AuditRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rs_realtime_audit_retried_total",
		Help: "Total queue records left unacknowledged for redelivery.",
	})
)

func Register() {
	prometheus.MustRegister(
		OnlineConns,
		PushOK, PushOffline,
		AuditProcessed, AuditPassed, AuditRejected, AuditSkipped, AuditRetried,
	)
}
