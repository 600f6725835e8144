// Package metrics метрики Prometheus клиента и relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry общий реестр метрик процесса
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		RoundsTotal, RoundDuration, OperationsTotal,
		MessagesTotal, MergedTotal, RejectedTotal,
	)
}

// Итог раунда
const (
	RoundSynced  = "synced"
	RoundPending = "pending"
	RoundFailed  = "failed"
	RoundSkipped = "skipped"
)

// RoundsTotal раунды синхронизации клиента по итогу
var RoundsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gophsync_rounds_total",
		Help: "Sync rounds by outcome",
	},
	[]string{"result"}, // synced | pending | failed | skipped
)

// RoundDuration длительность раунда (секунды)
var RoundDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "gophsync_round_duration_seconds",
		Help:    "Sync round duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
)

// OperationsTotal операции, переданные клиентом
var OperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gophsync_operations_total",
		Help: "Operations transferred by the replica",
	},
	[]string{"direction"}, // received | sent
)

// MessagesTotal сообщения протокола, обработанные relay
var MessagesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gophsync_relay_messages_total",
		Help: "Protocol messages handled by the relay",
	},
	[]string{"kind", "status"},
)

// MergedTotal операции, принятые relay
var MergedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "gophsync_relay_merged_operations_total",
		Help: "Operations appended to the relay log",
	},
)

// RejectedTotal запросы, отклоненные relay
var RejectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gophsync_relay_rejected_total",
		Help: "Requests rejected by the relay",
	},
	[]string{"reason"}, // quota | auth | rate_limit | protocol | integrity
)

// ObserveRound учитывает завершенный раунд
func ObserveRound(result string, duration time.Duration, received, sent int) {
	RoundsTotal.WithLabelValues(result).Inc()
	if result == RoundSkipped {
		return
	}
	RoundDuration.Observe(duration.Seconds())
	OperationsTotal.WithLabelValues("received").Add(float64(received))
	OperationsTotal.WithLabelValues("sent").Add(float64(sent))
}

// Handler отдает метрики в текстовом формате Prometheus
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
