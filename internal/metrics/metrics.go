package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecordsReduced = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "ratiowatch_records_reduced_total", Help: "Quote pairs reduced into analytical records"},
	)
	ReduceErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "ratiowatch_reduce_errors_total", Help: "Quote pairs rejected by the reducer"},
	)
	AlertsTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ratiowatch_alerts_triggered_total", Help: "Records carrying a trigger alert"},
		[]string{"breach"},
	)
	SinkErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "ratiowatch_sink_errors_total", Help: "Failed sink updates"},
	)
	OutOfOrder = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "ratiowatch_out_of_order_total", Help: "Records submitted with a timestamp older than the previous one"},
	)
	LastRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "ratiowatch_last_ratio", Help: "Most recently reduced ratio"},
	)
)

func init() {
	prometheus.MustRegister(RecordsReduced, ReduceErrors, AlertsTriggered, SinkErrors, OutOfOrder, LastRatio)
}

// Serve exposes /metrics plus any extra handlers on addr in the background.
func Serve(addr string, extra map[string]http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	for path, h := range extra {
		mux.Handle(path, h)
	}
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
