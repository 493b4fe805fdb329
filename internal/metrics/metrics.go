package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

// Recorder owns a registry so tests and binaries do not share global state.
type Recorder struct {
	reg *prometheus.Registry

	OpTotal         *prometheus.CounterVec
	OpDuration      *prometheus.HistogramVec
	ExpiredTotal    prometheus.Counter
	RequestTotal    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		OpTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pos_engine_operations_total",
				Help: "Engine operations by outcome (ok or error kind)",
			},
			[]string{"op", "outcome"},
		),
		OpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pos_engine_operation_duration_seconds",
				Help:    "Engine operation latency including lock waits",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		ExpiredTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "pos_orders_expired_total",
			Help: "Pending orders moved to expired by the sweeper",
		}),
		RequestTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// ObserveOp implements orders.Observer.
func (r *Recorder) ObserveOp(op string, took time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(orders.KindOf(err))
		if outcome == "" {
			outcome = "internal"
		}
	}
	r.OpTotal.WithLabelValues(op, outcome).Inc()
	r.OpDuration.WithLabelValues(op).Observe(took.Seconds())
}

func (r *Recorder) OrdersExpired(n int) {
	if n > 0 {
		r.ExpiredTotal.Add(float64(n))
	}
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Middleware labels requests by chi route pattern to keep cardinality flat.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/metrics" {
			next.ServeHTTP(w, req)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rc := chi.RouteContext(req.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.RequestTotal.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
		r.RequestDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}
