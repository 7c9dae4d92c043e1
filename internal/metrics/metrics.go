// Package metrics exposes the client's Prometheus collectors on /metrics and
// forwards selected events to CloudWatch through the logger.
//
// Registers:
//
//	payeerflow_requests_total{path,outcome}
//	payeerflow_request_duration_seconds{path}
//	payeerflow_throttle_wait_seconds{limit}
//	payeerflow_loop_steps_total{loop,decision}
//	payeerflow_snapshots_total{pair}
//	payeerflow_order_updates_total{state}
//	payeerflow_queue_length{queue}
//	go_* and process_* system metrics
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"payeerflow/logger"
)

const namespace = "payeerflow"

var (
	registry = prometheus.NewRegistry()
	factory  = promauto.With(registry)

	requestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "REST calls by endpoint and outcome.",
	}, []string{"path", "outcome"})

	requestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "REST round trip time after admission.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"path"})

	throttleWait = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "throttle_wait_seconds",
		Help:      "Time spent waiting for rate limit capacity.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"limit"})

	loopSteps = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "loop_steps_total",
		Help:      "Supervised loop iterations by decision.",
	}, []string{"loop", "decision"})

	snapshotsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshots_total",
		Help:      "Order book snapshots published.",
	}, []string{"pair"})

	orderUpdatesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_updates_total",
		Help:      "Order updates emitted by normalized state.",
	}, []string{"state"})

	queueLength = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_length",
		Help:      "Messages waiting in each output queue.",
	}, []string{"queue"})
)

func init() {
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

var (
	once   sync.Once
	server *http.Server
)

// Init starts the /metrics endpoint on addr. Later calls are no-ops.
func Init(addr string) {
	once.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.GetLogger().WithComponent("metrics").WithError(err).Error("metrics server failed")
			}
		}()
		logger.GetLogger().WithComponent("metrics").WithField("address", addr).Info("metrics endpoint started")
	})
}

// Shutdown stops the endpoint started by Init.
func Shutdown(ctx context.Context) error {
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// Registry exposes the collectors for tests and embedding.
func Registry() *prometheus.Registry {
	return registry
}

// ObserveRequest records one REST call. It matches rest.RequestObserver.
func ObserveRequest(path string, status int, took time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	requestsTotal.WithLabelValues(path, outcome).Inc()
	requestDuration.WithLabelValues(path).Observe(took.Seconds())
}

// ObserveThrottleWait records a blocked admission. It matches
// throttler.WaitObserver.
func ObserveThrottleWait(limitID string, waited time.Duration) {
	throttleWait.WithLabelValues(limitID).Observe(waited.Seconds())
}

// ObserveLoopStep counts a loop iteration outcome.
func ObserveLoopStep(loop, decision string) {
	loopSteps.WithLabelValues(loop, decision).Inc()
}

// IncrementSnapshot counts a published snapshot for pair.
func IncrementSnapshot(pair string) {
	snapshotsTotal.WithLabelValues(pair).Inc()
}

// IncrementOrderUpdate counts an emitted order update.
func IncrementOrderUpdate(state string) {
	orderUpdatesTotal.WithLabelValues(state).Inc()
}

// SetQueueLength records the backlog of a named queue.
func SetQueueLength(queue string, n int) {
	queueLength.WithLabelValues(queue).Set(float64(n))
}
