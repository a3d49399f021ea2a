package metrics

//
// Prometheus metrics for the dispatch service.
//

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ipclick/internal/core/dispatcher"
	"ipclick/internal/core/retry"
	"ipclick/internal/shared/types"
	"ipclick/model"
)

// Outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "transport_failure"
	OutcomeFault     = "fault"
	OutcomeForbidden = "disallowed_status"
)

// Observer records dispatcher events into Prometheus collectors.
type Observer struct {
	// tasksTotal counts finished tasks by the adapter that ran them.
	tasksTotal *prometheus.CounterVec

	// taskDurationSeconds is the service-side time per task.
	taskDurationSeconds *prometheus.HistogramVec

	// retriesTotal counts retry sleeps scheduled by the executor.
	retriesTotal *prometheus.CounterVec

	// fallbacksTotal counts tasks rerouted to the default adapter.
	fallbacksTotal *prometheus.CounterVec

	// startedTotal counts tasks that passed validation.
	startedTotal *prometheus.CounterVec
}

var _ dispatcher.Observer = (*Observer)(nil)

// New registers the collectors with reg. Use prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Observer {
	factory := promauto.With(reg)
	return &Observer{
		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ipclick_tasks_total",
			Help: "Total number of finished tasks",
		}, []string{"adapter", "outcome"}),

		taskDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ipclick_task_duration_seconds",
			Help:    "Time to complete a task including retries (in seconds)",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"adapter"}),

		retriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ipclick_retries_total",
			Help: "Total number of retried attempts",
		}, []string{"adapter"}),

		fallbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ipclick_adapter_fallbacks_total",
			Help: "Total number of tasks whose adapter was unavailable",
		}, []string{"requested", "used"}),

		startedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ipclick_tasks_started_total",
			Help: "Total number of tasks that passed validation",
		}, []string{"requested"}),
	}
}

// StatsSource is implemented by dispatcher.Service.
type StatsSource interface {
	Stats() types.DispatchStats
}

// RegisterService exports gauges that read the service state at scrape time.
func RegisterService(reg prometheus.Registerer, src StatsSource) {
	factory := promauto.With(reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ipclick_tasks_inflight",
		Help: "The number of tasks currently inflight",
	}, func() float64 {
		return float64(src.Stats().InFlight)
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ipclick_active_adapters",
		Help: "The number of adapters constructed so far",
	}, func() float64 {
		return float64(src.Stats().AdapterCount)
	})
}

// RegisterTraffic exports byte counters read from traffic at scrape time.
func RegisterTraffic(reg prometheus.Registerer, traffic func() (sent, received uint64)) {
	factory := promauto.With(reg)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "ipclick_adapter_sent_bytes_total",
		Help: "Bytes written by adapter connections, proxy handshakes included",
	}, func() float64 {
		sent, _ := traffic()
		return float64(sent)
	})
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "ipclick_adapter_received_bytes_total",
		Help: "Bytes read by adapter connections, proxy handshakes included",
	}, func() float64 {
		_, received := traffic()
		return float64(received)
	})
}

func (o *Observer) TaskStarted(task *model.Task) {
	o.startedTotal.WithLabelValues(task.Adapter.String()).Inc()
}

func (o *Observer) TaskRetried(_ *model.Task, used model.AdapterKind, _ retry.Event) {
	o.retriesTotal.WithLabelValues(used.String()).Inc()
}

func (o *Observer) TaskFinished(res *dispatcher.Result) {
	adapter := res.Adapter.String()
	o.tasksTotal.WithLabelValues(adapter, Outcome(res)).Inc()
	o.taskDurationSeconds.WithLabelValues(adapter).Observe(res.Elapsed.Seconds())
}

func (o *Observer) AdapterFallback(requested, used model.AdapterKind, _ error) {
	o.fallbacksTotal.WithLabelValues(requested.String(), used.String()).Inc()
}

// Outcome classifies a result for the outcome label.
func Outcome(res *dispatcher.Result) string {
	switch {
	case res.Fault:
		return OutcomeFault
	case res.Response == nil || res.Response.StatusCode == model.StatusTransportFailure:
		return OutcomeFailed
	case !res.Response.Allowed(taskCodes(res.Task)):
		return OutcomeForbidden
	default:
		return OutcomeOK
	}
}

func taskCodes(t *model.Task) []int {
	if t == nil {
		return nil
	}
	return t.AllowedStatusCodes
}
