package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/petrijr/stagehand/pkg/api"
)

// Observer is an api.Observer that records pipeline activity as Prometheus
// metrics.
type Observer struct {
	transitions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	emitted     *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	killed      *prometheus.CounterVec
	starts      prometheus.Counter
	running     prometheus.Gauge

	mu   sync.Mutex
	last map[string]api.WorkerState
}

var _ api.Observer = (*Observer)(nil)

// NewObserver creates the pipeline metrics and registers them on reg.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		last: make(map[string]api.WorkerState),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "state_transitions_total",
			Help:      "Worker lifecycle transitions by target state",
		}, []string{"stage", "state"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "failures_total",
			Help:      "Errors and panics raised by stage hooks",
		}, []string{"stage", "phase"}),
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "messages_emitted_total",
			Help:      "Messages emitted by a stage",
		}, []string{"stage"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "edge_deliveries_total",
			Help:      "Messages put on output edges (emits times fan-out)",
		}, []string{"stage"}),
		killed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "killed_total",
			Help:      "Workers forcibly terminated after the join timeout",
		}, []string{"stage"}),
		starts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "starts_total",
			Help:      "Times the start signal was released",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "workers_running",
			Help:      "Workers currently in the RUNNING state",
		}),
	}

	for _, c := range []prometheus.Collector{o.transitions, o.failures, o.emitted, o.deliveries, o.killed, o.starts, o.running} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Observer) OnWorkerState(ctx context.Context, worker string, state api.WorkerState) {
	o.transitions.WithLabelValues(worker, string(state)).Inc()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last[worker] == api.StateRunning {
		o.running.Dec()
	}
	if state == api.StateRunning {
		o.running.Inc()
	}
	o.last[worker] = state
}

func (o *Observer) OnWorkerFailed(ctx context.Context, worker string, phase api.Phase, err error) {
	o.failures.WithLabelValues(worker, string(phase)).Inc()
}

func (o *Observer) OnEmit(ctx context.Context, worker string, fanout int) {
	o.emitted.WithLabelValues(worker).Inc()
	o.deliveries.WithLabelValues(worker).Add(float64(fanout))
}

func (o *Observer) OnPipelineStarted(ctx context.Context, workers int) {
	o.starts.Inc()
}

func (o *Observer) OnWorkerKilled(ctx context.Context, worker string) {
	o.killed.WithLabelValues(worker).Inc()
}
