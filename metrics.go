package coro

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the scheduler's optional Prometheus collector set. It replaces
// the hand-rolled percentile estimator a C implementation (or the teacher's
// own psquare.go) would need, in favor of the ecosystem-standard histogram
// type: every Prometheus-scraping deployment already knows how to turn a
// histogram into p50/p99 without this runtime estimating it itself.
type Metrics struct {
	TasksAlive      prometheus.Gauge
	TasksStarted    prometheus.Counter
	ReadyQueueDepth prometheus.Gauge
	TimerSetSize    prometheus.Gauge
	PollWaitSeconds prometheus.Histogram
	ChannelOps      *prometheus.CounterVec // labels: op={send,recv}, result={ok,timeout,canceled,closed}
	ChooseWins      *prometheus.CounterVec // labels: clause index, stringified
}

// NewMetrics constructs a Metrics set under the given namespace (the
// subsystems are fixed per collector),
// ready to be registered with a prometheus.Registerer.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TasksAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "tasks_alive",
			Help: "Number of tasks currently created but not yet terminated.",
		}),
		TasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "tasks_started_total",
			Help: "Total number of tasks ever started via Go/Bundle.Go.",
		}),
		ReadyQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "ready_queue_depth",
			Help: "Depth of the run-loop's ingress queue, sampled each tick.",
		}),
		TimerSetSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "timer_set_size",
			Help: "Number of pending deadline-set entries.",
		}),
		PollWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "poll_wait_seconds",
			Help:    "Time spent blocked in apoll.Wait per run-loop iteration.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 12),
		}),
		ChannelOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "ops_total",
			Help: "Channel send/recv attempts by outcome.",
		}, []string{"op", "result"}),
		ChooseWins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "choose_wins_total",
			Help: "Winning clause index per choose() invocation, for validating tie-break/uniformity properties.",
		}, []string{"clause"}),
	}
}

// Register registers every collector with reg. It is the caller's
// responsibility to call this (typically against prometheus.DefaultRegisterer
// or a test-local registry) — Metrics does nothing on its own otherwise.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.TasksAlive, m.TasksStarted, m.ReadyQueueDepth, m.TimerSetSize,
		m.PollWaitSeconds, m.ChannelOps, m.ChooseWins,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
