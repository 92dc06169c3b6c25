// Package metrics exposes deployment counters and pushes them to a
// Prometheus Pushgateway at the end of a run.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/exalotto/deployer/internal/orchestrator"
	"github.com/exalotto/deployer/internal/txn"
	"github.com/exalotto/deployer/internal/unit"
)

const namespace = "exalotto"

// JobName is the Pushgateway job the metrics are pushed under.
const JobName = "exalotto_deploy"

// Outcomes of a submission attempt.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Collector holds the deployment metrics of one process on a private
// registry.
type Collector struct {
	registry *prometheus.Registry

	TxAttempts       *prometheus.CounterVec
	TxExhausted      *prometheus.CounterVec
	TxConfirmSeconds *prometheus.HistogramVec
	UnitsDeployed    *prometheus.CounterVec
	StepSeconds      *prometheus.HistogramVec
	RunLastSuccess   prometheus.Gauge
	RunFailures      prometheus.Counter
}

// New creates a collector with its own registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		TxAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_attempts_total",
			Help:      "Transaction submission attempts by action and outcome",
		}, []string{"action", "outcome"}),

		TxExhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_exhausted_total",
			Help:      "Actions that failed after every allowed attempt",
		}, []string{"action"}),

		TxConfirmSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tx_confirmation_seconds",
			Help:      "Time from sending the confirmed attempt to its confirmation",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"action"}),

		UnitsDeployed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_deployed_total",
			Help:      "Deployed contract units by name",
		}, []string{"name", "proxied"}),

		StepSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of orchestration steps",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step", "outcome"}),

		RunLastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		}),

		RunFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_failures_total",
			Help:      "Failed runs",
		}),
	}
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Confirmed implements txn.Observer.
func (c *Collector) Confirmed(_ context.Context, action string, res *txn.Result, elapsed time.Duration) {
	outcome := OutcomeConfirmed
	if res.Skipped {
		outcome = OutcomeSkipped
	}
	c.TxAttempts.WithLabelValues(action, outcome).Inc()
	if !res.Skipped {
		c.TxConfirmSeconds.WithLabelValues(action).Observe(elapsed.Seconds())
	}
}

// AttemptFailed implements txn.Observer.
func (c *Collector) AttemptFailed(_ context.Context, action string, _ int, _ error) {
	c.TxAttempts.WithLabelValues(action, OutcomeFailed).Inc()
}

// Exhausted implements txn.Observer.
func (c *Collector) Exhausted(_ context.Context, action string, _ int, _ error) {
	c.TxExhausted.WithLabelValues(action).Inc()
}

// UnitDeployed implements unit.Observer.
func (c *Collector) UnitDeployed(_ context.Context, d unit.Deployed) {
	c.UnitsDeployed.WithLabelValues(d.Name, fmt.Sprint(d.Proxied())).Inc()
}

// ObserveStep records a finished orchestration step.
func (c *Collector) ObserveStep(r orchestrator.StepReport) {
	outcome := "completed"
	switch {
	case r.Error != "":
		outcome = OutcomeFailed
	case r.Skipped:
		outcome = OutcomeSkipped
	}
	c.StepSeconds.WithLabelValues(string(r.Name), outcome).Observe(r.Duration.Seconds())
}

// ObserveRun records the outcome of a whole run.
func (c *Collector) ObserveRun(err error) {
	if err != nil {
		c.RunFailures.Inc()
		return
	}
	c.RunLastSuccess.SetToCurrentTime()
}

// Push sends every metric to the Pushgateway at url, grouped by the given
// label pairs.
func (c *Collector) Push(ctx context.Context, url string, grouping map[string]string) error {
	pusher := push.New(url, JobName).Gatherer(c.registry)
	for name, value := range grouping {
		pusher = pusher.Grouping(name, value)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

var (
	_ txn.Observer  = (*Collector)(nil)
	_ unit.Observer = (*Collector)(nil)
)
