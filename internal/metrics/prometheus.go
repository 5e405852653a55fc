package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	reg             *prom.Registry
	buildOutcome    *prom.CounterVec
	buildDuration   prom.Histogram
	modulesCompiled prom.Counter
	nonce           prom.Gauge
	queueDepth      prom.Gauge
	skipped         *prom.CounterVec
}

// NewPrometheusRecorder constructs the metrics and registers them on reg
// (a fresh registry when reg is nil).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		reg: reg,
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "mirin",
			Name:      "build_outcomes_total",
			Help:      "Build cycles by trigger and final status",
		}, []string{"trigger", "outcome"}),
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "mirin",
			Name:      "build_duration_seconds",
			Help:      "Wall time of a build cycle, module compiles plus scheduler",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		modulesCompiled: prom.NewCounter(prom.CounterOpts{
			Namespace: "mirin",
			Name:      "modules_compiled_total",
			Help:      "Modules handed to the compiler, scheduler excluded",
		}),
		nonce: prom.NewGauge(prom.GaugeOpts{
			Namespace: "mirin",
			Name:      "snapshot_nonce",
			Help:      "Nonce of the currently published snapshot",
		}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: "mirin",
			Name:      "build_queue_depth",
			Help:      "Build requests waiting for the executor",
		}),
		skipped: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "mirin",
			Name:      "skipped_cycles_total",
			Help:      "Event batches that never reached the builder",
		}, []string{"reason"}),
	}
	reg.MustRegister(pr.buildOutcome, pr.buildDuration, pr.modulesCompiled, pr.nonce, pr.queueDepth, pr.skipped)
	return pr
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (p *PrometheusRecorder) IncBuildOutcome(trigger, outcome string) {
	p.buildOutcome.WithLabelValues(trigger, outcome).Inc()
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) AddModulesCompiled(n int) {
	p.modulesCompiled.Add(float64(n))
}

func (p *PrometheusRecorder) SetNonce(n uint64) { p.nonce.Set(float64(n)) }

func (p *PrometheusRecorder) SetQueueDepth(n int) { p.queueDepth.Set(float64(n)) }

func (p *PrometheusRecorder) IncSkippedCycle(reason string) {
	p.skipped.WithLabelValues(reason).Inc()
}
