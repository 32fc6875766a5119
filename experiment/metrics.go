package experiment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "bamcp"

type Metrics struct {
	// TrialsTotal はstatus (success / failed) 毎の試行数。
	TrialsTotal     *prometheus.CounterVec
	TrialReturn     prometheus.Histogram
	DecisionSeconds prometheus.Histogram
}

// NewMetrics はregに指標を登録する。regがnilならばprometheus.DefaultRegistererを使う。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		TrialsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "trials_total",
			Help:      "Total number of experiment trials by status",
		}, []string{"status"}),
		TrialReturn: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "trial_return",
			Help:      "Discounted return of successful trials",
			Buckets:   prometheus.LinearBuckets(0, 5, 20),
		}),
		DecisionSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "decision_seconds",
			Help:      "Time spent by the agent to select one action",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 12),
		}),
	}
}

func (m *Metrics) observeTrial(res Result) {
	if m == nil {
		return
	}
	if res.Err != nil {
		m.TrialsTotal.WithLabelValues("failed").Inc()
		return
	}
	m.TrialsTotal.WithLabelValues("success").Inc()
	m.TrialReturn.Observe(res.Return)
}

func (m *Metrics) observeDecision(seconds float64) {
	if m == nil {
		return
	}
	m.DecisionSeconds.Observe(seconds)
}
