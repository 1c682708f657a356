package pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "keypool"

// Acquire 结果标签
const (
	AcquireOK         = "ok"
	AcquireExhausted  = "exhausted"
	AcquireContention = "contention"
	AcquireError      = "error"
)

// Metrics 凭据池监控指标
// 所有方法对 nil 接收者安全（未启用指标时传 nil）
type Metrics struct {
	acquireTotal  *prometheus.CounterVec
	outcomeTotal  *prometheus.CounterVec
	ejectionTotal *prometheus.CounterVec
	reportDropped prometheus.Counter
	keyEligible   *prometheus.GaugeVec
}

// NewMetrics 创建并注册指标
// reg 为 nil 时只创建不注册（测试用）
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		acquireTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquire_total",
			Help:      "Total credential acquisitions by result.",
		}, []string{"result"}),
		outcomeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcome_total",
			Help:      "Total reported call outcomes by key and classification.",
		}, []string{"key", "kind"}),
		ejectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ejections_total",
			Help:      "Total ejections (including probation extensions) by key.",
		}, []string{"key"}),
		reportDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_dropped_total",
			Help:      "Outcome reports dropped because the report queue was full.",
		}),
		keyEligible: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "key_eligible",
			Help:      "Whether the key is currently selectable (1) or ejected (0).",
		}, []string{"key"}),
	}
	if reg != nil {
		reg.MustRegister(m.acquireTotal, m.outcomeTotal, m.ejectionTotal, m.reportDropped, m.keyEligible)
	}
	return m
}

func (m *Metrics) observeAcquire(result string) {
	if m == nil {
		return
	}
	m.acquireTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) observeOutcome(key, kind string, ejected bool) {
	if m == nil {
		return
	}
	m.outcomeTotal.WithLabelValues(key, kind).Inc()
	if ejected {
		m.ejectionTotal.WithLabelValues(key).Inc()
		m.keyEligible.WithLabelValues(key).Set(0)
	}
}

func (m *Metrics) observeDropped() {
	if m == nil {
		return
	}
	m.reportDropped.Inc()
}

func (m *Metrics) setEligible(key string, eligible bool) {
	if m == nil {
		return
	}
	v := 0.0
	if eligible {
		v = 1
	}
	m.keyEligible.WithLabelValues(key).Set(v)
}
