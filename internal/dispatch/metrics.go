package dispatch

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records dispatch activity. A nil *Metrics records nothing.
type Metrics struct {
	rounds        *prometheus.CounterVec
	offers        prometheus.Counter
	eligible      prometheus.Histogram
	accepts       *prometheus.CounterVec
	rejects       prometheus.Counter
	releases      prometheus.Counter
	cancellations *prometheus.CounterVec
}

// NewMetrics registers dispatch collectors on reg, or on the default
// registerer when reg is nil. Already-registered collectors are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roadcall_broadcast_rounds_total",
			Help: "Broadcast rounds by outcome (offered, starved, skipped).",
		}, []string{"outcome"}),
		offers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roadcall_offers_total",
			Help: "Job offers sent to providers.",
		}),
		eligible: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "roadcall_eligible_providers",
			Help:    "Eligible providers found per broadcast round.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 10, 20},
		}),
		accepts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roadcall_accepts_total",
			Help: "Accept attempts by result (assigned, conflict).",
		}, []string{"result"}),
		rejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roadcall_rejects_total",
			Help: "Offers declined by providers.",
		}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roadcall_releases_total",
			Help: "Assignments cancelled by providers.",
		}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roadcall_cancellations_total",
			Help: "Terminal cancellations by actor.",
		}, []string{"by"}),
	}

	var err error
	if m.rounds, err = register(reg, m.rounds); err != nil {
		return nil, err
	}
	if m.offers, err = register(reg, m.offers); err != nil {
		return nil, err
	}
	if m.eligible, err = register(reg, m.eligible); err != nil {
		return nil, err
	}
	if m.accepts, err = register(reg, m.accepts); err != nil {
		return nil, err
	}
	if m.rejects, err = register(reg, m.rejects); err != nil {
		return nil, err
	}
	if m.releases, err = register(reg, m.releases); err != nil {
		return nil, err
	}
	if m.cancellations, err = register(reg, m.cancellations); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) round(outcome string, eligible int) {
	if m == nil {
		return
	}
	m.rounds.WithLabelValues(outcome).Inc()
	if outcome != outcomeSkipped {
		m.eligible.Observe(float64(eligible))
		m.offers.Add(float64(eligible))
	}
}

func (m *Metrics) accept(result string) {
	if m == nil {
		return
	}
	m.accepts.WithLabelValues(result).Inc()
}

func (m *Metrics) reject() {
	if m == nil {
		return
	}
	m.rejects.Inc()
}

func (m *Metrics) release() {
	if m == nil {
		return
	}
	m.releases.Inc()
}

// Cancelled counts a terminal cancellation by actor kind.
func (m *Metrics) Cancelled(by string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(by).Inc()
}
