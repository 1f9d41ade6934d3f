package entitlement

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	decisions        *prometheus.CounterVec
	driftReports     *prometheus.CounterVec
	billingFallbacks *prometheus.CounterVec
	sweepDemotions   prometheus.Counter
	reconciliations  *prometheus.CounterVec
}

// NewMetrics creates the instruments and registers them with reg. Instruments
// already registered by another instance are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "entitlements",
				Name:      "decisions_total",
				Help:      "Tier decisions by deciding source",
			},
			[]string{"source"},
		),
		driftReports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "entitlements",
				Name:      "drift_reports_total",
				Help:      "Drift reports by publish outcome",
			},
			[]string{"outcome"},
		),
		billingFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "entitlements",
				Name:      "billing_fallbacks_total",
				Help:      "Decisions that fell back to local state because billing was unreadable",
			},
			[]string{"reason"},
		),
		sweepDemotions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "entitlements",
				Subsystem: "sweep",
				Name:      "demotions_total",
				Help:      "Expired trials demoted to free",
			},
		),
		reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "entitlements",
				Subsystem: "reconcile",
				Name:      "reports_total",
				Help:      "Drift reports processed by outcome",
			},
			[]string{"outcome"},
		),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	m.decisions, err = registerOrReuse(reg, m.decisions)
	if err != nil {
		return nil, err
	}
	m.driftReports, err = registerOrReuse(reg, m.driftReports)
	if err != nil {
		return nil, err
	}
	m.billingFallbacks, err = registerOrReuse(reg, m.billingFallbacks)
	if err != nil {
		return nil, err
	}
	m.sweepDemotions, err = registerOrReuse(reg, m.sweepDemotions)
	if err != nil {
		return nil, err
	}
	m.reconciliations, err = registerOrReuse(reg, m.reconciliations)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) decision(source Source) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(source)).Inc()
}

func (m *Metrics) drift(outcome string) {
	if m == nil {
		return
	}
	m.driftReports.WithLabelValues(outcome).Inc()
}

func (m *Metrics) billingFallback(reason string) {
	if m == nil {
		return
	}
	m.billingFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) demoted() {
	if m == nil {
		return
	}
	m.sweepDemotions.Inc()
}

func (m *Metrics) reconciled(outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(outcome).Inc()
}
