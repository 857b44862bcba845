package events

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Field keys read by MetricsPublisher.
const (
	FieldFrom       = "from"
	FieldTo         = "to"
	FieldDurationMS = "duration_ms"
	FieldKind       = "kind"
	FieldCost       = "cost"
	FieldAttempt    = "attempt"
)

// backendStates mirrors the supervisor state names for the state gauge.
var backendStates = []string{"spawning", "starting", "ready", "degraded", "terminating", "terminated"}

// MetricsPublisher turns events into Prometheus series.
type MetricsPublisher struct {
	eventsTotal      *prometheus.CounterVec
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	backendState     *prometheus.GaugeVec
	spendTotal       prometheus.Counter
}

// NewMetricsPublisher registers its collectors on reg. Collectors already
// registered by an earlier publisher are reused.
func NewMetricsPublisher(reg prometheus.Registerer) (*MetricsPublisher, error) {
	p := &MetricsPublisher{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enginegate",
			Subsystem: "core",
			Name:      "events_total",
			Help:      "Core events by name",
		}, []string{"name"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enginegate",
			Subsystem: "backend",
			Name:      "dispatch_total",
			Help:      "Dispatch attempts by backend and outcome",
		}, []string{"backend", "outcome"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "enginegate",
			Subsystem: "backend",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of dispatch attempts in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"backend"}),
		backendState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "enginegate",
			Subsystem: "backend",
			Name:      "state",
			Help:      "1 for the current lifecycle state of each backend",
		}, []string{"backend", "state"}),
		spendTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "enginegate",
			Subsystem: "budget",
			Name:      "spend_total",
			Help:      "Accumulated estimated spend",
		}),
	}
	var err error
	if p.eventsTotal, err = register(reg, p.eventsTotal); err != nil {
		return nil, err
	}
	if p.dispatchTotal, err = register(reg, p.dispatchTotal); err != nil {
		return nil, err
	}
	if p.dispatchDuration, err = register(reg, p.dispatchDuration); err != nil {
		return nil, err
	}
	if p.backendState, err = register(reg, p.backendState); err != nil {
		return nil, err
	}
	if p.spendTotal, err = register(reg, p.spendTotal); err != nil {
		return nil, err
	}
	return p, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
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

func (p *MetricsPublisher) Publish(e Event) {
	p.eventsTotal.WithLabelValues(e.Name).Inc()
	switch e.Name {
	case DispatchOK, DispatchError:
		outcome := "ok"
		if e.Name == DispatchError {
			outcome = "error"
			if k, ok := e.Fields[FieldKind].(string); ok && k != "" {
				outcome = k
			}
		}
		p.dispatchTotal.WithLabelValues(e.BackendID, outcome).Inc()
		if ms, ok := e.Fields[FieldDurationMS].(float64); ok {
			p.dispatchDuration.WithLabelValues(e.BackendID).Observe(ms / 1000)
		}
	case StateChange:
		to, _ := e.Fields[FieldTo].(string)
		for _, s := range backendStates {
			v := 0.0
			if s == to {
				v = 1
			}
			p.backendState.WithLabelValues(e.BackendID, s).Set(v)
		}
	case BackendDeregistered:
		for _, s := range backendStates {
			p.backendState.DeleteLabelValues(e.BackendID, s)
		}
	case BudgetSpend:
		if c, ok := e.Fields[FieldCost].(float64); ok && c > 0 {
			p.spendTotal.Add(c)
		}
	}
}
