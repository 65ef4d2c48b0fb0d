package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the collectors.
const (
	OutcomeAllowed  = "allowed"
	OutcomeDenied   = "denied"
	OutcomeFailOpen = "fail_open"
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
)

// Metrics groups the collectors exported by the gate pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	gateDecisions  *prometheus.CounterVec
	ledgerOutcomes *prometheus.CounterVec
	auditFailures  prometheus.Counter
	adminActions   *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg yields unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "gate_decisions_total",
			Help:      "Admission decisions by gate and outcome.",
		}, []string{"gate", "outcome"}),
		ledgerOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "ledger_operations_total",
			Help:      "Quota ledger operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "audit_write_failures_total",
			Help:      "Admin log entries that could not be persisted.",
		}),
		adminActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "admin_actions_total",
			Help:      "Successful admin mutations by action.",
		}, []string{"action"}),
	}
	if reg != nil {
		reg.MustRegister(m.gateDecisions, m.ledgerOutcomes, m.auditFailures, m.adminActions)
	}
	return m
}

// GateDecision counts one admission decision.
func (m *Metrics) GateDecision(gate, outcome string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(gate, outcome).Inc()
}

// LedgerOperation counts one ledger operation outcome.
func (m *Metrics) LedgerOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.ledgerOutcomes.WithLabelValues(operation, outcome).Inc()
}

// AuditFailure counts one failed audit write.
func (m *Metrics) AuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

// AdminAction counts one successful admin mutation.
func (m *Metrics) AdminAction(action string) {
	if m == nil {
		return
	}
	m.adminActions.WithLabelValues(action).Inc()
}
