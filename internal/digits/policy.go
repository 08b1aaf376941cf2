package digits

// HealthStatus is the coarse engine-health signal from the health provider.
type HealthStatus string

const (
	HealthHealthy    HealthStatus = "healthy"
	HealthDegraded   HealthStatus = "degraded"
	HealthOverloaded HealthStatus = "overloaded"
)

// HealthProvider reports current system health, consulted when an
// expectation is installed.
type HealthProvider interface {
	Status() HealthStatus
}

// RiskEvaluator scores the risk of a pending collection in [0,1].
type RiskEvaluator interface {
	Score(callID string, exp *Expectation) float64
}

// Risk thresholds, applied in ascending order.
const (
	riskForceConfirmation  = 0.55
	riskDisableSpokenEntry = 0.70
	riskRouteToAgent       = 0.90
)

// applyHealthPolicy clamps an expectation's budget under degraded or
// overloaded health. Spoken confirmation survives only when explicitly
// locked by the operator.
func applyHealthPolicy(exp *Expectation, status HealthStatus, confirmationLocked bool) {
	switch status {
	case HealthOverloaded:
		if exp.MaxRetries > 1 {
			exp.MaxRetries = 1
		}
		if exp.TimeoutSeconds > 10 {
			exp.TimeoutSeconds = 10
		}
		if !confirmationLocked {
			exp.SpeakConfirmation = false
		}
	case HealthDegraded:
		if exp.MaxRetries > 2 {
			exp.MaxRetries = 2
		}
		if exp.TimeoutSeconds > 15 {
			exp.TimeoutSeconds = 15
		}
	}
}

// applyRiskPolicy applies the threshold ladder to an expectation.
func applyRiskPolicy(exp *Expectation, score float64) {
	exp.RiskScore = score
	if score >= riskForceConfirmation {
		exp.SpeakConfirmation = true
		if exp.Confirmation == ConfirmNone {
			exp.Confirmation = ConfirmLast4
		}
	}
	if score >= riskDisableSpokenEntry {
		exp.AllowSpokenFallback = false
	}
	if score >= riskRouteToAgent {
		exp.RiskAction = RiskActionRouteToAgent
	}
}
