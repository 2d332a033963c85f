package domain

import "time"

// Readiness outcomes, from best to worst. Only HealthStatusOK admits cart traffic.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck is the result of probing one storefront dependency, such as the cart slot
// backend or the pricing policy store. Critical checks fail readiness with HealthStatusError.
type SystemHealthCheck struct {
	Status    string
	Critical  bool
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport is the readiness view served by /readyz.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// Ready reports whether the instance should receive cart and pricing requests.
func (r SystemHealthReport) Ready() bool {
	return r.Status == HealthStatusOK
}

// WorstHealthStatus folds check outcomes into one status. Any error wins; unknown statuses count as degraded.
func WorstHealthStatus(checks map[string]SystemHealthCheck) string {
	status := HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case HealthStatusOK, "":
		case HealthStatusError:
			return HealthStatusError
		default:
			status = HealthStatusDegraded
		}
	}
	return status
}
