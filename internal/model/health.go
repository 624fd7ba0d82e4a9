package model

import "time"

// CheckStatus is the outcome of a single health check
type CheckStatus string

const (
	CheckStatusOK       CheckStatus = "ok"
	CheckStatusWarning  CheckStatus = "warning"
	CheckStatusCritical CheckStatus = "critical"
	CheckStatusError    CheckStatus = "error"
)

// OverallStatus defines the aggregated health of the service
type OverallStatus string

const (
	StatusHealthy   OverallStatus = "healthy"
	StatusDegraded  OverallStatus = "degraded"
	StatusUnhealthy OverallStatus = "unhealthy"
)

// AlertLevel is the severity of an alert
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Threshold maps a sampled value to an alert level.
// Inverse alerts when the value drops below the bounds instead of above.
type Threshold struct {
	Warning  float64 `json:"warning" mapstructure:"warning"`
	Critical float64 `json:"critical" mapstructure:"critical"`
	Inverse  bool    `json:"inverse,omitempty" mapstructure:"inverse"`
}

// Level returns the alert level implied by value, or "" when no bound is crossed
func (t Threshold) Level(value float64) AlertLevel {
	if t.Inverse {
		switch {
		case value < t.Critical:
			return AlertCritical
		case value < t.Warning:
			return AlertWarning
		}
		return ""
	}
	switch {
	case value > t.Critical:
		return AlertCritical
	case value > t.Warning:
		return AlertWarning
	}
	return ""
}

// CheckResult is the result of one check in one cycle
type CheckResult struct {
	CheckName string        `json:"check_name"`
	Status    CheckStatus   `json:"status"`
	Value     *float64      `json:"value"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Critical  bool          `json:"critical"`
}

// AlertRecord is a raised alert. ResolvedAt is nil while the alert is active.
type AlertRecord struct {
	ID          string     `json:"id"`
	CheckName   string     `json:"check_name"`
	Level       AlertLevel `json:"level"`
	Message     string     `json:"message"`
	Value       *float64   `json:"value,omitempty"`
	TriggeredAt time.Time  `json:"triggered_at"`
	ResolvedAt  *time.Time `json:"resolved_at"`
}

// Active reports whether the alert has not been resolved
func (a *AlertRecord) Active() bool {
	return a.ResolvedAt == nil
}

// HealthStatus is the aggregate health snapshot
type HealthStatus struct {
	Status       OverallStatus          `json:"status"`
	Timestamp    time.Time              `json:"timestamp"`
	Uptime       time.Duration          `json:"uptime"`
	Checks       map[string]CheckResult `json:"checks"`
	ActiveAlerts []AlertRecord          `json:"active_alerts"`
}
