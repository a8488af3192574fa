// Package security defines risk classification and the policy checks applied
// to every proposed tool action before it may execute.
package security

import "errors"

// Sentinel errors for policy enforcement.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrApprovalRequired = errors.New("approval required")
)

// RiskLevel classifies the danger of an action.
// The ordering is total: RiskLow < RiskMedium < RiskHigh < RiskCritical.
type RiskLevel int

const (
	RiskLow      RiskLevel = iota // Read-only, no side effects.
	RiskMedium                    // Writes to scoped resources.
	RiskHigh                      // System changes.
	RiskCritical                  // Destructive operations.
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseRiskLevel converts a string to a RiskLevel.
// Unrecognized values default to RiskCritical (fail closed).
func ParseRiskLevel(s string) RiskLevel {
	switch s {
	case "low":
		return RiskLow
	case "medium":
		return RiskMedium
	case "high":
		return RiskHigh
	case "critical":
		return RiskCritical
	default:
		return RiskCritical
	}
}

// Permitted reports whether an action at the given risk level is within
// the identity's configured ceiling. Pure function, no side effects.
func Permitted(request, ceiling RiskLevel) bool {
	return request <= ceiling
}
