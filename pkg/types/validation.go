package types

// Severity grades a validation violation.
type Severity string

const (
	// SeverityCritical violations block persistence regardless of score.
	SeverityCritical Severity = "critical"

	// SeverityMajor violations subtract a fixed penalty each.
	SeverityMajor Severity = "major"

	// SeverityMinor violations note tone or voice drift.
	SeverityMinor Severity = "minor"
)

// Violation is one problem found while validating generated narrative.
type Violation struct {
	// Severity grades the violation.
	Severity Severity `json:"severity"`

	// Rule names the check that fired.
	Rule string `json:"rule"`

	// Detail explains what was found.
	Detail string `json:"detail"`
}

// ValidationResult scores a proposed narrative against world rules and
// retrieved history. Results are never persisted standalone; they are
// attached to the event they gated.
type ValidationResult struct {
	// Score is the combined score in [0,100].
	Score int `json:"score"`

	// Passed reports whether Score met the configured threshold and no
	// critical violation fired.
	Passed bool `json:"passed"`

	// Violations lists everything the validator found.
	Violations []Violation `json:"violations,omitempty"`

	// LowConfidence marks content accepted as a best attempt after the
	// revision budget was exhausted.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

// HasCritical reports whether any critical violation was found. Content
// with a critical violation must never be persisted.
func (v *ValidationResult) HasCritical() bool {
	for _, violation := range v.Violations {
		if violation.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
