package models

// VerificationSource records which path produced a report
type VerificationSource string

const (
	SourceSelf        VerificationSource = "self"
	SourceIndependent VerificationSource = "independent"
	SourceCombined    VerificationSource = "combined"
)

// Check is a single verification check
type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// VerificationReport is the outcome of verifying a step or mission
type VerificationReport struct {
	Passed            bool               `json:"passed"`
	Checks            []Check            `json:"checks"`
	Recommendations   []string           `json:"recommendations,omitempty"`
	Source            VerificationSource `json:"source,omitempty"`
	ReducedConfidence bool               `json:"reduced_confidence,omitempty"`
}

// FirstFailed returns the first failing check, if any
func (r VerificationReport) FirstFailed() (Check, bool) {
	for _, c := range r.Checks {
		if !c.Passed {
			return c, true
		}
	}
	return Check{}, false
}
