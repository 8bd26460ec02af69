package verify

import "github.com/gabe/crew/internal/models"

// Combine applies the verification policy for one step. With declared
// criteria the independent report decides; self checks are appended and a
// self failure still fails. Without criteria the self report stands but is
// flagged as reduced confidence.
func Combine(self *models.VerificationReport, independent models.VerificationReport, criteriaDeclared bool) models.VerificationReport {
	if !criteriaDeclared {
		var final models.VerificationReport
		if self != nil {
			final = *self
			final.Checks = append([]models.Check(nil), self.Checks...)
			final.Recommendations = append([]string(nil), self.Recommendations...)
		} else {
			final.Checks = []models.Check{{Name: "self_attestation", Message: "worker produced no self report"}}
		}
		final.Source = models.SourceSelf
		final.ReducedConfidence = true
		final.Recommendations = append(final.Recommendations, ReducedConfidenceNote)
		return final
	}

	final := models.VerificationReport{
		Passed:          independent.Passed,
		Checks:          append([]models.Check(nil), independent.Checks...),
		Recommendations: append([]string(nil), independent.Recommendations...),
		Source:          models.SourceIndependent,
	}
	if self != nil {
		final.Source = models.SourceCombined
		for _, c := range self.Checks {
			c.Name = "self:" + c.Name
			final.Checks = append(final.Checks, c)
		}
		final.Recommendations = append(final.Recommendations, self.Recommendations...)
		if !self.Passed {
			final.Passed = false
		}
	}
	return final
}

// StepReport is a step's final report tagged with its step id
type StepReport struct {
	StepID string
	Report models.VerificationReport
}

// Merge folds step reports into one mission report. It passes only if every
// step passed; reduced confidence in any step carries over.
func Merge(steps []StepReport) models.VerificationReport {
	merged := models.VerificationReport{Passed: true}
	sources := make(map[models.VerificationSource]bool)
	seenRec := make(map[string]bool)

	for _, s := range steps {
		if !s.Report.Passed {
			merged.Passed = false
		}
		if s.Report.ReducedConfidence {
			merged.ReducedConfidence = true
		}
		sources[s.Report.Source] = true
		for _, c := range s.Report.Checks {
			c.Name = s.StepID + "/" + c.Name
			merged.Checks = append(merged.Checks, c)
		}
		for _, r := range s.Report.Recommendations {
			if !seenRec[r] {
				seenRec[r] = true
				merged.Recommendations = append(merged.Recommendations, r)
			}
		}
	}

	switch len(sources) {
	case 0:
	case 1:
		for src := range sources {
			merged.Source = src
		}
	default:
		merged.Source = models.SourceCombined
	}
	return merged
}
