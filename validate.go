package tilegrid

import (
	"math"
)

// Violation records one output element outside tolerance.
type Violation struct {
	Index    int     // Linear element index
	Got      float32 // Computed value
	Expected float32 // Analytic value
	RelErr   float64 // Relative error term that exceeded the tolerance
}

// ValidationResult is the outcome of a full validation scan.
type ValidationResult struct {
	Checked    int         // Elements scanned
	Violations []Violation // Every element outside tolerance, in index order
}

// Passed reports whether no element violated the tolerance.
func (r ValidationResult) Passed() bool {
	return len(r.Violations) == 0
}

// ValidateUniform scans every element of c against the analytic expectation
// for constant operands, using the relative-error term
//
//	|c[i] - expected| / |c[i]| / dotLen
//
// normalized by both the computed magnitude and the reduction length. The
// scan never exits early: every violating element is collected so the
// caller can report all of them. Violations are an outcome, not an error.
func ValidateUniform(c []float32, expected float32, dotLen int, eps float64) ValidationResult {
	result := ValidationResult{Checked: len(c)}
	for i, got := range c {
		absErr := math.Abs(float64(got) - float64(expected))
		absVal := math.Abs(float64(got))
		relErr := absErr / absVal / float64(dotLen)
		if relErr > eps {
			result.Violations = append(result.Violations, Violation{
				Index:    i,
				Got:      got,
				Expected: expected,
				RelErr:   relErr,
			})
		}
	}
	return result
}
