package validation

import (
	"fmt"
	"math"

	"github.com/otherjamesbrown/minutes/pkg/minutes"
)

// weights are indexed low, medium, high, critical.
type weights [4]float64

var (
	grammarWeights   = weights{0.05, 0.15, 0.3, 0.5}
	localeWeights    = weights{0.1, 0.2, 0.4, 0.6}
	coherenceWeights = weights{0.05, 0.1, 0.2, 0.4}
)

func (w weights) of(s minutes.Severity) float64 {
	switch s {
	case minutes.SeverityLow:
		return w[0]
	case minutes.SeverityMedium:
		return w[1]
	case minutes.SeverityHigh:
		return w[2]
	case minutes.SeverityCritical:
		return w[3]
	}
	return 0
}

// Review thresholds.
const (
	ReviewOverallFloor     = 0.75
	ReviewMaxHighIssues    = 3
	ReviewMaxUnsureLocale  = 2
	UnsureLocaleConfidence = 0.9
)

// Score computes the per-category and overall scores. Timing issues count
// toward coherence. With the locale check disabled its score is 1.
func Score(issues []minutes.ValidationIssue, segments int, localeChecked bool) minutes.Scores {
	n := float64(segments)
	if n < 1 {
		n = 1
	}
	var g, l, c float64
	for _, i := range issues {
		switch {
		case i.Category == minutes.CategoryGrammar:
			g += grammarWeights.of(i.Severity)
		case i.Category.IsLocale():
			l += localeWeights.of(i.Severity)
		default:
			c += coherenceWeights.of(i.Severity)
		}
	}
	s := minutes.Scores{
		Grammar:   categoryScore(g, n),
		Locale:    categoryScore(l, n),
		Coherence: categoryScore(c, n),
	}
	if !localeChecked {
		s.Locale = 1
	}
	s.Overall = math.Min(1, 0.3*s.Grammar+0.4*s.Locale+0.3*s.Coherence)
	return s
}

func categoryScore(sum, n float64) float64 {
	return math.Max(0, 1-sum/n)
}

// decide fills the review flags and reasons.
func decide(r *minutes.ValidationReport, opts minutes.ProcessingConfig) {
	var reasons []string
	if opts.RequireHumanReview {
		reasons = append(reasons, "human review requested in processing options")
	}
	if r.Scores.Overall < ReviewOverallFloor {
		reasons = append(reasons, fmt.Sprintf("overall score %.2f below %.2f", r.Scores.Overall, ReviewOverallFloor))
	}
	if n := r.CountSeverity(minutes.SeverityCritical); n > 0 {
		reasons = append(reasons, fmt.Sprintf("%d critical issue(s)", n))
	}
	if n := r.CountSeverity(minutes.SeverityHigh); n > ReviewMaxHighIssues {
		reasons = append(reasons, fmt.Sprintf("%d high-severity issues", n))
	}
	unsure := 0
	for _, i := range r.Issues {
		if i.Category.IsLocale() && i.Confidence < UnsureLocaleConfidence {
			unsure++
		}
	}
	if unsure > ReviewMaxUnsureLocale {
		reasons = append(reasons, fmt.Sprintf("%d low-confidence locale corrections", unsure))
	}

	threshold := opts.AutoApprovalThreshold
	if threshold <= 0 {
		threshold = minutes.DefaultAutoApprovalThreshold
	}
	r.ReviewReasons = reasons
	r.RequiresHumanReview = len(reasons) > 0
	r.AutoApprovalEligible = !r.RequiresHumanReview && r.Scores.Overall >= threshold
}
