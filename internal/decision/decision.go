// Package decision maps scores and probabilities onto a classification,
// risk tier and recommended credit limit.
package decision

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/heron/internal/domain"
)

// Decision is the outcome of mapping a probability.
type Decision struct {
	Classification domain.Classification `json:"classification"`
	Probability    int                   `json:"approvalProbability"`
	RiskLevel      domain.RiskLevel      `json:"riskLevel"`
	CreditLimit    int64                 `json:"recommendedCreditLimit"`
}

// Mapper holds the decision thresholds. The zero value is not usable; use NewMapper.
type Mapper struct {
	// ScoreOffset is added to a heuristic score to obtain a probability.
	ScoreOffset int

	// Probability at or above which an application is approved.
	ApproveThreshold int

	// Approved applications at or above this probability are low risk.
	LowRiskThreshold int

	// Probability at or above which an unapproved application goes to review.
	ReviewThreshold int

	// Fraction of annual income offered as credit, rounded to LimitStep.
	CreditLimitRate decimal.Decimal
	LimitStep       int64
}

// NewMapper returns a mapper with the default thresholds.
func NewMapper() *Mapper {
	return &Mapper{
		ScoreOffset:      50,
		ApproveThreshold: 70,
		LowRiskThreshold: 85,
		ReviewThreshold:  40,
		CreditLimitRate:  decimal.RequireFromString("0.3"),
		LimitStep:        1000,
	}
}

// FromScore maps a heuristic score. probability = clamp(score+offset, 0, 100).
func (m *Mapper) FromScore(score int, annualIncome float64) Decision {
	return m.FromProbability(score+m.ScoreOffset, annualIncome)
}

// FromProbability maps an approval probability in percent.
// Out-of-range inputs are clamped.
func (m *Mapper) FromProbability(probability int, annualIncome float64) Decision {
	p := clamp(probability, 0, 100)

	d := Decision{Probability: p}
	switch {
	case p >= m.ApproveThreshold:
		d.Classification = domain.ClassificationApproved
		d.RiskLevel = domain.RiskMedium
		if p >= m.LowRiskThreshold {
			d.RiskLevel = domain.RiskLow
		}
		d.CreditLimit = m.CreditLimit(annualIncome)
	case p >= m.ReviewThreshold:
		d.Classification = domain.ClassificationManualReview
		d.RiskLevel = domain.RiskMedium
	default:
		d.Classification = domain.ClassificationRejected
		d.RiskLevel = domain.RiskHigh
	}
	return d
}

// Forced maps the score of an application rejected by an override.
// The result is always rejected with no credit; the probability is kept
// below the review threshold whatever the score.
func (m *Mapper) Forced(score int) Decision {
	return Decision{
		Classification: domain.ClassificationRejected,
		Probability:    clamp(score+m.ScoreOffset, 0, max(m.ReviewThreshold-1, 0)),
		RiskLevel:      domain.RiskHigh,
	}
}

// CreditLimit returns income × rate rounded half away from zero to the
// nearest LimitStep. Negative incomes yield zero.
func (m *Mapper) CreditLimit(annualIncome float64) int64 {
	if annualIncome <= 0 || m.LimitStep <= 0 {
		return 0
	}
	step := decimal.NewFromInt(m.LimitStep)
	return decimal.NewFromFloat(annualIncome).
		Mul(m.CreditLimitRate).
		Div(step).
		Round(0).
		Mul(step).
		IntPart()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
