package pipeline

import (
	"fmt"

	"github.com/opensource-finance/heron/internal/decision"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/remote"
)

// DefaultFactor is the only factor reported for a default-stage result.
const DefaultFactor = "Application could not be evaluated"

// Outcome is the payload of the stage that produced a decision.
// It is implemented only by RemoteOutcome, HeuristicOutcome and DefaultOutcome.
type Outcome interface {
	Stage() domain.Stage
	outcome()
}

// RemoteOutcome carries the remote scorer's verdict.
type RemoteOutcome struct {
	Prediction   remote.Prediction
	AnnualIncome float64
}

// HeuristicOutcome carries the local score breakdown. RemoteFailure is the
// failure code of the remote attempt, empty when the remote stage was disabled.
type HeuristicOutcome struct {
	Breakdown     domain.ScoreBreakdown
	AnnualIncome  float64
	RemoteFailure string
}

// DefaultOutcome is produced when the input could not be normalized.
type DefaultOutcome struct {
	Reason error
}

func (RemoteOutcome) Stage() domain.Stage    { return domain.StageRemote }
func (HeuristicOutcome) Stage() domain.Stage { return domain.StageHeuristic }
func (DefaultOutcome) Stage() domain.Stage   { return domain.StageDefault }

func (RemoteOutcome) outcome()    {}
func (HeuristicOutcome) outcome() {}
func (DefaultOutcome) outcome()   {}

// Assemble builds the response for an outcome.
func Assemble(o Outcome, m *decision.Mapper) (*domain.PredictionResult, error) {
	switch o := o.(type) {
	case RemoteOutcome:
		d := m.FromProbability(o.Prediction.Percent(), o.AnnualIncome)
		return fromDecision(d, domain.StageRemote, []string{}, []string{}), nil

	case HeuristicOutcome:
		d := m.FromScore(o.Breakdown.Score, o.AnnualIncome)
		if o.Breakdown.Overridden {
			d = m.Forced(o.Breakdown.Score)
		}
		res := fromDecision(d, domain.StageHeuristic,
			copyFactors(o.Breakdown.PositiveFactors),
			copyFactors(o.Breakdown.NegativeFactors),
		)
		score := o.Breakdown.Score
		res.Score = &score
		res.RuleSetVersion = o.Breakdown.RuleSetVersion
		res.RemoteFailure = o.RemoteFailure
		return res, nil

	case DefaultOutcome:
		return &domain.PredictionResult{
			Classification:         domain.ClassificationRejected,
			ApprovalProbability:    0,
			RiskLevel:              domain.RiskHigh,
			RecommendedCreditLimit: 0,
			PositiveFactors:        []string{},
			NegativeFactors:        []string{DefaultFactor},
			SourceStage:            domain.StageDefault,
		}, nil
	}
	return nil, fmt.Errorf("unknown outcome %T", o)
}

func fromDecision(d decision.Decision, stage domain.Stage, pos, neg []string) *domain.PredictionResult {
	return &domain.PredictionResult{
		Classification:         d.Classification,
		ApprovalProbability:    d.Probability,
		RiskLevel:              d.RiskLevel,
		RecommendedCreditLimit: d.CreditLimit,
		PositiveFactors:        pos,
		NegativeFactors:        neg,
		SourceStage:            stage,
	}
}

func copyFactors(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
