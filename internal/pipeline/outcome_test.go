package pipeline

import (
	"testing"

	"github.com/opensource-finance/heron/internal/decision"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/remote"
)

func TestAssemble(t *testing.T) {
	m := decision.NewMapper()

	t.Run("Heuristic", func(t *testing.T) {
		b := domain.ScoreBreakdown{
			Score:           25,
			PositiveFactors: []string{"Good credit score", "Homeowner"},
			NegativeFactors: []string{"High loan-to-income ratio"},
			RuleSetVersion:  "v1",
		}
		res, err := Assemble(HeuristicOutcome{Breakdown: b, AnnualIncome: 50000, RemoteFailure: "timeout"}, m)
		if err != nil {
			t.Fatalf("Assemble: %v", err)
		}
		if res.ApprovalProbability != 75 || res.Classification != domain.ClassificationApproved {
			t.Errorf("unexpected decision: %+v", res)
		}
		if res.RecommendedCreditLimit != 15000 {
			t.Errorf("expected limit 15000, got %d", res.RecommendedCreditLimit)
		}
		if len(res.PositiveFactors) != 2 || res.PositiveFactors[0] != "Good credit score" {
			t.Errorf("factor order not preserved: %v", res.PositiveFactors)
		}
		if res.RemoteFailure != "timeout" || res.RuleSetVersion != "v1" {
			t.Errorf("diagnostics lost: %+v", res)
		}

		// The result owns its slices.
		b.PositiveFactors[0] = "mutated"
		if res.PositiveFactors[0] != "Good credit score" {
			t.Error("assembled factors alias the breakdown")
		}
	})

	t.Run("OverriddenIgnoresForcedScore", func(t *testing.T) {
		for _, score := range []int{-50, 0, 60} {
			b := domain.ScoreBreakdown{
				Score:           score,
				Overridden:      true,
				PositiveFactors: []string{},
				NegativeFactors: []string{"Applicant younger than 21"},
			}
			res, err := Assemble(HeuristicOutcome{Breakdown: b, AnnualIncome: 90000}, m)
			if err != nil {
				t.Fatalf("Assemble: %v", err)
			}
			if res.Classification != domain.ClassificationRejected || res.RiskLevel != domain.RiskHigh {
				t.Errorf("score %d: expected rejected/high, got %s/%s", score, res.Classification, res.RiskLevel)
			}
			if res.RecommendedCreditLimit != 0 {
				t.Errorf("score %d: expected no credit limit, got %d", score, res.RecommendedCreditLimit)
			}
			if res.ApprovalProbability >= m.ReviewThreshold {
				t.Errorf("score %d: probability %d reaches the review band", score, res.ApprovalProbability)
			}
			if res.Score == nil || *res.Score != score {
				t.Errorf("score %d: expected score to be reported, got %v", score, res.Score)
			}
		}
	})

	t.Run("Remote", func(t *testing.T) {
		res, err := Assemble(RemoteOutcome{Prediction: remote.Prediction{ApprovalProbability: 0.556}, AnnualIncome: 80000}, m)
		if err != nil {
			t.Fatalf("Assemble: %v", err)
		}
		if res.ApprovalProbability != 56 || res.Classification != domain.ClassificationManualReview {
			t.Errorf("unexpected decision: %+v", res)
		}
		if res.SourceStage != domain.StageRemote {
			t.Errorf("expected remote stage, got %s", res.SourceStage)
		}
	})

	t.Run("Default", func(t *testing.T) {
		res, err := Assemble(DefaultOutcome{}, m)
		if err != nil {
			t.Fatalf("Assemble: %v", err)
		}
		if res.SourceStage != domain.StageDefault || res.Classification != domain.ClassificationRejected {
			t.Errorf("unexpected default result: %+v", res)
		}
	})

	t.Run("Nil", func(t *testing.T) {
		if _, err := Assemble(nil, m); err == nil {
			t.Error("expected error for nil outcome")
		}
	})
}
