package scoring

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/opensource-finance/heron/internal/domain"
)

// strongApplicant fires the top rule of every group.
func strongApplicant() domain.ApplicantRecord {
	return domain.ApplicantRecord{
		Age:                40,
		Gender:             domain.GenderMale,
		Education:          domain.EducationMaster,
		AnnualIncome:       120000,
		EmploymentYears:    10,
		HomeOwnership:      domain.HomeOwn,
		LoanAmount:         18000,
		LoanIntent:         domain.IntentPersonal,
		LoanInterestRate:   11.5,
		LoanPercentIncome:  15,
		CreditHistoryYears: 12,
		CreditScore:        780,
		HasPriorDefault:    false,
	}
}

func mustEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewDefaultEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return e
}

func TestBuiltinRuleSetCompiles(t *testing.T) {
	e := mustEngine(t)

	active := e.Active()
	if active == nil || active.Version != BuiltinVersion {
		t.Fatalf("expected builtin rule set to be active, got %+v", active)
	}
	if len(active.Overrides) != 3 {
		t.Errorf("expected 3 overrides, got %d", len(active.Overrides))
	}
	if len(active.Groups) != 9 {
		t.Errorf("expected 9 signal groups, got %d", len(active.Groups))
	}
}

func TestScoreStrongApplicant(t *testing.T) {
	e := mustEngine(t)

	got, err := e.Score(strongApplicant())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if got.Score != 160 {
		t.Errorf("expected score 160, got %d", got.Score)
	}
	want := []string{
		"High income level",
		"Excellent credit score",
		"Optimal age range",
		"Extensive employment experience",
		"Clean loan history",
		"Home ownership",
		"Advanced education level",
		"Long credit history",
		"Low loan-to-income ratio",
	}
	if !reflect.DeepEqual(got.PositiveFactors, want) {
		t.Errorf("positive factors\n got %v\nwant %v", got.PositiveFactors, want)
	}
	if len(got.NegativeFactors) != 0 {
		t.Errorf("expected no negative factors, got %v", got.NegativeFactors)
	}
	if got.Overridden {
		t.Error("strong applicant should not be overridden")
	}
	if got.RuleSetVersion != BuiltinVersion {
		t.Errorf("expected version %s, got %s", BuiltinVersion, got.RuleSetVersion)
	}
}

func TestScoreWeakApplicant(t *testing.T) {
	e := mustEngine(t)

	rec := domain.ApplicantRecord{
		Age:                22,
		Gender:             domain.GenderFemale,
		Education:          domain.EducationHighSchool,
		AnnualIncome:       40000,
		EmploymentYears:    1,
		HomeOwnership:      domain.HomeRent,
		LoanAmount:         20000,
		LoanIntent:         domain.IntentVenture,
		LoanInterestRate:   15,
		LoanPercentIncome:  50,
		CreditHistoryYears: 2,
		CreditScore:        560,
	}

	got, err := e.Score(rec)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	// -10 +5 -5 -5 +20 -5 -15
	if got.Score != -15 {
		t.Errorf("expected score -15, got %d", got.Score)
	}
	wantPos := []string{"Fair credit score", "Clean loan history"}
	wantNeg := []string{
		"Lower income level",
		"Young age",
		"Limited employment experience",
		"Renting property",
		"High loan-to-income ratio",
	}
	if !reflect.DeepEqual(got.PositiveFactors, wantPos) {
		t.Errorf("positive factors\n got %v\nwant %v", got.PositiveFactors, wantPos)
	}
	if !reflect.DeepEqual(got.NegativeFactors, wantNeg) {
		t.Errorf("negative factors\n got %v\nwant %v", got.NegativeFactors, wantNeg)
	}
}

func TestOverrides(t *testing.T) {
	e := mustEngine(t)

	t.Run("PriorDefaultLowScore", func(t *testing.T) {
		rec := strongApplicant()
		rec.HasPriorDefault = true
		rec.CreditScore = 580

		got, err := e.Score(rec)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if !got.Overridden || got.Score != -50 {
			t.Errorf("expected forced rejection, got %+v", got)
		}
		if !reflect.DeepEqual(got.NegativeFactors, []string{"Prior default with credit score below 600"}) {
			t.Errorf("unexpected negative factors %v", got.NegativeFactors)
		}
		if len(got.PositiveFactors) != 0 {
			t.Errorf("override must clear positive factors, got %v", got.PositiveFactors)
		}
	})

	t.Run("PriorDefaultGoodScoreIsScored", func(t *testing.T) {
		rec := strongApplicant()
		rec.HasPriorDefault = true
		rec.CreditScore = 600

		got, _ := e.Score(rec)
		if got.Overridden {
			t.Error("credit score 600 should not trigger the default override")
		}
		// fair instead of excellent credit, defaulted instead of clean
		if got.Score != 160-20-45 {
			t.Errorf("unexpected score %d", got.Score)
		}
	})

	t.Run("AllOverridesInTableOrder", func(t *testing.T) {
		rec := strongApplicant()
		rec.Age = 19
		rec.AnnualIncome = 10000
		rec.LoanAmount = 20000
		rec.HasPriorDefault = true
		rec.CreditScore = 500

		got, _ := e.Score(rec)
		want := []string{
			"Prior default with credit score below 600",
			"Income lower than loan amount",
			"Applicant younger than 21",
		}
		if !reflect.DeepEqual(got.NegativeFactors, want) {
			t.Errorf("negative factors\n got %v\nwant %v", got.NegativeFactors, want)
		}
	})

	t.Run("IncomeEqualToLoanIsNotOverridden", func(t *testing.T) {
		rec := strongApplicant()
		rec.LoanAmount = rec.AnnualIncome

		got, _ := e.Score(rec)
		if got.Overridden {
			t.Error("income == loan should not be overridden")
		}
	})

	t.Run("Age21IsNotOverridden", func(t *testing.T) {
		rec := strongApplicant()
		rec.Age = 21

		got, _ := e.Score(rec)
		if got.Overridden {
			t.Error("age 21 should not be overridden")
		}
	})
}

func TestGroupBoundaries(t *testing.T) {
	e := mustEngine(t)

	tests := []struct {
		name   string
		mutate func(*domain.ApplicantRecord)
		delta  int // change from the strong applicant's 160
	}{
		{"income exactly 100000", func(r *domain.ApplicantRecord) { r.AnnualIncome = 100000 }, -10},
		{"income exactly 50000", func(r *domain.ApplicantRecord) { r.AnnualIncome = 50000; r.LoanAmount = 5000 }, -40},
		{"credit score 750", func(r *domain.ApplicantRecord) { r.CreditScore = 750 }, 0},
		{"credit score 749", func(r *domain.ApplicantRecord) { r.CreditScore = 749 }, -10},
		{"credit score 650", func(r *domain.ApplicantRecord) { r.CreditScore = 650 }, -10},
		{"credit score 550", func(r *domain.ApplicantRecord) { r.CreditScore = 550 }, -20},
		{"credit score 549", func(r *domain.ApplicantRecord) { r.CreditScore = 549 }, -45},
		{"age 25", func(r *domain.ApplicantRecord) { r.Age = 25 }, 0},
		{"age 55", func(r *domain.ApplicantRecord) { r.Age = 55 }, 0},
		{"age 56", func(r *domain.ApplicantRecord) { r.Age = 56 }, -15},
		{"age 24", func(r *domain.ApplicantRecord) { r.Age = 24 }, -20},
		{"employment 6", func(r *domain.ApplicantRecord) { r.EmploymentYears = 6 }, 0},
		{"employment 5", func(r *domain.ApplicantRecord) { r.EmploymentYears = 5 }, -5},
		{"employment 2", func(r *domain.ApplicantRecord) { r.EmploymentYears = 2 }, -5},
		{"employment 1", func(r *domain.ApplicantRecord) { r.EmploymentYears = 1 }, -20},
		{"mortgage", func(r *domain.ApplicantRecord) { r.HomeOwnership = domain.HomeMortgage }, -5},
		{"other housing", func(r *domain.ApplicantRecord) { r.HomeOwnership = domain.HomeOther }, -20},
		{"doctorate", func(r *domain.ApplicantRecord) { r.Education = domain.EducationDoctorate }, 0},
		{"bachelor", func(r *domain.ApplicantRecord) { r.Education = domain.EducationBachelor }, -5},
		{"associate", func(r *domain.ApplicantRecord) { r.Education = domain.EducationAssociate }, -15},
		{"history 11", func(r *domain.ApplicantRecord) { r.CreditHistoryYears = 11 }, 0},
		{"history 10", func(r *domain.ApplicantRecord) { r.CreditHistoryYears = 10 }, -5},
		{"history 5", func(r *domain.ApplicantRecord) { r.CreditHistoryYears = 5 }, -5},
		{"history 4", func(r *domain.ApplicantRecord) { r.CreditHistoryYears = 4 }, -15},
		{"lti 20", func(r *domain.ApplicantRecord) { r.LoanPercentIncome = 20 }, -10},
		{"lti 40", func(r *domain.ApplicantRecord) { r.LoanPercentIncome = 40 }, -10},
		{"lti 41", func(r *domain.ApplicantRecord) { r.LoanPercentIncome = 41 }, -25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := strongApplicant()
			tt.mutate(&rec)

			got, err := e.Score(rec)
			if err != nil {
				t.Fatalf("Score failed: %v", err)
			}
			if got.Score != 160+tt.delta {
				t.Errorf("expected score %d, got %d", 160+tt.delta, got.Score)
			}
		})
	}
}

func TestRuleSetValidation(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	group := func(rules ...domain.ScoringRule) domain.SignalGroup {
		return domain.SignalGroup{ID: "g", Rules: rules}
	}

	tests := []struct {
		name string
		rs   *domain.RuleSet
	}{
		{"nil", nil},
		{"no version", &domain.RuleSet{Groups: []domain.SignalGroup{group(domain.ScoringRule{ID: "r", Expression: "true"})}}},
		{"no groups", &domain.RuleSet{Version: "x"}},
		{"empty group", &domain.RuleSet{Version: "x", Groups: []domain.SignalGroup{{ID: "g"}}}},
		{"non-bool expression", &domain.RuleSet{Version: "x", Groups: []domain.SignalGroup{
			group(domain.ScoringRule{ID: "r", Expression: "income + 1.0", Weight: 5}),
		}}},
		{"syntax error", &domain.RuleSet{Version: "x", Groups: []domain.SignalGroup{
			group(domain.ScoringRule{ID: "r", Expression: "this is not valid CEL !!!"}),
		}}},
		{"unknown variable", &domain.RuleSet{Version: "x", Groups: []domain.SignalGroup{
			group(domain.ScoringRule{ID: "r", Expression: "salary > 10.0"}),
		}}},
		{"duplicate group", &domain.RuleSet{Version: "x", Groups: []domain.SignalGroup{
			group(domain.ScoringRule{ID: "r", Expression: "true"}),
			group(domain.ScoringRule{ID: "r", Expression: "true"}),
		}}},
		{"duplicate rule", &domain.RuleSet{Version: "x", Groups: []domain.SignalGroup{
			group(domain.ScoringRule{ID: "r", Expression: "true"}, domain.ScoringRule{ID: "r", Expression: "false"}),
		}}},
		{"override without label", &domain.RuleSet{Version: "x",
			Overrides: []domain.OverrideRule{{ID: "o", Expression: "age < 18"}},
			Groups:    []domain.SignalGroup{group(domain.ScoringRule{ID: "r", Expression: "true"})},
		}},
		{"non-bool override", &domain.RuleSet{Version: "x",
			Overrides: []domain.OverrideRule{{ID: "o", Expression: "age", Label: "l"}},
			Groups:    []domain.SignalGroup{group(domain.ScoringRule{ID: "r", Expression: "true"})},
		}},
		{"missing forced score", withForcedScore(0)},
		{"positive forced score", withForcedScore(60)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Validate(tt.rs)
			if !errors.Is(err, ErrInvalidRuleSet) {
				t.Errorf("expected ErrInvalidRuleSet, got %v", err)
			}
		})
	}
}

func withForcedScore(score int) *domain.RuleSet {
	rs := BuiltinRuleSet()
	rs.Version = "v2"
	rs.ForcedScore = score
	return rs
}

func TestForcedScoreWithoutOverrides(t *testing.T) {
	e := mustEngine(t)

	rs := withForcedScore(0)
	rs.Overrides = nil
	if err := e.Validate(rs); err != nil {
		t.Errorf("forcedScore is unused without overrides, got %v", err)
	}
}

func TestActivateKeepsPreviousOnError(t *testing.T) {
	e := mustEngine(t)

	bad := &domain.RuleSet{Version: "broken", Groups: []domain.SignalGroup{
		{ID: "g", Rules: []domain.ScoringRule{{ID: "r", Expression: "credit_score"}}},
	}}
	if err := e.Activate(bad); err == nil {
		t.Fatal("expected activation of a non-bool rule set to fail")
	}

	if v := e.Active().Version; v != BuiltinVersion {
		t.Errorf("expected %s to remain active, got %s", BuiltinVersion, v)
	}
}

func TestScoreWithoutActiveRuleSet(t *testing.T) {
	e, _ := NewEngine()

	_, err := e.Score(strongApplicant())
	if !errors.Is(err, ErrNoActiveRuleSet) {
		t.Errorf("expected ErrNoActiveRuleSet, got %v", err)
	}
}

func TestScoreEvaluationError(t *testing.T) {
	e, _ := NewEngine()

	rs := &domain.RuleSet{Version: "div", Groups: []domain.SignalGroup{
		{ID: "g", Rules: []domain.ScoringRule{{ID: "r", Expression: "credit_score / (age - age) > 1", Weight: 1}}},
	}}
	if err := e.Activate(rs); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	if _, err := e.Score(strongApplicant()); err == nil {
		t.Error("expected runtime evaluation error")
	}
}

func TestUnlabelledAndZeroWeightRules(t *testing.T) {
	e, _ := NewEngine()

	rs := &domain.RuleSet{Version: "quiet", Groups: []domain.SignalGroup{
		{ID: "silent", Rules: []domain.ScoringRule{{ID: "r", Expression: "true", Weight: 7}}},
		{ID: "neutral", Rules: []domain.ScoringRule{{ID: "r", Expression: "true", Weight: 0, Label: "Neutral"}}},
	}}
	if err := e.Activate(rs); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	got, err := e.Score(strongApplicant())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if got.Score != 7 {
		t.Errorf("expected score 7, got %d", got.Score)
	}
	if len(got.PositiveFactors) != 0 || len(got.NegativeFactors) != 0 {
		t.Errorf("expected no factors, got %v / %v", got.PositiveFactors, got.NegativeFactors)
	}
	if got.PositiveFactors == nil || got.NegativeFactors == nil {
		t.Error("factor slices must be non-nil")
	}
}

func TestConcurrentScoreAndActivate(t *testing.T) {
	e := mustEngine(t)
	alt := BuiltinRuleSet()
	alt.Version = "v1-copy"

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			got, err := e.Score(strongApplicant())
			if err != nil {
				t.Errorf("Score failed: %v", err)
				return
			}
			if got.Score != 160 {
				t.Errorf("expected 160 from either rule set, got %d", got.Score)
			}
		}()
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = e.Activate(alt)
			} else {
				_ = e.Activate(BuiltinRuleSet())
			}
		}(i)
	}
	wg.Wait()
}
