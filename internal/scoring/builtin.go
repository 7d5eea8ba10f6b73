package scoring

import "github.com/opensource-finance/heron/internal/domain"

// BuiltinVersion is the version of the rule set compiled into the binary.
const BuiltinVersion = "v1"

// BuiltinRuleSet returns the default scoring table.
// Each call returns a fresh copy.
func BuiltinRuleSet() *domain.RuleSet {
	return &domain.RuleSet{
		Version:     BuiltinVersion,
		Name:        "Default credit heuristic",
		Description: "Additive weights over income, credit score, age, employment, default history, housing, education, credit history and loan-to-income, with hard rejection overrides.",
		ForcedScore: -50,
		Overrides: []domain.OverrideRule{
			{ID: "default-low-score", Expression: "prior_default && credit_score < 600", Label: "Prior default with credit score below 600"},
			{ID: "income-below-loan", Expression: "income < loan_amount", Label: "Income lower than loan amount"},
			{ID: "underage", Expression: "age < 21", Label: "Applicant younger than 21"},
		},
		Groups: []domain.SignalGroup{
			{ID: "income", Name: "Income", Rules: []domain.ScoringRule{
				{ID: "high", Expression: "income > 100000.0", Weight: 30, Label: "High income level"},
				{ID: "stable", Expression: "income > 50000.0", Weight: 20, Label: "Stable income level"},
				{ID: "low", Expression: "true", Weight: -10, Label: "Lower income level"},
			}},
			{ID: "credit-score", Name: "Credit score", Rules: []domain.ScoringRule{
				{ID: "excellent", Expression: "credit_score >= 750", Weight: 25, Label: "Excellent credit score"},
				{ID: "good", Expression: "credit_score >= 650", Weight: 15, Label: "Good credit score"},
				{ID: "fair", Expression: "credit_score >= 550", Weight: 5, Label: "Fair credit score"},
				{ID: "poor", Expression: "true", Weight: -20, Label: "Poor credit score"},
			}},
			{ID: "age", Name: "Age", Rules: []domain.ScoringRule{
				{ID: "optimal", Expression: "age >= 25 && age <= 55", Weight: 15, Label: "Optimal age range"},
				{ID: "young", Expression: "age < 25", Weight: -5, Label: "Young age"},
			}},
			{ID: "employment", Name: "Employment", Rules: []domain.ScoringRule{
				{ID: "extensive", Expression: "employment_years > 5", Weight: 15, Label: "Extensive employment experience"},
				{ID: "good", Expression: "employment_years >= 2", Weight: 10, Label: "Good employment experience"},
				{ID: "limited", Expression: "true", Weight: -5, Label: "Limited employment experience"},
			}},
			{ID: "prior-default", Name: "Prior default", Rules: []domain.ScoringRule{
				{ID: "defaulted", Expression: "prior_default", Weight: -25, Label: "History of loan defaults"},
				{ID: "clean", Expression: "true", Weight: 20, Label: "Clean loan history"},
			}},
			{ID: "home", Name: "Home ownership", Rules: []domain.ScoringRule{
				{ID: "own", Expression: "home_ownership == 'OWN'", Weight: 15, Label: "Home ownership"},
				{ID: "mortgage", Expression: "home_ownership == 'MORTGAGE'", Weight: 10, Label: "Mortgage holder"},
				{ID: "rent", Expression: "true", Weight: -5, Label: "Renting property"},
			}},
			{ID: "education", Name: "Education", Rules: []domain.ScoringRule{
				{ID: "advanced", Expression: "education in ['Master', 'Doctorate']", Weight: 15, Label: "Advanced education level"},
				{ID: "higher", Expression: "education == 'Bachelor'", Weight: 10, Label: "Higher education level"},
			}},
			{ID: "credit-history", Name: "Credit history", Rules: []domain.ScoringRule{
				{ID: "long", Expression: "credit_history_years > 10", Weight: 15, Label: "Long credit history"},
				{ID: "good", Expression: "credit_history_years >= 5", Weight: 10, Label: "Good credit history length"},
			}},
			{ID: "loan-to-income", Name: "Loan to income", Rules: []domain.ScoringRule{
				{ID: "low", Expression: "loan_percent_income < 20.0", Weight: 10, Label: "Low loan-to-income ratio"},
				{ID: "high", Expression: "loan_percent_income > 40.0", Weight: -15, Label: "High loan-to-income ratio"},
			}},
		},
	}
}
