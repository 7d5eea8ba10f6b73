package normalize

import (
	"strings"

	"github.com/opensource-finance/heron/internal/domain"
)

// fieldSpec is one applicant attribute and the names it may arrive under.
type fieldSpec struct {
	wire    string
	aliases []string
}

var (
	fieldAge           = fieldSpec{"person_age", []string{"age"}}
	fieldGender        = fieldSpec{"person_gender", []string{"gender"}}
	fieldEducation     = fieldSpec{"person_education", []string{"education"}}
	fieldIncome        = fieldSpec{"person_income", []string{"annualIncome", "income"}}
	fieldEmployment    = fieldSpec{"person_emp_exp", []string{"employmentYears", "employmentExperience", "empExp"}}
	fieldHome          = fieldSpec{"person_home_ownership", []string{"homeOwnership"}}
	fieldLoanAmount    = fieldSpec{"loan_amnt", []string{"loanAmount", "loanAmnt"}}
	fieldIntent        = fieldSpec{"loan_intent", []string{"loanIntent", "intent"}}
	fieldInterestRate  = fieldSpec{"loan_int_rate", []string{"loanInterestRate", "interestRate"}}
	fieldPercentIncome = fieldSpec{"loan_percent_income", []string{"loanPercentIncome", "loanToIncome"}}
	fieldHistory       = fieldSpec{"cb_person_cred_hist_length", []string{"creditHistoryYears", "creditHistoryLength"}}
	fieldCreditScore   = fieldSpec{"credit_score", []string{"creditScore"}}
	fieldPriorDefault  = fieldSpec{"previous_loan_defaults_on_file", []string{"hasPriorDefault", "priorDefault", "previousLoanDefaults"}}
)

// canonKey folds a key for matching: lower case, no '_', '-' or spaces.
func canonKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch r {
		case '_', '-', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func enumTable[T ~string](values []T, extra map[string]T) map[string]T {
	tbl := make(map[string]T, len(values)+len(extra))
	for _, v := range values {
		tbl[canonKey(string(v))] = v
	}
	for k, v := range extra {
		tbl[canonKey(k)] = v
	}
	return tbl
}

var (
	genders = enumTable(domain.Genders, map[string]domain.Gender{
		"f": domain.GenderFemale,
		"m": domain.GenderMale,
	})
	educations     = enumTable(domain.Educations, nil)
	homeOwnerships = enumTable(domain.HomeOwnerships, nil)
	loanIntents    = enumTable(domain.LoanIntents, nil)
)
