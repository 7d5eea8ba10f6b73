package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Gender of the applicant as recorded in the upstream dataset.
type Gender string

const (
	GenderFemale Gender = "female"
	GenderMale   Gender = "male"
)

// Education is the applicant's highest completed education level.
type Education string

const (
	EducationHighSchool Education = "HighSchool"
	EducationBachelor   Education = "Bachelor"
	EducationAssociate  Education = "Associate"
	EducationMaster     Education = "Master"
	EducationDoctorate  Education = "Doctorate"
)

// HomeOwnership describes the applicant's housing situation.
type HomeOwnership string

const (
	HomeRent     HomeOwnership = "RENT"
	HomeOwn      HomeOwnership = "OWN"
	HomeMortgage HomeOwnership = "MORTGAGE"
	HomeOther    HomeOwnership = "OTHER"
)

// LoanIntent is the declared purpose of the loan.
type LoanIntent string

const (
	IntentPersonal          LoanIntent = "PERSONAL"
	IntentEducation         LoanIntent = "EDUCATION"
	IntentMedical           LoanIntent = "MEDICAL"
	IntentVenture           LoanIntent = "VENTURE"
	IntentHomeImprovement   LoanIntent = "HOMEIMPROVEMENT"
	IntentDebtConsolidation LoanIntent = "DEBTCONSOLIDATION"
)

// Genders, Educations, HomeOwnerships and LoanIntents list the accepted values
// in canonical order.
var (
	Genders        = []Gender{GenderFemale, GenderMale}
	Educations     = []Education{EducationHighSchool, EducationBachelor, EducationAssociate, EducationMaster, EducationDoctorate}
	HomeOwnerships = []HomeOwnership{HomeRent, HomeOwn, HomeMortgage, HomeOther}
	LoanIntents    = []LoanIntent{IntentPersonal, IntentEducation, IntentMedical, IntentVenture, IntentHomeImprovement, IntentDebtConsolidation}
)

// ApplicantRecord is a normalized loan application.
// JSON names follow the upstream loan dataset, which is also the body
// format expected by the remote scoring service.
type ApplicantRecord struct {
	Age                int           `json:"person_age" validate:"gte=0"`
	Gender             Gender        `json:"person_gender" validate:"required,oneof=female male"`
	Education          Education     `json:"person_education" validate:"required,oneof=HighSchool Bachelor Associate Master Doctorate"`
	AnnualIncome       float64       `json:"person_income" validate:"gte=0"`
	EmploymentYears    int           `json:"person_emp_exp" validate:"gte=0"`
	HomeOwnership      HomeOwnership `json:"person_home_ownership" validate:"required,oneof=RENT OWN MORTGAGE OTHER"`
	LoanAmount         float64       `json:"loan_amnt" validate:"gte=0"`
	LoanIntent         LoanIntent    `json:"loan_intent" validate:"required,oneof=PERSONAL EDUCATION MEDICAL VENTURE HOMEIMPROVEMENT DEBTCONSOLIDATION"`
	LoanInterestRate   float64       `json:"loan_int_rate" validate:"gte=0"`
	LoanPercentIncome  float64       `json:"loan_percent_income" validate:"gte=0,lte=100"`
	CreditHistoryYears int           `json:"cb_person_cred_hist_length" validate:"gte=0"`
	CreditScore        int           `json:"credit_score" validate:"gte=390,lte=850"`
	HasPriorDefault    YesNo         `json:"previous_loan_defaults_on_file"`
}

// YesNo is a boolean that travels as "Yes"/"No" on the wire.
type YesNo bool

// MarshalJSON implements json.Marshaler.
func (y YesNo) MarshalJSON() ([]byte, error) {
	if y {
		return []byte(`"Yes"`), nil
	}
	return []byte(`"No"`), nil
}

// UnmarshalJSON accepts "Yes"/"No", "true"/"false" and JSON booleans.
func (y *YesNo) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*y = YesNo(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("yes/no value must be a string or boolean: %w", err)
	}
	v, ok := ParseYesNo(s)
	if !ok {
		return fmt.Errorf("invalid yes/no value %q", s)
	}
	*y = v
	return nil
}

// ParseYesNo interprets the textual forms of a yes/no flag.
func ParseYesNo(s string) (YesNo, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true":
		return true, true
	case "no", "n", "false":
		return false, true
	}
	return false, false
}
