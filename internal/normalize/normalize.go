// Package normalize turns loosely typed applicant input into a validated
// domain.ApplicantRecord.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/opensource-finance/heron/internal/domain"
)

// Normalizer validates and canonicalizes raw applicant records.
// It is safe for concurrent use.
type Normalizer struct {
	validate *validator.Validate
}

// New creates a Normalizer.
func New() *Normalizer {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Normalizer{validate: v}
}

var defaultNormalizer = New()

// Normalize uses a package-level Normalizer.
func Normalize(raw map[string]any) (domain.ApplicantRecord, error) {
	return defaultNormalizer.Normalize(raw)
}

// Normalize converts a raw record into an ApplicantRecord.
//
// Keys are matched ignoring case, '_' and '-', so both dataset names
// (person_income) and camelCase names (annualIncome) are accepted. Numbers
// may arrive as JSON numbers or numeric strings. loan_percent_income may be
// "25%" and is derived from loan amount and income when absent.
func (n *Normalizer) Normalize(raw map[string]any) (domain.ApplicantRecord, error) {
	var rec domain.ApplicantRecord
	if len(raw) == 0 {
		return rec, &ValidationError{Field: "record", Reason: "is empty"}
	}

	r := newReader(raw)
	rec.Age = r.integer(fieldAge)
	rec.Gender = enum(r, fieldGender, genders)
	rec.Education = enum(r, fieldEducation, educations)
	rec.AnnualIncome = r.number(fieldIncome)
	rec.EmploymentYears = r.integer(fieldEmployment)
	rec.HomeOwnership = enum(r, fieldHome, homeOwnerships)
	rec.LoanAmount = r.number(fieldLoanAmount)
	rec.LoanIntent = enum(r, fieldIntent, loanIntents)
	rec.LoanInterestRate = r.number(fieldInterestRate)
	rec.LoanPercentIncome = r.percentIncome(rec.LoanAmount, rec.AnnualIncome)
	rec.CreditHistoryYears = r.integer(fieldHistory)
	rec.CreditScore = r.integer(fieldCreditScore)
	rec.HasPriorDefault = r.flag(fieldPriorDefault)
	if r.err != nil {
		return domain.ApplicantRecord{}, r.err
	}

	if err := n.validate.Struct(rec); err != nil {
		return domain.ApplicantRecord{}, translate(err)
	}
	return rec, nil
}

// reader extracts fields from a raw record, keeping the first failure.
// Once err is set every accessor returns a zero value.
type reader struct {
	vals map[string]any
	err  *ValidationError
}

func newReader(raw map[string]any) *reader {
	vals := make(map[string]any, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		vals[canonKey(k)] = v
	}
	return &reader{vals: vals}
}

func (r *reader) fail(f fieldSpec, format string, args ...any) {
	if r.err == nil {
		r.err = &ValidationError{Field: f.wire, Reason: fmt.Sprintf(format, args...)}
	}
}

func (r *reader) lookup(f fieldSpec) (any, bool) {
	if v, ok := r.vals[canonKey(f.wire)]; ok {
		return v, true
	}
	for _, alias := range f.aliases {
		if v, ok := r.vals[canonKey(alias)]; ok {
			return v, true
		}
	}
	return nil, false
}

func (r *reader) require(f fieldSpec) (any, bool) {
	if r.err != nil {
		return nil, false
	}
	v, ok := r.lookup(f)
	if !ok {
		r.fail(f, "is required")
		return nil, false
	}
	return v, true
}

func (r *reader) number(f fieldSpec) float64 {
	v, ok := r.require(f)
	if !ok {
		return 0
	}
	x, err := toFloat(v)
	if err != nil {
		r.fail(f, "%v", err)
		return 0
	}
	if x < 0 {
		r.fail(f, "must not be negative")
		return 0
	}
	return x
}

func (r *reader) integer(f fieldSpec) int {
	x := r.number(f)
	if r.err != nil {
		return 0
	}
	if x != math.Trunc(x) {
		r.fail(f, "must be a whole number")
		return 0
	}
	if x > math.MaxInt32 {
		r.fail(f, "is out of range")
		return 0
	}
	return int(x)
}

func (r *reader) text(f fieldSpec) string {
	v, ok := r.require(f)
	if !ok {
		return ""
	}
	s, isString := v.(string)
	if !isString {
		r.fail(f, "must be a string")
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" {
		r.fail(f, "is required")
	}
	return s
}

// percentIncome reads loan_percent_income as a 0-100 value, deriving it
// from loan amount and income when the field is absent.
func (r *reader) percentIncome(loanAmount, income float64) float64 {
	if r.err != nil {
		return 0
	}
	f := fieldPercentIncome
	v, ok := r.lookup(f)
	if !ok {
		if income <= 0 {
			r.fail(f, "is required when income is zero")
			return 0
		}
		// Saturate so that loans above income reach the override rules
		// instead of failing range validation.
		return math.Min(loanAmount/income*100, 100)
	}

	if s, isString := v.(string); isString {
		v = strings.TrimSuffix(strings.TrimSpace(s), "%")
	}
	x, err := toFloat(v)
	if err != nil {
		r.fail(f, "%v", err)
		return 0
	}
	if x < 0 {
		r.fail(f, "must not be negative")
		return 0
	}
	return x
}

func (r *reader) flag(f fieldSpec) domain.YesNo {
	v, ok := r.require(f)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return domain.YesNo(t)
	case string:
		yn, ok := domain.ParseYesNo(t)
		if !ok {
			r.fail(f, "must be Yes or No")
		}
		return yn
	default:
		x, err := toFloat(v)
		if err != nil || (x != 0 && x != 1) {
			r.fail(f, "must be Yes or No")
			return false
		}
		return x == 1
	}
}

func enum[T ~string](r *reader, f fieldSpec, table map[string]T) T {
	s := r.text(f)
	if r.err != nil {
		return ""
	}
	v, ok := table[canonKey(s)]
	if !ok {
		r.fail(f, "unsupported value %q", s)
		return ""
	}
	return v
}

var errNotNumber = errors.New("must be a number")

func toFloat(v any) (float64, error) {
	var x float64
	switch t := v.(type) {
	case float64:
		x = t
	case float32:
		x = float64(t)
	case int:
		x = float64(t)
	case int32:
		x = float64(t)
	case int64:
		x = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, errNotNumber
		}
		x = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errNotNumber
		}
		x = f
	default:
		return 0, errNotNumber
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, errors.New("must be finite")
	}
	return x, nil
}

// translate converts validator errors into a ValidationError for the first
// failing field.
func translate(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	fe := verrs[0]
	var reason string
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "gte":
		reason = "must be at least " + fe.Param()
	case "lte":
		reason = "must be at most " + fe.Param()
	case "oneof":
		reason = "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		reason = "failed " + fe.Tag() + " check"
	}
	return &ValidationError{Field: fe.Field(), Reason: reason}
}
