package domain

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Application is a loan application as submitted by the caller.
// It is treated as immutable once validated.
type Application struct {
	PersonAge                  int     `json:"person_age"`
	PersonGender               string  `json:"person_gender"`
	PersonEducation            string  `json:"person_education"`
	PersonIncome               float64 `json:"person_income"`
	PersonEmpExp               int     `json:"person_emp_exp"`
	PersonHomeOwnership        string  `json:"person_home_ownership"`
	LoanAmount                 float64 `json:"loan_amnt"`
	LoanIntent                 string  `json:"loan_intent"`
	CreditHistoryLength        int     `json:"cb_person_cred_hist_length"`
	CreditScore                int     `json:"credit_score"`
	PreviousLoanDefaultsOnFile string  `json:"previous_loan_defaults_on_file"`
}

// Field names used on the wire, by the encoder artifact and by risk rules.
const (
	FieldAge                 = "person_age"
	FieldGender              = "person_gender"
	FieldEducation           = "person_education"
	FieldIncome              = "person_income"
	FieldEmpExp              = "person_emp_exp"
	FieldHomeOwnership       = "person_home_ownership"
	FieldLoanAmount          = "loan_amnt"
	FieldLoanIntent          = "loan_intent"
	FieldLoanPercentIncome   = "loan_percent_income"
	FieldCreditHistoryLength = "cb_person_cred_hist_length"
	FieldCreditScore         = "credit_score"
	FieldPreviousDefaults    = "previous_loan_defaults_on_file"
)

// Domains lists the accepted values of each categorical field, sorted the
// way the encoder sorts its categories.
var Domains = map[string][]string{
	FieldGender:           {"female", "male"},
	FieldEducation:        {"Associate", "Bachelor", "Doctorate", "High School", "Master"},
	FieldHomeOwnership:    {"MORTGAGE", "OTHER", "OWN", "RENT"},
	FieldLoanIntent:       {"DEBTCONSOLIDATION", "EDUCATION", "HOMEIMPROVEMENT", "MEDICAL", "PERSONAL", "VENTURE"},
	FieldPreviousDefaults: {"No", "Yes"},
}

// LoanPercentIncome is the derived debt-to-income ratio.
func (a *Application) LoanPercentIncome() float64 {
	return a.LoanAmount / a.PersonIncome
}

// HasPreviousDefaults reports whether a prior default is on file.
func (a *Application) HasPreviousDefaults() bool {
	return a.PreviousLoanDefaultsOnFile == "Yes"
}

// Categorical returns the categorical fields keyed by field name.
func (a *Application) Categorical() map[string]string {
	return map[string]string{
		FieldGender:           a.PersonGender,
		FieldEducation:        a.PersonEducation,
		FieldHomeOwnership:    a.PersonHomeOwnership,
		FieldLoanIntent:       a.LoanIntent,
		FieldPreviousDefaults: a.PreviousLoanDefaultsOnFile,
	}
}

// Validate checks the invariants the predictor relies on.
func (a *Application) Validate() error {
	if a.PersonIncome <= 0 {
		return fmt.Errorf("%w: %s must be greater than 0", ErrInvalidInput, FieldIncome)
	}
	if a.LoanAmount <= 0 {
		return fmt.Errorf("%w: %s must be greater than 0", ErrInvalidInput, FieldLoanAmount)
	}
	if a.PersonEmpExp < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidInput, FieldEmpExp)
	}
	if a.CreditHistoryLength < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidInput, FieldCreditHistoryLength)
	}
	for field, value := range a.Categorical() {
		if !slices.Contains(Domains[field], value) {
			return fmt.Errorf("%w: %s %q is not one of [%s]", ErrInvalidInput, field, value, strings.Join(Domains[field], ", "))
		}
	}
	return nil
}

//go:embed schema/application.json
var applicationSchemaJSON string

var (
	applicationSchemaOnce sync.Once
	applicationSchema     *jsonschema.Schema
	applicationSchemaErr  error
)

func compiledApplicationSchema() (*jsonschema.Schema, error) {
	applicationSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		const url = "https://kestrel.schemas.local/application.schema.json"
		if err := c.AddResource(url, strings.NewReader(applicationSchemaJSON)); err != nil {
			applicationSchemaErr = fmt.Errorf("application schema load failed: %w", err)
			return
		}
		applicationSchema, applicationSchemaErr = c.Compile(url)
	})
	return applicationSchema, applicationSchemaErr
}

// ParseApplication decodes and validates a JSON application. The payload must
// carry exactly the application keys with the right types and domains.
func ParseApplication(data []byte) (*Application, error) {
	schema, err := compiledApplicationSchema()
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON: %v", ErrInvalidInput, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var app Application
	if err := json.Unmarshal(data, &app); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := app.Validate(); err != nil {
		return nil, err
	}
	return &app, nil
}
