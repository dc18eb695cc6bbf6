package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// BuiltinRules returns the standard risk rules in reporting order.
func BuiltinRules() []*domain.RiskRule {
	return []*domain.RiskRule{
		{
			ID:         "low-credit-score",
			Name:       "Low credit score",
			Expression: "credit_score < 600",
			Reason:     "Low credit score (< 600)",
			Enabled:    true,
		},
		{
			ID:         "previous-defaults",
			Name:       "Previous defaults",
			Expression: "previous_loan_defaults_on_file == 'Yes'",
			Reason:     "Previous loan defaults on file",
			Enabled:    true,
		},
		{
			ID:         "high-debt-to-income",
			Name:       "High debt-to-income",
			Expression: "loan_amnt / person_income > 0.4",
			Reason:     "High debt-to-income ratio (> 40%)",
			Enabled:    true,
		},
		{
			ID:         "no-employment",
			Name:       "No employment experience",
			Expression: "person_emp_exp == 0",
			Reason:     "No employment experience",
			Enabled:    true,
		},
		{
			ID:         "short-credit-history",
			Name:       "Short credit history",
			Expression: "cb_person_cred_hist_length < 2",
			Reason:     "Short credit history (< 2 years)",
			Enabled:    true,
		},
	}
}
