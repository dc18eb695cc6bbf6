package testutil

import (
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func oneOf(values []string) gopter.Gen {
	vs := make([]interface{}, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return gen.OneConstOf(vs...)
}

// GenApplication generates valid applications across the whole input domain.
func GenApplication() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(18, 90),
		oneOf(domain.Domains[domain.FieldGender]),
		oneOf(domain.Domains[domain.FieldEducation]),
		gen.Float64Range(1000, 500000),
		gen.IntRange(0, 45),
		oneOf(domain.Domains[domain.FieldHomeOwnership]),
		gen.Float64Range(500, 100000),
		oneOf(domain.Domains[domain.FieldLoanIntent]),
		gen.IntRange(0, 40),
		gen.IntRange(300, 850),
		oneOf(domain.Domains[domain.FieldPreviousDefaults]),
	).Map(func(v []interface{}) *domain.Application {
		return &domain.Application{
			PersonAge:                  v[0].(int),
			PersonGender:               v[1].(string),
			PersonEducation:            v[2].(string),
			PersonIncome:               v[3].(float64),
			PersonEmpExp:               v[4].(int),
			PersonHomeOwnership:        v[5].(string),
			LoanAmount:                 v[6].(float64),
			LoanIntent:                 v[7].(string),
			CreditHistoryLength:        v[8].(int),
			CreditScore:                v[9].(int),
			PreviousLoanDefaultsOnFile: v[10].(string),
		}
	})
}
