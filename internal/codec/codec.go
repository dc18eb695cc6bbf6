// Package codec maps loan applications to the exact feature vector the
// classifier was trained on, and back and forth between the explainer's raw
// layout and human readable categories.
package codec

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Feature describes one position of the raw layout.
type Feature struct {
	Name        string
	Categorical bool
}

// Positions in the raw layout.
const (
	Age = iota
	Gender
	Education
	Income
	EmpExp
	HomeOwnership
	LoanAmount
	LoanIntent
	LoanPercentIncome
	CreditHistoryLength
	CreditScore
	PreviousDefaults

	NumFeatures
)

// Features is the raw layout used by the explainer. Categorical positions
// hold the index of the category in the encoder's domain.
var Features = [NumFeatures]Feature{
	Age:                 {Name: domain.FieldAge},
	Gender:              {Name: domain.FieldGender, Categorical: true},
	Education:           {Name: domain.FieldEducation, Categorical: true},
	Income:              {Name: domain.FieldIncome},
	EmpExp:              {Name: domain.FieldEmpExp},
	HomeOwnership:       {Name: domain.FieldHomeOwnership, Categorical: true},
	LoanAmount:          {Name: domain.FieldLoanAmount},
	LoanIntent:          {Name: domain.FieldLoanIntent, Categorical: true},
	LoanPercentIncome:   {Name: domain.FieldLoanPercentIncome},
	CreditHistoryLength: {Name: domain.FieldCreditHistoryLength},
	CreditScore:         {Name: domain.FieldCreditScore},
	PreviousDefaults:    {Name: domain.FieldPreviousDefaults, Categorical: true},
}

// Instance is one application in human readable form: numeric values by raw
// position and categorical values as strings.
type Instance struct {
	Numeric     [NumFeatures]float64
	Categorical map[string]string
}

// FromApplication converts a validated application.
func FromApplication(app *domain.Application) Instance {
	var in Instance
	in.Numeric[Age] = float64(app.PersonAge)
	in.Numeric[Income] = app.PersonIncome
	in.Numeric[EmpExp] = float64(app.PersonEmpExp)
	in.Numeric[LoanAmount] = app.LoanAmount
	in.Numeric[LoanPercentIncome] = app.LoanPercentIncome()
	in.Numeric[CreditHistoryLength] = float64(app.CreditHistoryLength)
	in.Numeric[CreditScore] = float64(app.CreditScore)
	in.Categorical = app.Categorical()
	return in
}

// column says where one model column takes its value from.
type column struct {
	name    string
	onehot  int // index into encoder output, or -1
	numeric int // raw position, or -1
}

// Codec is the feature schema, resolved once against the encoder and the
// classifier's stored column order. It is read-only after New.
type Codec struct {
	encoder  domain.CategoricalEncoder
	fields   []string
	columns  []column
	domains  [NumFeatures][]string
	position map[string]int
}

// New validates that the encoder output and the numeric features line up
// exactly with columns. Any unknown, duplicated, missing or unused column
// fails with ErrSchemaMismatch.
func New(encoder domain.CategoricalEncoder, columns []string) (*Codec, error) {
	if encoder == nil {
		return nil, fmt.Errorf("%w: encoder is nil", domain.ErrModelUnavailable)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: classifier has no columns", domain.ErrSchemaMismatch)
	}

	c := &Codec{
		encoder:  encoder,
		fields:   encoder.Fields(),
		position: make(map[string]int, NumFeatures),
	}
	for i, f := range Features {
		c.position[f.Name] = i
	}

	for _, field := range c.fields {
		pos, ok := c.position[field]
		if !ok || !Features[pos].Categorical {
			return nil, fmt.Errorf("%w: encoder field %q is not a categorical feature", domain.ErrSchemaMismatch, field)
		}
		c.domains[pos] = encoder.Categories(field)
	}
	for i, f := range Features {
		if f.Categorical && len(c.domains[i]) == 0 {
			return nil, fmt.Errorf("%w: encoder does not cover %q", domain.ErrSchemaMismatch, f.Name)
		}
	}

	outputs := make(map[string]int)
	for i, name := range encoder.FeatureNamesOut() {
		outputs[name] = i
	}

	seen := make(map[string]bool, len(columns))
	for _, name := range columns {
		if seen[name] {
			return nil, fmt.Errorf("%w: column %q listed twice", domain.ErrSchemaMismatch, name)
		}
		seen[name] = true

		col := column{name: name, onehot: -1, numeric: -1}
		if i, ok := outputs[name]; ok {
			col.onehot = i
		} else if pos, ok := c.position[name]; ok && !Features[pos].Categorical {
			col.numeric = pos
		} else {
			return nil, fmt.Errorf("%w: unknown column %q", domain.ErrSchemaMismatch, name)
		}
		c.columns = append(c.columns, col)
	}

	for name := range outputs {
		if !seen[name] {
			return nil, fmt.Errorf("%w: encoder column %q missing from classifier", domain.ErrSchemaMismatch, name)
		}
	}
	for _, f := range Features {
		if !f.Categorical && !seen[f.Name] {
			return nil, fmt.Errorf("%w: numeric column %q missing from classifier", domain.ErrSchemaMismatch, f.Name)
		}
	}

	return c, nil
}

// Columns returns the classifier column order.
func (c *Codec) Columns() []string {
	out := make([]string, len(c.columns))
	for i, col := range c.columns {
		out[i] = col.name
	}
	return out
}

// Domain returns the categories of the categorical feature at pos, or nil.
func (c *Codec) Domain(pos int) []string {
	if pos < 0 || pos >= NumFeatures {
		return nil
	}
	return c.domains[pos]
}

// CategoryIndex maps a category string to its raw index.
func (c *Codec) CategoryIndex(pos int, value string) (int, error) {
	for i, v := range c.Domain(pos) {
		if v == value {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: unseen category %q for %s", domain.ErrSchemaMismatch, value, featureName(pos))
}

// CategoryValue maps a raw index back to its category string.
func (c *Codec) CategoryValue(pos int, index int) (string, error) {
	d := c.Domain(pos)
	if index < 0 || index >= len(d) {
		return "", fmt.Errorf("%w: category index %d out of range for %s", domain.ErrSchemaMismatch, index, featureName(pos))
	}
	return d[index], nil
}

// Raw converts an instance to the raw layout.
func (c *Codec) Raw(in Instance) ([]float64, error) {
	raw := make([]float64, NumFeatures)
	for i, f := range Features {
		if !f.Categorical {
			raw[i] = in.Numeric[i]
			continue
		}
		idx, err := c.CategoryIndex(i, in.Categorical[f.Name])
		if err != nil {
			return nil, err
		}
		raw[i] = float64(idx)
	}
	return raw, nil
}

// Decode converts a raw row back to an instance. Categorical positions are
// rounded to the nearest index.
func (c *Codec) Decode(raw []float64) (Instance, error) {
	if len(raw) != NumFeatures {
		return Instance{}, fmt.Errorf("%w: expected %d raw features, got %d", domain.ErrSchemaMismatch, NumFeatures, len(raw))
	}

	in := Instance{Categorical: make(map[string]string, len(c.fields))}
	for i, f := range Features {
		if !f.Categorical {
			in.Numeric[i] = raw[i]
			continue
		}
		v, err := c.CategoryValue(i, int(math.Round(raw[i])))
		if err != nil {
			return Instance{}, err
		}
		in.Categorical[f.Name] = v
	}
	return in, nil
}

// Encode builds the classifier feature vector for an instance.
func (c *Codec) Encode(in Instance) ([]float64, error) {
	values := make([]string, len(c.fields))
	for i, field := range c.fields {
		v, ok := in.Categorical[field]
		if !ok {
			return nil, fmt.Errorf("%w: missing categorical value for %s", domain.ErrSchemaMismatch, field)
		}
		values[i] = v
	}

	onehot, err := c.encoder.Transform(values)
	if err != nil {
		return nil, err
	}

	vec := make([]float64, len(c.columns))
	for i, col := range c.columns {
		if col.onehot >= 0 {
			if col.onehot >= len(onehot) {
				return nil, fmt.Errorf("%w: encoder returned %d columns", domain.ErrSchemaMismatch, len(onehot))
			}
			vec[i] = onehot[col.onehot]
		} else {
			vec[i] = in.Numeric[col.numeric]
		}
	}
	return vec, nil
}

// EncodeApplication builds the classifier feature vector for an application.
func (c *Codec) EncodeApplication(app *domain.Application) ([]float64, error) {
	return c.Encode(FromApplication(app))
}

func featureName(pos int) string {
	if pos < 0 || pos >= NumFeatures {
		return fmt.Sprintf("feature %d", pos)
	}
	return Features[pos].Name
}
