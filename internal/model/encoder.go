package model

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// OneHotEncoder is a pre-fit one-hot encoder. Unknown categories are rejected.
type OneHotEncoder struct {
	separator string
	fields    []EncoderField
	index     map[string]int
}

// EncoderField is one categorical input of the encoder.
type EncoderField struct {
	Name       string   `json:"name"`
	Categories []string `json:"categories"`
}

type encoderJSON struct {
	Separator string         `json:"separator"`
	Fields    []EncoderField `json:"fields"`
}

// DefaultSeparator joins field and category in output column names.
const DefaultSeparator = "="

// ParseEncoder decodes the JSON export of a fitted encoder.
func ParseEncoder(data []byte) (*OneHotEncoder, error) {
	var doc encoderJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode encoder: %w", err)
	}
	return NewOneHotEncoder(doc.Separator, doc.Fields...)
}

// NewOneHotEncoder builds an encoder from field/category pairs.
func NewOneHotEncoder(separator string, fields ...EncoderField) (*OneHotEncoder, error) {
	if separator == "" {
		separator = DefaultSeparator
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("encoder has no fields")
	}

	e := &OneHotEncoder{
		separator: separator,
		fields:    make([]EncoderField, len(fields)),
		index:     make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("encoder field %d has no name", i)
		}
		if _, dup := e.index[f.Name]; dup {
			return nil, fmt.Errorf("encoder field %q listed twice", f.Name)
		}
		if len(f.Categories) == 0 {
			return nil, fmt.Errorf("encoder field %q has no categories", f.Name)
		}
		e.fields[i] = EncoderField{Name: f.Name, Categories: slices.Clone(f.Categories)}
		e.index[f.Name] = i
	}
	return e, nil
}

// Field is a convenience constructor for NewOneHotEncoder.
func Field(name string, categories ...string) EncoderField {
	return EncoderField{Name: name, Categories: categories}
}

// Separator returns the field/category separator of output columns.
func (e *OneHotEncoder) Separator() string {
	return e.separator
}

// Fields returns the categorical fields in input order.
func (e *OneHotEncoder) Fields() []string {
	out := make([]string, len(e.fields))
	for i, f := range e.fields {
		out[i] = f.Name
	}
	return out
}

// Categories returns the value domain of a field, or nil if unknown.
func (e *OneHotEncoder) Categories(field string) []string {
	i, ok := e.index[field]
	if !ok {
		return nil
	}
	return slices.Clone(e.fields[i].Categories)
}

// FeatureNamesOut returns the output column names, field by field.
func (e *OneHotEncoder) FeatureNamesOut() []string {
	var out []string
	for _, f := range e.fields {
		for _, c := range f.Categories {
			out = append(out, f.Name+e.separator+c)
		}
	}
	return out
}

// Transform one-hot encodes values given in Fields() order.
func (e *OneHotEncoder) Transform(values []string) ([]float64, error) {
	if len(values) != len(e.fields) {
		return nil, fmt.Errorf("%w: encoder expects %d values, got %d", domain.ErrSchemaMismatch, len(e.fields), len(values))
	}

	var out []float64
	for i, f := range e.fields {
		pos := slices.Index(f.Categories, values[i])
		if pos < 0 {
			return nil, fmt.Errorf("%w: unseen category %q for %s", domain.ErrSchemaMismatch, values[i], f.Name)
		}
		for j := range f.Categories {
			if j == pos {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
	}
	return out, nil
}

var _ domain.CategoricalEncoder = (*OneHotEncoder)(nil)
var _ domain.Classifier = (*Booster)(nil)
