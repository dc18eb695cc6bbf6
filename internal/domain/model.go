package domain

// Classifier scores encoded feature vectors.
type Classifier interface {
	// PredictProbability returns the class-1 (approval) probability.
	PredictProbability(features []float64) (float64, error)

	// FeatureNames returns the column order the classifier was trained with.
	FeatureNames() []string
}

// CategoricalEncoder is a pre-fit one-hot encoder.
type CategoricalEncoder interface {
	// Fields returns the categorical fields in encoder input order.
	Fields() []string

	// Categories returns the sorted value domain of a field.
	Categories(field string) []string

	// FeatureNamesOut returns the one-hot column names in output order.
	FeatureNamesOut() []string

	// Transform one-hot encodes values given in Fields() order.
	Transform(values []string) ([]float64, error)
}
