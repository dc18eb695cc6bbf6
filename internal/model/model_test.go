package model

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBooster(t *testing.T) {
	b, err := ParseBooster(testutil.ModelJSON)
	require.NoError(t, err)

	assert.Equal(t, 4, b.NumTrees())
	assert.Equal(t, "2.1.3", b.Version())
	assert.Len(t, b.FeatureNames(), 26)
	assert.Equal(t, "person_gender=female", b.FeatureNames()[0])
	assert.Equal(t, "credit_score", b.FeatureNames()[25])

	t.Run("WrongLength", func(t *testing.T) {
		_, err := b.PredictProbability([]float64{1, 2, 3})
		assert.Error(t, err)
	})

	t.Run("MissingValueFollowsDefault", func(t *testing.T) {
		x := make([]float64, 26)
		for i := range x {
			x[i] = math.NaN()
		}
		// every split defaults left: +0.8 - 0.6 - 0.3 - 0.4
		assert.InDelta(t, -0.5, b.Margin(x), 1e-6)
	})
}

func TestParseBoosterErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(doc map[string]any)
	}{
		{"WrongObjective", func(doc map[string]any) {
			learner(doc)["objective"] = map[string]any{"name": "reg:squarederror"}
		}},
		{"NoFeatureNames", func(doc map[string]any) {
			delete(learner(doc), "feature_names")
		}},
		{"BadBaseScore", func(doc map[string]any) {
			learner(doc)["learner_model_param"] = map[string]any{"base_score": "abc"}
		}},
		{"NoTrees", func(doc map[string]any) {
			gb := learner(doc)["gradient_booster"].(map[string]any)
			gb["model"] = map[string]any{"trees": []any{}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc map[string]any
			require.NoError(t, json.Unmarshal(testutil.ModelJSON, &doc))
			tt.mutate(doc)
			data, err := json.Marshal(doc)
			require.NoError(t, err)

			_, err = ParseBooster(data)
			assert.Error(t, err)
		})
	}

	t.Run("Garbage", func(t *testing.T) {
		_, err := ParseBooster([]byte("UBJ\x00"))
		assert.Error(t, err)
	})
}

func learner(doc map[string]any) map[string]any {
	return doc["learner"].(map[string]any)
}

func TestParseBaseScore(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"5E-1", 0.5},
		{"[5E-1]", 0.5},
		{"[2.5E-1]", 0.25},
		{"", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseBaseScore(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestFlagsUnmarshal(t *testing.T) {
	var f flags
	require.NoError(t, json.Unmarshal([]byte(`[0, 1, true, false]`), &f))
	assert.Equal(t, flags{false, true, true, false}, f)

	assert.Error(t, json.Unmarshal([]byte(`[2]`), &f))
}

func TestOneHotEncoder(t *testing.T) {
	e, err := ParseEncoder(testutil.EncoderJSON)
	require.NoError(t, err)

	assert.Equal(t, "=", e.Separator())
	assert.Equal(t, []string{
		domain.FieldGender, domain.FieldEducation, domain.FieldHomeOwnership,
		domain.FieldLoanIntent, domain.FieldPreviousDefaults,
	}, e.Fields())
	assert.Len(t, e.FeatureNamesOut(), 19)
	assert.Contains(t, e.FeatureNamesOut(), "person_education=High School")

	t.Run("Transform", func(t *testing.T) {
		out, err := e.Transform([]string{"male", "Master", "OWN", "MEDICAL", "Yes"})
		require.NoError(t, err)
		require.Len(t, out, 19)

		var hot []string
		for i, v := range out {
			if v == 1 {
				hot = append(hot, e.FeatureNamesOut()[i])
			}
		}
		assert.Equal(t, []string{
			"person_gender=male", "person_education=Master", "person_home_ownership=OWN",
			"loan_intent=MEDICAL", "previous_loan_defaults_on_file=Yes",
		}, hot)
	})

	t.Run("UnseenCategory", func(t *testing.T) {
		_, err := e.Transform([]string{"male", "PhD", "OWN", "MEDICAL", "Yes"})
		assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
	})

	t.Run("WrongArity", func(t *testing.T) {
		_, err := e.Transform([]string{"male"})
		assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
	})

	t.Run("Categories", func(t *testing.T) {
		assert.Equal(t, []string{"No", "Yes"}, e.Categories(domain.FieldPreviousDefaults))
		assert.Nil(t, e.Categories("unknown"))
	})
}

func TestNewOneHotEncoderErrors(t *testing.T) {
	_, err := NewOneHotEncoder("=")
	assert.Error(t, err)

	_, err = NewOneHotEncoder("=", Field("a", "x"), Field("a", "y"))
	assert.Error(t, err)

	_, err = NewOneHotEncoder("=", Field("a"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	cfg := domain.DefaultConfig().Model

	t.Run("Success", func(t *testing.T) {
		bundle, err := Load(ctx, testutil.NewMemoryStore(), cfg)
		require.NoError(t, err)
		assert.NotNil(t, bundle.Codec)
		assert.True(t, strings.HasPrefix(bundle.Version, "sha256:fixture"))

		x, err := bundle.Codec.EncodeApplication(testutil.ApprovedApplication())
		require.NoError(t, err)
		p, err := bundle.Classifier.PredictProbability(x)
		require.NoError(t, err)
		assert.InDelta(t, testutil.ApprovedProbability, p, 1e-6)
	})

	t.Run("MissingEncoder", func(t *testing.T) {
		store := testutil.NewMemoryStore()
		store.Delete(domain.ArtifactEncoder)
		_, err := Load(ctx, store, cfg)
		assert.ErrorIs(t, err, domain.ErrModelUnavailable)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("NilStore", func(t *testing.T) {
		_, err := Load(ctx, nil, cfg)
		assert.ErrorIs(t, err, domain.ErrModelUnavailable)
	})

	t.Run("SchemaMismatch", func(t *testing.T) {
		encoder := `{"separator": "=", "fields": [
			{"name": "person_gender", "categories": ["female", "male", "other"]},
			{"name": "person_education", "categories": ["Associate", "Bachelor", "Doctorate", "High School", "Master"]},
			{"name": "person_home_ownership", "categories": ["MORTGAGE", "OTHER", "OWN", "RENT"]},
			{"name": "loan_intent", "categories": ["DEBTCONSOLIDATION", "EDUCATION", "HOMEIMPROVEMENT", "MEDICAL", "PERSONAL", "VENTURE"]},
			{"name": "previous_loan_defaults_on_file", "categories": ["No", "Yes"]}
		]}`
		_, err := FromBytes(testutil.ModelJSON, []byte(encoder))
		assert.ErrorIs(t, err, domain.ErrModelUnavailable)
		assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
	})
}
