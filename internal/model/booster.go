// Package model loads the pre-trained classifier and categorical encoder.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Booster evaluates a binary:logistic gradient-boosted tree ensemble
// exported with XGBoost's JSON model format.
type Booster struct {
	featureNames []string
	baseMargin   float64
	trees        []tree
	version      string
}

type tree struct {
	left        []int
	right       []int
	splitIndex  []int
	splitCond   []float32
	defaultLeft []bool
}

type boosterJSON struct {
	Learner struct {
		FeatureNames      []string `json:"feature_names"`
		LearnerModelParam struct {
			BaseScore  string `json:"base_score"`
			NumFeature string `json:"num_feature"`
		} `json:"learner_model_param"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
		GradientBooster struct {
			Name  string `json:"name"`
			Model struct {
				Trees []treeJSON `json:"trees"`
			} `json:"model"`
		} `json:"gradient_booster"`
	} `json:"learner"`
	Version []int `json:"version"`
}

type treeJSON struct {
	LeftChildren    []int     `json:"left_children"`
	RightChildren   []int     `json:"right_children"`
	SplitIndices    []int     `json:"split_indices"`
	SplitConditions []float64 `json:"split_conditions"`
	DefaultLeft     flags     `json:"default_left"`
}

// flags accepts both [0,1] and [false,true] encodings.
type flags []bool

func (f *flags) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]bool, len(raw))
	for i, r := range raw {
		switch s := string(bytes.TrimSpace(r)); s {
		case "1", "true":
			out[i] = true
		case "0", "false":
			out[i] = false
		default:
			return fmt.Errorf("invalid default_left value %s", s)
		}
	}
	*f = out
	return nil
}

// ParseBooster decodes an XGBoost JSON model.
func ParseBooster(data []byte) (*Booster, error) {
	var doc boosterJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}

	l := doc.Learner
	if name := l.Objective.Name; name != "" && name != "binary:logistic" {
		return nil, fmt.Errorf("unsupported objective %q", name)
	}
	if name := l.GradientBooster.Name; name != "" && name != "gbtree" {
		return nil, fmt.Errorf("unsupported booster %q", name)
	}
	if len(l.FeatureNames) == 0 {
		return nil, fmt.Errorf("model has no feature names")
	}

	base, err := parseBaseScore(l.LearnerModelParam.BaseScore)
	if err != nil {
		return nil, err
	}
	if base <= 0 || base >= 1 {
		return nil, fmt.Errorf("base_score %v outside (0, 1)", base)
	}

	b := &Booster{
		featureNames: l.FeatureNames,
		baseMargin:   math.Log(base / (1 - base)),
		trees:        make([]tree, 0, len(l.GradientBooster.Model.Trees)),
		version:      formatVersion(doc.Version),
	}

	for i, tj := range l.GradientBooster.Model.Trees {
		t, err := tj.compile(len(l.FeatureNames))
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		b.trees = append(b.trees, t)
	}
	if len(b.trees) == 0 {
		return nil, fmt.Errorf("model has no trees")
	}

	return b, nil
}

func (tj treeJSON) compile(numFeatures int) (tree, error) {
	n := len(tj.LeftChildren)
	if n == 0 {
		return tree{}, fmt.Errorf("empty tree")
	}
	if len(tj.RightChildren) != n || len(tj.SplitIndices) != n ||
		len(tj.SplitConditions) != n || len(tj.DefaultLeft) != n {
		return tree{}, fmt.Errorf("node arrays have different lengths")
	}

	t := tree{
		left:        tj.LeftChildren,
		right:       tj.RightChildren,
		splitIndex:  tj.SplitIndices,
		splitCond:   make([]float32, n),
		defaultLeft: tj.DefaultLeft,
	}
	for i := 0; i < n; i++ {
		t.splitCond[i] = float32(tj.SplitConditions[i])
		if t.left[i] == -1 {
			continue
		}
		if t.left[i] <= i || t.left[i] >= n || t.right[i] <= i || t.right[i] >= n {
			return tree{}, fmt.Errorf("node %d has invalid children", i)
		}
		if t.splitIndex[i] < 0 || t.splitIndex[i] >= numFeatures {
			return tree{}, fmt.Errorf("node %d splits on unknown feature %d", i, t.splitIndex[i])
		}
	}
	return t, nil
}

// leaf walks the tree and returns the leaf value for x.
func (t *tree) leaf(x []float64) float64 {
	node := 0
	for t.left[node] != -1 {
		v := x[t.splitIndex[node]]
		switch {
		case math.IsNaN(v):
			if t.defaultLeft[node] {
				node = t.left[node]
			} else {
				node = t.right[node]
			}
		case float32(v) < t.splitCond[node]:
			node = t.left[node]
		default:
			node = t.right[node]
		}
	}
	return float64(t.splitCond[node])
}

// Margin returns the raw log-odds score for x.
func (b *Booster) Margin(x []float64) float64 {
	m := b.baseMargin
	for i := range b.trees {
		m += b.trees[i].leaf(x)
	}
	return m
}

// PredictProbability returns the class-1 probability for an encoded vector.
func (b *Booster) PredictProbability(x []float64) (float64, error) {
	if len(x) != len(b.featureNames) {
		return 0, fmt.Errorf("expected %d features, got %d", len(b.featureNames), len(x))
	}
	return 1 / (1 + math.Exp(-b.Margin(x))), nil
}

// FeatureNames returns the stored column order.
func (b *Booster) FeatureNames() []string {
	out := make([]string, len(b.featureNames))
	copy(out, b.featureNames)
	return out
}

// NumTrees returns the number of trees in the ensemble.
func (b *Booster) NumTrees() int {
	return len(b.trees)
}

// Version returns the XGBoost version that wrote the model.
func (b *Booster) Version() string {
	return b.version
}

// parseBaseScore handles "5E-1" as well as the bracketed "[5E-1]" form.
func parseBaseScore(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0.5, nil
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid base_score %q: %w", s, err)
	}
	return v, nil
}

func formatVersion(v []int) string {
	if len(v) == 0 {
		return "unknown"
	}
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}
