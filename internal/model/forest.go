// Package model trains the ghost risk classifier: a bagged ensemble of
// decision trees over the audited project dataset that scores every project
// with a probability of being funded but never built.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// ForestConfig controls ensemble training.
type ForestConfig struct {
	// Trees is the ensemble size.
	Trees int
	// MinLeaf is the minimum sample count in a leaf.
	MinLeaf int
	// MaxDepth caps tree depth. Zero means unlimited.
	MaxDepth int
	// Seed fixes the bootstrap and feature sampling so training is
	// reproducible across runs.
	Seed int64
}

// DefaultForestConfig mirrors the pinned training setup.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{Trees: 100, MinLeaf: 1, Seed: 42}
}

// Forest is a trained bagged tree ensemble for binary classification.
type Forest struct {
	trees       []*node
	numFeatures int
	importances []float64
}

type node struct {
	feature   int
	threshold float64
	left      *node
	right     *node
	leaf      bool
	prob      float64
}

// TrainForest fits the ensemble on X (rows of feature vectors) and binary
// labels y. Every row must have the same width and y must contain both
// classes.
func TrainForest(X [][]float64, y []int, cfg ForestConfig) (*Forest, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("training data has %d rows but %d labels", len(X), len(y))
	}
	p := len(X[0])
	for i, row := range X {
		if len(row) != p {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), p)
		}
	}
	ones := 0
	for _, label := range y {
		if label != 0 && label != 1 {
			return nil, fmt.Errorf("labels must be 0 or 1, got %d", label)
		}
		ones += label
	}
	if ones == 0 || ones == len(y) {
		only := 0
		if ones == len(y) {
			only = 1
		}
		return nil, fmt.Errorf("training labels contain a single class (%d), cannot fit a classifier", only)
	}
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.MinLeaf <= 0 {
		cfg.MinLeaf = 1
	}

	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // reproducibility, not security
	mtry := max(1, int(math.Sqrt(float64(p))))

	f := &Forest{numFeatures: p, importances: make([]float64, p)}
	for t := 0; t < cfg.Trees; t++ {
		sample := make([]int, len(X))
		for i := range sample {
			sample[i] = rng.Intn(len(X))
		}
		b := &treeBuilder{
			X:           X,
			y:           y,
			rng:         rng,
			mtry:        mtry,
			minLeaf:     cfg.MinLeaf,
			maxDepth:    cfg.MaxDepth,
			importances: f.importances,
			total:       float64(len(sample)),
		}
		f.trees = append(f.trees, b.build(sample, 0))
	}

	// Normalize accumulated impurity decreases to sum to one.
	var sum float64
	for _, v := range f.importances {
		sum += v
	}
	if sum > 0 {
		for i := range f.importances {
			f.importances[i] /= sum
		}
	}

	return f, nil
}

// Predict returns the ensemble probability of the positive class.
func (f *Forest) Predict(row []float64) float64 {
	var sum float64
	for _, t := range f.trees {
		sum += t.predict(row)
	}
	return sum / float64(len(f.trees))
}

// Importances returns normalized per-feature importance scores.
func (f *Forest) Importances() []float64 {
	out := make([]float64, len(f.importances))
	copy(out, f.importances)
	return out
}

// NumTrees reports the ensemble size.
func (f *Forest) NumTrees() int { return len(f.trees) }

// forestJSON is the persisted wire form of the ensemble.
type forestJSON struct {
	NumFeatures int         `json:"num_features"`
	Importances []float64   `json:"importances"`
	Trees       []*nodeJSON `json:"trees"`
}

// nodeJSON flattens one tree node. Leaves carry only the probability;
// internal nodes carry the split and both children.
type nodeJSON struct {
	Feature   int       `json:"f,omitempty"`
	Threshold float64   `json:"t,omitempty"`
	Left      *nodeJSON `json:"l,omitempty"`
	Right     *nodeJSON `json:"r,omitempty"`
	Prob      *float64  `json:"p,omitempty"`
}

// MarshalJSON encodes the fitted ensemble, trees included, so a trained
// model can be reloaded and used for scoring without retraining.
func (f *Forest) MarshalJSON() ([]byte, error) {
	out := forestJSON{
		NumFeatures: f.numFeatures,
		Importances: f.importances,
		Trees:       make([]*nodeJSON, len(f.trees)),
	}
	for i, t := range f.trees {
		out.Trees[i] = encodeNode(t)
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores an ensemble persisted by MarshalJSON.
func (f *Forest) UnmarshalJSON(data []byte) error {
	var in forestJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if len(in.Trees) == 0 {
		return fmt.Errorf("model has no trees")
	}
	trees := make([]*node, len(in.Trees))
	for i, t := range in.Trees {
		n, err := decodeNode(t)
		if err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
		trees[i] = n
	}
	f.trees = trees
	f.numFeatures = in.NumFeatures
	f.importances = in.Importances
	return nil
}

func encodeNode(n *node) *nodeJSON {
	if n.leaf {
		p := n.prob
		return &nodeJSON{Prob: &p}
	}
	return &nodeJSON{
		Feature:   n.feature,
		Threshold: n.threshold,
		Left:      encodeNode(n.left),
		Right:     encodeNode(n.right),
	}
}

func decodeNode(j *nodeJSON) (*node, error) {
	if j == nil {
		return nil, fmt.Errorf("missing node")
	}
	if j.Prob != nil {
		return &node{leaf: true, prob: *j.Prob}, nil
	}
	left, err := decodeNode(j.Left)
	if err != nil {
		return nil, err
	}
	right, err := decodeNode(j.Right)
	if err != nil {
		return nil, err
	}
	return &node{feature: j.Feature, threshold: j.Threshold, left: left, right: right}, nil
}

func (n *node) predict(row []float64) float64 {
	for !n.leaf {
		if row[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.prob
}

type treeBuilder struct {
	X           [][]float64
	y           []int
	rng         *rand.Rand
	mtry        int
	minLeaf     int
	maxDepth    int
	importances []float64
	total       float64
}

func (b *treeBuilder) build(idx []int, depth int) *node {
	ones := 0
	for _, i := range idx {
		ones += b.y[i]
	}
	prob := float64(ones) / float64(len(idx))

	if ones == 0 || ones == len(idx) ||
		len(idx) < 2*b.minLeaf ||
		(b.maxDepth > 0 && depth >= b.maxDepth) {
		return &node{leaf: true, prob: prob}
	}

	feature, threshold, gain := b.bestSplit(idx)
	if gain <= 0 {
		return &node{leaf: true, prob: prob}
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < b.minLeaf || len(right) < b.minLeaf {
		return &node{leaf: true, prob: prob}
	}

	b.importances[feature] += gain * float64(len(idx)) / b.total

	return &node{
		feature:   feature,
		threshold: threshold,
		left:      b.build(left, depth+1),
		right:     b.build(right, depth+1),
	}
}

// bestSplit scans a random feature subset for the threshold with the largest
// gini decrease.
func (b *treeBuilder) bestSplit(idx []int) (int, float64, float64) {
	parent := gini(b.countOnes(idx), len(idx))

	features := b.rng.Perm(len(b.X[0]))[:b.mtry]
	bestFeature, bestThreshold, bestGain := -1, 0.0, 0.0

	vals := make([]float64, 0, len(idx))
	labels := make([]int, 0, len(idx))
	for _, feature := range features {
		vals = vals[:0]
		labels = labels[:0]
		order := make([]int, len(idx))
		copy(order, idx)
		sort.Slice(order, func(a, c int) bool { return b.X[order[a]][feature] < b.X[order[c]][feature] })
		for _, i := range order {
			vals = append(vals, b.X[i][feature])
			labels = append(labels, b.y[i])
		}

		leftOnes, leftN := 0, 0
		totalOnes := 0
		for _, l := range labels {
			totalOnes += l
		}
		n := len(labels)
		for i := 0; i < n-1; i++ {
			leftOnes += labels[i]
			leftN++
			if vals[i] == vals[i+1] {
				continue
			}
			rightOnes := totalOnes - leftOnes
			rightN := n - leftN
			weighted := (float64(leftN)*gini(leftOnes, leftN) +
				float64(rightN)*gini(rightOnes, rightN)) / float64(n)
			if gain := parent - weighted; gain > bestGain {
				bestGain = gain
				bestFeature = feature
				bestThreshold = (vals[i] + vals[i+1]) / 2
			}
		}
	}

	return bestFeature, bestThreshold, bestGain
}

func (b *treeBuilder) countOnes(idx []int) int {
	ones := 0
	for _, i := range idx {
		ones += b.y[i]
	}
	return ones
}

func gini(ones, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(ones) / float64(n)
	return 2 * p * (1 - p)
}

// ROCAUC computes the area under the ROC curve via the rank statistic.
// Ties in score receive average ranks. Returns 0.5 when only one class is
// present.
func ROCAUC(scores []float64, labels []int) float64 {
	type pair struct {
		score float64
		label int
	}
	pairs := make([]pair, len(scores))
	pos, neg := 0, 0
	for i := range scores {
		pairs[i] = pair{scores[i], labels[i]}
		if labels[i] == 1 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0.5
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })

	// Sum ranks of positives, averaging over tied scores.
	var rankSum float64
	i := 0
	for i < len(pairs) {
		j := i
		for j < len(pairs) && pairs[j].score == pairs[i].score {
			j++
		}
		avgRank := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			if pairs[k].label == 1 {
				rankSum += avgRank
			}
		}
		i = j
	}

	return (rankSum - float64(pos)*float64(pos+1)/2) / (float64(pos) * float64(neg))
}
