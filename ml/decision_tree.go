package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

type DecisionTree struct {
	MaxDepth        int
	MinSamplesSplit int
	// MaxFeatures limits the features considered per split; 0 means all.
	MaxFeatures int

	classes []string
	nodes   []TreeNode
	rng     *rand.Rand
}

type TreeNode struct {
	FeatureIdx   int       `json:"feature_idx"`
	Threshold    float64   `json:"threshold"`
	LeftChild    int       `json:"left_child"`
	RightChild   int       `json:"right_child"`
	ClassLabel   int       `json:"class_label"`
	IsLeaf       bool      `json:"is_leaf"`
	Distribution []float64 `json:"distribution,omitempty"`
}

func NewDecisionTree(maxDepth int) *DecisionTree {
	return &DecisionTree{MaxDepth: maxDepth, MinSamplesSplit: 2}
}

func (dt *DecisionTree) Train(features [][]float64, labels []int, classes []string) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if len(classes) == 0 {
		return errors.New("classes empty")
	}
	for _, label := range labels {
		if label < 0 || label >= len(classes) {
			return fmt.Errorf("label %d out of range for %d classes", label, len(classes))
		}
	}
	if dt.MaxDepth <= 0 {
		dt.MaxDepth = 10
	}
	if dt.MinSamplesSplit < 2 {
		dt.MinSamplesSplit = 2
	}
	if dt.rng == nil {
		dt.rng = rand.New(rand.NewSource(1))
	}

	dt.classes = append([]string(nil), classes...)
	dt.nodes = dt.buildNode(features, labels, 0)
	return nil
}

func (dt *DecisionTree) Classes() []string {
	return append([]string(nil), dt.classes...)
}

func (dt *DecisionTree) Predict(features []float64) (string, error) {
	node, err := dt.leaf(features)
	if err != nil {
		return "", err
	}
	return dt.classes[node.ClassLabel], nil
}

func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	node, err := dt.leaf(features)
	if err != nil {
		return nil, err
	}
	if len(node.Distribution) != len(dt.classes) {
		return nil, errors.New("leaf distribution does not match classes")
	}
	return append([]float64(nil), node.Distribution...), nil
}

func (dt *DecisionTree) leaf(features []float64) (TreeNode, error) {
	if len(dt.nodes) == 0 {
		return TreeNode{}, errors.New("model not trained")
	}
	idx := 0
	for {
		node := dt.nodes[idx]
		if node.IsLeaf {
			if node.ClassLabel < 0 || node.ClassLabel >= len(dt.classes) {
				return TreeNode{}, errors.New("invalid tree state")
			}
			return node, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return TreeNode{}, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return TreeNode{}, errors.New("invalid tree state")
		}
	}
}

type treeState struct {
	MaxDepth int        `json:"max_depth"`
	Classes  []string   `json:"classes"`
	Nodes    []TreeNode `json:"nodes"`
}

func (dt *DecisionTree) MarshalJSON() ([]byte, error) {
	if len(dt.nodes) == 0 {
		return nil, errors.New("model not trained")
	}
	return json.Marshal(treeState{MaxDepth: dt.MaxDepth, Classes: dt.classes, Nodes: dt.nodes})
}

func (dt *DecisionTree) UnmarshalJSON(payload []byte) error {
	var state treeState
	if err := json.Unmarshal(payload, &state); err != nil {
		return err
	}
	if len(state.Nodes) == 0 {
		return errors.New("tree has no nodes")
	}
	if len(state.Classes) == 0 {
		return errors.New("tree has no classes")
	}
	if err := validateNodes(state.Nodes, len(state.Classes)); err != nil {
		return err
	}
	dt.MaxDepth = state.MaxDepth
	dt.classes = state.Classes
	dt.nodes = state.Nodes
	return nil
}

// validateNodes checks the invariants buildNode guarantees. Children always
// sit after their parent, so traversal of a valid tree terminates.
func validateNodes(nodes []TreeNode, classCount int) error {
	for idx, node := range nodes {
		if node.IsLeaf {
			if node.ClassLabel < 0 || node.ClassLabel >= classCount {
				return fmt.Errorf("node %d: class label %d out of range", idx, node.ClassLabel)
			}
			if len(node.Distribution) != classCount {
				return fmt.Errorf("node %d: distribution has %d entries for %d classes", idx, len(node.Distribution), classCount)
			}
			continue
		}
		if node.FeatureIdx < 0 {
			return fmt.Errorf("node %d: negative feature index", idx)
		}
		for _, child := range []int{node.LeftChild, node.RightChild} {
			if child <= idx || child >= len(nodes) {
				return fmt.Errorf("node %d: child %d out of order", idx, child)
			}
		}
	}
	return nil
}

func (dt *DecisionTree) buildNode(features [][]float64, labels []int, depth int) []TreeNode {
	counts := classCounts(labels, len(dt.classes))
	leaf := []TreeNode{{
		FeatureIdx:   -1,
		LeftChild:    -1,
		RightChild:   -1,
		ClassLabel:   argmax(counts),
		IsLeaf:       true,
		Distribution: normalizeCounts(counts),
	}}
	if depth >= dt.MaxDepth || len(labels) < dt.MinSamplesSplit || isPure(labels) {
		return leaf
	}

	bestFeature, threshold, impurity, ok := findBestSplit(features, labels, dt.candidateFeatures(len(features[0])), len(dt.classes))
	if !ok || impurity >= giniFromCounts(counts, len(labels)) {
		return leaf
	}

	leftFeatures, leftLabels, rightFeatures, rightLabels := splitData(features, labels, bestFeature, threshold)
	if len(leftLabels) == 0 || len(rightLabels) == 0 {
		return leaf
	}

	leftNodes := dt.buildNode(leftFeatures, leftLabels, depth+1)
	rightNodes := dt.buildNode(rightFeatures, rightLabels, depth+1)

	root := TreeNode{
		FeatureIdx: bestFeature,
		Threshold:  threshold,
		LeftChild:  1,
		RightChild: 1 + len(leftNodes),
		ClassLabel: leaf[0].ClassLabel,
	}

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, offsetChildren(leftNodes, 1)...)
	nodes = append(nodes, offsetChildren(rightNodes, 1+len(leftNodes))...)
	return nodes
}

func (dt *DecisionTree) candidateFeatures(featureCount int) []int {
	if dt.MaxFeatures <= 0 || dt.MaxFeatures >= featureCount {
		all := make([]int, featureCount)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return dt.rng.Perm(featureCount)[:dt.MaxFeatures]
}

// offsetChildren rebases child indices of a subtree placed at offset.
func offsetChildren(nodes []TreeNode, offset int) []TreeNode {
	for i := range nodes {
		if nodes[i].IsLeaf {
			continue
		}
		nodes[i].LeftChild += offset
		nodes[i].RightChild += offset
	}
	return nodes
}

// findBestSplit sweeps each candidate feature in sorted order and returns the
// midpoint threshold with the lowest weighted Gini impurity.
func findBestSplit(features [][]float64, labels []int, candidates []int, classCount int) (int, float64, float64, bool) {
	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := math.MaxFloat64
	total := len(labels)
	order := make([]int, total)

	for _, featureIdx := range candidates {
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return features[order[a]][featureIdx] < features[order[b]][featureIdx]
		})

		left := make([]int, classCount)
		right := classCounts(labels, classCount)
		for i := 0; i < total-1; i++ {
			label := labels[order[i]]
			left[label]++
			right[label]--

			current := features[order[i]][featureIdx]
			next := features[order[i+1]][featureIdx]
			if current == next {
				continue
			}
			leftN := i + 1
			rightN := total - leftN
			impurity := (float64(leftN)*giniFromCounts(left, leftN) + float64(rightN)*giniFromCounts(right, rightN)) / float64(total)
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = featureIdx
				bestThreshold = (current + next) / 2
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, 0, false
	}
	return bestFeature, bestThreshold, bestImpurity, true
}

func splitData(features [][]float64, labels []int, featureIdx int, threshold float64) ([][]float64, []int, [][]float64, []int) {
	leftFeatures := make([][]float64, 0)
	leftLabels := make([]int, 0)
	rightFeatures := make([][]float64, 0)
	rightLabels := make([]int, 0)
	for i, feature := range features {
		if feature[featureIdx] <= threshold {
			leftFeatures = append(leftFeatures, feature)
			leftLabels = append(leftLabels, labels[i])
		} else {
			rightFeatures = append(rightFeatures, feature)
			rightLabels = append(rightLabels, labels[i])
		}
	}
	return leftFeatures, leftLabels, rightFeatures, rightLabels
}

func classCounts(labels []int, classCount int) []int {
	counts := make([]int, classCount)
	for _, label := range labels {
		counts[label]++
	}
	return counts
}

func giniFromCounts(counts []int, total int) float64 {
	if total == 0 {
		return 0
	}
	impurity := 1.0
	for _, count := range counts {
		prob := float64(count) / float64(total)
		impurity -= prob * prob
	}
	return impurity
}

func normalizeCounts(counts []int) []float64 {
	total := 0
	for _, count := range counts {
		total += count
	}
	dist := make([]float64, len(counts))
	if total == 0 {
		return dist
	}
	for i, count := range counts {
		dist[i] = float64(count) / float64(total)
	}
	return dist
}

// argmax returns the first index holding the maximum value.
func argmax[T int | float64](values []T) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

func isPure(labels []int) bool {
	if len(labels) == 0 {
		return true
	}
	first := labels[0]
	for _, label := range labels[1:] {
		if label != first {
			return false
		}
	}
	return true
}
