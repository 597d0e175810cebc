package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
)

// RandomForest averages the class distributions of bootstrapped trees.
type RandomForest struct {
	NumTrees        int
	MaxDepth        int
	MinSamplesSplit int
	Seed            int64

	classes []string
	trees   []*DecisionTree
}

func NewRandomForest(numTrees, maxDepth int, seed int64) *RandomForest {
	return &RandomForest{NumTrees: numTrees, MaxDepth: maxDepth, MinSamplesSplit: 2, Seed: seed}
}

func (rf *RandomForest) Train(features [][]float64, labels []int, classes []string) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if rf.NumTrees <= 0 {
		rf.NumTrees = 100
	}

	rng := rand.New(rand.NewSource(rf.Seed))
	maxFeatures := int(math.Sqrt(float64(len(features[0]))))
	if maxFeatures < 1 {
		maxFeatures = 1
	}

	trees := make([]*DecisionTree, 0, rf.NumTrees)
	for i := 0; i < rf.NumTrees; i++ {
		sampleX, sampleY := bootstrap(rng, features, labels)
		tree := &DecisionTree{
			MaxDepth:        rf.MaxDepth,
			MinSamplesSplit: rf.MinSamplesSplit,
			MaxFeatures:     maxFeatures,
			rng:             rand.New(rand.NewSource(rng.Int63())),
		}
		if err := tree.Train(sampleX, sampleY, classes); err != nil {
			return fmt.Errorf("train tree %d: %w", i, err)
		}
		trees = append(trees, tree)
	}

	rf.classes = append([]string(nil), classes...)
	rf.trees = trees
	return nil
}

func (rf *RandomForest) Classes() []string {
	return append([]string(nil), rf.classes...)
}

func (rf *RandomForest) Predict(features []float64) (string, error) {
	proba, err := rf.PredictProba(features)
	if err != nil {
		return "", err
	}
	return rf.classes[argmax(proba)], nil
}

func (rf *RandomForest) PredictProba(features []float64) ([]float64, error) {
	if len(rf.trees) == 0 {
		return nil, errors.New("model not trained")
	}
	sum := make([]float64, len(rf.classes))
	for i, tree := range rf.trees {
		proba, err := tree.PredictProba(features)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		if len(proba) != len(sum) {
			return nil, fmt.Errorf("tree %d: class count mismatch", i)
		}
		for j, p := range proba {
			sum[j] += p
		}
	}
	for j := range sum {
		sum[j] /= float64(len(rf.trees))
	}
	return sum, nil
}

type forestState struct {
	Classes []string        `json:"classes"`
	Trees   []*DecisionTree `json:"trees"`
}

func (rf *RandomForest) MarshalJSON() ([]byte, error) {
	if len(rf.trees) == 0 {
		return nil, errors.New("model not trained")
	}
	return json.Marshal(forestState{Classes: rf.classes, Trees: rf.trees})
}

func (rf *RandomForest) UnmarshalJSON(payload []byte) error {
	var state forestState
	if err := json.Unmarshal(payload, &state); err != nil {
		return err
	}
	if len(state.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	for i, tree := range state.Trees {
		if tree == nil || !slices.Equal(tree.classes, state.Classes) {
			return fmt.Errorf("tree %d does not match forest classes", i)
		}
	}
	rf.classes = state.Classes
	rf.trees = state.Trees
	rf.NumTrees = len(state.Trees)
	return nil
}

func bootstrap(rng *rand.Rand, features [][]float64, labels []int) ([][]float64, []int) {
	n := len(features)
	sampleX := make([][]float64, n)
	sampleY := make([]int, n)
	for i := 0; i < n; i++ {
		idx := rng.Intn(n)
		sampleX[i] = features[idx]
		sampleY[i] = labels[idx]
	}
	return sampleX, sampleY
}
