package detector

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// Model is the swappable unsupervised outlier-detection abstraction the
// scorer wraps. Fit trains on a sample-per-row matrix; Decision returns a
// raw decision score for one sample where negative values indicate
// anomalies and magnitude indicates strength.
type Model interface {
	Fit(data [][]float64) error
	Decision(sample []float64) float64
}

// IsolationForestParams are the tunables of the isolation forest.
type IsolationForestParams struct {
	NumTrees      int     `json:"num_trees"`
	SubsampleSize int     `json:"subsample_size"`
	Contamination float64 `json:"contamination"`
	Seed          int64   `json:"seed"`
}

// DefaultIsolationForestParams mirror the scikit-learn defaults the
// original deployment used.
func DefaultIsolationForestParams() IsolationForestParams {
	return IsolationForestParams{
		NumTrees:      100,
		SubsampleSize: 256,
		Contamination: 0.1,
		Seed:          42,
	}
}

// IsolationForest isolates anomalies by random recursive partitioning:
// outliers need fewer random splits to end up alone, so their average
// path length across many random trees is short. Scores follow the
// Liu/Ting/Zhou formulation; the decision offset is the contamination
// quantile of the training scores, so Decision is negative for roughly
// the contamination fraction of inputs that look least like the training
// mass.
//
// Exported fields make a trained forest JSON-serializable as part of a
// model generation.
type IsolationForest struct {
	Params IsolationForestParams `json:"params"`
	Trees  []*isoNode            `json:"trees"`
	Offset float64               `json:"offset"`
}

type isoNode struct {
	SplitAttr  int      `json:"a,omitempty"`
	SplitValue float64  `json:"v,omitempty"`
	Left       *isoNode `json:"l,omitempty"`
	Right      *isoNode `json:"r,omitempty"`
	Size       int      `json:"n,omitempty"`
}

// NewIsolationForest creates an untrained forest with the given params,
// filling zero values with defaults.
func NewIsolationForest(params IsolationForestParams) *IsolationForest {
	def := DefaultIsolationForestParams()
	if params.NumTrees <= 0 {
		params.NumTrees = def.NumTrees
	}
	if params.SubsampleSize <= 0 {
		params.SubsampleSize = def.SubsampleSize
	}
	if params.Contamination <= 0 || params.Contamination >= 0.5 {
		params.Contamination = def.Contamination
	}
	return &IsolationForest{Params: params}
}

var errNoTrainingData = errors.New("isolation forest: no training data")

// Fit builds the forest over the training matrix and calibrates the
// decision offset. It always replaces prior trees.
func (f *IsolationForest) Fit(data [][]float64) error {
	if len(data) == 0 {
		return errNoTrainingData
	}

	rng := rand.New(rand.NewSource(f.Params.Seed))
	psi := f.Params.SubsampleSize
	if psi > len(data) {
		psi = len(data)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(psi))))
	if maxDepth < 1 {
		maxDepth = 1
	}

	trees := make([]*isoNode, f.Params.NumTrees)
	for i := range trees {
		sample := subsample(data, psi, rng)
		trees[i] = buildTree(sample, 0, maxDepth, rng)
	}
	f.Trees = trees

	// Calibrate the offset so that the contamination fraction of training
	// samples falls below the decision boundary.
	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = f.scoreSample(row)
	}
	sort.Float64s(scores)
	idx := int(f.Params.Contamination * float64(len(scores)))
	if idx >= len(scores) {
		idx = len(scores) - 1
	}
	f.Offset = scores[idx]

	return nil
}

// Decision returns the calibrated decision score for one sample. Negative
// means anomalous; more negative means stronger.
func (f *IsolationForest) Decision(sample []float64) float64 {
	return f.scoreSample(sample) - f.Offset
}

// scoreSample returns the negated anomaly score in [-1, 0]: values near
// -1 are strong outliers, values near -0.5 and above look normal.
func (f *IsolationForest) scoreSample(sample []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var total float64
	for _, tree := range f.Trees {
		total += pathLength(tree, sample, 0)
	}
	avgPath := total / float64(len(f.Trees))
	psi := float64(f.Params.SubsampleSize)
	anomaly := math.Pow(2, -avgPath/averagePathLength(psi))
	return -anomaly
}

func subsample(data [][]float64, psi int, rng *rand.Rand) [][]float64 {
	if psi >= len(data) {
		return data
	}
	idx := rng.Perm(len(data))[:psi]
	out := make([][]float64, psi)
	for i, j := range idx {
		out[i] = data[j]
	}
	return out
}

func buildTree(data [][]float64, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if len(data) <= 1 || depth >= maxDepth {
		return &isoNode{Size: len(data)}
	}

	dims := len(data[0])
	// Pick a split attribute with spread; give up after a few tries when
	// the partition has collapsed to identical points.
	for attempt := 0; attempt < dims; attempt++ {
		attr := rng.Intn(dims)
		lo, hi := data[0][attr], data[0][attr]
		for _, row := range data {
			if row[attr] < lo {
				lo = row[attr]
			}
			if row[attr] > hi {
				hi = row[attr]
			}
		}
		if hi <= lo {
			continue
		}

		split := lo + rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, row := range data {
			if row[attr] < split {
				left = append(left, row)
			} else {
				right = append(right, row)
			}
		}
		if len(left) == 0 || len(right) == 0 {
			continue
		}
		return &isoNode{
			SplitAttr:  attr,
			SplitValue: split,
			Left:       buildTree(left, depth+1, maxDepth, rng),
			Right:      buildTree(right, depth+1, maxDepth, rng),
		}
	}
	return &isoNode{Size: len(data)}
}

func pathLength(node *isoNode, sample []float64, depth float64) float64 {
	if node.Left == nil && node.Right == nil {
		return depth + averagePathLength(float64(node.Size))
	}
	if node.SplitAttr < len(sample) && sample[node.SplitAttr] < node.SplitValue {
		return pathLength(node.Left, sample, depth+1)
	}
	return pathLength(node.Right, sample, depth+1)
}

const eulerMascheroni = 0.5772156649015329

// averagePathLength is c(n), the expected path length of an unsuccessful
// BST search over n points, used to normalize tree depths.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	return 2*(math.Log(n-1)+eulerMascheroni) - 2*(n-1)/n
}
