package detector

import (
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// trainingCluster builds a tight cluster of realistic-length vectors so
// a point far outside it is unambiguously anomalous.
func trainingCluster(n int) [][]float64 {
	rng := rand.New(rand.NewSource(7))
	out := make([][]float64, n)
	for i := range out {
		vec := make([]float64, FeatureVectorSize)
		for j := range vec {
			vec[j] = 0.1 + rng.Float64()*0.05
		}
		out[i] = vec
	}
	return out
}

func repeated(value float64) []float64 {
	vec := make([]float64, FeatureVectorSize)
	for i := range vec {
		vec[i] = value
	}
	return vec
}

func newTestDetector(t *testing.T) *AnomalyDetector {
	return NewAnomalyDetector(DefaultIsolationForestParams(), t.TempDir(), zerolog.Nop())
}

func TestDetector_UntrainedFailsClosed(t *testing.T) {
	d := newTestDetector(t)

	assert.False(t, d.IsTrained())
	result := d.Predict(repeated(10))
	assert.False(t, result.IsAnomaly)
	assert.Zero(t, result.Confidence)

	_, ok := d.ModelInfo()
	assert.False(t, ok)
}

func TestDetector_TrainRequiresMinimumSamples(t *testing.T) {
	d := newTestDetector(t)

	assert.False(t, d.Train(trainingCluster(MinTrainingSamples-1)))
	assert.False(t, d.IsTrained())
}

func TestDetector_FailedTrainPreservesPriorModel(t *testing.T) {
	d := newTestDetector(t)
	assert.True(t, d.Train(trainingCluster(100)))

	before := d.Predict(repeated(10))

	assert.False(t, d.Train(trainingCluster(3)))
	assert.True(t, d.IsTrained())
	assert.Equal(t, before, d.Predict(repeated(10)))
}

func TestDetector_SeparatesOutliers(t *testing.T) {
	d := newTestDetector(t)
	assert.True(t, d.Train(trainingCluster(200)))

	outlier := d.Predict(repeated(10))
	assert.True(t, outlier.IsAnomaly)
	assert.Greater(t, outlier.Confidence, 0.5)

	inlier := d.Predict(repeated(0.12))
	assert.Greater(t, outlier.Confidence, inlier.Confidence)
}

func TestDetector_ConfidenceBounds(t *testing.T) {
	d := newTestDetector(t)
	assert.True(t, d.Train(trainingCluster(100)))

	nonFinite := repeated(0.12)
	nonFinite[0] = math.NaN()
	nonFinite[1] = math.Inf(1)
	nonFinite[2] = math.Inf(-1)

	inputs := [][]float64{
		repeated(0.12),
		repeated(1e9),
		repeated(-1e9),
		nonFinite,
	}
	for _, vec := range inputs {
		result := d.Predict(vec)
		assert.GreaterOrEqual(t, result.Confidence, 0.0)
		assert.LessOrEqual(t, result.Confidence, 1.0)
		assert.False(t, math.IsNaN(result.Confidence))
	}
}

func TestDetector_TrainingIsDeterministic(t *testing.T) {
	data := trainingCluster(100)
	probe := repeated(5)

	a := newTestDetector(t)
	b := newTestDetector(t)
	assert.True(t, a.Train(data))
	assert.True(t, b.Train(data))

	assert.Equal(t, a.Predict(probe), b.Predict(probe))
}

func TestDetector_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	params := DefaultIsolationForestParams()

	d := NewAnomalyDetector(params, dir, zerolog.Nop())
	assert.True(t, d.Train(trainingCluster(100)))
	assert.True(t, d.Save())

	probes := [][]float64{repeated(0.12), repeated(5), repeated(10)}
	want := make([]ScoreResult, len(probes))
	for i, p := range probes {
		want[i] = d.Predict(p)
	}

	restored := NewAnomalyDetector(params, dir, zerolog.Nop())
	assert.True(t, restored.Load())
	assert.True(t, restored.IsTrained())

	for i, p := range probes {
		assert.Equal(t, want[i], restored.Predict(p))
	}

	meta, ok := restored.ModelInfo()
	assert.True(t, ok)
	assert.Equal(t, 100, meta.SampleCount)
	assert.Equal(t, FeatureVectorSize, meta.FeatureCount)
}

func TestDetector_LoadWithoutSavedModel(t *testing.T) {
	d := newTestDetector(t)
	assert.False(t, d.Load())
	assert.False(t, d.IsTrained())
}

func TestDetector_SaveWithoutModel(t *testing.T) {
	d := newTestDetector(t)
	assert.False(t, d.Save())
}

func TestConfidenceFrom(t *testing.T) {
	assert.Equal(t, 0.5, confidenceFrom(0))
	assert.Equal(t, 1.0, confidenceFrom(-1))
	assert.Equal(t, 0.0, confidenceFrom(1))
	// Clipped outside [-1, 1].
	assert.Equal(t, 1.0, confidenceFrom(-5))
	assert.Equal(t, 0.0, confidenceFrom(5))
}
