package classifier

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// separable returns n rows where y = 1 iff the first column is above 50.
func separable(n int) ([][]float64, []int) {
	r := rand.New(rand.NewSource(7))
	X := make([][]float64, n)
	y := make([]int, n)
	for i := range X {
		a := r.Float64() * 100
		X[i] = []float64{a, r.NormFloat64(), 3}
		if a > 50 {
			y[i] = 1
		}
	}
	return X, y
}

func TestSplitDeterministic(t *testing.T) {
	train1, test1 := Split(50, 0.2, 42)
	train2, test2 := Split(50, 0.2, 42)

	assert.Equal(t, test1, test2)
	assert.Equal(t, train1, train2)
	assert.Len(t, test1, 10)
	assert.Len(t, train1, 40)

	_, test3 := Split(51, 0.2, 42)
	assert.Len(t, test3, 11, "test size rounds up")
}

func TestSplitPartitions(t *testing.T) {
	train, test := Split(23, 0.2, 42)
	seen := make(map[int]bool)
	for _, i := range append(append([]int{}, train...), test...) {
		require.False(t, seen[i], "index %d appears twice", i)
		seen[i] = true
	}
	assert.Len(t, seen, 23)
}

func TestScalerConstantColumn(t *testing.T) {
	s := FitScaler([][]float64{{1, 5}, {3, 5}})
	assert.Equal(t, []float64{2, 5}, s.Mean)
	assert.Equal(t, 1.0, s.Std[0])
	assert.Equal(t, 1.0, s.Std[1], "constant column gets unit std")
	assert.Equal(t, []float64{-1, 0}, s.Transform([]float64{1, 5}))
}

func TestFitSeparable(t *testing.T) {
	X, y := separable(200)
	res, err := TrainEvaluate(X, y, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 40, res.TestSize)
	assert.Equal(t, 160, res.TrainSize)
	assert.GreaterOrEqual(t, res.Accuracy, 0.9)

	high, err := res.Model.Probability([]float64{95, 0, 3})
	require.NoError(t, err)
	low, err := res.Model.Probability([]float64{5, 0, 3})
	require.NoError(t, err)
	assert.Greater(t, high, 0.8)
	assert.Less(t, low, 0.2)
}

func TestTrainEvaluateReproducible(t *testing.T) {
	X, y := separable(60)
	a, err := TrainEvaluate(X, y, DefaultOptions())
	require.NoError(t, err)
	b, err := TrainEvaluate(X, y, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, a.Model.Weights, b.Model.Weights)
	assert.Equal(t, a.Accuracy, b.Accuracy)
}

func TestFitErrors(t *testing.T) {
	_, err := Fit(nil, nil, DefaultOptions())
	assert.Error(t, err)

	_, err = Fit([][]float64{{1, 2}, {1}}, []int{0, 1}, DefaultOptions())
	assert.Error(t, err)

	_, err = TrainEvaluate([][]float64{{1}}, []int{1}, DefaultOptions())
	assert.Error(t, err)
}

func TestProbabilityDimensionMismatch(t *testing.T) {
	m := &Model{Weights: []float64{1, 2}, Scaler: Scaler{Mean: []float64{0, 0}, Std: []float64{1, 1}}}
	_, err := m.Probability([]float64{1})
	assert.Error(t, err)

	p, err := m.Probability([]float64{0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p, 1e-12)
}

func TestSigmoidStable(t *testing.T) {
	assert.InDelta(t, 1.0, sigmoid(1000), 1e-12)
	assert.InDelta(t, 0.0, sigmoid(-1000), 1e-12)
	assert.False(t, math.IsNaN(sigmoid(-1000)))
}

// ─── Blob ────────────────────────────────────────────────────────────────────

func TestBlobRoundTrip(t *testing.T) {
	X, y := separable(40)
	res, err := TrainEvaluate(X, y, DefaultOptions())
	require.NoError(t, err)

	b := &Blob{
		Kind:           "adaptive",
		Trained:        true,
		FeatureColumns: []string{"a", "b", "c"},
		Accuracy:       res.Accuracy,
		TrainedAt:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		TrainedOn:      40,
		Params:         res.Model,
	}
	data, err := b.Encode()
	require.NoError(t, err)

	got, err := DecodeBlob(data)
	require.NoError(t, err)
	assert.Equal(t, BlobVersion, got.Version)
	assert.True(t, got.SameColumns([]string{"a", "b", "c"}))
	assert.False(t, got.SameColumns([]string{"a", "c", "b"}))
	assert.Equal(t, 40, got.TrainedOn)
	assert.Equal(t, res.Model.Weights, got.Params.Weights)
}

func TestDecodeBlobRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"garbage", `{nope`},
		{"wrong version", `{"version": 9, "trained": false}`},
		{"trained without params", `{"version": 1, "trained": true, "feature_columns": ["a"]}`},
		{"missing scaler", `{"version": 1, "trained": true, "feature_columns": ["a"],
			"params": {"weights": [1], "bias": 0}}`},
		{"column count mismatch", `{"version": 1, "trained": true, "feature_columns": ["a", "b"],
			"params": {"weights": [1], "bias": 0, "scaler": {"mean": [0], "std": [1]}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBlob([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}
