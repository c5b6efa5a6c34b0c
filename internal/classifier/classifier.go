// Package classifier implements the binary classifier shared by the static and
// adaptive models: z-score standardization followed by logistic regression
// fitted with batch gradient descent.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// Options controls fitting.
type Options struct {
	Epochs       int
	LearningRate float64
	L2           float64
	TestFraction float64
	Seed         int64
}

// DefaultOptions returns the fitting defaults.
func DefaultOptions() Options {
	return Options{
		Epochs:       500,
		LearningRate: 0.1,
		L2:           0.001,
		TestFraction: 0.2,
		Seed:         42,
	}
}

// Scaler standardizes each column to zero mean and unit variance.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitScaler computes per-column mean and population standard deviation.
// Constant columns get a standard deviation of 1.
func FitScaler(X [][]float64) Scaler {
	if len(X) == 0 {
		return Scaler{}
	}
	d := len(X[0])
	s := Scaler{Mean: make([]float64, d), Std: make([]float64, d)}
	n := float64(len(X))
	for _, row := range X {
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for _, row := range X {
		for j, v := range row {
			diff := v - s.Mean[j]
			s.Std[j] += diff * diff
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / n)
		if s.Std[j] < 1e-12 {
			s.Std[j] = 1
		}
	}
	return s
}

// Transform returns a standardized copy of x.
func (s Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out
}

// Valid reports whether the scaler covers d columns.
func (s Scaler) Valid(d int) bool {
	if len(s.Mean) != d || len(s.Std) != d {
		return false
	}
	for _, v := range s.Std {
		if v <= 0 || math.IsNaN(v) {
			return false
		}
	}
	return true
}

// Model is a fitted standardized logistic regression.
type Model struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
	Scaler  Scaler    `json:"scaler"`
}

// Dim returns the number of input columns.
func (m *Model) Dim() int { return len(m.Weights) }

// Validate checks that weights and normalization agree in shape.
func (m *Model) Validate() error {
	if len(m.Weights) == 0 {
		return errors.New("model has no weights")
	}
	if !m.Scaler.Valid(len(m.Weights)) {
		return errors.New("model normalization is missing or does not match weights")
	}
	return nil
}

// Probability returns P(y=1 | x).
func (m *Model) Probability(x []float64) (float64, error) {
	if len(x) != len(m.Weights) {
		return 0, fmt.Errorf("expected %d features, got %d", len(m.Weights), len(x))
	}
	z := m.Bias
	for j, v := range m.Scaler.Transform(x) {
		z += m.Weights[j] * v
	}
	p := sigmoid(z)
	if math.IsNaN(p) {
		return 0, errors.New("non-finite probability")
	}
	return p, nil
}

// Fit trains a model on X with binary labels y.
func Fit(X [][]float64, y []int, opts Options) (*Model, error) {
	if len(X) == 0 {
		return nil, errors.New("no training rows")
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("got %d rows and %d labels", len(X), len(y))
	}
	d := len(X[0])
	for i, row := range X {
		if len(row) != d {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), d)
		}
	}
	if opts.Epochs <= 0 {
		opts.Epochs = DefaultOptions().Epochs
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = DefaultOptions().LearningRate
	}

	scaler := FitScaler(X)
	Z := make([][]float64, len(X))
	for i, row := range X {
		Z[i] = scaler.Transform(row)
	}

	w := make([]float64, d)
	var b float64
	grad := make([]float64, d)
	n := float64(len(Z))
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		for j := range grad {
			grad[j] = 0
		}
		var gb float64
		for i, row := range Z {
			z := b
			for j, v := range row {
				z += w[j] * v
			}
			e := sigmoid(z) - float64(y[i])
			for j, v := range row {
				grad[j] += e * v
			}
			gb += e
		}
		for j := range w {
			w[j] -= opts.LearningRate * (grad[j]/n + opts.L2*w[j])
		}
		b -= opts.LearningRate * gb / n
	}

	for _, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New("fit diverged")
		}
	}
	return &Model{Weights: w, Bias: b, Scaler: scaler}, nil
}

// Split shuffles indices 0..n-1 with seed and returns ceil(n*testFraction)
// test indices and the rest as training indices.
func Split(n int, testFraction float64, seed int64) (train, test []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	nTest := int(math.Ceil(float64(n) * testFraction))
	if nTest > n {
		nTest = n
	}
	return perm[nTest:], perm[:nTest]
}

// Accuracy is the share of rows whose thresholded probability matches y.
func (m *Model) Accuracy(X [][]float64, y []int) float64 {
	if len(X) == 0 {
		return 0
	}
	correct := 0
	for i, x := range X {
		p, err := m.Probability(x)
		if err != nil {
			continue
		}
		pred := 0
		if p >= 0.5 {
			pred = 1
		}
		if pred == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(X))
}

// Result is the outcome of TrainEvaluate.
type Result struct {
	Model     *Model
	Accuracy  float64
	TrainSize int
	TestSize  int
}

// TrainEvaluate holds out a seeded test split, fits on the rest and reports
// held-out accuracy. At least two rows are required.
func TrainEvaluate(X [][]float64, y []int, opts Options) (*Result, error) {
	if len(X) < 2 {
		return nil, fmt.Errorf("need at least 2 rows, got %d", len(X))
	}
	if opts.TestFraction <= 0 || opts.TestFraction >= 1 {
		opts.TestFraction = DefaultOptions().TestFraction
	}
	trainIdx, testIdx := Split(len(X), opts.TestFraction, opts.Seed)
	if len(trainIdx) == 0 {
		return nil, errors.New("empty training split")
	}

	pick := func(idx []int) ([][]float64, []int) {
		xs := make([][]float64, len(idx))
		ys := make([]int, len(idx))
		for k, i := range idx {
			xs[k] = X[i]
			ys[k] = y[i]
		}
		return xs, ys
	}
	trainX, trainY := pick(trainIdx)
	testX, testY := pick(testIdx)

	model, err := Fit(trainX, trainY, opts)
	if err != nil {
		return nil, err
	}
	return &Result{
		Model:     model,
		Accuracy:  model.Accuracy(testX, testY),
		TrainSize: len(trainIdx),
		TestSize:  len(testIdx),
	}, nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
