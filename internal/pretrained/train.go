package pretrained

import (
	"fmt"
	"time"

	"github.com/rewired-gh/hybridscan/internal/classifier"
	"github.com/rewired-gh/hybridscan/internal/models"
	"github.com/rewired-gh/hybridscan/internal/storage"
)

// TrainOptions controls offline labeling and fitting.
type TrainOptions struct {
	// LookaheadBars is how many future bars may reach the target.
	LookaheadBars int
	// TargetGain is the fractional rise over the close that counts as success.
	TargetGain float64
	Fit        classifier.Options
}

// DefaultTrainOptions labels a bar positive when any of the next 4 highs is at
// least 2% above its close.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		LookaheadBars: 4,
		TargetGain:    0.02,
		Fit:           classifier.DefaultOptions(),
	}
}

// Dataset builds labeled rows from indicator-augmented series. Only bars with
// indicators and a complete lookahead window are used.
func Dataset(series [][]models.Bar, opts TrainOptions) ([][]float64, []int) {
	var X [][]float64
	var y []int
	for _, bars := range series {
		for i := 0; i+opts.LookaheadBars < len(bars); i++ {
			if !bars[i].HasIndicators {
				continue
			}
			maxHigh := bars[i+1].High
			for k := i + 2; k <= i+opts.LookaheadBars; k++ {
				if bars[k].High > maxHigh {
					maxHigh = bars[k].High
				}
			}
			label := 0
			if maxHigh >= bars[i].Close*(1+opts.TargetGain) {
				label = 1
			}
			X = append(X, vector(bars[:i+1], DefaultColumns))
			y = append(y, label)
		}
	}
	return X, y
}

// Train fits a static model blob from historical series.
func Train(series [][]models.Bar, opts TrainOptions) (*classifier.Blob, error) {
	if opts.LookaheadBars < 1 {
		opts.LookaheadBars = DefaultTrainOptions().LookaheadBars
	}
	X, y := Dataset(series, opts)
	if len(X) < 2 {
		return nil, fmt.Errorf("%w: %d training rows", models.ErrInsufficientData, len(X))
	}

	res, err := classifier.TrainEvaluate(X, y, opts.Fit)
	if err != nil {
		return nil, &models.ModelError{Model: kind, Op: "fit", Err: err}
	}
	return &classifier.Blob{
		Version:        classifier.BlobVersion,
		Kind:           kind,
		Trained:        true,
		FeatureColumns: append([]string(nil), DefaultColumns...),
		Accuracy:       res.Accuracy,
		TrainedAt:      time.Now(),
		TrainedOn:      len(X),
		Params:         res.Model,
	}, nil
}

// Save writes blob to path atomically.
func Save(path string, blob *classifier.Blob) error {
	data, err := blob.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode static model: %w", err)
	}
	return storage.WriteFileAtomic(path, data)
}
