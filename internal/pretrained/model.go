// Package pretrained loads and evaluates the frozen classifier trained offline
// on historical market data.
package pretrained

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rewired-gh/hybridscan/internal/classifier"
	"github.com/rewired-gh/hybridscan/internal/logger"
	"github.com/rewired-gh/hybridscan/internal/models"
)

const kind = "static"

// Thresholds map probabilities to tiers.
type Thresholds struct {
	StrongBuy float64
	Buy       float64
	WeakBuy   float64
}

// DefaultThresholds returns 0.8 / 0.65 / 0.5.
func DefaultThresholds() Thresholds {
	return Thresholds{StrongBuy: 0.8, Buy: 0.65, WeakBuy: 0.5}
}

// Details accompanies every prediction.
type Details struct {
	ModelAccuracy float64 `json:"model_accuracy,omitempty"`
	FeaturesUsed  int     `json:"features_used,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// Info describes the loaded model.
type Info struct {
	Loaded   bool     `json:"loaded"`
	Path     string   `json:"path"`
	Accuracy float64  `json:"accuracy"`
	Columns  []string `json:"feature_columns"`
}

// Model never returns errors to its callers: every failure degrades to the
// fallback prediction.
type Model struct {
	mu         sync.RWMutex
	thresholds Thresholds
	path       string
	blob       *classifier.Blob
	log        zerolog.Logger
}

// New returns an unloaded model.
func New(t Thresholds) *Model {
	return &Model{thresholds: t, log: logger.Component("static")}
}

// Load reads the blob at path. It reports whether the model is loaded; a
// missing or invalid file leaves it unloaded with a warning.
func (m *Model) Load(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.path = path
	m.blob = nil

	blob, err := readBlob(path)
	if err != nil {
		m.log.Warn().Err(err).Str("path", path).Msg("static model not loaded, predictions fall back")
		return false
	}
	m.blob = blob
	m.log.Info().
		Str("path", path).
		Float64("accuracy", blob.Accuracy).
		Int("features", len(blob.FeatureColumns)).
		Msg("static model loaded")
	return true
}

func readBlob(path string) (*classifier.Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.ModelError{Model: kind, Op: "read", Err: err}
	}
	blob, err := classifier.DecodeBlob(data)
	if err != nil {
		return nil, &models.ModelError{Model: kind, Op: "decode", Err: err}
	}
	if !blob.Trained || blob.Params == nil {
		return nil, &models.ModelError{Model: kind, Op: "decode", Err: errors.New("blob is not trained")}
	}
	for _, c := range blob.FeatureColumns {
		if !knownColumns[c] {
			return nil, &models.ModelError{Model: kind, Op: "decode", Err: fmt.Errorf("unknown feature column %q", c)}
		}
	}
	return blob, nil
}

// Loaded reports whether a model is active.
func (m *Model) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blob != nil
}

// Predict scores the newest bar of bars. Unloaded models, empty series and
// any failure during preparation or inference yield 0.5 and TierFallback.
func (m *Model) Predict(bars []models.Bar) (p float64, tier models.StaticTier, d Details) {
	m.mu.RLock()
	blob := m.blob
	m.mu.RUnlock()

	if blob == nil {
		return 0.5, models.TierFallback, Details{Error: "model not loaded"}
	}
	if len(bars) == 0 {
		return 0.5, models.TierFallback, Details{Error: "insufficient data"}
	}

	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("static prediction panicked")
			p, tier, d = 0.5, models.TierFallback, Details{Error: fmt.Sprint(r)}
		}
	}()

	prob, err := blob.Params.Probability(vector(bars, blob.FeatureColumns))
	if err != nil {
		merr := &models.ModelError{Model: kind, Op: "predict", Err: err}
		m.log.Warn().Err(merr).Msg("static prediction failed")
		return 0.5, models.TierFallback, Details{Error: merr.Error()}
	}

	return prob, m.tier(prob), Details{
		ModelAccuracy: blob.Accuracy,
		FeaturesUsed:  len(blob.FeatureColumns),
	}
}

func (m *Model) tier(p float64) models.StaticTier {
	switch {
	case p >= m.thresholds.StrongBuy:
		return models.TierStrongBuy
	case p >= m.thresholds.Buy:
		return models.TierBuy
	case p >= m.thresholds.WeakBuy:
		return models.TierWeakBuy
	default:
		return models.TierStaticSkip
	}
}

// Info returns a snapshot of the model state.
func (m *Model) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := Info{Path: m.path}
	if m.blob != nil {
		info.Loaded = true
		info.Accuracy = m.blob.Accuracy
		info.Columns = append([]string(nil), m.blob.FeatureColumns...)
	}
	return info
}
