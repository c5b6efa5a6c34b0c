// Package adaptive implements the classifier that is periodically retrained
// on the outcomes of the signals the system emitted itself.
package adaptive

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rewired-gh/hybridscan/internal/classifier"
	"github.com/rewired-gh/hybridscan/internal/features"
	"github.com/rewired-gh/hybridscan/internal/logger"
	"github.com/rewired-gh/hybridscan/internal/models"
)

const kind = "adaptive"

// Corpus is the read side of the training corpus.
type Corpus interface {
	TrainingView() []features.Row
	LabeledCount() int
}

// BlobStore persists the serialized model.
type BlobStore interface {
	LoadBlob(name string) ([]byte, error)
	SaveBlob(name string, data []byte) error
}

// Config holds the tier thresholds and fitting options.
type Config struct {
	Name               string
	MinSamples         int
	SendThreshold      float64
	CautionThreshold   float64
	UntrainedThreshold float64
	Fit                classifier.Options
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Name:               "adaptive_model",
		MinSamples:         50,
		SendThreshold:      0.75,
		CautionThreshold:   0.6,
		UntrainedThreshold: 0.7,
		Fit:                classifier.DefaultOptions(),
	}
}

// Info describes the current model state.
type Info struct {
	Trained   bool      `json:"trained"`
	Accuracy  float64   `json:"accuracy"`
	TrainedAt time.Time `json:"trained_at,omitempty"`
	TrainedOn int       `json:"trained_on"`
	Columns   []string  `json:"feature_columns"`
}

// Model is safe for concurrent use. Retrain swaps its state atomically.
type Model struct {
	mu     sync.RWMutex
	cfg    Config
	corpus Corpus
	store  BlobStore
	state  *classifier.Blob
	now    func() time.Time
	log    zerolog.Logger
}

// New returns an untrained model. Call Load to restore a persisted one.
func New(cfg Config, corpus Corpus, store BlobStore) *Model {
	if cfg.Name == "" {
		cfg.Name = DefaultConfig().Name
	}
	return &Model{
		cfg:    cfg,
		corpus: corpus,
		store:  store,
		now:    time.Now,
		log:    logger.Component("adaptive"),
	}
}

// Load restores the persisted model. It reports whether a trained model is
// now active; a missing, corrupt or incompatible blob leaves it untrained.
func (m *Model) Load() bool {
	data, err := m.store.LoadBlob(m.cfg.Name)
	if errors.Is(err, models.ErrNotFound) {
		m.log.Info().Msg("no persisted adaptive model, starting untrained")
		return false
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to read adaptive model")
		return false
	}

	blob, err := classifier.DecodeBlob(data)
	if err != nil {
		m.log.Warn().Err(err).Msg("discarding unreadable adaptive model")
		return false
	}
	if !blob.Trained {
		return false
	}
	if !blob.SameColumns(features.Columns) {
		m.log.Warn().Strs("columns", blob.FeatureColumns).Msg("adaptive model feature columns differ, discarding")
		return false
	}

	m.mu.Lock()
	m.state = blob
	m.mu.Unlock()
	m.log.Info().Float64("accuracy", blob.Accuracy).Int("trained_on", blob.TrainedOn).Msg("adaptive model loaded")
	return true
}

// Predict returns the success probability and tier for vec. An untrained
// model maps the contextual confidence (0..100) to a probability.
func (m *Model) Predict(vec features.Vector, confidence float64) (float64, models.AdaptiveTier) {
	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()

	if state != nil {
		p, err := state.Params.Probability(vec[:])
		if err == nil {
			return p, m.tier(p)
		}
		m.log.Warn().Err(&models.ModelError{Model: kind, Op: "predict", Err: err}).Msg("falling back to confidence")
	}

	p := confidence / 100
	if p > m.cfg.UntrainedThreshold {
		return p, models.TierSend
	}
	return p, models.TierSkip
}

func (m *Model) tier(p float64) models.AdaptiveTier {
	switch {
	case p >= m.cfg.SendThreshold:
		return models.TierSend
	case p >= m.cfg.CautionThreshold:
		return models.TierSendWithCaution
	default:
		return models.TierSkip
	}
}

// Retrain fits a new model on the labeled corpus. Below minSamples it returns
// false and models.ErrInsufficientData. The new state is persisted before it
// replaces the current one; on any failure the current one stays.
func (m *Model) Retrain(minSamples int) (bool, error) {
	rows := m.corpus.TrainingView()
	if len(rows) < minSamples || len(rows) < 2 {
		return false, fmt.Errorf("%w: %d labeled samples, need %d", models.ErrInsufficientData, len(rows), minSamples)
	}

	X := make([][]float64, len(rows))
	y := make([]int, len(rows))
	for i, r := range rows {
		x := r.X
		X[i] = x[:]
		y[i] = r.Y
	}

	res, err := classifier.TrainEvaluate(X, y, m.cfg.Fit)
	if err != nil {
		return false, &models.ModelError{Model: kind, Op: "fit", Err: err}
	}

	blob := &classifier.Blob{
		Version:        classifier.BlobVersion,
		Kind:           kind,
		Trained:        true,
		FeatureColumns: append([]string(nil), features.Columns...),
		Accuracy:       res.Accuracy,
		TrainedAt:      m.now(),
		TrainedOn:      len(rows),
		Params:         res.Model,
	}
	data, err := blob.Encode()
	if err != nil {
		return false, &models.ModelError{Model: kind, Op: "encode", Err: err}
	}
	if err := m.store.SaveBlob(m.cfg.Name, data); err != nil {
		return false, err
	}

	m.mu.Lock()
	m.state = blob
	m.mu.Unlock()

	m.log.Info().
		Float64("accuracy", res.Accuracy).
		Int("train", res.TrainSize).
		Int("test", res.TestSize).
		Msg("adaptive model retrained")
	return true, nil
}

// ShouldRetrain reports whether enough new labels arrived. An untrained model
// waits for MinSamples labels; a trained one for threshold labels beyond the
// count it was trained on.
func (m *Model) ShouldRetrain(threshold int) bool {
	labeled := m.corpus.LabeledCount()

	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()

	if state == nil {
		return labeled >= m.cfg.MinSamples
	}
	return labeled-state.TrainedOn >= threshold
}

// MinSamples returns the configured minimum labeled count.
func (m *Model) MinSamples() int { return m.cfg.MinSamples }

// Info returns a snapshot of the model state.
func (m *Model) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := Info{Columns: append([]string(nil), features.Columns...)}
	if m.state != nil {
		info.Trained = true
		info.Accuracy = m.state.Accuracy
		info.TrainedAt = m.state.TrainedAt
		info.TrainedOn = m.state.TrainedOn
	}
	return info
}
