// Package engine merges the technical prefilter, the static model and the
// adaptive model into a send/skip decision and performs the side effects of
// sending.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rewired-gh/hybridscan/internal/features"
	"github.com/rewired-gh/hybridscan/internal/logger"
	"github.com/rewired-gh/hybridscan/internal/models"
	"github.com/rewired-gh/hybridscan/internal/pretrained"
)

// StaticModel is the frozen classifier.
type StaticModel interface {
	Loaded() bool
	Predict(bars []models.Bar) (float64, models.StaticTier, pretrained.Details)
}

// AdaptiveModel is the online-retrained classifier.
type AdaptiveModel interface {
	Predict(vec features.Vector, confidence float64) (float64, models.AdaptiveTier)
}

// Corpus receives a training record for every sent signal.
type Corpus interface {
	Append(record models.FeatureRecord) error
}

// Notifier delivers a sent signal. It returns nil only on confirmed delivery.
type Notifier interface {
	SendSignal(signal models.Signal) error
}

// Registry starts outcome tracking for a delivered signal.
type Registry interface {
	Register(signal models.Signal) error
}

// Recorder receives decision metrics.
type Recorder interface {
	PrefilterRejected(symbol string)
	Decision(verdict models.Verdict, strategy string)
}

// Config holds the prefilter weights and signal pricing.
type Config struct {
	WeightTrend  float64
	WeightVolume float64
	WeightMACD   float64
	WeightRSI    float64
	RSICeiling   float64
	MinScore     float64
	TargetPct    float64
	StopPct      float64
}

// DefaultConfig returns weights 35/30/25/10, RSI ceiling 70, minimum 70,
// target +4% and stop -2%.
func DefaultConfig() Config {
	return Config{
		WeightTrend:  35,
		WeightVolume: 30,
		WeightMACD:   25,
		WeightRSI:    10,
		RSICeiling:   70,
		MinScore:     70,
		TargetPct:    0.04,
		StopPct:      0.02,
	}
}

// Deps are the collaborators of an Engine. Notifier may be nil, in which case
// delivery is disabled and every sent signal counts as delivered.
type Deps struct {
	Static   StaticModel
	Adaptive AdaptiveModel
	Corpus   Corpus
	Notifier Notifier
	Registry Registry
	Recorder Recorder
}

// Result is the outcome of one evaluation.
type Result struct {
	Decision  models.DecisionRecord
	Signal    *models.Signal
	Delivered bool
}

// Engine evaluates candidates one at a time.
type Engine struct {
	cfg  Config
	deps Deps
	now  func() time.Time
	log  zerolog.Logger
}

// New returns an Engine.
func New(cfg Config, deps Deps) *Engine {
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	return &Engine{
		cfg:  cfg,
		deps: deps,
		now:  time.Now,
		log:  logger.Component("engine"),
	}
}

// TechnicalScore is the prefilter score of the newest bar.
func (e *Engine) TechnicalScore(bar models.Bar) float64 {
	var score float64
	if bar.Close > bar.SMA50 {
		score += e.cfg.WeightTrend
	}
	if bar.Volume > bar.VolumeSMA20 {
		score += e.cfg.WeightVolume
	}
	if bar.MACDDiff > 0 {
		score += e.cfg.WeightMACD
	}
	if bar.RSI < e.cfg.RSICeiling {
		score += e.cfg.WeightRSI
	}
	return score
}

// Evaluate decides on one candidate. A prefilter rejection queries no model
// and mutates nothing. On send the record is appended, the signal delivered
// and, once delivered, registered for monitoring. The returned error joins
// side-effect failures; the decision itself always stands.
func (e *Engine) Evaluate(symbol string, bars []models.Bar, sentiment float64) (Result, error) {
	res := Result{Decision: models.DecisionRecord{Symbol: symbol, Verdict: models.VerdictSkip}}
	if len(bars) == 0 || !bars[len(bars)-1].HasIndicators {
		return res, fmt.Errorf("%s: %w", symbol, models.ErrInsufficientData)
	}

	last := bars[len(bars)-1]
	score := e.TechnicalScore(last)
	res.Decision.TechnicalScore = score
	if score < e.cfg.MinScore {
		e.deps.Recorder.PrefilterRejected(symbol)
		e.log.Debug().Str("symbol", symbol).Float64("score", score).Msg("prefilter rejected")
		return res, nil
	}

	now := e.now()
	snap := features.FromBars(bars, sentiment, score, now)

	staticLoaded := e.deps.Static.Loaded()
	sProb, sTier, _ := e.deps.Static.Predict(bars)
	aProb, aTier := e.deps.Adaptive.Predict(snap.Vector(), score)

	verdict, strategy := Merge(staticLoaded, sTier, aTier)
	res.Decision = models.DecisionRecord{
		Symbol:            symbol,
		TechnicalScore:    score,
		StaticLoaded:      staticLoaded,
		StaticProbability: sProb,
		StaticTier:        sTier,
		AdaptiveProb:      aProb,
		AdaptiveTier:      aTier,
		Verdict:           verdict,
		Strategy:          strategy,
		HybridConfidence:  (sProb + aProb) / 2,
	}
	e.deps.Recorder.Decision(verdict, strategy)
	e.logDecision(res.Decision)

	if verdict != models.VerdictSend {
		return res, nil
	}

	signal := e.buildSignal(symbol, last.Close, res.Decision, now)
	res.Signal = &signal

	var errs []error
	if err := e.deps.Corpus.Append(recordFor(signal, snap)); err != nil {
		e.log.Error().Err(err).Str("signal_id", signal.ID).Msg("failed to record signal for training")
		errs = append(errs, err)
	}

	if e.deps.Notifier != nil {
		if err := e.deps.Notifier.SendSignal(signal); err != nil {
			e.log.Error().Err(err).Str("signal_id", signal.ID).Msg("signal delivery failed, not monitoring")
			errs = append(errs, &models.UpstreamError{Source: "telegram", Symbol: symbol, Err: err})
			return res, errors.Join(errs...)
		}
	}
	res.Delivered = true

	if err := e.deps.Registry.Register(signal); err != nil {
		e.log.Error().Err(err).Str("signal_id", signal.ID).Msg("failed to register signal for monitoring")
		errs = append(errs, err)
	}
	return res, errors.Join(errs...)
}

func (e *Engine) buildSignal(symbol string, entry float64, d models.DecisionRecord, now time.Time) models.Signal {
	return models.Signal{
		ID:                uuid.NewString(),
		Symbol:            symbol,
		EntryPrice:        entry,
		TargetPrice:       entry * (1 + e.cfg.TargetPct),
		StopLoss:          entry * (1 - e.cfg.StopPct),
		RiskReward:        fmt.Sprintf("1:%.1f", e.cfg.TargetPct/e.cfg.StopPct),
		ConfidenceScore:   d.TechnicalScore,
		Strategy:          d.Strategy,
		StaticProbability: d.StaticProbability,
		StaticTier:        d.StaticTier,
		AdaptiveProb:      d.AdaptiveProb,
		AdaptiveTier:      d.AdaptiveTier,
		HybridConfidence:  d.HybridConfidence,
		CreatedAt:         now,
	}
}

func recordFor(s models.Signal, snap features.Snapshot) models.FeatureRecord {
	return models.FeatureRecord{
		SignalID:        s.ID,
		Symbol:          s.Symbol,
		EntryPrice:      s.EntryPrice,
		TargetPrice:     s.TargetPrice,
		StopLoss:        s.StopLoss,
		ConfidenceScore: s.ConfidenceScore,
		Strategy:        s.Strategy,
		CreatedAt:       s.CreatedAt,
		RSI:             snap.RSI,
		MACDDiff:        snap.MACDDiff,
		SMARatio:        snap.SMARatio,
		VolumeRatio:     snap.VolumeRatio,
		Volatility:      snap.Volatility,
		Momentum:        snap.Momentum,
		SentimentScore:  snap.SentimentScore,
		HourOfDay:       snap.HourOfDay,
		DayOfWeek:       snap.DayOfWeek,
		Result:          models.LabelPending,
	}
}

func (e *Engine) logDecision(d models.DecisionRecord) {
	e.log.Info().
		Str("symbol", d.Symbol).
		Float64("technical", d.TechnicalScore).
		Bool("static_loaded", d.StaticLoaded).
		Float64("static_p", d.StaticProbability).
		Str("static_tier", string(d.StaticTier)).
		Float64("adaptive_p", d.AdaptiveProb).
		Str("adaptive_tier", string(d.AdaptiveTier)).
		Float64("hybrid", d.HybridConfidence).
		Str("verdict", string(d.Verdict)).
		Str("strategy", d.Strategy).
		Msg("decision")
}

type nopRecorder struct{}

func (nopRecorder) PrefilterRejected(string)        {}
func (nopRecorder) Decision(models.Verdict, string) {}
