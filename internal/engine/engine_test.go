package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/hybridscan/internal/features"
	"github.com/rewired-gh/hybridscan/internal/models"
	"github.com/rewired-gh/hybridscan/internal/pretrained"
)

type fakeStatic struct {
	loaded bool
	p      float64
	tier   models.StaticTier
	calls  int
}

func (f *fakeStatic) Loaded() bool { return f.loaded }
func (f *fakeStatic) Predict([]models.Bar) (float64, models.StaticTier, pretrained.Details) {
	f.calls++
	if !f.loaded {
		return 0.5, models.TierFallback, pretrained.Details{Error: "model not loaded"}
	}
	return f.p, f.tier, pretrained.Details{}
}

type fakeAdaptive struct {
	p     float64
	tier  models.AdaptiveTier
	calls int
	vec   features.Vector
	conf  float64
}

func (f *fakeAdaptive) Predict(v features.Vector, conf float64) (float64, models.AdaptiveTier) {
	f.calls++
	f.vec, f.conf = v, conf
	return f.p, f.tier
}

type fakeCorpus struct {
	records []models.FeatureRecord
	err     error
}

func (f *fakeCorpus) Append(r models.FeatureRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, r)
	return nil
}

type fakeNotifier struct {
	sent []models.Signal
	err  error
}

func (f *fakeNotifier) SendSignal(s models.Signal) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, s)
	return nil
}

type fakeRegistry struct {
	signals []models.Signal
}

func (f *fakeRegistry) Register(s models.Signal) error {
	f.signals = append(f.signals, s)
	return nil
}

type harness struct {
	engine   *Engine
	static   *fakeStatic
	adaptive *fakeAdaptive
	corpus   *fakeCorpus
	notifier *fakeNotifier
	registry *fakeRegistry
}

func newHarness(static *fakeStatic, adaptive *fakeAdaptive) *harness {
	h := &harness{
		static:   static,
		adaptive: adaptive,
		corpus:   &fakeCorpus{},
		notifier: &fakeNotifier{},
		registry: &fakeRegistry{},
	}
	h.engine = New(DefaultConfig(), Deps{
		Static:   h.static,
		Adaptive: h.adaptive,
		Corpus:   h.corpus,
		Notifier: h.notifier,
		Registry: h.registry,
	})
	h.engine.now = func() time.Time { return time.Date(2024, 3, 6, 15, 0, 0, 0, time.UTC) }
	return h
}

// strongBars returns a series whose last bar passes every prefilter rule.
func strongBars() []models.Bar {
	return []models.Bar{{
		Candle:        models.Candle{Close: 100, Volume: 2000},
		SMA50:         95,
		RSI:           60,
		MACDDiff:      0.5,
		VolumeSMA20:   1000,
		HasIndicators: true,
	}}
}

// ─── Prefilter ───────────────────────────────────────────────────────────────

func TestPrefilterFullScoreProceeds(t *testing.T) {
	h := newHarness(&fakeStatic{}, &fakeAdaptive{p: 0.9, tier: models.TierSend})

	res, err := h.engine.Evaluate("BTCUSDT", strongBars(), 0)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Decision.TechnicalScore)
	assert.Equal(t, 1, h.static.calls)
	assert.Equal(t, 1, h.adaptive.calls)
	assert.Equal(t, 100.0, h.adaptive.conf)
}

func TestPrefilterSingleOmissionShortCircuits(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b *models.Bar)
		score  float64
	}{
		{"below trend", func(b *models.Bar) { b.Close = 90 }, 65},
		{"weak volume", func(b *models.Bar) { b.Volume = 500 }, 70},
		{"negative macd", func(b *models.Bar) { b.MACDDiff = -0.1 }, 75},
		{"overbought", func(b *models.Bar) { b.RSI = 75 }, 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(&fakeStatic{loaded: true, p: 0.9, tier: models.TierStrongBuy},
				&fakeAdaptive{p: 0.9, tier: models.TierSend})
			bars := strongBars()
			tt.mutate(&bars[0])

			res, err := h.engine.Evaluate("BTCUSDT", bars, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.score, res.Decision.TechnicalScore)

			if tt.score < 70 {
				assert.Equal(t, models.VerdictSkip, res.Decision.Verdict)
				assert.Zero(t, h.static.calls, "static model must not be queried")
				assert.Zero(t, h.adaptive.calls, "adaptive model must not be queried")
				assert.Empty(t, h.corpus.records, "no corpus write")
				assert.Empty(t, h.notifier.sent)
			} else {
				assert.Equal(t, 1, h.static.calls)
			}
		})
	}
}

func TestEvaluateEmptySeries(t *testing.T) {
	h := newHarness(&fakeStatic{}, &fakeAdaptive{})
	_, err := h.engine.Evaluate("BTCUSDT", nil, 0)
	assert.ErrorIs(t, err, models.ErrInsufficientData)
	assert.Zero(t, h.adaptive.calls)
}

// ─── Merge ───────────────────────────────────────────────────────────────────

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		loaded   bool
		static   models.StaticTier
		adaptive models.AdaptiveTier
		verdict  models.Verdict
		strategy string
	}{
		{"primary strong", true, models.TierStrongBuy, models.TierSend, models.VerdictSend, "ML Primary (strong_buy) + IA (send)"},
		{"primary buy caution", true, models.TierBuy, models.TierSendWithCaution, models.VerdictSend, "ML Primary (buy) + IA (send_with_caution)"},
		{"override", true, models.TierStrongBuy, models.TierSkip, models.VerdictSend, "ML Override (strong_buy)"},
		{"buy vetoed", true, models.TierBuy, models.TierSkip, models.VerdictSkip, "Hybrid"},
		{"weak buy decided by adaptive", true, models.TierWeakBuy, models.TierSendWithCaution, models.VerdictSend, "IA Decision (send_with_caution)"},
		{"weak buy vetoed", true, models.TierWeakBuy, models.TierSkip, models.VerdictSkip, "Hybrid"},
		{"static skip", true, models.TierStaticSkip, models.TierSend, models.VerdictSkip, "Hybrid"},
		{"static fallback while loaded", true, models.TierFallback, models.TierSend, models.VerdictSkip, "Hybrid"},
		{"fallback send", false, models.TierFallback, models.TierSend, models.VerdictSend, "IA Fallback (send)"},
		{"fallback caution", false, models.TierFallback, models.TierSendWithCaution, models.VerdictSend, "IA Fallback (send_with_caution)"},
		{"fallback skip", false, models.TierFallback, models.TierSkip, models.VerdictSkip, "Hybrid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, s := Merge(tt.loaded, tt.static, tt.adaptive)
			assert.Equal(t, tt.verdict, v)
			assert.Equal(t, tt.strategy, s)
		})
	}
}

// ─── Side effects ────────────────────────────────────────────────────────────

func TestOverrideSendsAndRecords(t *testing.T) {
	h := newHarness(&fakeStatic{loaded: true, p: 0.85, tier: models.TierStrongBuy},
		&fakeAdaptive{p: 0.4, tier: models.TierSkip})

	res, err := h.engine.Evaluate("ETHUSDT", strongBars(), 0.25)
	require.NoError(t, err)
	require.NotNil(t, res.Signal)
	assert.True(t, res.Delivered)
	assert.Equal(t, "ML Override (strong_buy)", res.Decision.Strategy)
	assert.InDelta(t, 0.625, res.Decision.HybridConfidence, 1e-12)

	sig := *res.Signal
	assert.Equal(t, 100.0, sig.EntryPrice)
	assert.InDelta(t, 104.0, sig.TargetPrice, 1e-9)
	assert.InDelta(t, 98.0, sig.StopLoss, 1e-9)
	assert.Equal(t, "1:2.0", sig.RiskReward)
	assert.NotEmpty(t, sig.ID)

	require.Len(t, h.corpus.records, 1)
	rec := h.corpus.records[0]
	assert.Equal(t, sig.ID, rec.SignalID)
	assert.Equal(t, models.LabelPending, rec.Result)
	assert.Equal(t, 0.25, rec.SentimentScore)
	assert.Equal(t, 15, rec.HourOfDay)
	assert.Equal(t, 2, rec.DayOfWeek, "Wednesday with Monday = 0")
	assert.InDelta(t, 100.0/95.0, rec.SMARatio, 1e-12)
	assert.Equal(t, 2.0, rec.VolumeRatio)

	require.Len(t, h.notifier.sent, 1)
	require.Len(t, h.registry.signals, 1)
	assert.Equal(t, sig.ID, h.registry.signals[0].ID)
}

func TestStaticSkipMutatesNothing(t *testing.T) {
	h := newHarness(&fakeStatic{loaded: true, p: 0.3, tier: models.TierStaticSkip},
		&fakeAdaptive{p: 0.95, tier: models.TierSend})

	res, err := h.engine.Evaluate("BTCUSDT", strongBars(), 0)
	require.NoError(t, err)
	assert.Equal(t, models.VerdictSkip, res.Decision.Verdict)
	assert.Nil(t, res.Signal)
	assert.Empty(t, h.corpus.records)
	assert.Empty(t, h.notifier.sent)
	assert.Empty(t, h.registry.signals)
}

func TestFallbackSends(t *testing.T) {
	h := newHarness(&fakeStatic{loaded: false}, &fakeAdaptive{p: 0.9, tier: models.TierSend})

	res, err := h.engine.Evaluate("BTCUSDT", strongBars(), 0)
	require.NoError(t, err)
	assert.Equal(t, models.VerdictSend, res.Decision.Verdict)
	assert.Equal(t, "IA Fallback (send)", res.Decision.Strategy)
	assert.False(t, res.Decision.StaticLoaded)
	assert.Len(t, h.registry.signals, 1)
}

func TestDeliveryFailureSkipsRegistration(t *testing.T) {
	h := newHarness(&fakeStatic{}, &fakeAdaptive{p: 0.9, tier: models.TierSend})
	h.notifier.err = errors.New("telegram down")

	res, err := h.engine.Evaluate("BTCUSDT", strongBars(), 0)
	var ue *models.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.False(t, res.Delivered)
	assert.Len(t, h.corpus.records, 1, "record is written before delivery")
	assert.Empty(t, h.registry.signals)
}

func TestAppendFailureStillDelivers(t *testing.T) {
	h := newHarness(&fakeStatic{}, &fakeAdaptive{p: 0.9, tier: models.TierSend})
	h.corpus.err = &models.PersistenceError{Op: "write", Path: "x", Err: errors.New("disk full")}

	res, err := h.engine.Evaluate("BTCUSDT", strongBars(), 0)
	var pe *models.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.True(t, res.Delivered)
	assert.Len(t, h.notifier.sent, 1)
	assert.Len(t, h.registry.signals, 1)
}

func TestNilNotifierCountsAsDelivered(t *testing.T) {
	registry := &fakeRegistry{}
	e := New(DefaultConfig(), Deps{
		Static:   &fakeStatic{},
		Adaptive: &fakeAdaptive{p: 0.9, tier: models.TierSend},
		Corpus:   &fakeCorpus{},
		Registry: registry,
	})

	res, err := e.Evaluate("BTCUSDT", strongBars(), 0)
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Len(t, registry.signals, 1)
}
