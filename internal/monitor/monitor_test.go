package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/hybridscan/internal/models"
)

type memStore struct {
	signals []models.MonitoredSignal
	saves   int
	saveErr error
}

func (s *memStore) LoadSignals() ([]models.MonitoredSignal, error) {
	return append([]models.MonitoredSignal(nil), s.signals...), nil
}

func (s *memStore) SaveSignals(signals []models.MonitoredSignal) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.signals = append([]models.MonitoredSignal(nil), signals...)
	return nil
}

type fakePrices struct {
	prices map[string]float64
	err    error
	asked  [][]string
}

func (f *fakePrices) LatestPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	f.asked = append(f.asked, symbols)
	out := make(map[string]float64)
	for _, s := range symbols {
		if p, ok := f.prices[s]; ok {
			out[s] = p
		}
	}
	return out, f.err
}

type labelCall struct {
	id     string
	result models.Label
	days   int
}

type fakeLabeler struct {
	calls    []labelCall
	failures int
	labels   map[string]models.Label
}

func (f *fakeLabeler) ResolveLabel(id string, result models.Label, days int) (bool, error) {
	f.calls = append(f.calls, labelCall{id, result, days})
	if f.failures > 0 {
		f.failures--
		return false, &models.PersistenceError{Op: "resolve", Path: "training_data.json", Err: errors.New("disk full")}
	}
	if f.labels == nil {
		f.labels = make(map[string]models.Label)
	}
	if _, done := f.labels[id]; done {
		return false, nil
	}
	f.labels[id] = result
	return true, nil
}

type fakeRetrainer struct {
	should  bool
	err     error
	retrain int
}

func (f *fakeRetrainer) ShouldRetrain(int) bool { return f.should }
func (f *fakeRetrainer) Retrain(int) (bool, error) {
	f.retrain++
	if f.err != nil {
		return false, f.err
	}
	return true, nil
}

type harness struct {
	mon       *Monitor
	store     *memStore
	prices    *fakePrices
	labeler   *fakeLabeler
	retrainer *fakeRetrainer
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     &memStore{},
		prices:    &fakePrices{prices: map[string]float64{}},
		labeler:   &fakeLabeler{},
		retrainer: &fakeRetrainer{},
		now:       time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC),
	}
	h.mon = New(h.store, h.prices, h.labeler, h.retrainer, nil, DefaultConfig())
	h.mon.now = func() time.Time { return h.now }
	return h
}

func (h *harness) register(t *testing.T, id, symbol string, entry, target, stop float64, age time.Duration) {
	t.Helper()
	require.NoError(t, h.mon.Register(models.Signal{
		ID:          id,
		Symbol:      symbol,
		EntryPrice:  entry,
		TargetPrice: target,
		StopLoss:    stop,
		CreatedAt:   h.now.Add(-age),
	}))
}

// ─── Register ────────────────────────────────────────────────────────────────

func TestRegisterPersists(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a", "BTCUSDT", 100, 104, 98, 0)

	assert.Equal(t, 1, h.store.saves)
	require.Len(t, h.store.signals, 1)
	assert.Equal(t, models.StatusMonitoring, h.store.signals[0].Status)
	assert.Error(t, h.mon.Register(models.Signal{ID: "a", Symbol: "BTCUSDT", EntryPrice: 100, TargetPrice: 104, StopLoss: 98}))
}

func TestRegisterRollsBackOnPersistFailure(t *testing.T) {
	h := newHarness(t)
	h.store.saveErr = errors.New("disk full")
	err := h.mon.Register(models.Signal{ID: "a", Symbol: "BTCUSDT", EntryPrice: 100, TargetPrice: 104, StopLoss: 98})
	assert.Error(t, err)
	assert.Empty(t, h.mon.ActiveSymbols())
}

// ─── Resolution ──────────────────────────────────────────────────────────────

func TestTargetHitResolvesSuccess(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a", "BTCUSDT", 100, 104, 98, 50*time.Hour)
	h.prices.prices["BTCUSDT"] = 104.5

	report, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 1, report.Successes)

	s, _ := h.mon.Get("a")
	assert.Equal(t, models.StatusCompleted, s.Status)
	assert.Equal(t, models.LabelSuccess, *s.Result)
	assert.Equal(t, 2, *s.DaysToResult)
	assert.Equal(t, 104.5, *s.MaxPriceReached)

	require.Len(t, h.labeler.calls, 1)
	assert.Equal(t, labelCall{"a", models.LabelSuccess, 2}, h.labeler.calls[0])
}

func TestStopHitResolvesFailureWithMinimumOneDay(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a", "ETHUSDT", 100, 104, 98, 3*time.Hour)
	h.prices.prices["ETHUSDT"] = 97.9

	_, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)

	s, _ := h.mon.Get("a")
	assert.Equal(t, models.LabelFailure, *s.Result)
	assert.Equal(t, 1, *s.DaysToResult)
}

func TestResolutionIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a", "BTCUSDT", 100, 104, 98, 30*time.Hour)
	h.prices.prices["BTCUSDT"] = 105

	_, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	first, _ := h.mon.Get("a")

	h.now = h.now.Add(48 * time.Hour)
	h.prices.prices["BTCUSDT"] = 90
	report, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Checked, "completed signals are not priced")
	second, _ := h.mon.Get("a")
	assert.Equal(t, first, second)
	assert.Len(t, h.labeler.calls, 1)
}

func TestExpiryPartialCredit(t *testing.T) {
	tests := []struct {
		name    string
		maxSeen float64
		want    models.Label
	}{
		{"reached 80% of target distance", 108, models.LabelSuccess},
		{"reached half of target distance", 105, models.LabelFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.register(t, "a", "SOLUSDT", 100, 110, 95, 5*24*time.Hour)

			h.prices.prices["SOLUSDT"] = tt.maxSeen
			_, err := h.mon.RunCycle(context.Background())
			require.NoError(t, err)

			h.now = h.now.Add(3 * 24 * time.Hour)
			h.prices.prices["SOLUSDT"] = 101
			report, err := h.mon.RunCycle(context.Background())
			require.NoError(t, err)
			require.Equal(t, 1, report.Resolved)

			s, _ := h.mon.Get("a")
			assert.Equal(t, tt.want, *s.Result)
			assert.Equal(t, 7, *s.DaysToResult)
			assert.Equal(t, tt.maxSeen, *s.MaxPriceReached)
		})
	}
}

func TestSymbolsWithoutPriceAreSkipped(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a", "BTCUSDT", 100, 104, 98, 10*24*time.Hour)
	h.register(t, "b", "DOGEUSDT", 1, 1.04, 0.98, time.Hour)
	h.prices.prices["DOGEUSDT"] = 1.01

	report, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, []string{"BTCUSDT", "DOGEUSDT"}, h.prices.asked[0], "one batched request")

	s, _ := h.mon.Get("a")
	assert.True(t, s.Active(), "expired but unpriced signal stays untouched")
	assert.Nil(t, s.MaxPriceReached)
}

func TestPriceFailureReturnsUpstreamError(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a", "BTCUSDT", 100, 104, 98, time.Hour)
	h.prices.err = errors.New("timeout")

	_, err := h.mon.RunCycle(context.Background())
	var ue *models.UpstreamError
	assert.ErrorAs(t, err, &ue)
}

func TestListPersistedOncePerCycle(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a", "BTCUSDT", 100, 104, 98, time.Hour)
	h.register(t, "b", "ETHUSDT", 100, 104, 98, time.Hour)
	h.prices.prices["BTCUSDT"] = 105
	h.prices.prices["ETHUSDT"] = 97
	before := h.store.saves

	_, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before+1, h.store.saves)
}

// ─── Retraining ──────────────────────────────────────────────────────────────

func TestRetrainTriggeredAfterResolution(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a", "BTCUSDT", 100, 104, 98, time.Hour)
	h.prices.prices["BTCUSDT"] = 105
	h.retrainer.should = true

	report, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Retrained)
	assert.Equal(t, 1, h.retrainer.retrain)
}

func TestRetrainInsufficientDataIsNotAnError(t *testing.T) {
	h := newHarness(t)
	h.retrainer.should = true
	h.retrainer.err = models.ErrInsufficientData

	report, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Retrained)
}

func TestFailedLabelWriteIsRetried(t *testing.T) {
	h := newHarness(t)
	h.labeler.failures = 1
	h.register(t, "a", "BTCUSDT", 100, 104, 98, 30*time.Hour)
	h.prices.prices["BTCUSDT"] = 105

	_, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	s, _ := h.mon.Get("a")
	assert.Equal(t, models.StatusCompleted, s.Status)
	assert.Empty(t, h.labeler.labels, "first label write failed")

	_, err = h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.LabelSuccess, h.labeler.labels["a"])
	require.Len(t, h.labeler.calls, 2)
	assert.Equal(t, labelCall{"a", models.LabelSuccess, 1}, h.labeler.calls[1])

	_, err = h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.labeler.calls, 2, "confirmed labels are not re-sent")
}

func TestReloadResendsCompletedLabels(t *testing.T) {
	h := newHarness(t)
	h.labeler.failures = 1
	h.register(t, "a", "ETHUSDT", 100, 104, 98, 50*time.Hour)
	h.prices.prices["ETHUSDT"] = 97

	_, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.labeler.labels)

	reloaded := New(h.store, h.prices, h.labeler, h.retrainer, nil, DefaultConfig())
	_, err = reloaded.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.LabelFailure, h.labeler.labels["a"])
	assert.Equal(t, labelCall{"a", models.LabelFailure, 2}, h.labeler.calls[len(h.labeler.calls)-1])
}

// ─── Statistics ──────────────────────────────────────────────────────────────

func TestStatisticsAndReload(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a", "BTCUSDT", 100, 104, 98, time.Hour)
	h.register(t, "b", "ETHUSDT", 100, 104, 98, time.Hour)
	h.register(t, "c", "SOLUSDT", 100, 104, 98, time.Hour)
	h.prices.prices["BTCUSDT"] = 105
	h.prices.prices["ETHUSDT"] = 97

	_, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)

	st := h.mon.Statistics()
	assert.Equal(t, Statistics{Total: 3, Active: 1, Completed: 2, Successful: 1, SuccessRate: 50}, st)
	assert.Equal(t, []string{"SOLUSDT"}, h.mon.ActiveSymbols())

	reloaded := New(h.store, h.prices, h.labeler, h.retrainer, nil, DefaultConfig())
	assert.Equal(t, st, reloaded.Statistics())
}

func TestEvaluateNotYetExpired(t *testing.T) {
	now := time.Now()
	s := &models.MonitoredSignal{
		EntryPrice: 100, TargetPrice: 104, StopLoss: 98,
		CreatedAt: now.Add(-7 * 24 * time.Hour), Status: models.StatusMonitoring,
	}
	_, _, _, done := Evaluate(s, 101, now, DefaultConfig())
	assert.False(t, done, "exactly seven days old is not expired")
}
