package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rewired-gh/hybridscan/internal/adaptive"
	"github.com/rewired-gh/hybridscan/internal/config"
	"github.com/rewired-gh/hybridscan/internal/corpus"
	"github.com/rewired-gh/hybridscan/internal/engine"
	"github.com/rewired-gh/hybridscan/internal/indicators"
	"github.com/rewired-gh/hybridscan/internal/logger"
	"github.com/rewired-gh/hybridscan/internal/market"
	"github.com/rewired-gh/hybridscan/internal/metrics"
	"github.com/rewired-gh/hybridscan/internal/models"
	"github.com/rewired-gh/hybridscan/internal/monitor"
	"github.com/rewired-gh/hybridscan/internal/pretrained"
	"github.com/rewired-gh/hybridscan/internal/scanner"
	"github.com/rewired-gh/hybridscan/internal/sentiment"
	"github.com/rewired-gh/hybridscan/internal/storage"
	"github.com/rewired-gh/hybridscan/internal/telegram"
)

// app holds the wired services of one process.
type app struct {
	cfg      *config.Config
	backend  storage.Backend
	market   *market.Client
	corpus   *corpus.Store
	adaptive *adaptive.Model
	static   *pretrained.Model
	monitor  *monitor.Monitor
	engine   *engine.Engine
	scanner  *scanner.Scanner
	telegram *telegram.Client
	metrics  *metrics.Recorder
}

// loadConfig loads, validates and applies the logging section.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Debug("Configuration loaded from %s", path)
	return cfg, nil
}

func newMarketClient(cfg *config.Config) *market.Client {
	return market.NewClient(market.Options{
		BaseURL:         cfg.Market.BaseURL,
		Interval:        cfg.Market.Interval,
		Limit:           cfg.Market.Limit,
		Timeout:         cfg.Market.Timeout,
		RequestsPerSec:  cfg.Market.RequestsPerSec,
		MaxRetries:      cfg.Market.MaxRetries,
		BreakerFailures: cfg.Market.BreakerFailures,
		BreakerTimeout:  cfg.Market.BreakerTimeout,
	})
}

// newApp wires every service. withNotifier connects Telegram when enabled.
func newApp(cfg *config.Config, withNotifier bool) (*app, error) {
	backend, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DataDir, cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a := &app{
		cfg:     cfg,
		backend: backend,
		market:  newMarketClient(cfg),
		metrics: metrics.New(),
	}

	a.corpus = corpus.Open(backend)

	adaptiveCfg := adaptive.DefaultConfig()
	adaptiveCfg.Name = cfg.Adaptive.ModelName
	adaptiveCfg.MinSamples = cfg.Adaptive.MinSamples
	adaptiveCfg.SendThreshold = cfg.Adaptive.SendThreshold
	adaptiveCfg.CautionThreshold = cfg.Adaptive.CautionThreshold
	adaptiveCfg.UntrainedThreshold = cfg.Adaptive.UntrainedThreshold
	adaptiveCfg.Fit.Epochs = cfg.Adaptive.Epochs
	adaptiveCfg.Fit.LearningRate = cfg.Adaptive.LearningRate
	a.adaptive = adaptive.New(adaptiveCfg, a.corpus, backend)
	a.adaptive.Load()

	a.static = pretrained.New(pretrained.Thresholds{
		StrongBuy: cfg.Static.StrongBuy,
		Buy:       cfg.Static.Buy,
		WeakBuy:   cfg.Static.WeakBuy,
	})
	a.static.Load(cfg.Static.ModelPath)

	a.monitor = monitor.New(backend, a.market, a.corpus, a.adaptive, a.metrics, monitor.Config{
		ExpiryDays:         cfg.Monitor.ExpiryDays,
		PartialCreditRatio: cfg.Monitor.PartialCreditRatio,
		RetrainThreshold:   cfg.Adaptive.RetrainThreshold,
		MinSamples:         cfg.Adaptive.MinSamples,
	})

	deps := engine.Deps{
		Static:   a.static,
		Adaptive: a.adaptive,
		Corpus:   a.corpus,
		Registry: a.monitor,
		Recorder: a.metrics,
	}
	scanDeps := scanner.Deps{
		Market:   a.market,
		Monitor:  a.monitor,
		Corpus:   a.corpus,
		Adaptive: a.adaptive,
		Static:   a.static,
		Recorder: a.metrics,
	}

	if withNotifier && cfg.Telegram.Enabled {
		a.telegram, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelay)
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		deps.Notifier = a.telegram
		scanDeps.Alerter = a.telegram
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	if cfg.Sentiment.Enabled {
		scanDeps.Sentiment = sentiment.NewClient(sentiment.Options{
			APIKey:         cfg.Sentiment.APIKey,
			BaseURL:        cfg.Sentiment.BaseURL,
			Headlines:      cfg.Sentiment.Headlines,
			CacheTTL:       cfg.Sentiment.CacheTTL,
			Timeout:        cfg.Sentiment.Timeout,
			RequestsPerSec: cfg.Sentiment.RequestsPerSec,
			MaxRetries:     cfg.Market.MaxRetries,
		})
	}

	a.engine = engine.New(engine.Config{
		WeightTrend:  cfg.Engine.WeightTrend,
		WeightVolume: cfg.Engine.WeightVolume,
		WeightMACD:   cfg.Engine.WeightMACD,
		WeightRSI:    cfg.Engine.WeightRSI,
		RSICeiling:   cfg.Engine.RSICeiling,
		MinScore:     cfg.Engine.MinTechnicalScore,
		TargetPct:    cfg.Engine.TargetPct,
		StopPct:      cfg.Engine.StopPct,
	}, deps)
	scanDeps.Engine = a.engine

	a.scanner = scanner.New(scanner.Config{
		Symbols:          cfg.Market.Symbols,
		SentimentEnabled: cfg.Sentiment.Enabled,
		MinSentiment:     cfg.Sentiment.MinScore,
	}, scanDeps)

	return a, nil
}

func (a *app) close() {
	a.monitor.Shutdown()
	if err := a.backend.Close(); err != nil {
		logger.Error("Failed to close storage: %v", err)
	}
}

// trainStatic fits the pretrained model on the configured training symbols
// and writes it to the static model path.
func trainStatic(ctx context.Context, cfg *config.Config, limit int) error {
	client := newMarketClient(cfg)

	symbols := cfg.Static.TrainingSymbols
	if len(symbols) == 0 {
		symbols = cfg.Market.Symbols
	}

	opts := pretrained.DefaultTrainOptions()
	opts.LookaheadBars = cfg.Static.LookaheadBars
	opts.TargetGain = cfg.Static.TargetGain

	var series [][]models.Bar
	var failed []string
	for _, s := range symbols {
		candles, err := client.FetchCandles(ctx, s, limit)
		if err != nil {
			logger.Warn("Skipping %s: %v", s, err)
			failed = append(failed, s)
			continue
		}
		bars := indicators.Calculate(candles)
		if len(bars) == 0 {
			logger.Warn("Skipping %s: only %d candles", s, len(candles))
			continue
		}
		series = append(series, bars)
	}
	if len(series) == 0 {
		return fmt.Errorf("no training data (failed: %s)", strings.Join(failed, ", "))
	}

	blob, err := pretrained.Train(series, opts)
	if err != nil {
		return fmt.Errorf("failed to train static model: %w", err)
	}
	if err := pretrained.Save(cfg.Static.ModelPath, blob); err != nil {
		return fmt.Errorf("failed to save static model: %w", err)
	}
	logger.Info("Static model trained on %d series, accuracy %.4f, saved to %s",
		len(series), blob.Accuracy, cfg.Static.ModelPath)
	return nil
}
