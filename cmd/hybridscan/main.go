package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/hybridscan/internal/logger"
)

var (
	configPath string
	trainLimit int
)

// rootCmd is the base command for the hybridscan CLI
var rootCmd = &cobra.Command{
	Use:   "hybridscan",
	Short: "Hybrid crypto signal scanner with outcome feedback",
	Long: `hybridscan scans spot markets, filters candidates with a technical
prefilter, merges a pretrained and an online-retrained model into a send/skip
decision, delivers signals to Telegram and labels each signal's outcome to
retrain the adaptive model.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scan loop",
	RunE:  runScan,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print corpus, monitoring and model statistics as JSON",
	RunE:  runStats,
}

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Retrain the adaptive model from the labeled corpus",
	RunE:  runRetrain,
}

var trainStaticCmd = &cobra.Command{
	Use:   "train-static",
	Short: "Train the pretrained model from market history",
	Long: `Fetch candle history for static.training_symbols (or market.symbols),
label each bar by whether price reaches static.target_gain within
static.lookahead_bars, fit the classifier and write it to static.model_path.`,
	RunE: runTrainStatic,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to configuration file")
	trainStaticCmd.Flags().IntVar(&trainLimit, "limit", 1000, "Candles fetched per symbol")

	rootCmd.AddCommand(runCmd, statsCmd, retrainCmd, trainStaticCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.telegram != nil {
		a.telegram.ListenForCommands(ctx, a.scanner)
	}

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           a.metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Serving metrics on %s", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()
	}

	logger.Info("Starting scan service (interval: %v, symbols: %d, storage: %s)",
		cfg.Scan.Interval, len(cfg.Market.Symbols), cfg.Storage.Driver)

	if err := a.scanner.Start(ctx, cfg.Scan.Interval); err != nil {
		return err
	}
	logger.Info("Shutdown signal received, cleaning up...")
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(a.scanner.Stats())
}

func runRetrain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.scanner.RetrainNow()
	if err != nil {
		return fmt.Errorf("retrain failed: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func runTrainStatic(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return trainStatic(ctx, cfg, trainLimit)
}
