// Package market provides a rate-limited, retrying client for exchange
// candlestick and ticker data.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/hybridscan/internal/logger"
	"github.com/rewired-gh/hybridscan/internal/models"
)

const source = "binance"

// Options configures a Client.
type Options struct {
	BaseURL         string
	Interval        string
	Limit           int
	Timeout         time.Duration
	RequestsPerSec  float64
	MaxRetries      int
	BreakerFailures int
	BreakerTimeout  time.Duration
}

// Client provides access to the exchange REST API
type Client struct {
	baseURL    string
	interval   string
	limit      int
	maxRetries uint64
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

// NewClient creates a new market client
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 10
	}
	if opts.Interval == "" {
		opts.Interval = "1h"
	}
	if opts.Limit <= 0 {
		opts.Limit = 200
	}
	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = time.Minute
	}

	log := logger.Component("market")
	settings := gobreaker.Settings{
		Name:    source,
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(opts.BreakerFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}

	burst := int(opts.RequestsPerSec)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:    opts.BaseURL,
		interval:   opts.Interval,
		limit:      opts.Limit,
		maxRetries: uint64(max(opts.MaxRetries, 0)),
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSec), burst),
		breaker:    gobreaker.NewCircuitBreaker(settings),
		log:        log,
	}
}

// FetchCandles returns up to limit candles for symbol, oldest first. A zero
// limit uses the configured default.
func (c *Client) FetchCandles(ctx context.Context, symbol string, limit int) ([]models.Candle, error) {
	if limit <= 0 {
		limit = c.limit
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", c.interval)
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/api/v3/klines", q)
	if err != nil {
		return nil, &models.UpstreamError{Source: source, Symbol: symbol, Err: err}
	}
	candles, err := parseKlines(body)
	if err != nil {
		return nil, &models.UpstreamError{Source: source, Symbol: symbol, Err: err}
	}
	return candles, nil
}

// FetchSeries fetches candles for every symbol. Symbols that fail are left
// out of the map; their errors are joined into the returned error.
func (c *Client) FetchSeries(ctx context.Context, symbols []string) (map[string][]models.Candle, error) {
	out := make(map[string][]models.Candle, len(symbols))
	var errs []error
	for _, s := range symbols {
		candles, err := c.FetchCandles(ctx, s, 0)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[s] = candles
	}
	return out, errors.Join(errs...)
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// LatestPrices returns the last traded price per symbol in one batched
// request. When the batch fails, each symbol falls back to the close of its
// newest candle. Unpriced symbols are absent from the map.
func (c *Client) LatestPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	batch, err := json.Marshal(symbols)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("symbols", string(batch))

	body, err := c.get(ctx, "/api/v3/ticker/price", q)
	if err == nil {
		var tickers []tickerPrice
		if err = json.Unmarshal(body, &tickers); err == nil {
			for _, t := range tickers {
				p, perr := strconv.ParseFloat(t.Price, 64)
				if perr != nil || p <= 0 {
					continue
				}
				out[t.Symbol] = p
			}
			return out, nil
		}
	}
	c.log.Warn().Err(err).Msg("batched price request failed, falling back to candles")

	var errs []error
	for _, s := range symbols {
		candles, err := c.FetchCandles(ctx, s, 1)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(candles) > 0 {
			out[s] = candles[len(candles)-1].Close
		}
	}
	return out, errors.Join(errs...)
}

// get performs a rate-limited GET through the circuit breaker, retrying
// transient failures with exponential backoff.
func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	u.RawQuery = q.Encode()

	res, err := c.breaker.Execute(func() (any, error) {
		var body []byte
		operation := func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
			b, err := c.doRequest(ctx, u.String())
			if err != nil {
				return err
			}
			body = b
			return nil
		}

		strategy := backoff.NewExponentialBackOff()
		strategy.InitialInterval = 200 * time.Millisecond
		strategy.MaxElapsedTime = 30 * time.Second
		err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(strategy, c.maxRetries), ctx))
		return body, err
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

func (c *Client) doRequest(ctx context.Context, urlStr string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var raw json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return raw, nil
	}

	statusErr := &HTTPStatusError{StatusCode: resp.StatusCode}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, statusErr
	}
	return nil, backoff.Permanent(statusErr)
}

// HTTPStatusError represents a non-200 response.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// parseKlines decodes the exchange kline array format:
// [openTime, open, high, low, close, volume, closeTime, ...].
func parseKlines(body []byte) ([]models.Candle, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode klines: %w", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline %d has %d fields", i, len(row))
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, fmt.Errorf("kline %d open time: %w", i, err)
		}
		var vals [5]float64
		for k := 0; k < 5; k++ {
			var s string
			if err := json.Unmarshal(row[k+1], &s); err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, k+1, err)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, k+1, err)
			}
			vals[k] = v
		}
		candles = append(candles, models.Candle{
			OpenTime: time.UnixMilli(openTime).UTC(),
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	return candles, nil
}
