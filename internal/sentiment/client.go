// Package sentiment scores recent news headlines per symbol.
package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/hybridscan/internal/logger"
	"github.com/rewired-gh/hybridscan/internal/models"
)

const source = "newsapi"

// names maps exchange symbols to the query used for news search.
var names = map[string]string{
	"BTCUSDT": "Bitcoin", "ETHUSDT": "Ethereum", "BNBUSDT": "Binance Coin",
	"SOLUSDT": "Solana", "XRPUSDT": "XRP", "ADAUSDT": "Cardano",
	"AVAXUSDT": "Avalanche", "DOTUSDT": "Polkadot", "LINKUSDT": "Chainlink",
	"TONUSDT": "Toncoin", "INJUSDT": "Injective", "RNDRUSDT": "Render Token",
	"ARBUSDT": "Arbitrum", "LTCUSDT": "Litecoin", "MATICUSDT": "Polygon",
	"OPUSDT": "Optimism", "NEARUSDT": "Near Protocol", "APTUSDT": "Aptos",
	"PEPEUSDT": "Pepe", "SEIUSDT": "Sei Network", "TRXUSDT": "Tron",
	"DOGEUSDT": "Dogecoin", "SHIBUSDT": "Shiba Inu", "FILUSDT": "Filecoin",
	"SUIUSDT": "Sui",
}

// Query returns the search term for symbol.
func Query(symbol string) string {
	if n, ok := names[symbol]; ok {
		return n
	}
	return strings.TrimSuffix(symbol, "USDT")
}

// Options configures a Client.
type Options struct {
	APIKey         string
	BaseURL        string
	Headlines      int
	CacheTTL       time.Duration
	Timeout        time.Duration
	RequestsPerSec float64
	MaxRetries     int
}

// Client scores symbols from news headlines. Scores, including the neutral 0
// recorded after a failure, are cached per symbol for CacheTTL.
type Client struct {
	apiKey     string
	baseURL    string
	headlines  int
	maxRetries uint64
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *cache.Cache
	log        zerolog.Logger
}

// NewClient creates a sentiment client. Without an API key every score is 0.
func NewClient(opts Options) *Client {
	if opts.Headlines <= 0 {
		opts.Headlines = 5
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 1
	}
	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    opts.BaseURL,
		headlines:  opts.Headlines,
		maxRetries: uint64(max(opts.MaxRetries, 0)),
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1),
		cache:      cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		log:        logger.Component("sentiment"),
	}
}

type article struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type everythingResponse struct {
	Status   string    `json:"status"`
	Message  string    `json:"message"`
	Articles []article `json:"articles"`
}

// Score returns the mean headline polarity for symbol in [-1, 1]. Failures
// are logged and score 0; the error is returned for accounting only.
func (c *Client) Score(ctx context.Context, symbol string) (float64, error) {
	if v, ok := c.cache.Get(symbol); ok {
		return v.(float64), nil
	}
	if c.apiKey == "" {
		c.cache.SetDefault(symbol, 0.0)
		return 0, nil
	}

	articles, err := c.fetch(ctx, symbol)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("sentiment unavailable, using neutral score")
		c.cache.SetDefault(symbol, 0.0)
		return 0, &models.UpstreamError{Source: source, Symbol: symbol, Err: err}
	}

	score := average(articles)
	c.cache.SetDefault(symbol, score)
	c.log.Debug().Str("symbol", symbol).Int("articles", len(articles)).Float64("score", score).Msg("sentiment scored")
	return score, nil
}

// average is the mean polarity of title plus description over articles.
func average(articles []article) float64 {
	if len(articles) == 0 {
		return 0
	}
	var sum float64
	for _, a := range articles {
		sum += Polarity(a.Title + " " + a.Description)
	}
	return clamp(sum / float64(len(articles)))
}

func (c *Client) fetch(ctx context.Context, symbol string) ([]article, error) {
	u, err := url.Parse(c.baseURL + "/v2/everything")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("q", Query(symbol))
	q.Set("language", "en")
	q.Set("sortBy", "publishedAt")
	q.Set("pageSize", strconv.Itoa(c.headlines))
	u.RawQuery = q.Encode()

	var out everythingResponse
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("X-Api-Key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("server error: %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		if resp.StatusCode != http.StatusOK || out.Status == "error" {
			return backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, out.Message))
		}
		return nil
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = 200 * time.Millisecond
	strategy.MaxElapsedTime = 20 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(strategy, c.maxRetries), ctx)); err != nil {
		return nil, err
	}
	if len(out.Articles) > c.headlines {
		out.Articles = out.Articles[:c.headlines]
	}
	return out.Articles, nil
}
