package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"polyedge-bot/internal/config"
	"polyedge-bot/internal/ws"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	secondsPerYear = 8760 * 3600

	defaultVolatility = 0.60
	minVolatility     = 0.10
	maxVolatility     = 2.0
	minVolSamples     = 10
)

var ErrNoKline = errors.New("no kline returned")

var symbols = map[string]string{
	"BTC": "BTCUSDT",
	"ETH": "ETHUSDT",
}

func Symbol(asset string) (string, bool) {
	s, ok := symbols[strings.ToUpper(asset)]
	return s, ok
}

type streamer interface {
	Subscribe(ctx context.Context, sub any) error
	Run(ctx context.Context, handler func([]byte)) error
}

// Feed tracks Binance spot trades per asset and derives a rolling
// volatility estimate from periodic samples.
type Feed struct {
	ws     streamer
	rest   *resty.Client
	log    *zap.Logger
	window int
	sample time.Duration
	now    func() time.Time

	mu         sync.RWMutex
	prices     map[string]float64
	samples    map[string][]float64
	lastSample map[string]time.Time
}

func New(cfg config.BinanceConfig, log *zap.Logger) *Feed {
	client := ws.New(cfg.WSURL, cfg.ReconnectDelay, cfg.PingInterval, log)
	return newFeed(client, cfg.RESTURL, cfg.VolWindow, cfg.VolSample, log)
}

func newFeed(stream streamer, restURL string, window int, sample time.Duration, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	if window < 2 {
		window = 60
	}
	if sample <= 0 {
		sample = time.Minute
	}
	return &Feed{
		ws:         stream,
		rest:       resty.New().SetBaseURL(strings.TrimRight(restURL, "/")).SetTimeout(10 * time.Second),
		log:        log,
		window:     window,
		sample:     sample,
		now:        time.Now,
		prices:     make(map[string]float64),
		samples:    make(map[string][]float64),
		lastSample: make(map[string]time.Time),
	}
}

// Run subscribes to the trade streams of assets and blocks until ctx ends.
func (f *Feed) Run(ctx context.Context, assets []string) error {
	params := make([]string, 0, len(assets))
	for _, asset := range assets {
		sym, ok := Symbol(asset)
		if !ok {
			return fmt.Errorf("unsupported asset %q", asset)
		}
		params = append(params, strings.ToLower(sym)+"@trade")
	}
	sub := map[string]any{"method": "SUBSCRIBE", "params": params, "id": 1}
	if err := f.ws.Subscribe(ctx, sub); err != nil {
		return err
	}
	return f.ws.Run(ctx, f.handleMessage)
}

type tradeEvent struct {
	Event  string          `json:"e"`
	Symbol string          `json:"s"`
	Price  decimal.Decimal `json:"p"`
	Time   int64           `json:"T"`
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

func (f *Feed) handleMessage(msg []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(msg, &env); err == nil && len(env.Data) > 0 {
		msg = env.Data
	}
	var trade tradeEvent
	if err := json.Unmarshal(msg, &trade); err != nil {
		f.log.Debug("binance decode error", zap.Error(err))
		return
	}
	if trade.Event != "trade" {
		return
	}
	asset := assetFor(trade.Symbol)
	if asset == "" {
		return
	}
	at := f.now()
	if trade.Time > 0 {
		at = time.UnixMilli(trade.Time)
	}
	f.Observe(asset, trade.Price.InexactFloat64(), at)
}

func assetFor(symbol string) string {
	symbol = strings.ToUpper(symbol)
	for asset, sym := range symbols {
		if sym == symbol {
			return asset
		}
	}
	return ""
}

// Observe records a spot print. A volatility sample is taken at most once
// per sampling interval.
func (f *Feed) Observe(asset string, price float64, at time.Time) {
	if price <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[asset] = price
	last := f.lastSample[asset]
	if !last.IsZero() && at.Sub(last) < f.sample {
		return
	}
	f.lastSample[asset] = at
	samples := append(f.samples[asset], price)
	if len(samples) > f.window {
		samples = samples[len(samples)-f.window:]
	}
	f.samples[asset] = samples
}

func (f *Feed) Spot(asset string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	price, ok := f.prices[asset]
	return price, ok && price > 0
}

// Volatility is the annualized standard deviation of log returns between
// samples.
func (f *Feed) Volatility(asset string) float64 {
	f.mu.RLock()
	samples := append([]float64(nil), f.samples[asset]...)
	f.mu.RUnlock()
	return computeVolatility(samples, f.sample)
}

func computeVolatility(prices []float64, interval time.Duration) float64 {
	if len(prices) < minVolSamples || interval <= 0 {
		return defaultVolatility
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev, curr := prices[i-1], prices[i]
		if prev <= 0 || curr <= 0 {
			continue
		}
		returns = append(returns, math.Log(curr/prev))
	}
	if len(returns) < 2 {
		return defaultVolatility
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var ss float64
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	std := math.Sqrt(ss / float64(len(returns)-1))
	vol := std * math.Sqrt(secondsPerYear/interval.Seconds())
	return math.Max(minVolatility, math.Min(maxVolatility, vol))
}

// KlineOpen returns the open of the 1h candle starting at start.
func (f *Feed) KlineOpen(ctx context.Context, asset string, start time.Time) (float64, error) {
	sym, ok := Symbol(asset)
	if !ok {
		return 0, fmt.Errorf("unsupported asset %q", asset)
	}
	var rows [][]any
	resp, err := f.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":    sym,
			"interval":  "1h",
			"startTime": fmt.Sprintf("%d", start.UnixMilli()),
			"limit":     "1",
		}).
		SetResult(&rows).
		Get("/api/v3/klines")
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, fmt.Errorf("binance klines: http %d: %s", resp.StatusCode(), resp.String())
	}
	if len(rows) == 0 || len(rows[0]) < 2 {
		return 0, ErrNoKline
	}
	raw, ok := rows[0][1].(string)
	if !ok {
		return 0, fmt.Errorf("binance klines: unexpected open %v", rows[0][1])
	}
	open, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("binance klines: %w", err)
	}
	return open.InexactFloat64(), nil
}

type tickerPrice struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// TickerPrice reads the last traded price over REST and records it as a
// sample, for callers that do not run the trade stream.
func (f *Feed) TickerPrice(ctx context.Context, asset string) (float64, error) {
	sym, ok := Symbol(asset)
	if !ok {
		return 0, fmt.Errorf("unsupported asset %q", asset)
	}
	var out tickerPrice
	resp, err := f.rest.R().
		SetContext(ctx).
		SetQueryParam("symbol", sym).
		SetResult(&out).
		Get("/api/v3/ticker/price")
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, fmt.Errorf("binance ticker: http %d: %s", resp.StatusCode(), resp.String())
	}
	price := out.Price.InexactFloat64()
	if price <= 0 {
		return 0, fmt.Errorf("binance ticker: non-positive price for %s", sym)
	}
	f.Observe(strings.ToUpper(asset), price, f.now())
	return price, nil
}
