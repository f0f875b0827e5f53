// Package binance 基于 go-binance 合约 SDK 实现行情源与下单通道。
package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"volna/internal/market"
	"volna/internal/scheduler"
	"volna/internal/universe"
)

const maxHistoryLimit = 1500

// Gateway 行情与交易网关。实现 market.Source。
type Gateway struct {
	cfg    Config
	client *futures.Client
}

func New(cfg Config) (*Gateway, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Gateway{cfg: final, client: client}, nil
}

func (g *Gateway) Name() string { return "binance-futures" }

// FetchHistory 拉取最近 limit 根 K 线，丢弃尚未收盘的最后一根。
func (g *Gateway) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	sym, interval, err := normalizeQuery(symbol, interval)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	kls, err := g.client.NewKlinesService().Symbol(sym).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := convertKlines(kls)
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = scheduler.DropUnclosedKline(out, dur)
	}
	return out, nil
}

// FetchRange 拉取 [start,end] 毫秒区间内的 K 线，数据回补用。
func (g *Gateway) FetchRange(ctx context.Context, symbol, interval string, start, end int64, limit int) ([]market.Candle, error) {
	sym, interval, err := normalizeQuery(symbol, interval)
	if err != nil {
		return nil, err
	}
	if start <= 0 || end <= start {
		return nil, fmt.Errorf("range [%d,%d] is invalid", start, end)
	}
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	kls, err := g.client.NewKlinesService().
		Symbol(sym).
		Interval(interval).
		StartTime(start).
		EndTime(end).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	out := convertKlines(kls)
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = scheduler.DropUnclosedKline(out, dur)
	}
	return out, nil
}

// BookStats 聚合订单簿双边挂单量，供信号打分的失衡因子使用。
func (g *Gateway) BookStats(ctx context.Context, symbol string) (*market.BookStats, error) {
	sym := toExchangeSymbol(symbol)
	if sym == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	depth, err := g.client.NewDepthService().Symbol(sym).Limit(g.cfg.DepthLimit).Do(ctx)
	if err != nil {
		return nil, err
	}
	stats := &market.BookStats{Symbol: strings.ToUpper(strings.TrimSpace(symbol))}
	for _, lvl := range depth.Bids {
		stats.BidVolume += int64(parseFloat(lvl.Quantity))
	}
	for _, lvl := range depth.Asks {
		stats.AskVolume += int64(parseFloat(lvl.Quantity))
	}
	return stats, nil
}

// Instruments 把交易所元数据转成标的清单。只保留可交易的 USDT 合约。
func (g *Gateway) Instruments(ctx context.Context) ([]universe.Instrument, error) {
	info, err := g.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]universe.Instrument, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || s.QuoteAsset != "USDT" {
			continue
		}
		pf := s.PriceFilter()
		if pf == nil {
			continue
		}
		step, err := decimal.NewFromString(pf.TickSize)
		if err != nil || step.Sign() <= 0 {
			continue
		}
		out = append(out, universe.NewInstrument(s.Symbol, s.BaseAsset, 1, step))
	}
	return out, nil
}

func normalizeQuery(symbol, interval string) (string, string, error) {
	sym := toExchangeSymbol(symbol)
	if sym == "" {
		return "", "", fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return "", "", fmt.Errorf("interval is required")
	}
	return sym, interval, nil
}

// toExchangeSymbol 去掉分隔符并转大写（ETH/USDT -> ETHUSDT）。
func toExchangeSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return strings.NewReplacer("/", "", "-", "", "_", "").Replace(symbol)
}

func convertKlines(kls []*futures.Kline) []market.Candle {
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return out
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
