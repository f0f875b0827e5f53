package indicator

import (
	"errors"
	"fmt"
	"math"
	"time"

	talib "github.com/markcheno/go-talib"

	"volna/internal/market"
)

var (
	// ErrInsufficientData K 线数量不足，跳过本周期。
	ErrInsufficientData = errors.New("insufficient candle data")
	// ErrInvalidValue 指标值越界（NaN/Inf/超出定义域），按数据不足处理。
	ErrInvalidValue = errors.New("invalid indicator value")
)

// Skippable 判断该错误是否属于"跳过本周期"一类。
func Skippable(err error) bool {
	return errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrInvalidValue)
}

// Settings 描述指标参数。零值字段使用默认周期。
type Settings struct {
	EMAPeriod  int
	RSIPeriod  int
	ATRPeriod  int
	ADXPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	MinBars    int
}

func (s Settings) withDefaults() Settings {
	if s.EMAPeriod <= 0 {
		s.EMAPeriod = 100
	}
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = 14
	}
	if s.ATRPeriod <= 0 {
		s.ATRPeriod = 14
	}
	if s.ADXPeriod <= 0 {
		s.ADXPeriod = 14
	}
	if s.MACDFast <= 0 {
		s.MACDFast = 12
	}
	if s.MACDSlow <= 0 {
		s.MACDSlow = 26
	}
	if s.MACDSignal <= 0 {
		s.MACDSignal = 9
	}
	if s.MinBars <= 0 {
		s.MinBars = 120
	}
	return s
}

// Snapshot 是某 symbol 在某一时间框架上、某一评估时点的指标切面。
// 不可变，由调用方按周期生成后传入核心引擎。
type Snapshot struct {
	Symbol       string
	Timeframe    string
	Timestamp    time.Time
	Price        float64
	ATR          float64
	ADX          float64
	EMALong      float64
	MACDHist     float64
	MACDHistPrev float64
	RSI          float64
	RSIPrev      float64
}

// Series 在一段 K 线窗口上预计算全部指标序列，回测按 bar 索引取切面，
// 避免每根 bar 重算整个窗口。
type Series struct {
	Symbol    string
	Timeframe string
	Candles   []market.Candle

	cfg      Settings
	ema      []float64
	rsi      []float64
	atr      []float64
	adx      []float64
	macdHist []float64
}

// BuildSeries 预计算指标序列。K 线需按时间升序。
func BuildSeries(symbol, timeframe string, candles []market.Candle, cfg Settings) (*Series, error) {
	cfg = cfg.withDefaults()
	if len(candles) < cfg.MinBars {
		return nil, fmt.Errorf("%w: %s@%s has %d bars, need %d", ErrInsufficientData, symbol, timeframe, len(candles), cfg.MinBars)
	}
	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	_, _, hist := talib.Macd(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	return &Series{
		Symbol:    symbol,
		Timeframe: timeframe,
		Candles:   candles,
		cfg:       cfg,
		ema:       talib.Ema(closes, cfg.EMAPeriod),
		rsi:       talib.Rsi(closes, cfg.RSIPeriod),
		atr:       talib.Atr(highs, lows, closes, cfg.ATRPeriod),
		adx:       talib.Adx(highs, lows, closes, cfg.ADXPeriod),
		macdHist:  hist,
	}, nil
}

// At 返回第 i 根 bar 收盘时点的指标切面。
func (s *Series) At(i int) (Snapshot, error) {
	if s == nil || i < s.cfg.MinBars-1 || i >= len(s.Candles) {
		return Snapshot{}, fmt.Errorf("%w: index %d outside warmed-up range", ErrInsufficientData, i)
	}
	c := s.Candles[i]
	snap := Snapshot{
		Symbol:       s.Symbol,
		Timeframe:    s.Timeframe,
		Timestamp:    time.UnixMilli(c.CloseTime),
		Price:        c.Close,
		ATR:          s.atr[i],
		ADX:          s.adx[i],
		EMALong:      s.ema[i],
		MACDHist:     s.macdHist[i],
		MACDHistPrev: s.macdHist[i-1],
		RSI:          s.rsi[i],
		RSIPrev:      s.rsi[i-1],
	}
	if err := snap.validate(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Compute 返回最后一根已收盘 bar 的切面（实盘路径）。
func Compute(symbol, timeframe string, candles []market.Candle, cfg Settings) (Snapshot, error) {
	series, err := BuildSeries(symbol, timeframe, candles, cfg)
	if err != nil {
		return Snapshot{}, err
	}
	return series.At(len(candles) - 1)
}

func (s Snapshot) validate() error {
	if !finite(s.Price) || s.Price <= 0 {
		return fmt.Errorf("%w: price %v", ErrInvalidValue, s.Price)
	}
	if !finite(s.ATR) || s.ATR < 0 {
		return fmt.Errorf("%w: atr %v", ErrInvalidValue, s.ATR)
	}
	if !finite(s.ADX) || s.ADX < 0 || s.ADX > 100 {
		return fmt.Errorf("%w: adx %v", ErrInvalidValue, s.ADX)
	}
	if !finite(s.EMALong) || s.EMALong <= 0 {
		return fmt.Errorf("%w: ema %v", ErrInvalidValue, s.EMALong)
	}
	if !finite(s.MACDHist) || !finite(s.MACDHistPrev) {
		return fmt.Errorf("%w: macd hist %v/%v", ErrInvalidValue, s.MACDHist, s.MACDHistPrev)
	}
	// 单边行情下 RSI 可以落在 0 或 100 上，边界是合法值
	if !finite(s.RSI) || s.RSI < 0 || s.RSI > 100 {
		return fmt.Errorf("%w: rsi %v", ErrInvalidValue, s.RSI)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
