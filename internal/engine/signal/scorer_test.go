package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"volna/internal/analysis/indicator"
	"volna/internal/market"
)

func newScorer() *Scorer { return NewScorer(20, 3, 0.8) }

func snap(tf string, price, ema, hist, histPrev, adx float64) indicator.Snapshot {
	return indicator.Snapshot{
		Symbol:       "SBER",
		Timeframe:    tf,
		Price:        price,
		EMALong:      ema,
		MACDHist:     hist,
		MACDHistPrev: histPrev,
		ADX:          adx,
		RSI:          55,
		RSIPrev:      54,
		ATR:          2,
	}
}

func TestBuySignalFromTrendPlusMomentum(t *testing.T) {
	higher := snap("1h", 105, 100, 0.8, 0.5, 30)
	lower := snap("15m", 105, 100, 0.3, 0.1, 25)

	sig := newScorer().Score(higher, lower, nil)
	assert.Equal(t, Buy, sig.Action)
	assert.Equal(t, 0.9, sig.Confidence)
	assert.Equal(t, 3.0, sig.ScoreBuy)
	assert.Equal(t, 0.0, sig.ScoreSell)
	assert.Contains(t, sig.Rationale, "uptrend")
	assert.Contains(t, sig.Rationale, "momentum rising")
	assert.True(t, newScorer().CanExecute(sig))
	assert.Equal(t, market.SideLong, sig.Action.Side())
}

func TestFlatMarketGateShortCircuits(t *testing.T) {
	// 其余输入全部看多，但 ADX 低于阈值
	higher := snap("1h", 105, 100, 0.8, 0.5, 15)
	lower := snap("15m", 105, 100, 0.3, 0.1, 25)

	sig := newScorer().Score(higher, lower, &market.BookStats{Symbol: "SBER", BidVolume: 900, AskVolume: 100})
	assert.Equal(t, Hold, sig.Action)
	assert.Equal(t, 0.0, sig.Confidence)
	assert.Equal(t, 0.0, sig.ScoreBuy)
	assert.Equal(t, 0.0, sig.ScoreSell)
	assert.Contains(t, sig.Rationale, "flat market")
	assert.False(t, newScorer().CanExecute(sig))
}

func TestSellSignalMirror(t *testing.T) {
	higher := snap("1h", 95, 100, -0.8, -0.5, 28)
	lower := snap("15m", 95, 100, -0.3, -0.1, 28)

	sig := newScorer().Score(higher, lower, nil)
	assert.Equal(t, Sell, sig.Action)
	assert.Equal(t, 3.0, sig.ScoreSell)
	assert.Equal(t, market.SideShort, sig.Action.Side())
}

func TestOrderBookBreaksTie(t *testing.T) {
	// 趋势看多但低框架动量转弱：买分 2，不够阈值
	higher := snap("1h", 105, 100, 0.8, 0.5, 30)
	lower := snap("15m", 105, 100, 0.3, 0.6, 25)

	sig := newScorer().Score(higher, lower, nil)
	assert.Equal(t, Hold, sig.Action)
	assert.Equal(t, 2.0, sig.ScoreBuy)

	// 加上买盘占优的盘口，达到阈值
	book := &market.BookStats{Symbol: "SBER", BidVolume: 800, AskVolume: 200}
	sig = newScorer().Score(higher, lower, book)
	assert.Equal(t, Buy, sig.Action)
	assert.Equal(t, 3.0, sig.ScoreBuy)
	assert.Contains(t, sig.Rationale, "bids dominate")
}

func TestMixedTrendScoresNeitherSide(t *testing.T) {
	// 价格在 EMA 上方但 MACD 柱为负：趋势因子不给分
	higher := snap("1h", 105, 100, -0.2, -0.1, 30)
	lower := snap("15m", 105, 100, 0.0, 0.0, 25)

	sig := newScorer().Score(higher, lower, nil)
	assert.Equal(t, Hold, sig.Action)
	assert.Equal(t, 0.0, sig.ScoreBuy)
	assert.Contains(t, sig.Rationale, "trend mixed")
	assert.Contains(t, sig.Rationale, "momentum neutral")
}

func TestCanExecuteRequiresConfidence(t *testing.T) {
	s := newScorer()
	assert.False(t, s.CanExecute(TradeSignal{Action: Buy, Confidence: 0.5}))
	assert.False(t, s.CanExecute(TradeSignal{Action: Hold, Confidence: 0.9}))
	assert.True(t, s.CanExecute(TradeSignal{Action: Sell, Confidence: 0.9}))
}
