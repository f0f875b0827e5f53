// Package signal 把多时间框架指标切面合成 BUY/SELL/HOLD 信号。
// 高时间框架给趋势背景，低时间框架给入场时机，盘口可选加分。
package signal

import (
	"fmt"
	"strings"

	"volna/internal/analysis/indicator"
	"volna/internal/market"
)

// Action 信号方向。
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

// Side 把动作映射到持仓方向；HOLD 返回空串。
func (a Action) Side() string {
	switch a {
	case Buy:
		return market.SideLong
	case Sell:
		return market.SideShort
	}
	return ""
}

// TradeSignal 打分结果。Rationale 面向人读，记录每个因子的贡献。
type TradeSignal struct {
	Symbol     string
	Action     Action
	Confidence float64
	Rationale  string
	ScoreBuy   float64
	ScoreSell  float64
}

// 权重与固定置信度。情绪因子按设计恒为 0，保留在公式里。
const (
	trendWeight     = 2.0
	momentumWeight  = 1.0
	orderBookWeight = 1.0
	sentimentWeight = 0.0

	actionableConfidence = 0.9
)

// Scorer 无状态，参数由配置注入。
type Scorer struct {
	MinADX           float64
	MinScore         float64
	MinConfidence    float64
	ActionConfidence float64
}

// NewScorer 默认 ADX≥20、得分≥3、执行置信度≥0.8。
func NewScorer(minADX, minScore, minConfidence float64) *Scorer {
	return &Scorer{
		MinADX:           minADX,
		MinScore:         minScore,
		MinConfidence:    minConfidence,
		ActionConfidence: actionableConfidence,
	}
}

// Score 评估一个标的。higher 为趋势框架切面，lower 为入场框架切面，
// book 可为 nil（无盘口数据时不加分）。
func (s *Scorer) Score(higher, lower indicator.Snapshot, book *market.BookStats) TradeSignal {
	sig := TradeSignal{Symbol: higher.Symbol, Action: Hold}

	// 趋势强度闸门：震荡市直接放弃，止损/止盈模型在无趋势行情下失效
	if higher.ADX < s.MinADX {
		sig.Rationale = fmt.Sprintf("flat market: ADX %.1f below %.1f", higher.ADX, s.MinADX)
		return sig
	}

	var buy, sell float64
	var reasons []string

	// 趋势一致性：价格相对长期 EMA 与 MACD 柱符号同向
	switch {
	case higher.Price > higher.EMALong && higher.MACDHist > 0:
		buy += trendWeight
		reasons = append(reasons, fmt.Sprintf("uptrend on %s (price>EMA, MACD hist>0) +%.0f buy", higher.Timeframe, trendWeight))
	case higher.Price < higher.EMALong && higher.MACDHist < 0:
		sell += trendWeight
		reasons = append(reasons, fmt.Sprintf("downtrend on %s (price<EMA, MACD hist<0) +%.0f sell", higher.Timeframe, trendWeight))
	default:
		reasons = append(reasons, fmt.Sprintf("trend mixed on %s", higher.Timeframe))
	}

	// 动量确认：低框架 MACD 柱同号且比前值更极端
	switch {
	case lower.MACDHist > 0 && lower.MACDHist > lower.MACDHistPrev:
		buy += momentumWeight
		reasons = append(reasons, fmt.Sprintf("momentum rising on %s +%.0f buy", lower.Timeframe, momentumWeight))
	case lower.MACDHist < 0 && lower.MACDHist < lower.MACDHistPrev:
		sell += momentumWeight
		reasons = append(reasons, fmt.Sprintf("momentum falling on %s +%.0f sell", lower.Timeframe, momentumWeight))
	default:
		reasons = append(reasons, fmt.Sprintf("momentum neutral on %s", lower.Timeframe))
	}

	// 盘口失衡
	if book != nil {
		switch {
		case book.BidDominant():
			buy += orderBookWeight
			reasons = append(reasons, fmt.Sprintf("bids dominate book +%.0f buy", orderBookWeight))
		case book.AskDominant():
			sell += orderBookWeight
			reasons = append(reasons, fmt.Sprintf("asks dominate book +%.0f sell", orderBookWeight))
		default:
			reasons = append(reasons, "book balanced")
		}
	}

	// 情绪因子：公式里保留位置，当前权重为 0
	buy += sentimentWeight
	sell += sentimentWeight

	sig.ScoreBuy = buy
	sig.ScoreSell = sell

	// BUY 先判，平局归 BUY
	switch {
	case buy >= s.MinScore:
		sig.Action = Buy
		sig.Confidence = s.ActionConfidence
	case sell >= s.MinScore:
		sig.Action = Sell
		sig.Confidence = s.ActionConfidence
	}
	sig.Rationale = fmt.Sprintf("buy=%.0f sell=%.0f: %s", buy, sell, strings.Join(reasons, "; "))
	return sig
}

// CanExecute 执行闸门：方向明确且置信度达标。
func (s *Scorer) CanExecute(sig TradeSignal) bool {
	return (sig.Action == Buy || sig.Action == Sell) && sig.Confidence >= s.MinConfidence
}
