// Package engine 把账本、止损计算、信号打分、经济性过滤和状态机
// 组装成按周期驱动的决策循环，回测和实盘共用。
package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"volna/internal/engine/signal"
)

// ExitReason 平仓原因。
const (
	ExitStopLoss    = "STOP_LOSS"
	ExitTakeProfit  = "TAKE_PROFIT"
	ExitEndOfPeriod = "END_OF_PERIOD"
)

// OpenPosition 在持仓生命周期内由决策循环独占。
// StopLoss 随跟踪推进可变，其余字段入场后不再修改。
type OpenPosition struct {
	Symbol     string
	Side       string
	EntryTime  time.Time
	EntryPrice decimal.Decimal
	Lots       int64
	LotSize    int64
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// Quantity 标的数量（手数 x 每手单位）。
func (p *OpenPosition) Quantity() decimal.Decimal {
	return decimal.NewFromInt(p.Lots * p.LotSize)
}

// EntryValue 入场名义价值。
func (p *OpenPosition) EntryValue() decimal.Decimal {
	return p.EntryPrice.Mul(p.Quantity())
}

// TradeRecord 一笔已完结交易。NetPnL 已扣除双边手续费。
type TradeRecord struct {
	Symbol     string
	Side       string
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Quantity   decimal.Decimal
	NetPnL     decimal.Decimal
	PnLPercent decimal.Decimal
	ExitReason string
}

// Outcome 一次评估周期对单个标的产生的动作。
type Outcome struct {
	Symbol  string
	Signal  *signal.TradeSignal
	Entered bool
	Closed  *TradeRecord
	Skipped string
}
