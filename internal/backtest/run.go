package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"volna/internal/engine"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunRequest 一次回测请求。参数为 0 的字段使用策略配置的默认值。
type RunRequest struct {
	Symbols         []string `json:"symbols"`
	StartTS         int64    `json:"start_ts" binding:"required"`
	EndTS           int64    `json:"end_ts" binding:"required"`
	HigherTimeframe string   `json:"higher_timeframe"`
	LowerTimeframe  string   `json:"lower_timeframe"`
	InitialBalance  float64  `json:"initial_balance"`

	StopLossATRMult   float64 `json:"stop_loss_atr_mult"`
	TakeProfitATRMult float64 `json:"take_profit_atr_mult"`
	BreakevenATRMult  float64 `json:"breakeven_atr_mult"`
	Notes             string  `json:"notes,omitempty"`
}

// RunStats 汇总一次回测的收益与风控指标。
type RunStats struct {
	InitialBalance float64   `json:"initial_balance"`
	FinalBalance   float64   `json:"final_balance"`
	Profit         float64   `json:"profit"`
	ReturnPct      float64   `json:"return_pct"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Trades         int       `json:"trades"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	ForcedCloses   int       `json:"forced_closes"`
	Bars           int       `json:"bars"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Run 一次回测任务的元信息。
type Run struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Request     RunRequest `json:"request"`
	Stats       RunStats   `json:"stats"`
	Message     string     `json:"message,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt time.Time  `json:"completed_at"`
}

// EquityPoint 资金曲线上的一个观测点。
type EquityPoint struct {
	TS       int64           `json:"ts"`
	Total    decimal.Decimal `json:"total"`
	Drawdown decimal.Decimal `json:"drawdown"`
}

// Result 回测完整输出：统计、逐笔成交、资金曲线。
type Result struct {
	Run    Run                  `json:"run"`
	Trades []engine.TradeRecord `json:"trades"`
	Equity []EquityPoint        `json:"equity"`
}
